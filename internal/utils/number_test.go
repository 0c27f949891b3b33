package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateContractNumber(t *testing.T) {
	for i := 0; i < 50; i++ {
		number, err := GenerateContractNumber("77", 12)
		require.NoError(t, err)
		assert.Len(t, number, 12)
		assert.True(t, strings.HasPrefix(number, "77"))
		assert.True(t, ValidNumber(number), "generated number %s must pass the check digit", number)
	}
}

func TestGenerateContractNumber_InvalidLength(t *testing.T) {
	_, err := GenerateContractNumber("77", 2)
	assert.Error(t, err)
	_, err = GenerateContractNumber("77", 25)
	assert.Error(t, err)
}

func TestLuhnCheckDigit(t *testing.T) {
	// 7992739871 has check digit 3 (classic Luhn example).
	assert.Equal(t, 3, LuhnCheckDigit("7992739871"))
	assert.True(t, ValidNumber("79927398713"))
	assert.False(t, ValidNumber("79927398710"))
}

func TestValidNumber_RejectsNonDigits(t *testing.T) {
	assert.False(t, ValidNumber("79a27398713"))
	assert.False(t, ValidNumber("7"))
	assert.False(t, ValidNumber(""))
}

func TestGenerateHMAC_Deterministic(t *testing.T) {
	a := GenerateHMAC("secret", "1000", "12", "2.5")
	b := GenerateHMAC("secret", "1000", "12", "2.5")
	c := GenerateHMAC("secret", "1000", "12", "2.6")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
