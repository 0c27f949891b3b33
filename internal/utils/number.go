package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateContractNumber generates a contract number with the specified
// prefix and total length, ending in a Luhn check digit
func GenerateContractNumber(prefix string, length int) (string, error) {
	if length <= len(prefix) || length > 19 {
		return "", fmt.Errorf("invalid contract number length: %d", length)
	}

	// Generate random digits for everything between prefix and check digit
	digits := make([]byte, length-len(prefix)-1)
	_, err := rand.Read(digits)
	if err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(prefix)
	for _, b := range digits {
		digit := b%10 + '0' // Convert to ASCII digit
		builder.WriteByte(digit)
	}

	body := builder.String()
	number := body + string(rune('0'+LuhnCheckDigit(body)))

	if len(number) != length {
		return "", fmt.Errorf("generated contract number has incorrect length: got %d, want %d", len(number), length)
	}

	return number, nil
}

// LuhnCheckDigit computes the Luhn check digit for a numeric string
func LuhnCheckDigit(digits string) int {
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		double = !double
		sum += d
	}
	return (10 - sum%10) % 10
}

// ValidNumber reports whether a numeric string carries a correct Luhn check
// digit in its last position
func ValidNumber(number string) bool {
	if len(number) < 2 {
		return false
	}
	for _, c := range number {
		if c < '0' || c > '9' {
			return false
		}
	}
	body := number[:len(number)-1]
	return int(number[len(number)-1]-'0') == LuhnCheckDigit(body)
}

// GenerateHMAC generates an HMAC fingerprint over the given parts
func GenerateHMAC(secret string, parts ...string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}
