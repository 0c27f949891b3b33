package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/crediar/billing-service/internal/config"
	"github.com/crediar/billing-service/internal/handler"
	"github.com/crediar/billing-service/internal/integrations/keyrate"
	"github.com/crediar/billing-service/internal/jobs"
	"github.com/crediar/billing-service/internal/middleware"
	"github.com/crediar/billing-service/internal/repository"
	"github.com/crediar/billing-service/internal/service"
	"github.com/crediar/billing-service/internal/utils/email"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	rateClient := keyrate.NewClient(cfg, logger)
	svc := service.NewService(repo, rateClient, logger, cfg)
	h := handler.NewHandler(svc)

	// Reminder sweep
	sender := email.NewSender(cfg, logger)
	reminder := jobs.NewReminder(svc, sender, logger)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ReminderCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		reminder.Run(ctx)
	}); err != nil {
		logger.Fatalf("Failed to schedule reminder sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	// Key rate endpoint
	r.HandleFunc("/key-rate", func(w http.ResponseWriter, req *http.Request) {
		rate, err := rateClient.AnnualRatePercent(req.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get key rate: %v", err), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]float64{"key_rate": rate})
	}).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/simulate", h.Simulate).Methods("POST")
	authRouter.HandleFunc("/customers", h.CreateCustomer).Methods("POST")
	authRouter.HandleFunc("/contracts", h.CreateContract).Methods("POST")
	authRouter.HandleFunc("/contracts/{id:[0-9]+}/installments", h.ListContractInstallments).Methods("GET")
	authRouter.HandleFunc("/contracts/{id:[0-9]+}/installments", h.CreateManualInstallment).Methods("POST")
	authRouter.HandleFunc("/contracts/{id:[0-9]+}/renegotiate", h.Renegotiate).Methods("POST")
	authRouter.HandleFunc("/installments/overdue", h.ListOverdue).Methods("GET")
	authRouter.HandleFunc("/installments/{id:[0-9]+}", h.UpdateInstallment).Methods("PATCH")
	authRouter.HandleFunc("/installments/{id:[0-9]+}", h.DeleteInstallment).Methods("DELETE")
	authRouter.HandleFunc("/installments/{id:[0-9]+}/cancel", h.CancelInstallment).Methods("POST")
	authRouter.HandleFunc("/installments/{id:[0-9]+}/payments", h.RegisterPayment).Methods("POST")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
