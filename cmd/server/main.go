// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kanisahub/comms-backend/internal/config"
	"github.com/kanisahub/comms-backend/internal/controller"
	"github.com/kanisahub/comms-backend/internal/db"
	"github.com/kanisahub/comms-backend/internal/logger"
	"github.com/kanisahub/comms-backend/internal/phone"
	"github.com/kanisahub/comms-backend/internal/queue"
	"github.com/kanisahub/comms-backend/internal/repository"
	"github.com/kanisahub/comms-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("could not load configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Get()

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("could not connect to database: %v", err)
	}
	defer conn.Close()

	dispatchQueue, err := queue.NewAMQPQueue(cfg.RabbitURL, log)
	if err != nil {
		log.Fatalf("could not connect to RabbitMQ: %v", err)
	}
	defer dispatchQueue.Close()

	batchRepo := &repository.BatchRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}
	memberRepo := &repository.MemberRepository{DB: conn}

	validator := phone.NewValidator(cfg.PhoneCountryCode)
	resolver := service.NewRecipientResolver(memberRepo, validator)

	batchService := &service.BatchService{
		BatchRepo:   batchRepo,
		MessageRepo: messageRepo,
		MemberRepo:  memberRepo,
		Resolver:    resolver,
		Queue:       dispatchQueue,
		Logger:      log,
		ChurchName:  cfg.ChurchName,
		SMSCost:     cfg.SMSCost,
		WACost:      cfg.WhatsAppCost,
	}

	batchController := &controller.BatchController{BatchService: batchService}

	r := chi.NewRouter()
	r.Post("/batches", batchController.CreateBatch)
	r.Get("/batches", batchController.ListBatches)
	r.Get("/batches/{id}", batchController.GetBatch)
	r.Get("/batches/{id}/messages", batchController.ListMessages)
	r.Post("/batches/{id}/resend", batchController.Resend)
	r.Post("/batches/{id}/dispatch", batchController.Redispatch)
	r.Post("/preview", batchController.PersonalizedPreview)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	notifyCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("server running on :%d", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-notifyCtx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}
	log.Info("server shut down gracefully")
}
