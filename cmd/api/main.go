package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"print-backend/cmd"
	"print-backend/internal/api"
	"print-backend/internal/core"
	"print-backend/internal/database"
	"print-backend/internal/notify"
	"print-backend/internal/scheduler"
	"print-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type APIConfig struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"./data/print-backend.db"`
	APIPort     string `env:"API_PORT" envDefault:"8000"`

	UploadDir   string `env:"UPLOAD_DIR" envDefault:"uploads"`
	DownloadDir string `env:"DOWNLOAD_DIR" envDefault:"uploads/remote_downloads"`

	PrinterName string `env:"PRINTER_NAME"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	DocumentBucket    string `env:"DOCUMENT_BUCKET_NAME" envDefault:"print-documents"`

	SMTPHost     string `env:"SMTP_SERVER"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SenderEmail  string `env:"SENDER_EMAIL"`

	FailureWebhookURL string `env:"FAILURE_WEBHOOK_URL"`

	WorkerConcurrency int `env:"CONCURRENCY" envDefault:"4"`
}

func createRemoteStore(cfg APIConfig) storage.ObjectStore {
	if cfg.S3EndpointURL == "" && cfg.S3AccessKeyID == "" {
		slog.Warn("no S3 configuration provided, documents at or above the size threshold will be rejected")
		return nil
	}

	remote, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		EndpointURL:     cfg.S3EndpointURL,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Region:          cfg.S3Region,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := remote.CreateBucket(ctx, cfg.DocumentBucket); err != nil {
		log.Fatalf("Failed to ensure document bucket: %v", err)
	}

	return remote
}

func createNotifier(cfg APIConfig) notify.Notifier {
	var notifiers notify.MultiNotifier

	if cfg.SMTPHost != "" && cfg.SenderEmail != "" {
		notifiers = append(notifiers, notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Sender:   cfg.SenderEmail,
		}))
	} else {
		slog.Warn("SMTP settings are not fully configured, failure mails are disabled")
	}

	if cfg.FailureWebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.FailureWebhookURL))
	}

	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notifiers
}

func main() {
	log.Println("Starting print backend...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if cfg.PrinterName == "" {
		slog.Warn("PRINTER_NAME is not set, print dispatch will fail")
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store := database.NewTaskStore(db)

	docRouter, err := storage.NewRouter(cfg.UploadDir, cfg.DownloadDir, createRemoteStore(cfg), cfg.DocumentBucket)
	if err != nil {
		log.Fatalf("Failed to initialize storage router: %v", err)
	}

	executor := core.NewExecutor(store, docRouter, &core.LpPrinter{PrinterName: cfg.PrinterName}, createNotifier(cfg))

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	sched := scheduler.NewScheduler(store, executor, cfg.WorkerConcurrency)
	if err := sched.Start(schedCtx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(store, docRouter, sched)
	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	stopScheduler()
	sched.Stop()

	log.Println("Server stopped.")
}
