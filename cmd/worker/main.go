package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/medpoint/telecare-platform/cmd/mainconfig"
	"github.com/medpoint/telecare-platform/internal/accounts"
	"github.com/medpoint/telecare-platform/internal/appointments"
	appconfig "github.com/medpoint/telecare-platform/internal/config"
	"github.com/medpoint/telecare-platform/internal/emergency"
	"github.com/medpoint/telecare-platform/internal/notify"
	"github.com/medpoint/telecare-platform/internal/reminders"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.ReminderQueueURL == "" {
		logger.Error("reminder worker requires DATABASE_URL and REMINDER_QUEUE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	queue := reminders.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ReminderQueueURL)
	jobStore := reminders.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.ReminderJobsTable, logger)

	var emailSender notify.EmailSender
	switch cfg.EmailProvider {
	case "ses":
		emailSender = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	case "sendgrid":
		emailSender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	default:
		emailSender = notify.NewStubEmailSender(logger)
	}

	expiry := &emergency.ExpiryRunner{
		Store:  emergency.NewStore(pool),
		TTL:    cfg.EmergencyRequestTTL,
		Logger: logger,
	}

	worker := reminders.NewWorker(
		queue,
		jobStore,
		appointments.NewStore(pool),
		accounts.NewStore(pool),
		emailSender,
		logger,
		reminders.WithWorkerCount(cfg.WorkerCount),
		reminders.WithEmergencyExpiry(expiry),
	)
	worker.Start(ctx)
	logger.Info("reminder worker started", "workers", cfg.WorkerCount, "queue", cfg.ReminderQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("reminder worker shutting down")
	cancel()
	worker.Wait()
}
