package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/medpoint/telecare-platform/cmd/mainconfig"
	"github.com/medpoint/telecare-platform/internal/accounts"
	"github.com/medpoint/telecare-platform/internal/api/router"
	"github.com/medpoint/telecare-platform/internal/appointments"
	"github.com/medpoint/telecare-platform/internal/auth"
	"github.com/medpoint/telecare-platform/internal/chat"
	"github.com/medpoint/telecare-platform/internal/clinicians"
	appconfig "github.com/medpoint/telecare-platform/internal/config"
	"github.com/medpoint/telecare-platform/internal/emergency"
	"github.com/medpoint/telecare-platform/internal/events"
	"github.com/medpoint/telecare-platform/internal/files"
	"github.com/medpoint/telecare-platform/internal/notify"
	"github.com/medpoint/telecare-platform/internal/observability/metrics"
	"github.com/medpoint/telecare-platform/internal/payments"
	"github.com/medpoint/telecare-platform/internal/reminders"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting telecare API server", "env", cfg.Env, "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// The admin console runs on database/sql so its handlers can join
	// across modules.
	adminDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open admin database handle", "error", err)
		os.Exit(1)
	}
	defer adminDB.Close()

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	s3Client := s3.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	platformMetrics := metrics.NewPlatformMetrics(nil)

	// Stores.
	accountStore := accounts.NewStore(pool)
	refreshStore := auth.NewRefreshStore(pool)
	clinicianStore := clinicians.NewStore(pool)
	apptStore := appointments.NewStore(pool)
	emergencyStore := emergency.NewStore(pool)
	paymentStore := payments.NewStore(pool)
	fileStore := files.NewStore(pool)
	chatStore := chat.NewStore(pool)
	outboxStore := events.NewOutboxStore(pool)
	processedStore := events.NewProcessedStore(pool)

	// Auth.
	issuer := auth.NewTokenIssuer(cfg.AuthJWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authService := auth.NewService(accountStore, refreshStore, issuer, cfg.BcryptCost, logger)

	// Appointments and emergencies.
	apptService := appointments.NewService(apptStore, clinicianStore, outboxStore, logger).
		WithMetrics(platformMetrics)
	emergencyService := emergency.NewService(emergencyStore, clinicianStore, outboxStore,
		cfg.EmergencyRadiusKM, logger).WithMetrics(platformMetrics)

	// Payments.
	var checkoutProvider payments.CheckoutProvider
	if cfg.PaymentProviderKey != "" && cfg.PaymentBaseURL != "" {
		checkoutProvider = payments.NewHTTPCheckoutService(cfg.PaymentBaseURL, cfg.PaymentProviderKey, logger)
	} else {
		checkoutProvider = payments.NewFakeCheckoutService(cfg.PublicBaseURL, logger)
	}
	velocity := payments.NewVelocityChecker(redisClient, payments.VelocityConfig{
		MaxCheckoutsPerPatient: cfg.MaxCheckoutsPerPatient,
		CheckoutWindowHours:    cfg.CheckoutWindowHours,
		EnableCheckoutCheck:    true,
	}, logger)
	paymentsHandler := payments.NewHandler(paymentStore, checkoutProvider, apptStore,
		velocity, int64(cfg.DepositAmountCents), logger)
	refundHandler := payments.NewRefundHandler(paymentStore, outboxStore, logger)
	webhookHandler := payments.NewWebhookHandler(cfg.PaymentWebhookKey, paymentStore,
		processedStore, outboxStore, logger)
	fakeComplete := payments.NewFakeCompleteHandler(paymentStore, outboxStore, logger)

	// Files.
	blobStore := files.NewBlobStore(s3Client, cfg.FilesBucket, logger)
	filesHandler := files.NewHandler(fileStore, blobStore, apptStore,
		cfg.MaxUploadBytes, cfg.AllowedFileTypes, logger)

	// Chat.
	rateCaps := chat.NewRateCaps(redisClient, cfg.ChatDailyMessageCap, cfg.ChatBurstMessageCap, logger)
	policy := chat.NewPolicyEngine(apptStore, emergencyStore, chatStore, rateCaps,
		cfg.ChatRecentConsultWindow, logger)
	chatHub := chat.NewHub(logger)
	chatService := chat.NewService(chatStore, accountStore, policy, rateCaps, outboxStore, chatHub, logger).
		WithMetrics(platformMetrics)

	// Notifications and outbox delivery.
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
	socketHub := notify.NewSocketHub(logger)
	notifyService := notify.NewService(emailSender, accountStore, processedStore, socketHub, logger)

	delivery := events.MultiHandler{notifyService}
	if cfg.ReminderQueueURL != "" {
		queue := reminders.NewSQSQueue(sqsClient, cfg.ReminderQueueURL)
		jobStore := reminders.NewJobStore(dynamoClient, cfg.ReminderJobsTable, logger)
		delivery = append(delivery, reminders.NewScheduler(jobStore, queue, cfg.ReminderLeadTime, logger))
	}
	deliverer := events.NewDeliverer(outboxStore, delivery, logger)
	go deliverer.Start(ctx)

	routerCfg := &router.Config{
		Logger:              logger,
		AuthHandler:         auth.NewHandler(authService, logger),
		AccountsHandler:     accounts.NewHandler(accountStore, logger),
		CliniciansHandler:   clinicians.NewHandler(clinicianStore, apptStore, logger),
		AppointmentsHandler: appointments.NewHandler(apptService, logger),
		EmergencyHandler:    emergency.NewHandler(emergencyService, logger),
		PaymentsHandler:     paymentsHandler,
		RefundHandler:       refundHandler,
		PaymentWebhook:      webhookHandler,
		FakeComplete:        fakeComplete,
		FilesHandler:        filesHandler,
		ChatHandler:         chat.NewHandler(chatService, chatStore, logger),
		ChatHub:             chatHub,
		NotifySocket:        socketHub,
		Metrics:             platformMetrics,
		MetricsHandler:      promhttp.Handler(),
		DB:                  adminDB,
		AuthJWTSecret:       cfg.AuthJWTSecret,
		AdminJWTSecret:      cfg.AdminJWTSecret,
		AllowFakePayments:   cfg.AllowFakePayments,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		LoginRatePerSecond:  cfg.LoginRatePerSecond,
		LoginRateBurst:      cfg.LoginRateBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
