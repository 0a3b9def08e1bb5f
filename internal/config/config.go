package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Auth
	AuthJWTSecret      string
	AdminJWTSecret     string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
	LoginRatePerSecond float64
	LoginRateBurst     int

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Chat policy
	ChatRecentConsultWindow time.Duration
	ChatDailyMessageCap     int
	ChatBurstMessageCap     int

	// Payments
	PaymentProviderKey     string
	PaymentWebhookKey      string
	PaymentBaseURL         string
	PaymentSuccessURL      string
	PaymentCancelURL       string
	AllowFakePayments      bool
	DepositAmountCents     int
	MaxCheckoutsPerPatient int
	CheckoutWindowHours    int

	// Files
	FilesBucket      string
	MaxUploadBytes   int64
	AllowedFileTypes []string

	// Emergency
	EmergencyRadiusKM   float64
	EmergencyRequestTTL time.Duration

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ReminderQueueURL    string
	ReminderJobsTable   string

	// Email
	EmailProvider     string
	SESFromEmail      string
	SESFromName       string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// CORS
	CORSAllowedOrigins []string

	// Worker
	WorkerCount        int
	ReminderLeadTime   time.Duration
	WorkerPollInterval time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		AccessTokenTTL:     getEnvAsDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:    getEnvAsDuration("REFRESH_TOKEN_TTL", 720*time.Hour),
		BcryptCost:         getEnvAsInt("BCRYPT_COST", 12),
		LoginRatePerSecond: getEnvAsFloat("LOGIN_RATE_PER_SECOND", 1),
		LoginRateBurst:     getEnvAsInt("LOGIN_RATE_BURST", 5),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ChatRecentConsultWindow: getEnvAsDuration("CHAT_RECENT_CONSULT_WINDOW", 14*24*time.Hour),
		ChatDailyMessageCap:     getEnvAsInt("CHAT_DAILY_MESSAGE_CAP", 50),
		ChatBurstMessageCap:     getEnvAsInt("CHAT_BURST_MESSAGE_CAP", 10),

		PaymentProviderKey:     getEnv("PAYMENT_PROVIDER_KEY", ""),
		PaymentWebhookKey:      getEnv("PAYMENT_WEBHOOK_SIGNATURE_KEY", ""),
		PaymentBaseURL:         getEnv("PAYMENT_BASE_URL", ""),
		PaymentSuccessURL:      getEnv("PAYMENT_SUCCESS_URL", ""),
		PaymentCancelURL:       getEnv("PAYMENT_CANCEL_URL", ""),
		AllowFakePayments:      getEnvAsBool("ALLOW_FAKE_PAYMENTS", false),
		DepositAmountCents:     getEnvAsInt("DEPOSIT_AMOUNT_CENTS", 3000),
		MaxCheckoutsPerPatient: getEnvAsInt("MAX_CHECKOUTS_PER_PATIENT", 5),
		CheckoutWindowHours:    getEnvAsInt("CHECKOUT_WINDOW_HOURS", 24),

		FilesBucket:      getEnv("FILES_BUCKET", ""),
		MaxUploadBytes:   getEnvAsInt64("MAX_UPLOAD_BYTES", 20<<20),
		AllowedFileTypes: getEnvAsList("ALLOWED_FILE_TYPES", "application/pdf,image/jpeg,image/png"),

		EmergencyRadiusKM:   getEnvAsFloat("EMERGENCY_RADIUS_KM", 25),
		EmergencyRequestTTL: getEnvAsDuration("EMERGENCY_REQUEST_TTL", 30*time.Minute),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ReminderQueueURL:    getEnv("REMINDER_QUEUE_URL", ""),
		ReminderJobsTable:   getEnv("REMINDER_JOBS_TABLE", "reminder_jobs"),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Telecare"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Telecare"),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", ""),

		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		ReminderLeadTime:   getEnvAsDuration("REMINDER_LEAD_TIME", 24*time.Hour),
		WorkerPollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", time.Minute),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
