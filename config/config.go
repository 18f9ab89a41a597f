package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"growthos/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
}

type Config struct {
	Environment    string   `json:"environment"`
	ServerPort     string   `json:"server_port"`
	CORSOrigins    []string `json:"cors_origins"`
	JWTSecret      string   `json:"-"`
	EncryptionKey  string   `json:"-"`
	DBHost         string   `json:"db_host"`
	DBPort         string   `json:"db_port"`
	DBUser         string   `json:"db_user"`
	DBPassword     string   `json:"-"`
	DBName         string   `json:"db_name"`
	DBSSLMode      string   `json:"db_ssl_mode"`
	DBMaxIdleConns int      `json:"db_max_idle_conns"`
	DBMaxOpenConns int      `json:"db_max_open_conns"`

	// Webhooks
	WebhookSecret       string `json:"-"`
	WebhookRateLimit    int    `json:"webhook_rate_limit"`
	StripeSecretKey     string `json:"-"`
	StripeWebhookSecret string `json:"-"`
	WhatsAppAppSecret   string `json:"-"`
	WhatsAppVerifyToken string `json:"-"`

	// Channel integrations
	LinkedInAPIBase string        `json:"linkedin_api_base"`
	WhatsAppAPIBase string        `json:"whatsapp_api_base"`
	InboxSyncEvery  time.Duration `json:"inbox_sync_interval"`
	SequenceScope   string        `json:"sequence_advance_scope"`
	SequencesFile   string        `json:"sequences_file"`
	SentryDSN       string        `json:"-"`
	Redis           RedisConfig   `json:"redis"`
	SMTP            SMTPConfig    `json:"smtp"`
	CompanyName     string        `json:"company_name"`
	ImportMaxBytes  int           `json:"import_max_bytes"`
}

func init() {
	// A missing .env is fine; the process environment wins anyway.
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "growthos"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		WebhookSecret:       getEnv("WEBHOOK_SECRET", ""),
		WebhookRateLimit:    getEnvAsInt("WEBHOOK_RATE_LIMIT", 120),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		WhatsAppAppSecret:   getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppVerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),

		LinkedInAPIBase: getEnv("LINKEDIN_API_BASE", "https://api.linkedin.com/v2"),
		WhatsAppAPIBase: getEnv("WHATSAPP_API_BASE", "https://graph.facebook.com/v19.0"),
		InboxSyncEvery:  getEnvAsDuration("INBOX_SYNC_INTERVAL", 5*time.Minute),
		SequenceScope:   getEnv("SEQUENCE_ADVANCE_SCOPE", "sequence"),
		SequencesFile:   getEnv("SEQUENCES_FILE", ""),
		SentryDSN:       getEnv("SENTRY_DSN", ""),
		CompanyName:     getEnv("COMPANY_NAME", "Growth OS"),
		ImportMaxBytes:  getEnvAsInt("IMPORT_MAX_BYTES", 5<<20),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
		},
	}

	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if n := len(AppConfig.EncryptionKey); n != 16 && n != 24 && n != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be 16, 24 or 32 bytes, got %d", n)
	}
	if AppConfig.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}
	switch AppConfig.SequenceScope {
	case "sequence", "assignment":
	default:
		return fmt.Errorf("SEQUENCE_ADVANCE_SCOPE must be \"sequence\" or \"assignment\", got %q", AppConfig.SequenceScope)
	}
	if AppConfig.Environment == "production" && AppConfig.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	logrus.Info("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	logrus.WithField("dsn", maskPassword(dsn)).Debug("Using connection string")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logrus.Info("Successfully connected to the database")
	if err := models.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("Database migration completed")
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":    AppConfig.Environment,
		"server_port":    AppConfig.ServerPort,
		"database":       fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"redis":          AppConfig.Redis.Enabled,
		"sequence_scope": AppConfig.SequenceScope,
		"stripe":         AppConfig.StripeSecretKey != "",
		"sentry":         AppConfig.SentryDSN != "",
	}).Info("Loaded configuration")
}
