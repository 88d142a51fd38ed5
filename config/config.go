package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	AWS        AWSConfig
	Email      EmailConfig
	Google     GoogleConfig
	Mailchimp  MailchimpConfig
	RateLimit  RateLimitConfig
	Pagination PaginationConfig
	Worker     WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // used to build poll, embed and invitation links
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the bucket admin exports are written to.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportsBucket        string
	PresignExpireMinutes int
}

// Email providers.
const (
	EmailProviderConsole  = "console"
	EmailProviderMailgun  = "mailgun"
	EmailProviderSendGrid = "sendgrid"
)

// EmailConfig selects and configures the transactional email provider.
type EmailConfig struct {
	Provider       string
	FromAddress    string
	FromName       string
	MailgunAPIKey  string
	MailgunDomain  string
	MailgunBaseURL string
	SendGridAPIKey string
}

// GoogleConfig holds the OAuth client used to verify Google ID tokens.
type GoogleConfig struct {
	ClientID string
}

// MailchimpConfig controls the newsletter subscription sync.
type MailchimpConfig struct {
	APIKey          string
	ListID          string
	SyncIntervalMin int // 0 disables the periodic sync
}

// RateLimitConfig bounds ballot submissions per client IP.
type RateLimitConfig struct {
	VotesPerSecond float64
	Burst          int
}

// PaginationConfig sets list page sizes.
type PaginationConfig struct {
	PageSize int
}

// WorkerConfig controls the in-process email worker of cmd/server.
type WorkerConfig struct {
	EmbeddedEmailWorker bool
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "approval_polls"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportsBucket:        getEnv("AWS_S3_EXPORTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Email: EmailConfig{
			Provider:       strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderConsole)),
			FromAddress:    getEnv("EMAIL_FROM_ADDRESS", "noreply@approvalvoting.org"),
			FromName:       getEnv("EMAIL_FROM_NAME", "Approval Voting"),
			MailgunAPIKey:  getEnv("MAILGUN_API_KEY", ""),
			MailgunDomain:  getEnv("MAILGUN_DOMAIN", ""),
			MailgunBaseURL: getEnv("MAILGUN_BASE_URL", "https://api.mailgun.net"),
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		},
		Google: GoogleConfig{
			ClientID: getEnv("GOOGLE_OAUTH_CLIENT_ID", ""),
		},
		Mailchimp: MailchimpConfig{
			APIKey:          getEnv("MAILCHIMP_API_KEY", ""),
			ListID:          getEnv("MAILCHIMP_LIST_ID", ""),
			SyncIntervalMin: getEnvInt("MAILCHIMP_SYNC_INTERVAL_MIN", 0),
		},
		RateLimit: RateLimitConfig{
			VotesPerSecond: getEnvFloat("VOTE_RATE_PER_SEC", 2),
			Burst:          getEnvInt("VOTE_RATE_BURST", 5),
		},
		Pagination: PaginationConfig{
			PageSize: getEnvInt("PAGE_SIZE", 5),
		},
		Worker: WorkerConfig{
			EmbeddedEmailWorker: getEnvBool("EMBEDDED_EMAIL_WORKER", true),
		},
	}

	switch cfg.Email.Provider {
	case EmailProviderConsole, EmailProviderMailgun, EmailProviderSendGrid:
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", cfg.Email.Provider)
	}
	if cfg.Pagination.PageSize <= 0 {
		return nil, fmt.Errorf("PAGE_SIZE must be positive, got %d", cfg.Pagination.PageSize)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
