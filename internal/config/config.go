package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MinSecretLength is the shortest HS512 key accepted at startup.
const MinSecretLength = 64

type Config struct {
	// App
	Env  string // dev / staging / prod
	Port string

	// Tokens
	JWTSecret       []byte
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// OTP challenge
	OTPTTL         time.Duration
	OTPLockout     time.Duration
	OTPMaxAttempts int

	CleanupInterval time.Duration

	// Infrastructure
	Storage         string // postgres / memory
	DBURL           string
	RevocationStore string // postgres / redis
	RedisURL        string
	MailTransport   string // log / rabbitmq
	RabbitURL       string
	MailQueue       string

	AuthRateLimit float64
	AdminPassword string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real env vars take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:             getEnv("ENV", "dev"),
		Port:            getEnv("PORT", "8080"),
		JWTIssuer:       getEnv("JWT_ISSUER", "stc.project.com"),
		Storage:         getEnv("STORAGE", "postgres"),
		DBURL:           os.Getenv("DB_URL"),
		RevocationStore: getEnv("REVOCATION_STORE", "postgres"),
		RedisURL:        getEnv("REDIS_URL", "localhost:6379"),
		MailTransport:   getEnv("MAIL_TRANSPORT", "log"),
		RabbitURL:       os.Getenv("RABBIT_URL"),
		MailQueue:       getEnv("MAIL_QUEUE", "email.outbound"),
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
	}

	// required values
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("missing required env var: JWT_SECRET")
	}
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	cfg.JWTSecret = []byte(secret)

	var err error
	if cfg.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = getDuration("OTP_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.OTPLockout, err = getDuration("OTP_LOCKOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.OTPMaxAttempts, err = getInt("OTP_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.OTPMaxAttempts < 1 {
		return nil, fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	if cfg.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	if cfg.AuthRateLimit, err = getFloat("AUTH_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.HTTPReadTimeout, err = getDuration("HTTP_READ_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPWriteTimeout, err = getDuration("HTTP_WRITE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	// Backing services: fail fast on a selection that cannot start.
	switch cfg.Storage {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("missing required env var: DB_URL")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown STORAGE %q (want postgres or memory)", cfg.Storage)
	}

	switch cfg.RevocationStore {
	case "postgres", "redis":
	default:
		return nil, fmt.Errorf("unknown REVOCATION_STORE %q (want postgres or redis)", cfg.RevocationStore)
	}
	if cfg.RevocationStore == "postgres" && cfg.Storage == "memory" {
		// the ledger follows the credential store
		cfg.RevocationStore = "memory"
	}

	switch cfg.MailTransport {
	case "log":
	case "rabbitmq":
		if cfg.RabbitURL == "" {
			return nil, fmt.Errorf("missing required env var: RABBIT_URL")
		}
	default:
		return nil, fmt.Errorf("unknown MAIL_TRANSPORT %q (want log or rabbitmq)", cfg.MailTransport)
	}

	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q: %w", key, v, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %q: %w", key, v, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s: %q: %w", key, v, err)
	}
	return f, nil
}
