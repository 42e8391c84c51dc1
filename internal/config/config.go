package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	MigrateOnStart        bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AssignmentCacheTTL    time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	RootAdminUsername     string
	WhatsAppAPIURL        string
	WhatsAppAPIToken      string
	NotifyTimeout         time.Duration
	PhoneCountryPrefix    string
	OTPTTL                time.Duration
	ExpirySweepInterval   time.Duration
	Archive               ArchiveConfig
	LogLevel              string
	LogFormat             string
}

// ArchiveConfig points at the S3-compatible bucket that keeps raw import uploads. An empty bucket disables it.
type ArchiveConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads the process environment. A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		MigrateOnStart:        getBool("MIGRATE_ON_START", true),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0, 0),
		AssignmentCacheTTL:    time.Duration(getInt("ASSIGNMENT_CACHE_TTL_SECONDS", 300, 1)) * time.Second,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		RootAdminUsername:     strings.TrimSpace(os.Getenv("ROOT_ADMIN_USERNAME")),
		WhatsAppAPIURL:        strings.TrimSpace(os.Getenv("WHATSAPP_API_URL")),
		WhatsAppAPIToken:      strings.TrimSpace(os.Getenv("WHATSAPP_API_TOKEN")),
		NotifyTimeout:         time.Duration(getInt("NOTIFY_TIMEOUT_SECONDS", 10, 1)) * time.Second,
		PhoneCountryPrefix:    getEnv("PHONE_COUNTRY_PREFIX", "91"),
		OTPTTL:                time.Duration(getInt("OTP_TTL_MINUTES", 0, 0)) * time.Minute,
		ExpirySweepInterval:   time.Duration(getInt("EXPIRY_SWEEP_INTERVAL_SECONDS", 0, 0)) * time.Second,
		Archive: ArchiveConfig{
			Bucket:    strings.TrimSpace(os.Getenv("IMPORT_ARCHIVE_BUCKET")),
			Endpoint:  strings.TrimSpace(os.Getenv("IMPORT_ARCHIVE_ENDPOINT")),
			Region:    getEnv("IMPORT_ARCHIVE_REGION", "us-east-1"),
			AccessKey: os.Getenv("IMPORT_ARCHIVE_ACCESS_KEY"),
			SecretKey: os.Getenv("IMPORT_ARCHIVE_SECRET_KEY"),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt parses key as an integer, returning fallback when it is unset, malformed or below min.
func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < min {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
