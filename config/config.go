package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	LogMode       string
	DBDriver      string
	DBPath        string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	AutoMigrate   bool
	JWTSecret     string
	JWTExpiryMin  int
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Push path
	OutboxBatchSize  int
	OutboxInterval   time.Duration
	OutboxMaxRetries int

	// Admission
	CallRateLimit   int
	CallRateWindow  time.Duration
	PresenceTTL     time.Duration
	IncomingWindow  time.Duration
	SignalPageLimit int

	// Client side
	BackendURL           string
	IncomingPollInterval time.Duration
	StatusPollInterval   time.Duration
	SignalPollInterval   time.Duration
	SnapshotPath         string
	ICEServers           []string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		LogMode:       getEnv("LOG_MODE", "development"),
		DBDriver:      getEnv("DB_DRIVER", "postgres"),
		DBPath:        getEnv("DB_PATH", "sentinal_call.db"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "sentinal_call"),
		DBPort:        getEnv("DB_PORT", "5432"),
		AutoMigrate:   getEnvAsBool("DB_AUTO_MIGRATE", false),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		JWTExpiryMin:  getEnvAsInt("JWT_EXPIRY_MIN", 15),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		OutboxBatchSize:  getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
		OutboxInterval:   getEnvAsDuration("OUTBOX_INTERVAL", 250*time.Millisecond),
		OutboxMaxRetries: getEnvAsInt("OUTBOX_MAX_RETRIES", 5),

		CallRateLimit:   getEnvAsInt("CALL_RATE_LIMIT", 10),
		CallRateWindow:  getEnvAsDuration("CALL_RATE_WINDOW", time.Minute),
		PresenceTTL:     getEnvAsDuration("PRESENCE_TTL", 2*time.Hour),
		IncomingWindow:  getEnvAsDuration("INCOMING_WINDOW", 5*time.Second),
		SignalPageLimit: getEnvAsInt("SIGNAL_PAGE_LIMIT", 200),

		BackendURL:           getEnv("BACKEND_URL", "http://localhost:8080"),
		IncomingPollInterval: getEnvAsDuration("INCOMING_POLL_INTERVAL", 2*time.Second),
		StatusPollInterval:   getEnvAsDuration("STATUS_POLL_INTERVAL", 500*time.Millisecond),
		SignalPollInterval:   getEnvAsDuration("SIGNAL_POLL_INTERVAL", 500*time.Millisecond),
		SnapshotPath:         getEnv("SNAPSHOT_PATH", ""),
		ICEServers:           getEnvAsList("ICE_SERVERS", []string{"stun:stun.l.google.com:19302"}),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
