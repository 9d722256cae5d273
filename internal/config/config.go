package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrConfiguration = errors.New("invalid configuration")

const (
	EventsNone  = "none"
	EventsRedis = "redis"
	EventsKafka = "kafka"
)

type Config struct {
	Port                  string
	Environment           string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RateCacheTTLSeconds   int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminSecret           string
	DefaultLocationID     string
	RequestTimeoutSeconds int
	CartIdleMinutes       int
	EventsBackend         string
	RealtimeChannel       string
	KafkaBrokers          []string
	KafkaTopic            string
	S3Endpoint            string
	S3AccessKey           string
	S3SecretKey           string
	S3Bucket              string
	S3UseSSL              bool
	S3PublicBaseURL       string
	OpenAIAPIKey          string
	OpenAIModel           string
}

// Load reads the environment, optionally seeded from a .env file in the
// working directory. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		Environment:           getEnv("APP_ENV", "development"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:5173"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvAsInt("REDIS_DB", 0),
		RateCacheTTLSeconds:   getEnvAsPositiveInt("RATE_CACHE_TTL_SECONDS", 60),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getEnvAsPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		AdminSecret:           strings.TrimSpace(os.Getenv("ADMIN_SECRET")),
		DefaultLocationID:     getEnv("DEFAULT_LOCATION_ID", "loc_store_1"),
		RequestTimeoutSeconds: getEnvAsPositiveInt("REQUEST_TIMEOUT_SECONDS", 8),
		CartIdleMinutes:       getEnvAsPositiveInt("CART_IDLE_MINUTES", 120),
		EventsBackend:         strings.ToLower(getEnv("EVENTS_BACKEND", EventsNone)),
		RealtimeChannel:       getEnv("REALTIME_CHANNEL", "tiendapos.events"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "tiendapos.events"),
		S3Endpoint:            os.Getenv("S3_ENDPOINT"),
		S3AccessKey:           os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:           os.Getenv("S3_SECRET_KEY"),
		S3Bucket:              getEnv("S3_BUCKET", "product-images"),
		S3UseSSL:              getEnvAsBool("S3_USE_SSL", false),
		S3PublicBaseURL:       os.Getenv("S3_PUBLIC_BASE_URL"),
		OpenAIAPIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
	}

	return cfg
}

// Validate reports missing or contradictory settings. Every failure wraps
// ErrConfiguration.
func (c Config) Validate() error {
	var problems []string

	switch c.EventsBackend {
	case EventsNone:
	case EventsRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "EVENTS_BACKEND=redis requires REDIS_ADDR")
		}
	case EventsKafka:
		if len(c.KafkaBrokers) == 0 {
			problems = append(problems, "EVENTS_BACKEND=kafka requires KAFKA_BROKERS")
		}
	default:
		problems = append(problems, fmt.Sprintf("EVENTS_BACKEND must be one of none, redis, kafka (got %q)", c.EventsBackend))
	}

	if c.S3Endpoint != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		problems = append(problems, "S3_ENDPOINT requires S3_ACCESS_KEY and S3_SECRET_KEY")
	}
	if c.DefaultLocationID == "" {
		problems = append(problems, "DEFAULT_LOCATION_ID must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) RateCacheTTL() time.Duration {
	return time.Duration(c.RateCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) CartIdle() time.Duration {
	return time.Duration(c.CartIdleMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvAsInt(key string, fallback int) int {
	val, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return val
}

func getEnvAsPositiveInt(key string, fallback int) int {
	val := getEnvAsInt(key, fallback)
	if val < 1 {
		return fallback
	}
	return val
}

func getEnvAsBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
