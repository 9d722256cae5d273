package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_SECRET", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.AdminSecret)
}

func TestLoadParsesValuesAndFallsBack(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_CACHE_TTL_SECONDS", "-5")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "3")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("EVENTS_BACKEND", "Kafka")
	t.Setenv("S3_USE_SSL", "true")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, time.Minute, cfg.RateCacheTTL())
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, EventsKafka, cfg.EventsBackend)
	assert.True(t, cfg.S3UseSSL)
	require.NoError(t, cfg.Validate())
}

func TestValidateReportsConfigurationErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"unknown events backend", Config{EventsBackend: "nats", DefaultLocationID: "loc_store_1"}},
		{"redis backend without address", Config{EventsBackend: EventsRedis, DefaultLocationID: "loc_store_1"}},
		{"kafka backend without brokers", Config{EventsBackend: EventsKafka, DefaultLocationID: "loc_store_1"}},
		{"s3 without credentials", Config{EventsBackend: EventsNone, S3Endpoint: "minio:9000", DefaultLocationID: "loc_store_1"}},
		{"empty default location", Config{EventsBackend: EventsNone}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.cfg.Validate(), ErrConfiguration)
		})
	}
}

func TestLoadOpenAISettings(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "  sk-test  ")
	t.Setenv("OPENAI_MODEL", "")

	cfg := Load()
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
}
