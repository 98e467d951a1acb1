package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, []string{"default"}, cfg.QueueNames)
	assert.Equal(t, "default", cfg.DefaultQueue())
	assert.Equal(t, DefaultRedisAddr, cfg.RedisAddr)
	assert.Equal(t, DefaultRedisPrefix, cfg.RedisPrefix)
	assert.Equal(t, DefaultRunDBBackend, cfg.RunDBBackend)
	assert.Equal(t, []string{DefaultKafkaBrokers}, cfg.KafkaBrokers)
	assert.Equal(t, DefaultEventTopic, cfg.EventTopic)
	assert.Equal(t, DefaultServerAddr, cfg.ServerAddr)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_NAMES", "priority default low")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("RUN_DB_BACKEND", "sql")
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := FromEnv()

	assert.Equal(t, []string{"priority", "default", "low"}, cfg.QueueNames)
	assert.Equal(t, "priority", cfg.DefaultQueue())
	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, "sql", cfg.RunDBBackend)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}
