package config

import (
	"os"
	"strings"
)

// Defaults mirror the single-node development setup; every value can be
// overridden through the environment.
const (
	DefaultQueueNames   = "default"
	DefaultRedisAddr    = "localhost:6379"
	DefaultRedisPrefix  = "task_sched"
	DefaultRunDBBackend = "redis"
	DefaultKafkaBrokers = "localhost:9092"
	DefaultEventTopic   = "task_lifecycle_events"
	DefaultServerAddr   = ":8080"
)

// Config carries process-level settings for both the scheduler service
// and the worker. It is built once in main and passed down explicitly.
type Config struct {
	// QueueNames is the ordered list of logical queue names. The first
	// entry is the default destination for tasks that do not name one.
	QueueNames []string

	// RedisAddr is used for both the asynq broker and the redis run DB.
	RedisAddr   string
	RedisPrefix string

	// RunDBBackend selects the run-record store: "redis" or "sql".
	RunDBBackend string
	DBType       string // "sqlite" or "mysql", only for the sql backend
	DBDSN        string

	KafkaBrokers []string
	EventTopic   string

	ServerAddr string
}

// FromEnv assembles a Config from environment variables, falling back
// to the defaults above.
func FromEnv() Config {
	cfg := Config{
		QueueNames:   strings.Fields(getenv("QUEUE_NAMES", DefaultQueueNames)),
		RedisAddr:    getenv("REDIS_ADDR", DefaultRedisAddr),
		RedisPrefix:  getenv("REDIS_PREFIX", DefaultRedisPrefix),
		RunDBBackend: getenv("RUN_DB_BACKEND", DefaultRunDBBackend),
		DBType:       os.Getenv("DB_TYPE"),
		DBDSN:        os.Getenv("DB_DSN"),
		KafkaBrokers: strings.Split(getenv("KAFKA_BROKERS", DefaultKafkaBrokers), ","),
		EventTopic:   getenv("EVENT_TOPIC", DefaultEventTopic),
		ServerAddr:   getenv("SERVER_ADDR", DefaultServerAddr),
	}
	if len(cfg.QueueNames) == 0 {
		cfg.QueueNames = []string{DefaultQueueNames}
	}
	return cfg
}

// DefaultQueue returns the queue used for tasks that do not set one.
func (c Config) DefaultQueue() string {
	return c.QueueNames[0]
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
