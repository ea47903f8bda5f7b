package config

import (
	"time"

	"github.com/aridsondez/sqs-redrive/internal/queue"
)

// ServerConfig configures the SQS-lite backend (cmd/api).
type ServerConfig struct {
	Observability
	Port                int
	DatabaseURL         string
	VisibilityTimeout   time.Duration
	ReceiveMax          int
	SweepInterval       time.Duration
	DBConnectionTimeout time.Duration
	RequestTimeout      time.Duration

	// bootstrap queue pair
	QueueName       string
	DLQName         string
	MaxReceiveCount int
	Retention       time.Duration
}

func LoadServerConfig() (*ServerConfig, error) {
	l := &loader{}
	cfg := &ServerConfig{
		Observability:       l.observability("sqs-lite"),
		Port:                l.getEnvAsInt("PORT", 8080),
		DatabaseURL:         l.getEnv("DATABASE_URL", ""),
		VisibilityTimeout:   l.getEnvAsDuration("VISIBILITY_TIMEOUT", queue.DefaultVisibilityTimeout),
		ReceiveMax:          l.getEnvAsInt("RECEIVE_MAX", 10),
		SweepInterval:       l.getEnvAsDuration("SWEEP_INTERVAL", 60*time.Second),
		DBConnectionTimeout: l.getEnvAsDuration("DB_CONNECTION_TIMEOUT", 5*time.Second),
		RequestTimeout:      l.getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Second),
		QueueName:           l.getEnv("QUEUE_NAME", "orders-queue"),
		DLQName:             l.getEnv("DLQ_NAME", "orders-dlq"),
		MaxReceiveCount:     l.getEnvAsInt("MAX_RECEIVE_COUNT", queue.DefaultMaxReceiveCount),
		Retention:           l.getEnvAsDuration("MESSAGE_RETENTION", queue.DefaultRetention),
	}

	// Basic validation
	l.required("DATABASE_URL", cfg.DatabaseURL)
	if cfg.Port <= 0 || cfg.Port > 65535 {
		l.fail("invalid PORT: %d", cfg.Port)
	}
	l.positive("RECEIVE_MAX", cfg.ReceiveMax)
	l.positive("MAX_RECEIVE_COUNT", cfg.MaxReceiveCount)
	l.positiveDuration("VISIBILITY_TIMEOUT", cfg.VisibilityTimeout)
	l.positiveDuration("SWEEP_INTERVAL", cfg.SweepInterval)
	l.required("QUEUE_NAME", cfg.QueueName)
	l.required("DLQ_NAME", cfg.DLQName)
	if cfg.QueueName != "" && cfg.QueueName == cfg.DLQName {
		l.fail("QUEUE_NAME and DLQ_NAME must differ")
	}

	if err := l.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// QueuePair returns the bootstrap definitions, DLQ first.
func (c *ServerConfig) QueuePair() (dlq, primary queue.Attributes) {
	dlq = queue.Attributes{
		Name:              c.DLQName,
		VisibilityTimeout: c.VisibilityTimeout,
		Retention:         c.Retention,
	}
	primary = queue.Attributes{
		Name:              c.QueueName,
		VisibilityTimeout: c.VisibilityTimeout,
		Retention:         c.Retention,
		RedrivePolicy: &queue.RedrivePolicy{
			DeadLetterQueue: c.DLQName,
			MaxReceiveCount: c.MaxReceiveCount,
		},
	}
	return dlq, primary
}
