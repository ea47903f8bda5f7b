package config

import (
	"time"

	"github.com/aridsondez/sqs-redrive/internal/queue"
	"github.com/aridsondez/sqs-redrive/internal/scheduler"
)

// RedriveConfig configures the redrive function (cmd/redrive).
type RedriveConfig struct {
	Observability
	AWS
	DLQArn         string
	SQSArn         string
	Mode           string
	QueueBackend   string
	LiteBaseURL    string
	Schedule       scheduler.Schedule
	RequestTimeout time.Duration
}

func LoadRedriveConfig() (*RedriveConfig, error) {
	l := &loader{}
	cfg := &RedriveConfig{
		Observability: l.observability("dlq-redrive"),
		AWS:           l.aws(),
		DLQArn:        l.getEnv("DLQ_ARN", ""),
		SQSArn:        l.getEnv("SQS_ARN", ""),
		Mode:          l.getEnv("REDRIVE_MODE", ModeLambda),
		QueueBackend:  l.getEnv("QUEUE_BACKEND", BackendSQS),
		LiteBaseURL:   l.getEnv("LITE_BASE_URL", "http://localhost:8080"),
		Schedule: scheduler.Schedule{
			Minute:     l.getEnv("REDRIVE_MINUTE", "0"),
			Hour:       l.getEnv("REDRIVE_HOUR", "0"),
			DayOfMonth: l.getEnv("REDRIVE_DAY_OF_MONTH", "*"),
			Month:      l.getEnv("REDRIVE_MONTH", "*"),
			DayOfWeek:  l.getEnv("REDRIVE_WEEK_DAY", "*"),
		},
		RequestTimeout: l.getEnvAsDuration("REDRIVE_REQUEST_TIMEOUT", 10*time.Second),
	}

	for name, arn := range map[string]string{"DLQ_ARN": cfg.DLQArn, "SQS_ARN": cfg.SQSArn} {
		if arn == "" {
			l.required(name, arn)
			continue
		}
		if _, err := queue.ParseARN(arn); err != nil {
			l.fail("%s: %v", name, err)
		}
	}
	if cfg.DLQArn != "" && cfg.DLQArn == cfg.SQSArn {
		l.fail("DLQ_ARN and SQS_ARN must differ")
	}
	l.oneOf("REDRIVE_MODE", cfg.Mode, ModeLambda, ModeSchedule)
	l.oneOf("QUEUE_BACKEND", cfg.QueueBackend, BackendSQS, BackendLite)
	if cfg.QueueBackend == BackendLite {
		l.required("LITE_BASE_URL", cfg.LiteBaseURL)
	}
	if err := cfg.Schedule.Validate(); err != nil {
		l.fail("REDRIVE_*: %v", err)
	}
	l.positiveDuration("REDRIVE_REQUEST_TIMEOUT", cfg.RequestTimeout)

	if err := l.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
