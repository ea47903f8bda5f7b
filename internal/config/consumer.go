package config

import "time"

const (
	ModeLambda   = "lambda"
	ModePoll     = "poll"
	ModeSchedule = "schedule"

	BackendSQS  = "sqs"
	BackendLite = "lite"
)

// ConsumerConfig configures the batch consumer (cmd/consumer).
type ConsumerConfig struct {
	Observability
	AWS
	Mode            string
	BucketName      string
	ObjectStore     string // s3 | mongo | redis
	S3UsePathStyle  bool
	MongoURI        string
	MongoDatabase   string
	RedisURL        string
	Concurrency     int
	FunctionTimeout time.Duration

	// poll mode
	QueueBackend string
	QueueURL     string
	QueueName    string
	LiteBaseURL  string
	BatchSize    int
	PollInterval time.Duration
}

func LoadConsumerConfig() (*ConsumerConfig, error) {
	l := &loader{}
	cfg := &ConsumerConfig{
		Observability:   l.observability("order-consumer"),
		AWS:             l.aws(),
		Mode:            l.getEnv("CONSUMER_MODE", ModeLambda),
		BucketName:      l.getEnv("BUCKET_NAME", ""),
		ObjectStore:     l.getEnv("OBJECT_STORE", "s3"),
		S3UsePathStyle:  l.getEnvAsBool("S3_USE_PATH_STYLE", false),
		MongoURI:        l.getEnv("MONGO_URI", ""),
		MongoDatabase:   l.getEnv("MONGO_DATABASE", "orders"),
		RedisURL:        l.getEnv("REDIS_URL", ""),
		Concurrency:     l.getEnvAsInt("CONSUMER_CONCURRENCY", 1),
		FunctionTimeout: l.getEnvAsDuration("FUNCTION_TIMEOUT", 10*time.Second),
		QueueBackend:    l.getEnv("QUEUE_BACKEND", BackendSQS),
		QueueURL:        l.getEnv("QUEUE_URL", ""),
		QueueName:       l.getEnv("QUEUE_NAME", "orders-queue"),
		LiteBaseURL:     l.getEnv("LITE_BASE_URL", "http://localhost:8080"),
		BatchSize:       l.getEnvAsInt("BATCH_SIZE", 10),
		PollInterval:    l.getEnvAsDuration("POLL_INTERVAL", time.Second),
	}

	l.required("BUCKET_NAME", cfg.BucketName)
	l.oneOf("CONSUMER_MODE", cfg.Mode, ModeLambda, ModePoll)
	l.oneOf("OBJECT_STORE", cfg.ObjectStore, "s3", "mongo", "redis")
	switch cfg.ObjectStore {
	case "mongo":
		l.required("MONGO_URI", cfg.MongoURI)
	case "redis":
		l.required("REDIS_URL", cfg.RedisURL)
	}
	l.positive("CONSUMER_CONCURRENCY", cfg.Concurrency)
	l.positiveDuration("FUNCTION_TIMEOUT", cfg.FunctionTimeout)

	if cfg.Mode == ModePoll {
		l.oneOf("QUEUE_BACKEND", cfg.QueueBackend, BackendSQS, BackendLite)
		switch cfg.QueueBackend {
		case BackendSQS:
			l.required("QUEUE_URL", cfg.QueueURL)
		case BackendLite:
			l.required("LITE_BASE_URL", cfg.LiteBaseURL)
			l.required("QUEUE_NAME", cfg.QueueName)
		}
		if cfg.BatchSize <= 0 || cfg.BatchSize > 10 {
			l.fail("invalid BATCH_SIZE: %d (1-10)", cfg.BatchSize)
		}
		l.positiveDuration("POLL_INTERVAL", cfg.PollInterval)
	}

	if err := l.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Queue returns the identifier the configured backend expects.
func (c *ConsumerConfig) Queue() string {
	if c.QueueBackend == BackendSQS {
		return c.QueueURL
	}
	return c.QueueName
}
