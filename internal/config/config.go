package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aridsondez/sqs-redrive/internal/logging"
)

// Observability is shared by every binary.
type Observability struct {
	ServiceName     string
	LogLevel        slog.Level
	TracingEnabled  bool
	OTLPEndpoint    string
	TraceSampleRate float64
	Environment     string
	MetricsAddr     string
}

// AWS holds the SDK settings. EndpointURL points the clients at localstack or
// another SQS/S3-compatible endpoint.
type AWS struct {
	Region         string
	EndpointURL    string
	RetryMode      string // adaptive | standard
	MaxAttempts    int
	MaxBackoff     time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// loader reads environment variables and remembers every parse error so
// a bad config is reported in one go.
type loader struct {
	errs []error
}

func (l *loader) fail(format string, args ...any) {
	l.errs = append(l.errs, fmt.Errorf(format, args...))
}

func (l *loader) err() error {
	return errors.Join(l.errs...)
}

func (l *loader) getEnv(name, defaultVal string) string {
	if value, exists := os.LookupEnv(name); exists {
		return strings.TrimSpace(value)
	}
	return defaultVal
}

func (l *loader) getEnvAsInt(name string, defaultVal int) int {
	value, exists := os.LookupEnv(name)
	if !exists {
		return defaultVal
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		l.fail("%s: invalid integer %q", name, value)
		return defaultVal
	}
	return i
}

func (l *loader) getEnvAsFloat(name string, defaultVal float64) float64 {
	value, exists := os.LookupEnv(name)
	if !exists {
		return defaultVal
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		l.fail("%s: invalid number %q", name, value)
		return defaultVal
	}
	return f
}

func (l *loader) getEnvAsBool(name string, defaultVal bool) bool {
	value, exists := os.LookupEnv(name)
	if !exists {
		return defaultVal
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		l.fail("%s: invalid boolean %q", name, value)
		return defaultVal
	}
	return b
}

// getEnvAsDuration reads whole seconds ("30") or a Go duration ("1m30s").
func (l *loader) getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	value, exists := os.LookupEnv(name)
	if !exists {
		return defaultVal
	}
	value = strings.TrimSpace(value)
	if i, err := strconv.Atoi(value); err == nil {
		return time.Duration(i) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		l.fail("%s: invalid duration %q", name, value)
		return defaultVal
	}
	return d
}

func (l *loader) oneOf(name, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	l.fail("%s: %q is not one of %s", name, value, strings.Join(allowed, ", "))
}

func (l *loader) required(name, value string) {
	if value == "" {
		l.fail("%s is required", name)
	}
}

func (l *loader) positive(name string, value int) {
	if value <= 0 {
		l.fail("invalid %s: %d", name, value)
	}
}

func (l *loader) positiveDuration(name string, value time.Duration) {
	if value <= 0 {
		l.fail("invalid %s: %s", name, value)
	}
}

func (l *loader) observability(defaultService string) Observability {
	o := Observability{
		ServiceName:     l.getEnv("SERVICE_NAME", defaultService),
		TracingEnabled:  l.getEnvAsBool("TRACING_ENABLED", false),
		OTLPEndpoint:    l.getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		TraceSampleRate: l.getEnvAsFloat("TRACE_SAMPLE_RATE", 1.0),
		Environment:     l.getEnv("ENVIRONMENT", "development"),
		MetricsAddr:     l.getEnv("METRICS_ADDR", ""),
	}

	level, err := logging.ParseLevel(l.getEnv("LOG_LEVEL", "INFO"))
	if err != nil {
		l.fail("LOG_LEVEL: %v", err)
	}
	o.LogLevel = level

	l.required("SERVICE_NAME", o.ServiceName)
	if o.TraceSampleRate < 0 || o.TraceSampleRate > 1 {
		l.fail("TRACE_SAMPLE_RATE must be within [0, 1], got %v", o.TraceSampleRate)
	}
	return o
}

func (l *loader) aws() AWS {
	a := AWS{
		Region:         l.getEnv("AWS_REGION", "us-east-1"),
		EndpointURL:    l.getEnv("AWS_ENDPOINT_URL", ""),
		RetryMode:      l.getEnv("AWS_RETRY_MODE", "adaptive"),
		MaxAttempts:    l.getEnvAsInt("AWS_MAX_ATTEMPTS", 5),
		MaxBackoff:     l.getEnvAsDuration("AWS_MAX_BACKOFF", 20*time.Second),
		ConnectTimeout: l.getEnvAsDuration("AWS_CONNECT_TIMEOUT", 10*time.Second),
		ReadTimeout:    l.getEnvAsDuration("AWS_READ_TIMEOUT", 30*time.Second),
	}
	l.required("AWS_REGION", a.Region)
	l.oneOf("AWS_RETRY_MODE", a.RetryMode, "adaptive", "standard")
	l.positive("AWS_MAX_ATTEMPTS", a.MaxAttempts)
	l.positiveDuration("AWS_MAX_BACKOFF", a.MaxBackoff)
	l.positiveDuration("AWS_CONNECT_TIMEOUT", a.ConnectTimeout)
	l.positiveDuration("AWS_READ_TIMEOUT", a.ReadTimeout)
	return a
}
