// Package config loads the weaver binary settings from WEAVER_* environment
// variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wehubfusion/Weaver/pkg/concurrency"
	"github.com/wehubfusion/Weaver/pkg/script"
)

// Archive backends
const (
	ArchiveMemory = "memory"
	ArchiveRedis  = "redis"
	ArchiveBlob   = "blob"
)

const (
	DefaultAPIHost         = "0.0.0.0"
	DefaultAPIPort         = 8080
	MaxTCPPort             = 65535
	DefaultNodeDelay       = 500 * time.Millisecond
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultRunQueueTimeout = 5 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultRedisAddr     = "localhost:6379"
	DefaultRedisPrefix   = "weaver"
	DefaultBlobContainer = "executions"

	DefaultNATSSubjectPrefix = "weaver.executions"
	DefaultNATSStream        = "WEAVER_EXECUTIONS"

	DefaultRunStream    = "WEAVER_RUNS"
	DefaultRunSubject   = "weaver.runs"
	DefaultRunDurable   = "weaver-worker"
	DefaultWorkers      = 4
	DefaultRunBatchSize = 10
	DefaultRunTimeout   = 10 * time.Minute

	DefaultOTLPEndpoint = "127.0.0.1:4318"
)

var (
	ErrInvalidAPIPort        = errors.New("invalid API port")
	ErrInvalidNodeDelay      = errors.New("node delay cannot be negative")
	ErrInvalidHTTPTimeout    = errors.New("HTTP timeout must be positive")
	ErrInvalidArchiveBackend = errors.New("invalid archive backend")
	ErrMissingBlobConnection = errors.New("blob archive requires a connection string")
	ErrInvalidSampleRatio    = errors.New("trace sample ratio must be within [0, 1]")
	ErrInvalidWorkers        = errors.New("worker count must be positive")
	ErrInvalidRunBatchSize   = errors.New("run batch size must be positive")
	ErrInvalidRunTimeout     = errors.New("run timeout must be positive")
	ErrMissingNATSURL        = errors.New("worker requires WEAVER_NATS_URL")
)

// Config holds configuration settings for the weaver binary
type Config struct {
	// API server
	APIHost         string
	APIPort         int
	LogLevel        string
	Environment     string
	RunQueueTimeout time.Duration
	ShutdownTimeout time.Duration

	// Execution
	NodeDelay            time.Duration
	HTTPTimeout          time.Duration
	ConditionalBranching bool
	Script               script.Config
	Concurrency          *concurrency.Config

	// Archive
	ArchiveBackend       string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	RedisPrefix          string
	RedisTTL             time.Duration
	BlobConnectionString string
	BlobContainer        string

	// Lifecycle events; publishing is off while NATSURL is empty
	NATSURL           string
	NATSSubjectPrefix string
	NATSStream        string

	// Queued runs
	RunStream    string
	RunSubject   string
	RunDurable   string
	Workers      int
	RunBatchSize int
	RunTimeout   time.Duration

	// Error reporting; off while SentryDSN is empty
	SentryDSN string

	// Tracing
	TracingEnabled   bool
	OTLPEndpoint     string
	TraceSampleRatio float64
}

// NewDefaultConfig creates a configuration that runs entirely in process:
// memory archive, no NATS, no Sentry, no tracing.
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:           DefaultAPIHost,
		APIPort:           DefaultAPIPort,
		LogLevel:          "info",
		Environment:       "development",
		RunQueueTimeout:   DefaultRunQueueTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		NodeDelay:         DefaultNodeDelay,
		HTTPTimeout:       DefaultHTTPTimeout,
		Script:            script.DefaultConfig(),
		Concurrency:       concurrency.LoadConfig(),
		ArchiveBackend:    ArchiveMemory,
		RedisAddr:         DefaultRedisAddr,
		RedisPrefix:       DefaultRedisPrefix,
		BlobContainer:     DefaultBlobContainer,
		NATSSubjectPrefix: DefaultNATSSubjectPrefix,
		NATSStream:        DefaultNATSStream,
		RunStream:         DefaultRunStream,
		RunSubject:        DefaultRunSubject,
		RunDurable:        DefaultRunDurable,
		Workers:           DefaultWorkers,
		RunBatchSize:      DefaultRunBatchSize,
		RunTimeout:        DefaultRunTimeout,
		OTLPEndpoint:      DefaultOTLPEndpoint,
		TraceSampleRatio:  1.0,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	loadEnvString("WEAVER_API_HOST", &c.APIHost)
	loadEnvString("WEAVER_LOG_LEVEL", &c.LogLevel)
	loadEnvString("WEAVER_ENV", &c.Environment)
	loadEnvString("WEAVER_SCRIPT_SECURITY", &c.Script.SecurityLevel)
	loadEnvString("WEAVER_ARCHIVE", &c.ArchiveBackend)
	loadEnvString("WEAVER_REDIS_ADDR", &c.RedisAddr)
	loadEnvString("WEAVER_REDIS_PASSWORD", &c.RedisPassword)
	loadEnvString("WEAVER_REDIS_PREFIX", &c.RedisPrefix)
	loadEnvString("WEAVER_BLOB_CONNECTION_STRING", &c.BlobConnectionString)
	loadEnvString("WEAVER_BLOB_CONTAINER", &c.BlobContainer)
	loadEnvString("WEAVER_NATS_URL", &c.NATSURL)
	loadEnvString("WEAVER_NATS_SUBJECT_PREFIX", &c.NATSSubjectPrefix)
	loadEnvString("WEAVER_NATS_STREAM", &c.NATSStream)
	loadEnvString("WEAVER_RUN_STREAM", &c.RunStream)
	loadEnvString("WEAVER_RUN_SUBJECT", &c.RunSubject)
	loadEnvString("WEAVER_RUN_DURABLE", &c.RunDurable)
	loadEnvString("WEAVER_SENTRY_DSN", &c.SentryDSN)
	loadEnvString("WEAVER_OTLP_ENDPOINT", &c.OTLPEndpoint)

	c.ArchiveBackend = strings.ToLower(c.ArchiveBackend)

	if err := loadEnvInt("WEAVER_API_PORT", &c.APIPort); err != nil {
		return err
	}
	if err := loadEnvInt("WEAVER_REDIS_DB", &c.RedisDB); err != nil {
		return err
	}
	if err := loadEnvInt("WEAVER_SCRIPT_MAX_STACK", &c.Script.MaxCallStackSize); err != nil {
		return err
	}
	if err := loadEnvInt("WEAVER_WORKERS", &c.Workers); err != nil {
		return err
	}
	if err := loadEnvInt("WEAVER_RUN_BATCH_SIZE", &c.RunBatchSize); err != nil {
		return err
	}

	for key, dst := range map[string]*time.Duration{
		"WEAVER_NODE_DELAY":        &c.NodeDelay,
		"WEAVER_HTTP_TIMEOUT":      &c.HTTPTimeout,
		"WEAVER_SCRIPT_TIMEOUT":    &c.Script.Timeout,
		"WEAVER_REDIS_TTL":         &c.RedisTTL,
		"WEAVER_RUN_QUEUE_TIMEOUT": &c.RunQueueTimeout,
		"WEAVER_SHUTDOWN_TIMEOUT":  &c.ShutdownTimeout,
		"WEAVER_RUN_TIMEOUT":       &c.RunTimeout,
	} {
		if err := loadEnvDuration(key, dst); err != nil {
			return err
		}
	}

	if err := loadEnvBool("WEAVER_CONDITIONAL_BRANCHING", &c.ConditionalBranching); err != nil {
		return err
	}
	if err := loadEnvBool("WEAVER_TRACING", &c.TracingEnabled); err != nil {
		return err
	}
	if s := os.Getenv("WEAVER_TRACE_SAMPLE_RATIO"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid WEAVER_TRACE_SAMPLE_RATIO: %q", s)
		}
		c.TraceSampleRatio = v
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.NodeDelay < 0 {
		return ErrInvalidNodeDelay
	}
	if c.HTTPTimeout <= 0 {
		return ErrInvalidHTTPTimeout
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, c.TraceSampleRatio)
	}

	switch c.ArchiveBackend {
	case ArchiveMemory, ArchiveRedis:
	case ArchiveBlob:
		if c.BlobConnectionString == "" {
			return ErrMissingBlobConnection
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidArchiveBackend, c.ArchiveBackend)
	}

	return c.Script.Validate()
}

// ValidateWorker checks the settings the queued-run worker needs on top of
// Validate.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.NATSURL == "" {
		return ErrMissingNATSURL
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	}
	if c.RunBatchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRunBatchSize, c.RunBatchSize)
	}
	if c.RunTimeout <= 0 {
		return ErrInvalidRunTimeout
	}
	return nil
}

func loadEnvString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func loadEnvInt(key string, dst *int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = v
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = v
	return nil
}

func loadEnvBool(key string, dst *bool) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = v
	return nil
}
