package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds the run limiter settings
type Config struct {
	MaxConcurrentRuns int
	FailureThreshold  int64
	ResetTimeout      time.Duration
	Source            ConfigSource
	IsKubernetes      bool
	EffectiveCPUs     int
}

// LoadConfig loads limiter settings with priority: env vars > auto-detection
func LoadConfig() *Config {
	config := &Config{
		IsKubernetes:     isKubernetes(),
		EffectiveCPUs:    runtime.GOMAXPROCS(0),
		FailureThreshold: int64(getEnvInt("WEAVER_BREAKER_FAILURES", 10)),
		ResetTimeout:     getEnvDuration("WEAVER_BREAKER_RESET", 30*time.Second),
	}

	if n := getEnvInt("WEAVER_MAX_CONCURRENT_RUNS", 0); n > 0 {
		config.MaxConcurrentRuns = n
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt("WEAVER_CONCURRENCY_MULTIPLIER", 0); multiplier > 0 {
		config.MaxConcurrentRuns = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrentRuns = defaultMaxConcurrentRuns(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	if config.MaxConcurrentRuns < 1 {
		config.MaxConcurrentRuns = 1
	}
	return config
}

// NewLimiter builds a limiter from the configuration
func (c *Config) NewLimiter() *Limiter {
	return NewLimiterWithCircuitBreaker(c.MaxConcurrentRuns, NewCircuitBreaker(c.FailureThreshold, c.ResetTimeout))
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// Runs spend most of their time in node delays and outbound HTTP, so the
// defaults oversubscribe the CPUs.
func defaultMaxConcurrentRuns(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 4
	}
	return cpus * 8
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrentRuns: %d, FailureThreshold: %d, ResetTimeout: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrentRuns,
		c.FailureThreshold,
		c.ResetTimeout,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
