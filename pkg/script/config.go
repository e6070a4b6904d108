package script

import (
	"fmt"
	"time"
)

// SecurityLevel defines the security restrictions for script evaluation
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// Config controls how condition expressions and code bodies are evaluated
type Config struct {
	// Timeout is the maximum wall time of one evaluation
	Timeout time.Duration `json:"timeout,omitempty"`

	// SecurityLevel defines security restrictions (strict, standard, permissive)
	SecurityLevel string `json:"security_level,omitempty"`

	// MaxCallStackSize bounds recursion inside a script
	MaxCallStackSize int `json:"max_call_stack_size,omitempty"`
}

// DefaultConfig returns the configuration used when none is supplied
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults sets default values for configuration fields
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityLevelStandard
	}
	if c.MaxCallStackSize == 0 {
		c.MaxCallStackSize = 1024
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.SecurityLevel != SecurityLevelStrict &&
		c.SecurityLevel != SecurityLevelStandard &&
		c.SecurityLevel != SecurityLevelPermissive {
		return fmt.Errorf("invalid security level: %s", c.SecurityLevel)
	}
	if c.MaxCallStackSize <= 0 {
		return fmt.Errorf("max_call_stack_size must be positive")
	}
	return nil
}
