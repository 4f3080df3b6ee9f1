package openai

import (
	"fmt"
	"time"
)

// Config holds the configuration for the assistant.openai module.
type Config struct {
	// APIKey may be a literal or a keyring:<name> reference.
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
	Project      string `yaml:"project"`
	Timeout      string `yaml:"timeout"`
}

// defaults fills zero-valued fields.
func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
}

// parsedTimeout assumes validateTimeout passed.
func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func (c *Config) validateTimeout() error {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("assistant.openai: invalid timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return fmt.Errorf("assistant.openai: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
