package arangodb

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the configuration for the tool.arangodb module.
type Config struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	// Password may be a keyring:<name> reference.
	Password string `yaml:"password"`

	// MaxRows caps the rows read from a cursor; the rest are dropped and
	// the cursor deleted.
	MaxRows   int           `yaml:"max_rows"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = "http://localhost:8529"
	}
	if c.Database == "" {
		c.Database = "_system"
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("tool.arangodb: invalid endpoint %q", c.Endpoint)
	}
	return nil
}
