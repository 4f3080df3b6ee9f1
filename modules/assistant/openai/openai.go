// Package openai implements the assistant.openai module: a client for the
// OpenAI Assistants v2 threads and runs API.
package openai

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/convoq/internal/assistant"
	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/internal/security"
)

// ServiceKey is the AppContext key the client is published under.
const ServiceKey = "assistant.service"

func init() {
	core.RegisterModule(&Client{})
}

var (
	_ assistant.Service  = (*Client)(nil)
	_ assistant.Canceler = (*Client)(nil)
	_ core.Configurable  = (*Client)(nil)
	_ core.Provisioner   = (*Client)(nil)
	_ core.Validator     = (*Client)(nil)
)

// Client is the Assistants API client and module.
type Client struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// New returns a ready client outside the module system.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: cfg,
		logger: logger.With("component", "assistant.openai"),
		client: &http.Client{Timeout: cfg.parsedTimeout()},
	}
}

// ModuleInfo implements core.Module.
func (c *Client) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "assistant.openai",
		New: func() core.Module { return &Client{} },
	}
}

// Configure implements core.Configurable.
func (c *Client) Configure(node *yaml.Node) error {
	if err := node.Decode(&c.config); err != nil {
		return err
	}
	key, err := config.ResolveSecret(c.config.APIKey)
	if err != nil {
		return fmt.Errorf("assistant.openai: api_key: %w", err)
	}
	c.config.APIKey = key
	c.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (c *Client) Provision(ctx *core.AppContext) error {
	c.config.defaults()
	c.logger = ctx.Logger.With("component", "assistant.openai")
	c.client = &http.Client{Timeout: c.config.parsedTimeout()}

	if svc, ok := ctx.Service("security.credentials"); ok {
		if creds, ok := svc.(*security.CredentialStore); ok && c.config.APIKey != "" {
			creds.Set("assistant.openai.api_key", c.config.APIKey)
		}
	}
	ctx.RegisterService(ServiceKey, c)
	return nil
}

// Validate implements core.Validator.
func (c *Client) Validate() error {
	if c.config.APIKey == "" {
		return errors.New("assistant.openai: api_key is required")
	}
	return c.config.validateTimeout()
}
