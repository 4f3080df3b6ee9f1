// Package remote implements the tool.remote module: tools declared in YAML
// and served by HTTP endpoints, such as the natural-language parser and the
// query translator.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/internal/tool"
)

// maxResponseSize caps tool responses at 16 MB.
const maxResponseSize = 16 << 20

// ErrRemote wraps non-2xx responses from a tool endpoint.
var ErrRemote = errors.New("remote tool error")

func init() {
	core.RegisterModule(&Module{})
}

// ToolConfig declares one remote tool.
type ToolConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Endpoint    string            `yaml:"endpoint"`
	Params      []tool.Param      `yaml:"params"`
	Headers     map[string]string `yaml:"headers"`
	// BearerToken may be a keyring:<name> reference.
	BearerToken string        `yaml:"bearer_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Config holds the configuration for the tool.remote module.
type Config struct {
	Tools []ToolConfig `yaml:"tools"`
}

// request is the body POSTed to a tool endpoint.
type request struct {
	Tool           string         `json:"tool"`
	Params         map[string]any `json:"params"`
	ConversationID string         `json:"conversation_id,omitempty"`
	InvocationID   string         `json:"invocation_id,omitempty"`
}

// Tool is one HTTP-backed tool.
type Tool struct {
	cfg    ToolConfig
	client *http.Client
}

// NewTool returns a tool for cfg.
func NewTool(cfg ToolConfig) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Tool{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Definition implements tool.Tool.
func (t *Tool) Definition() tool.Definition {
	return tool.Definition{Name: t.cfg.Name, Description: t.cfg.Description, Params: t.cfg.Params}
}

// Execute implements tool.Tool.
func (t *Tool) Execute(ctx context.Context, in tool.Input) (any, error) {
	body, err := json.Marshal(request{
		Tool:           t.cfg.Name,
		Params:         in.Params,
		ConversationID: in.ConversationID,
		InvocationID:   in.InvocationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	if t.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.BearerToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d: %s", ErrRemote, t.cfg.Name, resp.StatusCode, bytes.TrimSpace(data))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// Module registers every configured remote tool.
type Module struct {
	config Config
	tools  []*Tool
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "tool.remote",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	for i := range m.config.Tools {
		tc := &m.config.Tools[i]
		tok, err := config.ResolveSecret(tc.BearerToken)
		if err != nil {
			return fmt.Errorf("tool.remote %s: bearer_token: %w", tc.Name, err)
		}
		tc.BearerToken = tok
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger.With("component", "tool.remote")
	svc, ok := ctx.Service("tool.registry")
	if !ok {
		return errors.New("tool.remote: no tool registry")
	}
	reg, ok := svc.(*tool.Registry)
	if !ok {
		return fmt.Errorf("tool.remote: unexpected registry type %T", svc)
	}
	for _, tc := range m.config.Tools {
		t := NewTool(tc)
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("tool.remote: %w", err)
		}
		m.tools = append(m.tools, t)
		m.logger.Info("remote tool registered", "tool", tc.Name, "endpoint", tc.Endpoint)
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, tc := range m.config.Tools {
		if tc.Name == "" {
			errs = append(errs, fmt.Errorf("tool.remote: tools[%d]: name is required", i))
		} else if seen[tc.Name] {
			errs = append(errs, fmt.Errorf("tool.remote: duplicate tool %q", tc.Name))
		}
		seen[tc.Name] = true
		u, err := url.Parse(tc.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("tool.remote: tools[%d]: invalid endpoint %q", i, tc.Endpoint))
		}
	}
	return errors.Join(errs...)
}
