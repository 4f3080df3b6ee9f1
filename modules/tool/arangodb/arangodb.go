// Package arangodb implements the tool.arangodb module: the execute_query
// tool, which runs AQL against an ArangoDB database over its HTTP API.
package arangodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/internal/security"
	"github.com/flemzord/convoq/internal/tool"
)

// ToolName is the name the tool registers under.
const ToolName = "execute_query"

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ tool.Tool         = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
)

// Module is both the tool.arangodb module and the execute_query tool.
type Module struct {
	config Config
	client *client
	logger *slog.Logger
}

// New returns a ready tool outside the module system.
func New(cfg Config) *Module {
	cfg.defaults()
	return &Module{config: cfg, client: newClient(cfg), logger: slog.Default()}
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "tool.arangodb",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	pass, err := config.ResolveSecret(m.config.Password)
	if err != nil {
		return fmt.Errorf("tool.arangodb: password: %w", err)
	}
	m.config.Password = pass
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger.With("component", "tool.arangodb")
	m.client = newClient(m.config)

	svc, ok := ctx.Service("tool.registry")
	if !ok {
		return errors.New("tool.arangodb: no tool registry")
	}
	reg, ok := svc.(*tool.Registry)
	if !ok {
		return fmt.Errorf("tool.arangodb: unexpected registry type %T", svc)
	}
	if err := reg.Register(m); err != nil {
		return err
	}

	if svc, ok := ctx.Service("security.credentials"); ok {
		if creds, ok := svc.(*security.CredentialStore); ok && m.config.Password != "" {
			creds.Set("tool.arangodb.password", m.config.Password)
		}
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. An unreachable server is logged, not
// fatal: queries will fail individually until it comes back.
func (m *Module) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := m.client.version(ctx)
	if err != nil {
		m.logger.Warn("arangodb unreachable", "endpoint", m.config.Endpoint, "error", err)
		return nil
	}
	m.logger.Info("arangodb connected", "endpoint", m.config.Endpoint, "database", m.config.Database, "version", v)
	return nil
}

// Definition implements tool.Tool.
func (m *Module) Definition() tool.Definition {
	return tool.Definition{
		Name:        ToolName,
		Description: "Execute an AQL query against the graph database and return the matching documents.",
		Params: []tool.Param{
			{Name: "query", Type: tool.TypeString, Required: true, Description: "AQL query to execute"},
			{Name: "bind_vars", Type: tool.TypeObject, Description: "Bind parameters referenced as @name in the query"},
			{Name: "explain", Type: tool.TypeBoolean, Default: false, Description: "Also return the execution plan"},
			{Name: "bypass_cache", Type: tool.TypeBoolean, Default: false, Description: "Execute even if a cached result exists"},
		},
		Returns: "{query, bind_vars, results, count, execution_time, execution_plan?}",
	}
}

// Execute implements tool.Tool.
func (m *Module) Execute(ctx context.Context, in tool.Input) (any, error) {
	query := strings.TrimSpace(in.String("query"))
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	bindVars := in.Object("bind_vars")

	started := time.Now()
	rows, count, stats, err := m.client.cursor(ctx, query, bindVars, m.config.BatchSize, m.config.MaxRows)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(started).Seconds()
	if v, ok := stats["executionTime"].(float64); ok {
		elapsed = v
	}
	if rows == nil {
		rows = []any{}
	}

	out := map[string]any{
		"query":          query,
		"bind_vars":      bindVars,
		"results":        rows,
		"count":          count,
		"execution_time": elapsed,
	}
	if count > len(rows) {
		out["truncated"] = true
	}

	if in.Bool("explain") {
		plan, err := m.client.explain(ctx, query, bindVars)
		if err != nil {
			return nil, fmt.Errorf("explain: %w", err)
		}
		explained := map[string]any{"plan": plan.Plan, "cacheable": plan.Cacheable}
		if len(plan.Warnings) > 0 {
			explained["warnings"] = plan.Warnings
		}
		out["execution_plan"] = explained
	}
	return out, nil
}
