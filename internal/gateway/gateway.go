// Package gateway exposes conversations over HTTP and websockets.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/conversation"
	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/internal/metrics"
	"github.com/flemzord/convoq/internal/security"
	"github.com/flemzord/convoq/internal/tool"
)

// Service keys the gateway resolves at Start.
const (
	ServiceManager     = "conversation.manager"
	ServiceRegistry    = "tool.registry"
	ServiceMetrics     = "metrics"
	ServiceCredentials = "security.credentials"
	ServiceLimiter     = "gateway.limiter"
)

// ErrNoManager is returned by Start when no conversation manager was published.
var ErrNoManager = errors.New("gateway: no conversation manager registered")

func init() {
	core.RegisterModule(&Gateway{})
}

// Gateway is the HTTP module. Nothing imports it.
type Gateway struct {
	config  Config
	appCtx  *core.AppContext
	logger  *slog.Logger
	limiter *security.RateLimiter
	server  *http.Server
	addr    net.Addr
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	for _, field := range []*string{&g.config.Auth.BearerToken, &g.config.Auth.BasicPass} {
		v, err := config.ResolveSecret(*field)
		if err != nil {
			return fmt.Errorf("gateway auth: %w", err)
		}
		*field = v
	}
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger.With("component", "gateway")

	if g.config.MessagesPerMinute > 0 {
		g.limiter = security.NewRateLimiter(g.config.MessagesPerMinute, time.Minute)
		ctx.RegisterService(ServiceLimiter, g.limiter)
	}

	if svc, ok := ctx.Service(ServiceCredentials); ok {
		if creds, ok := svc.(*security.CredentialStore); ok {
			if g.config.Auth.BearerToken != "" {
				creds.Set("gateway.bearer_token", g.config.Auth.BearerToken)
			}
			if g.config.Auth.BasicPass != "" {
				creds.Set("gateway.basic_pass", g.config.Auth.BasicPass)
			}
		}
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return fmt.Errorf("gateway: invalid bind address %q: %w", g.config.Bind, err)
	}
	if g.config.Auth.BasicUser != "" && g.config.Auth.BasicPass == "" {
		return errors.New("gateway: basic_user set without basic_pass")
	}
	if !g.config.Auth.IsConfigured() && !isLoopback(g.config.Bind) {
		g.logger.Warn("gateway bound to a non-loopback address without auth", "bind", g.config.Bind)
	}
	return nil
}

// Start implements core.Starter.
func (g *Gateway) Start() error {
	deps := Deps{
		Limiter: g.limiter,
		Auth:    g.config.Auth,
		MaxBody: g.config.MaxBodyBytes,
		Logger:  g.logger,
	}
	if svc, ok := g.appCtx.Service(ServiceManager); ok {
		deps.Manager, _ = svc.(*conversation.Manager)
	}
	if deps.Manager == nil {
		return ErrNoManager
	}
	if svc, ok := g.appCtx.Service(ServiceRegistry); ok {
		deps.Registry, _ = svc.(*tool.Registry)
	}
	if svc, ok := g.appCtx.Service(ServiceMetrics); ok {
		deps.Metrics, _ = svc.(*metrics.Metrics)
	}

	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           NewHandler(deps),
		ReadHeaderTimeout: g.config.ReadTimeout,
		ReadTimeout:       g.config.ReadTimeout,
		WriteTimeout:      g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}
	g.addr = ln.Addr()

	go func() {
		g.logger.Info("gateway listening", "addr", g.addr.String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (g *Gateway) Addr() net.Addr { return g.addr }

// Stop implements core.Stopper.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

func isLoopback(bind string) bool {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
