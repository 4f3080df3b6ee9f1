package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flemzord/convoq/internal/assistant"
	"github.com/flemzord/convoq/internal/budget"
	"github.com/flemzord/convoq/internal/conversation"
	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/internal/cron"
	"github.com/flemzord/convoq/internal/hook"
	"github.com/flemzord/convoq/internal/querycache"
	"github.com/flemzord/convoq/internal/runner"
	"github.com/flemzord/convoq/internal/security"
)

// schedulerModule wraps the cron scheduler so it starts after, and stops
// before, the modules its jobs depend on.
type schedulerModule struct {
	scheduler *cron.Scheduler
}

func (m *schedulerModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "cron"}
}

func (m *schedulerModule) Start() error { return m.scheduler.Start() }

func (m *schedulerModule) Stop(ctx context.Context) error { return m.scheduler.Stop(ctx) }

// wire builds the runner and the conversation manager from the services
// the modules published, then appends the scheduler. Must be called after
// LoadModules and before Start.
func (e *Env) wire(ctx context.Context, appCtx *core.AppContext) error {
	svc, ok := lookup[assistant.Service](appCtx, ServiceAssistant)
	if !ok {
		return ErrNoAssistant
	}
	conv := e.Config.Conversation

	ropts := []runner.Option{
		runner.WithLogger(e.Logger),
		runner.WithMetrics(e.Metrics),
		runner.WithCompressor(budget.New(e.Config.Budget)),
	}
	if !e.Config.Cache.Disabled {
		cache := querycache.New(e.Config.Cache.TTL, querycache.WithObserver(e.Metrics.ObserveCache))
		ropts = append(ropts, runner.WithCache(cache))
	}
	if rec, ok := lookup[runner.InteractionRecorder](appCtx, ServiceRecorder); ok {
		ropts = append(ropts, runner.WithRecorder(rec))
		e.History, _ = rec.(runner.InteractionHistory)
	}
	r := runner.New(svc, e.Registry, runner.Config{
		AssistantID:   conv.AssistantID,
		Model:         conv.Model,
		Instructions:  conv.Instructions,
		PollInterval:  conv.PollInterval,
		MaxWait:       conv.MaxWait,
		QueryTool:     conv.QueryTool,
		ParserTools:   conv.ParserTools,
		PushTools:     conv.PushTools,
		ParallelTools: conv.ParallelTools,
		MaxParallel:   conv.MaxParallel,
	}, ropts...)

	mopts := []conversation.Option{
		conversation.WithLogger(e.Logger),
		conversation.WithMetrics(e.Metrics),
		conversation.WithConfig(conversation.Config{
			AutoRecover:   conv.Recover(),
			MaxRecoveries: conv.MaxRecoveries,
		}),
	}
	if store, ok := lookup[conversation.Store](appCtx, ServiceStore); ok {
		mopts = append(mopts, conversation.WithStore(store))
	}
	hooks, err := e.hooks()
	if err != nil {
		return err
	}
	if hooks.Len() > 0 {
		mopts = append(mopts, conversation.WithHooks(hooks))
	}
	e.Manager = conversation.NewManager(svc, r, mopts...)
	appCtx.RegisterService(ServiceManager, e.Manager)

	if e.Config.Snapshot.Restore {
		n, err := e.Manager.LoadSnapshotFile(ctx, e.SnapshotPath())
		if err != nil {
			return fmt.Errorf("restoring snapshot: %w", err)
		}
		e.Logger.Info("snapshot restored", "path", e.SnapshotPath(), "conversations", n)
	}

	return e.wireScheduler(appCtx)
}

// hooks assembles the message pipeline from the conversation and audit
// sections. The audit file stays open until Close.
func (e *Env) hooks() (*hook.Pipeline, error) {
	p := hook.NewPipeline()
	if n := e.Config.Conversation.MaxMessageChars; n > 0 {
		p.Register(&hook.LengthLimit{Max: n})
	}
	if e.Config.Conversation.RedactReplies {
		p.Register(&hook.RedactReply{Redactor: e.Redactor})
	}
	if path := e.AuditPath(); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		e.auditFile = f
		p.Register(hook.NewAuditHook(f))
	}
	return p, nil
}

// AuditPath resolves audit.path against the data directory. Empty when
// auditing is off.
func (e *Env) AuditPath() string {
	p := e.Config.Audit.Path
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.DataDir, p)
}

func (e *Env) wireScheduler(appCtx *core.AppContext) error {
	sched := cron.NewScheduler(e.Logger)
	snap := e.Config.Snapshot

	var jobs []cron.Job
	if snap.Schedule != "" {
		jobs = append(jobs, &cron.SnapshotJob{
			Exporter:     e.Manager,
			Path:         e.SnapshotPath(),
			Logger:       e.Logger,
			ScheduleExpr: snap.Schedule,
		})
		if snap.PruneIdle > 0 {
			jobs = append(jobs, &cron.PruneJob{
				Pruner:       e.Manager,
				MaxIdle:      snap.PruneIdle,
				Logger:       e.Logger,
				ScheduleExpr: snap.Schedule,
			})
		}
	}
	if limiter, ok := lookup[*security.RateLimiter](appCtx, "gateway.limiter"); ok {
		jobs = append(jobs, &cron.SweepJob{Sweeper: limiter})
	}
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		if err := sched.RegisterJob(j); err != nil {
			return err
		}
	}
	e.App.AppendModule("cron", &schedulerModule{scheduler: sched})
	return nil
}
