package reload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/flemzord/convoq/internal/assistant/assistanttest"
	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/conversation"
	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/internal/runner"
	"github.com/flemzord/convoq/internal/tool"
)

type stubModule struct{}

func (stubModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "test.reload", New: func() core.Module { return stubModule{} }}
}

func init() {
	core.RegisterModule(stubModule{})
}

func parse(t *testing.T, raw string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func newManager() *conversation.Manager {
	fake := assistanttest.New()
	r := runner.New(fake, tool.NewRegistry(), runner.Config{PollInterval: time.Millisecond})
	return conversation.NewManager(fake, r)
}

const baseConfig = `
version: "1"
logging:
  level: info
conversation:
  assistant_id: asst_1
modules:
  test.reload: {}
`

func TestApply_LogLevel(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	h := NewHandler(parse(t, baseConfig), &level, nil, nil)

	res := h.Apply(parse(t, `
version: "1"
logging:
  level: debug
conversation:
  assistant_id: asst_1
modules:
  test.reload: {}
`))
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if !slices.Equal(res.Applied, []string{"logging.level"}) {
		t.Errorf("Applied = %v", res.Applied)
	}
	if len(res.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", res.RestartRequired)
	}
}

func TestApply_RecoveryPolicy(t *testing.T) {
	t.Parallel()

	m := newManager()
	h := NewHandler(parse(t, baseConfig), nil, m, nil)

	res := h.Apply(parse(t, `
version: "1"
conversation:
  assistant_id: asst_1
  auto_recover: false
  max_recoveries: 3
modules:
  test.reload: {}
`))
	got := m.Config()
	if got.AutoRecover || got.MaxRecoveries != 3 {
		t.Errorf("manager config = %+v, want recovery off with 3 attempts", got)
	}
	if !slices.Contains(res.Applied, "conversation.auto_recover") {
		t.Errorf("Applied = %v", res.Applied)
	}
}

func TestApply_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "format",
			raw:  "version: \"1\"\nlogging:\n  format: json\nconversation:\n  assistant_id: asst_1\nmodules:\n  test.reload: {}\n",
			want: "logging.format",
		},
		{
			name: "assistant id",
			raw:  "version: \"1\"\nconversation:\n  assistant_id: asst_2\nmodules:\n  test.reload: {}\n",
			want: "conversation",
		},
		{
			name: "module section",
			raw:  "version: \"1\"\nconversation:\n  assistant_id: asst_1\nmodules:\n  test.reload:\n    key: value\n",
			want: "modules",
		},
		{
			name: "cache",
			raw:  "version: \"1\"\ncache:\n  disabled: true\nconversation:\n  assistant_id: asst_1\nmodules:\n  test.reload: {}\n",
			want: "cache",
		},
		{
			name: "audit",
			raw:  "version: \"1\"\naudit:\n  path: audit.jsonl\nconversation:\n  assistant_id: asst_1\nmodules:\n  test.reload: {}\n",
			want: "audit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHandler(parse(t, baseConfig), nil, nil, nil)
			res := h.Apply(parse(t, tt.raw))
			if !slices.Contains(res.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want %q", res.RestartRequired, tt.want)
			}
		})
	}
}

func TestApply_Unchanged(t *testing.T) {
	t.Parallel()

	h := NewHandler(parse(t, baseConfig), nil, newManager(), nil)
	res := h.Apply(parse(t, baseConfig))
	if len(res.Applied) != 0 || len(res.RestartRequired) != 0 {
		t.Errorf("Apply of identical config = %+v, want empty", res)
	}
}

func TestHandleReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "convoq.yaml")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	var level slog.LevelVar
	h := NewHandler(parse(t, baseConfig), &level, nil, nil)

	write("version: \"1\"\nlogging:\n  level: warn\nconversation:\n  assistant_id: asst_1\nmodules:\n  test.reload: {}\n")
	if _, err := h.HandleReload(context.Background(), path); err != nil {
		t.Fatalf("HandleReload: %v", err)
	}
	if level.Level() != slog.LevelWarn {
		t.Errorf("level = %v, want warn", level.Level())
	}

	write("version: \"2\"\nlogging:\n  level: error\nconversation:\n  assistant_id: asst_1\nmodules:\n  test.reload: {}\n")
	if _, err := h.HandleReload(context.Background(), path); err == nil {
		t.Fatal("expected validation error")
	}
	if level.Level() != slog.LevelWarn {
		t.Errorf("invalid config changed level to %v", level.Level())
	}

	if _, err := h.HandleReload(context.Background(), filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
