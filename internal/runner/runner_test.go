package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/convoq/internal/assistant"
	"github.com/flemzord/convoq/internal/assistant/assistanttest"
	"github.com/flemzord/convoq/internal/querycache"
	"github.com/flemzord/convoq/internal/runner"
	"github.com/flemzord/convoq/internal/tool"
	"github.com/flemzord/convoq/internal/tool/tooltest"
)

func testConfig() runner.Config {
	return runner.Config{
		AssistantID:  "asst_test",
		PollInterval: time.Millisecond,
		MaxWait:      5 * time.Second,
	}
}

func newThread(t *testing.T, fake *assistanttest.Fake) string {
	t.Helper()
	th, err := fake.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	return th.ID
}

// queryTool is an execute_query stand-in that counts executions.
func queryTool(executions *atomic.Int32, rows int) *tooltest.MockTool {
	return &tooltest.MockTool{
		Def: tool.Definition{
			Name: "execute_query",
			Params: []tool.Param{
				{Name: "query", Type: tool.TypeString, Required: true},
				{Name: "bind_vars", Type: tool.TypeObject},
				{Name: "explain", Type: tool.TypeBoolean},
				{Name: "bypass_cache", Type: tool.TypeBoolean},
			},
		},
		ExecuteFunc: func(_ context.Context, in tool.Input) (any, error) {
			executions.Add(1)
			results := make([]any, rows)
			for i := range results {
				results[i] = map[string]any{"_key": fmt.Sprint(i), "body": strings.Repeat("r", 200)}
			}
			return map[string]any{
				"query":          in.String("query"),
				"bind_vars":      in.Object("bind_vars"),
				"results":        results,
				"count":          rows,
				"execution_time": 0.12,
			}, nil
		},
	}
}

func decodeOutput(t *testing.T, out assistant.ToolOutput) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out.Output), &m); err != nil {
		t.Fatalf("tool output is not a JSON object: %v (%s)", err, out.Output)
	}
	return m
}

func TestRun_Completed(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(assistanttest.Script{
		{Status: assistant.StatusInProgress},
		{Status: assistant.StatusCompleted, Reply: "hello there"},
	})
	threadID := newThread(t, fake)

	r := runner.New(fake, tool.NewRegistry(), testConfig())
	res := r.Run(context.Background(), runner.Request{ConversationID: "c1", ThreadID: threadID, Text: "hi"})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Response != "hello there" || res.MessageID == "" {
		t.Errorf("Response = %q, MessageID = %q", res.Response, res.MessageID)
	}
	if res.Status != assistant.StatusCompleted {
		t.Errorf("Status = %s", res.Status)
	}

	msgs := fake.Messages(threadID)
	if len(msgs) != 2 || msgs[0].Role != assistant.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("thread messages = %+v", msgs)
	}
	if runs := fake.CreatedRuns(); len(runs) != 1 || runs[0].Request.AssistantID != "asst_test" {
		t.Errorf("created runs = %+v", runs)
	}
}

func TestRun_CompletedWithoutReplyIgnoresEarlierTurns(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(
		assistanttest.Reply("first answer"),
		assistanttest.Script{{Status: assistant.StatusCompleted}},
	)
	threadID := newThread(t, fake)
	r := runner.New(fake, tool.NewRegistry(), testConfig())

	first := r.Run(context.Background(), runner.Request{ConversationID: "c1", ThreadID: threadID, Text: "one"})
	if first.Err != nil || first.Response != "first answer" {
		t.Fatalf("first run = %+v", first)
	}

	second := r.Run(context.Background(), runner.Request{ConversationID: "c1", ThreadID: threadID, Text: "two"})
	if second.Err == nil {
		t.Fatalf("second run returned %q, want a no-response error", second.Response)
	}
	if second.Err.Code != runner.CodeNoResponse {
		t.Errorf("Code = %q, want %q", second.Err.Code, runner.CodeNoResponse)
	}
	if second.Response == "first answer" || second.MessageID == first.MessageID {
		t.Error("previous turn's reply returned for a run that wrote none")
	}
}

func TestRun_ToolBatchSubmittedTogether(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(assistanttest.ToolThenReply("done",
		assistant.ToolCall{ID: "call_1", Name: "echo", Arguments: `{"text":"one"}`},
		assistant.ToolCall{ID: "call_2", Name: "echo", Arguments: `{}`},
		assistant.ToolCall{ID: "call_3", Name: "missing", Arguments: `{}`},
	))
	threadID := newThread(t, fake)

	reg := tool.NewRegistry()
	_ = reg.Register(tooltest.Echo())
	r := runner.New(fake, reg, testConfig())

	res := r.Run(context.Background(), runner.Request{ConversationID: "c1", ThreadID: threadID, Text: "go"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.ToolCalls != 3 {
		t.Errorf("ToolCalls = %d, want 3", res.ToolCalls)
	}

	subs := fake.Submissions()
	if len(subs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(subs))
	}
	outs := subs[0].Outputs
	if len(outs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outs))
	}
	if outs[0].ToolCallID != "call_1" || outs[0].Output != `"one"` {
		t.Errorf("output 0 = %+v", outs[0])
	}
	if m := decodeOutput(t, outs[1]); m["success"] != false || !strings.Contains(m["error"].(string), "text") {
		t.Errorf("output 1 = %v", m)
	}
	if m := decodeOutput(t, outs[2]); !strings.Contains(m["error"].(string), "not found") {
		t.Errorf("output 2 = %v", m)
	}
}

func TestRun_ParallelToolsKeepCallOrder(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	calls := make([]assistant.ToolCall, 6)
	for i := range calls {
		calls[i] = assistant.ToolCall{ID: fmt.Sprintf("call_%d", i), Name: "echo", Arguments: fmt.Sprintf(`{"text":"%d"}`, i)}
	}
	fake.Enqueue(assistanttest.ToolThenReply("done", calls...))
	threadID := newThread(t, fake)

	reg := tool.NewRegistry()
	_ = reg.Register(tooltest.Echo())
	cfg := testConfig()
	cfg.ParallelTools = true
	cfg.MaxParallel = 3
	r := runner.New(fake, reg, cfg)

	if res := r.Run(context.Background(), runner.Request{ThreadID: threadID, Text: "go"}); res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	outs := fake.Submissions()[0].Outputs
	for i, out := range outs {
		if out.ToolCallID != calls[i].ID || out.Output != fmt.Sprintf(`"%d"`, i) {
			t.Errorf("output %d = %+v", i, out)
		}
	}
}

func TestRun_QueryCacheShortCircuit(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(
		assistanttest.ToolThenReply("first", assistant.ToolCall{
			ID: "call_a", Name: "execute_query",
			Arguments: `{"query":"FOR u IN users FILTER u.age > @min RETURN u","bind_vars":{"min":30,"lim":5}}`,
		}),
		assistanttest.ToolThenReply("second", assistant.ToolCall{
			ID: "call_b", Name: "execute_query",
			Arguments: `{"query":"FOR u IN users\n  FILTER u.age > @min\n  RETURN u","bind_vars":{"lim":5,"min":30}}`,
		}),
	)
	threadID := newThread(t, fake)

	var executions atomic.Int32
	reg := tool.NewRegistry()
	_ = reg.Register(queryTool(&executions, 3))
	rec := runner.NewMemoryRecorder(10)
	r := runner.New(fake, reg, testConfig(),
		runner.WithCache(querycache.New(time.Hour)),
		runner.WithRecorder(rec),
	)

	for _, text := range []string{"older than 30?", "again please"} {
		if res := r.Run(context.Background(), runner.Request{ConversationID: "c1", ThreadID: threadID, Text: text}); res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
	}

	if n := executions.Load(); n != 1 {
		t.Fatalf("query executed %d times, want 1", n)
	}

	subs := fake.Submissions()
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}
	first, second := decodeOutput(t, subs[0].Outputs[0]), decodeOutput(t, subs[1].Outputs[0])
	if _, tagged := first["from_cache"]; tagged {
		t.Errorf("fresh result tagged from_cache: %v", first["from_cache"])
	}
	if second["from_cache"] != true {
		t.Errorf("from_cache = %v, want true", second["from_cache"])
	}
	if second["execution_time"] != 0.0 {
		t.Errorf("execution_time = %v, want 0", second["execution_time"])
	}

	recent, _ := rec.Recent(context.Background(), 0)
	if len(recent) != 2 || !recent[0].FromCache || recent[1].FromCache {
		t.Errorf("recorded interactions = %+v", recent)
	}
}

func TestRun_QueryCacheBypass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args string
	}{
		{"explain", `{"query":"RETURN 1","explain":true}`},
		{"bypass_cache", `{"query":"RETURN 1","bypass_cache":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := assistanttest.New()
			for i := range 2 {
				fake.Enqueue(assistanttest.ToolThenReply("ok", assistant.ToolCall{
					ID: fmt.Sprintf("call_%d", i), Name: "execute_query", Arguments: tt.args,
				}))
			}
			threadID := newThread(t, fake)

			var executions atomic.Int32
			reg := tool.NewRegistry()
			_ = reg.Register(queryTool(&executions, 1))
			cache := querycache.New(time.Hour)
			r := runner.New(fake, reg, testConfig(), runner.WithCache(cache))

			for range 2 {
				if res := r.Run(context.Background(), runner.Request{ThreadID: threadID, Text: "q"}); res.Err != nil {
					t.Fatalf("unexpected error: %v", res.Err)
				}
			}
			if n := executions.Load(); n != 2 {
				t.Errorf("query executed %d times, want 2", n)
			}
			if cache.Len() != 0 {
				t.Errorf("cache holds %d entries, want 0", cache.Len())
			}
		})
	}
}

func TestRun_QueryOutputCompressed(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(assistanttest.ToolThenReply("ok", assistant.ToolCall{
		ID: "call_1", Name: "execute_query", Arguments: `{"query":"FOR d IN docs RETURN d"}`,
	}))
	threadID := newThread(t, fake)

	var executions atomic.Int32
	reg := tool.NewRegistry()
	_ = reg.Register(queryTool(&executions, 75))
	r := runner.New(fake, reg, testConfig())

	if res := r.Run(context.Background(), runner.Request{ThreadID: threadID, Text: "q"}); res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	out := decodeOutput(t, fake.Submissions()[0].Outputs[0])
	if results := out["results"].([]any); len(results) != 50 {
		t.Errorf("len(results) = %d, want 50", len(results))
	}
	if out["truncated"] != true || out["total_results"] != 75.0 {
		t.Errorf("truncation metadata = %v / %v", out["truncated"], out["total_results"])
	}
}

func TestRun_ParserOutputCompressedByDefault(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(assistanttest.ToolThenReply("ok", assistant.ToolCall{
		ID: "call_1", Name: runner.DefaultParserTool, Arguments: `{}`,
	}))
	threadID := newThread(t, fake)

	schema := make(map[string]any, 50)
	for i := range 50 {
		schema[fmt.Sprintf("collection_%02d", i)] = strings.Repeat("f", 300)
	}
	parser := &tooltest.MockTool{
		Def: tool.Definition{Name: runner.DefaultParserTool},
		ExecuteFunc: func(context.Context, tool.Input) (any, error) {
			return map[string]any{
				"intent":        "count",
				"entities":      []any{"orders"},
				"is_successful": true,
				"schema":        schema,
				"debug":         strings.Repeat("d", 5000),
			}, nil
		},
	}
	reg := tool.NewRegistry()
	_ = reg.Register(parser)
	r := runner.New(fake, reg, testConfig())

	if res := r.Run(context.Background(), runner.Request{ThreadID: threadID, Text: "how many orders?"}); res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	out := decodeOutput(t, fake.Submissions()[0].Outputs[0])
	if out["intent"] != "count" || out["is_successful"] != true {
		t.Errorf("essential fields lost: %v", out)
	}
	if out["schema_truncated"] != true {
		t.Errorf("schema_truncated = %v, want true", out["schema_truncated"])
	}
	if keys, ok := out["schema"].([]any); !ok || len(keys) != 50 || keys[0] != "collection_00" {
		t.Errorf("schema = %v, want its 50 sorted key names", out["schema"])
	}
	if _, ok := out["debug"]; ok {
		t.Error("non-essential field kept")
	}
}

func TestRun_RecorderSamplesLargeResults(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(assistanttest.ToolThenReply("ok", assistant.ToolCall{
		ID: "call_1", Name: "execute_query", Arguments: `{"query":"FOR d IN big RETURN d"}`,
	}))
	threadID := newThread(t, fake)

	var executions atomic.Int32
	reg := tool.NewRegistry()
	// 6000 rows of ~220 bytes is well above the 1 MB ceiling.
	_ = reg.Register(queryTool(&executions, 6000))
	rec := runner.NewMemoryRecorder(0)
	r := runner.New(fake, reg, testConfig(), runner.WithRecorder(rec))

	if res := r.Run(context.Background(), runner.Request{ThreadID: threadID, Text: "q"}); res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	recent, _ := rec.Recent(context.Background(), 1)
	if len(recent) != 1 {
		t.Fatalf("expected 1 recorded interaction, got %d", len(recent))
	}
	it := recent[0]
	if !it.Truncated || it.EstimatedTokens <= runner.RecordCeilingTokens {
		t.Fatalf("interaction not truncated: truncated=%v tokens=%d", it.Truncated, it.EstimatedTokens)
	}
	s := it.Result.(map[string]any)
	if rows := s["sample"].([]any); len(rows) != runner.RecordSampleSize {
		t.Errorf("sample has %d rows", len(rows))
	}
	if s["total_results"] != 6000 {
		t.Errorf("total_results = %v", s["total_results"])
	}
	if meta := s["metadata"].(map[string]any); meta["query"] != "FOR d IN big RETURN d" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		script       assistanttest.Script
		wantStatus   assistant.RunStatus
		wantCode     string
		wantOverflow bool
	}{
		{
			name:         "context length code",
			script:       assistanttest.Fail("context_length_exceeded", "too long"),
			wantStatus:   assistant.StatusFailed,
			wantCode:     "context_length_exceeded",
			wantOverflow: true,
		},
		{
			name:         "token limit phrase",
			script:       assistanttest.Fail("server_error", "Request exceeds the Token Limit of the model"),
			wantStatus:   assistant.StatusFailed,
			wantCode:     "server_error",
			wantOverflow: true,
		},
		{
			name:       "rate limit",
			script:     assistanttest.Fail("rate_limit_exceeded", "slow down"),
			wantStatus: assistant.StatusFailed,
			wantCode:   "rate_limit_exceeded",
		},
		{
			name:       "expired without error",
			script:     assistanttest.Script{{Status: assistant.StatusExpired}},
			wantStatus: assistant.StatusExpired,
			wantCode:   "run_expired",
		},
		{
			name:       "incomplete",
			script:     assistanttest.Script{{Status: assistant.StatusIncomplete}},
			wantStatus: assistant.StatusIncomplete,
			wantCode:   "max_prompt_tokens",
		},
		{
			name:       "completed without reply",
			script:     assistanttest.Script{{Status: assistant.StatusCompleted}},
			wantStatus: assistant.StatusCompleted,
			wantCode:   runner.CodeNoResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := assistanttest.New()
			fake.Enqueue(tt.script)
			threadID := newThread(t, fake)

			res := runner.New(fake, tool.NewRegistry(), testConfig()).
				Run(context.Background(), runner.Request{ThreadID: threadID, Text: "x"})
			if res.Err == nil {
				t.Fatal("expected a run error")
			}
			if res.Status != tt.wantStatus || res.Err.Code != tt.wantCode {
				t.Errorf("status/code = %s/%s, want %s/%s", res.Status, res.Err.Code, tt.wantStatus, tt.wantCode)
			}
			if res.Overflow() != tt.wantOverflow {
				t.Errorf("Overflow() = %v, want %v", res.Overflow(), tt.wantOverflow)
			}
			if !errors.Is(res.Err, runner.ErrRunFailed) {
				t.Error("expected errors.Is(err, ErrRunFailed)")
			}
			if errors.Is(res.Err, runner.ErrContextOverflow) != tt.wantOverflow {
				t.Error("errors.Is(err, ErrContextOverflow) disagrees with Overflow()")
			}
		})
	}
}

func TestRun_ServiceErrors(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	threadID := newThread(t, fake)
	fake.CreateRunErr = fmt.Errorf("openai: %w", assistant.ErrContextLength)

	res := runner.New(fake, tool.NewRegistry(), testConfig()).
		Run(context.Background(), runner.Request{ThreadID: threadID, Text: "x"})
	if res.Err == nil || res.Err.Code != runner.CodeContextLength {
		t.Fatalf("Err = %v", res.Err)
	}
	if !res.Overflow() {
		t.Error("a context length error from the service should count as overflow")
	}
}

func TestRun_MaxWaitCancelsRun(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(assistanttest.Script{{Status: assistant.StatusInProgress}})
	threadID := newThread(t, fake)

	cfg := testConfig()
	cfg.MaxWait = 30 * time.Millisecond
	res := runner.New(fake, tool.NewRegistry(), cfg).
		Run(context.Background(), runner.Request{ThreadID: threadID, Text: "x"})

	if res.Err == nil || res.Err.Code != runner.CodeTimeout {
		t.Fatalf("Err = %v, want %s", res.Err, runner.CodeTimeout)
	}
	if cancelled := fake.Cancelled(); len(cancelled) != 1 || cancelled[0] != res.RunID {
		t.Errorf("cancelled runs = %v, want [%s]", cancelled, res.RunID)
	}
	if fake.Polls() == 0 {
		t.Error("expected the run to be polled before timing out")
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(assistanttest.Script{{Status: assistant.StatusInProgress}})
	threadID := newThread(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cfg := testConfig()
	cfg.MaxWait = -1
	res := runner.New(fake, tool.NewRegistry(), cfg).Run(ctx, runner.Request{ThreadID: threadID, Text: "x"})
	if res.Err == nil || res.Err.Code != runner.CodeTimeout {
		t.Fatalf("Err = %v", res.Err)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Error("expected the context error to be wrapped")
	}
	if len(fake.Cancelled()) != 1 {
		t.Error("expected the remote run to be cancelled")
	}
}

func TestRun_PushToolsAndInvalidArguments(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(assistanttest.ToolThenReply("ok",
		assistant.ToolCall{ID: "call_1", Name: "echo", Arguments: `not json`},
	))
	threadID := newThread(t, fake)

	reg := tool.NewRegistry()
	echo := tooltest.Echo()
	_ = reg.Register(echo)
	cfg := testConfig()
	cfg.PushTools = true
	r := runner.New(fake, reg, cfg)

	if res := r.Run(context.Background(), runner.Request{ThreadID: threadID, Text: "x"}); res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	tools := fake.CreatedRuns()[0].Request.Tools
	if len(tools) != 1 || tools[0].Name != "echo" || !strings.Contains(string(tools[0].Parameters), `"text"`) {
		t.Errorf("pushed tools = %+v", tools)
	}
	if echo.CallCount() != 0 {
		t.Error("tool executed despite invalid arguments")
	}
	out := decodeOutput(t, fake.Submissions()[0].Outputs[0])
	if !strings.Contains(out["error"].(string), "JSON") {
		t.Errorf("output = %v", out)
	}
}
