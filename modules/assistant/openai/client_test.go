package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/convoq/internal/assistant"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{APIKey: "sk-test", BaseURL: srv.URL, Organization: "org-1"}, slog.Default())
	c.client = srv.Client()
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestClient_Headers(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "assistants=v2" {
			t.Errorf("OpenAI-Beta = %q", got)
		}
		if got := r.Header.Get("OpenAI-Organization"); got != "org-1" {
			t.Errorf("OpenAI-Organization = %q", got)
		}
		if r.Method != http.MethodPost || r.URL.Path != "/threads" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		writeJSON(t, w, map[string]any{"id": "thread_1", "object": "thread", "created_at": 1700000000})
	}))

	th, err := c.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if th.ID != "thread_1" || th.CreatedAt.Unix() != 1700000000 {
		t.Errorf("thread = %+v", th)
	}
}

func TestClient_PostMessageAndList(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad body: %v", err)
			return
		}
		if req.Role != "user" || req.Content != "hello" {
			t.Errorf("request = %+v", req)
		}
		writeJSON(t, w, map[string]any{
			"id": "msg_1", "thread_id": "thread_1", "role": "user", "created_at": 1,
			"content": []map[string]any{{"type": "text", "text": map[string]any{"value": "hello"}}},
		})
	})
	mux.HandleFunc("GET /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "1" || q.Get("order") != "desc" || q.Get("run_id") != "run_1" {
			t.Errorf("query = %v", q)
		}
		writeJSON(t, w, map[string]any{"data": []map[string]any{{
			"id": "msg_2", "thread_id": "thread_1", "role": "assistant", "run_id": "run_1", "created_at": 2,
			"content": []map[string]any{
				{"type": "text", "text": map[string]any{"value": "part one"}},
				{"type": "image_file"},
				{"type": "text", "text": map[string]any{"value": "part two"}},
			},
		}}})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	m, err := c.PostMessage(ctx, "thread_1", assistant.RoleUser, "hello")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if m.ID != "msg_1" || m.Content != "hello" || m.Role != assistant.RoleUser {
		t.Errorf("message = %+v", m)
	}

	msgs, err := c.ListMessages(ctx, "thread_1", assistant.ListOptions{Limit: 1, Order: "desc", RunID: "run_1"})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "part one\npart two" || msgs[0].RunID != "run_1" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestClient_RunLifecycle(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		if req.AssistantID != "asst_1" || len(req.Tools) != 1 || req.Tools[0].Type != "function" || req.Tools[0].Function.Name != "execute_query" {
			t.Errorf("run request = %+v", req)
		}
		writeJSON(t, w, map[string]any{"id": "run_1", "thread_id": "thread_1", "status": "queued"})
	})
	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"id": "run_1", "thread_id": "thread_1", "status": "requires_action",
			"required_action": map[string]any{
				"type": "submit_tool_outputs",
				"submit_tool_outputs": map[string]any{"tool_calls": []map[string]any{{
					"id": "call_1", "type": "function",
					"function": map[string]any{"name": "execute_query", "arguments": `{"query":"FOR m IN movies RETURN m"}`},
				}}},
			},
		})
	})
	mux.HandleFunc("POST /threads/thread_1/runs/run_1/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		if len(req.ToolOutputs) != 1 || req.ToolOutputs[0].ToolCallID != "call_1" {
			t.Errorf("submit = %+v", req)
		}
		writeJSON(t, w, map[string]any{"id": "run_1", "thread_id": "thread_1", "status": "in_progress"})
	})
	mux.HandleFunc("POST /threads/thread_1/runs/run_1/cancel", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"id": "run_1", "thread_id": "thread_1", "status": "cancelling"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	run, err := c.CreateRun(ctx, "thread_1", assistant.RunRequest{
		AssistantID: "asst_1",
		Tools:       []assistant.FunctionDef{{Name: "execute_query", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	if err != nil || run.Status != assistant.StatusQueued {
		t.Fatalf("CreateRun = %+v, %v", run, err)
	}

	run, err = c.GetRun(ctx, "thread_1", "run_1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != assistant.StatusRequiresAction || len(run.RequiredAction) != 1 {
		t.Fatalf("run = %+v", run)
	}
	if call := run.RequiredAction[0]; call.ID != "call_1" || call.Name != "execute_query" {
		t.Errorf("tool call = %+v", call)
	}

	run, err = c.SubmitToolOutputs(ctx, "thread_1", "run_1", []assistant.ToolOutput{{ToolCallID: "call_1", Output: "{}"}})
	if err != nil || run.Status != assistant.StatusInProgress {
		t.Errorf("SubmitToolOutputs = %+v, %v", run, err)
	}

	run, err = c.CancelRun(ctx, "thread_1", "run_1")
	if err != nil || run.Status != assistant.StatusCancelling {
		t.Errorf("CancelRun = %+v, %v", run, err)
	}
}

func TestClient_FailedRun(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"id": "run_1", "status": "failed",
			"last_error": map[string]any{"code": "context_length_exceeded", "message": "too long"},
		})
	}))
	run, err := c.GetRun(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if run.LastError == nil || run.LastError.Code != "context_length_exceeded" {
		t.Errorf("run = %+v", run)
	}
}

func TestMapHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"ok", 200, `{}`, nil},
		{"rate limit", 429, `{"error":{"message":"slow down"}}`, assistant.ErrRateLimit},
		{"server error", 503, `oops`, assistant.ErrProviderDown},
		{"not found", 404, `{"error":{"message":"No thread found"}}`, assistant.ErrNotFound},
		{"context length by code", 400, `{"error":{"message":"too long","code":"context_length_exceeded"}}`, assistant.ErrContextLength},
		{"context length by message", 400, `{"error":{"message":"This model's maximum context length is 8192 tokens"}}`, assistant.ErrContextLength},
		{"auth", 401, `{"error":{"message":"bad key"}}`, errAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := mapHTTPError(tt.status, []byte(tt.body))
			if tt.want == nil {
				if err != nil {
					t.Errorf("err = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if err := mapHTTPError(400, []byte(`{"error":{"message":"bad param"}}`)); err == nil || errors.Is(err, assistant.ErrContextLength) {
		t.Errorf("plain 400 = %v", err)
	}
}

func TestClient_HTTPErrorsSurface(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	_, err := c.CreateThread(context.Background())
	if !errors.Is(err, assistant.ErrRateLimit) || !assistant.IsRetryable(err) {
		t.Errorf("err = %v", err)
	}
}

func TestClient_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{APIKey: "sk", Timeout: "10s"}, false},
		{"missing key", Config{Timeout: "10s"}, true},
		{"bad timeout", Config{APIKey: "sk", Timeout: "soon"}, true},
		{"negative timeout", Config{APIKey: "sk", Timeout: "-1s"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &Client{config: tt.cfg}
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
