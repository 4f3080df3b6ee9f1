package arangodb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/flemzord/convoq/internal/tool"
)

func newTestModule(t *testing.T, cfg Config, handler http.Handler) *Module {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.Endpoint = srv.URL
	return New(cfg)
}

func input(params map[string]any) tool.Input {
	return tool.Input{Tool: ToolName, Params: params}
}

func TestExecute_SinglePage(t *testing.T) {
	t.Parallel()

	m := newTestModule(t, Config{Database: "imdb", Username: "root", Password: "pw"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/_db/imdb/_api/cursor" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "root" || p != "pw" {
			t.Errorf("basic auth = %q %q %v", u, p, ok)
		}
		var req cursorRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "FOR m IN movies FILTER m.year == @y RETURN m.title" || req.BindVars["y"] != float64(1999) {
			t.Errorf("cursor request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []any{"The Matrix", "Fight Club"}, "hasMore": false, "count": 2,
			"extra": map[string]any{"stats": map[string]any{"executionTime": 0.004}},
		})
	}))

	res, err := m.Execute(context.Background(), input(map[string]any{
		"query":     "FOR m IN movies FILTER m.year == @y RETURN m.title",
		"bind_vars": map[string]any{"y": 1999},
	}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := res.(map[string]any)
	if rows := out["results"].([]any); len(rows) != 2 || rows[0] != "The Matrix" {
		t.Errorf("results = %v", out["results"])
	}
	if out["count"] != 2 || out["execution_time"] != 0.004 {
		t.Errorf("out = %v", out)
	}
	if _, ok := out["execution_plan"]; ok {
		t.Error("unexpected execution_plan")
	}
}

func TestExecute_PaginatesAndCaps(t *testing.T) {
	t.Parallel()

	var puts, deletes atomic.Int32
	m := newTestModule(t, Config{MaxRows: 3}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{"result": []any{1, 2}, "hasMore": true, "id": "c1", "count": 10})
		case http.MethodPut:
			puts.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"result": []any{3, 4}, "hasMore": true, "id": "c1"})
		case http.MethodDelete:
			deletes.Add(1)
			w.WriteHeader(http.StatusAccepted)
		}
	}))

	res, err := m.Execute(context.Background(), input(map[string]any{"query": "FOR i IN 1..10 RETURN i"}))
	if err != nil {
		t.Fatal(err)
	}
	out := res.(map[string]any)
	if rows := out["results"].([]any); len(rows) != 3 {
		t.Errorf("rows = %v, want 3", rows)
	}
	if out["count"] != 10 || out["truncated"] != true {
		t.Errorf("out = %v", out)
	}
	if puts.Load() != 1 || deletes.Load() != 1 {
		t.Errorf("puts = %d, deletes = %d", puts.Load(), deletes.Load())
	}
}

func TestExecute_Explain(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /_db/_system/_api/cursor", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": []any{}, "hasMore": false})
	})
	mux.HandleFunc("POST /_db/_system/_api/explain", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"plan":      map[string]any{"nodes": []any{map[string]any{"type": "SingletonNode"}}, "estimatedCost": 1.5},
			"cacheable": true,
		})
	})
	m := newTestModule(t, Config{}, mux)

	res, err := m.Execute(context.Background(), input(map[string]any{"query": "RETURN 1", "explain": true}))
	if err != nil {
		t.Fatal(err)
	}
	out := res.(map[string]any)
	plan, ok := out["execution_plan"].(map[string]any)
	if !ok || plan["cacheable"] != true {
		t.Fatalf("execution_plan = %v", out["execution_plan"])
	}
	if out["count"] != 0 {
		t.Errorf("count = %v", out["count"])
	}
}

func TestExecute_QueryError(t *testing.T) {
	t.Parallel()

	m := newTestModule(t, Config{}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": true, "code": 400, "errorNum": 1501, "errorMessage": "syntax error, unexpected identifier",
		})
	}))

	_, err := m.Execute(context.Background(), input(map[string]any{"query": "FOR"}))
	if !errors.Is(err, ErrQuery) {
		t.Errorf("err = %v, want ErrQuery", err)
	}
}

func TestExecute_ThroughRegistry(t *testing.T) {
	t.Parallel()

	m := newTestModule(t, Config{}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": []any{"x"}, "hasMore": false})
	}))
	reg := tool.NewRegistry()
	if err := reg.Register(m); err != nil {
		t.Fatal(err)
	}

	out := reg.Dispatch(context.Background(), input(map[string]any{}))
	if out.Success {
		t.Error("dispatch without query should fail validation")
	}
	out = reg.Dispatch(context.Background(), input(map[string]any{"query": "RETURN 'x'"}))
	if !out.Success {
		t.Fatalf("dispatch failed: %s", out.Error)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		wantErr  bool
	}{
		{"http://localhost:8529", false},
		{"https://db.example.com", false},
		{"localhost:8529", true},
		{"ftp://db", true},
	}
	for _, tt := range tests {
		cfg := Config{Endpoint: tt.endpoint}
		cfg.defaults()
		if err := cfg.validate(); (err != nil) != tt.wantErr {
			t.Errorf("validate(%q) = %v, wantErr %v", tt.endpoint, err, tt.wantErr)
		}
	}
}
