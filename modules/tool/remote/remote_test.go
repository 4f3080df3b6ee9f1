package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/internal/tool"
)

func TestTool_Execute(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" || r.Header.Get("X-Team") != "data" {
			t.Errorf("headers = %v", r.Header)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		if req.Tool != "parse_question" || req.Params["question"] != "who directed Alien?" || req.ConversationID != "conv_1" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"intent": "lookup", "entities": []string{"Alien"}})
	}))
	t.Cleanup(srv.Close)

	tl := NewTool(ToolConfig{
		Name:        "parse_question",
		Endpoint:    srv.URL,
		Headers:     map[string]string{"X-Team": "data"},
		BearerToken: "tok",
	})
	res, err := tl.Execute(context.Background(), tool.Input{
		Tool:           "parse_question",
		Params:         map[string]any{"question": "who directed Alien?"},
		ConversationID: "conv_1",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := res.(map[string]any)
	if out["intent"] != "lookup" {
		t.Errorf("out = %v", out)
	}
}

func TestTool_ExecuteError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "translator overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := NewTool(ToolConfig{Name: "translate_query", Endpoint: srv.URL}).Execute(context.Background(), tool.Input{})
	if !errors.Is(err, ErrRemote) {
		t.Errorf("err = %v, want ErrRemote", err)
	}
}

const moduleYAML = `
tools:
  - name: parse_question
    description: Parse a natural-language question
    endpoint: http://localhost:9001/parse
    params:
      - name: question
        type: string
        required: true
  - name: translate_query
    endpoint: http://localhost:9002/translate
    params:
      - name: parsed
        type: object
        required: true
`

func TestModule_RegistersTools(t *testing.T) {
	t.Parallel()

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(moduleYAML), &node); err != nil {
		t.Fatal(err)
	}
	m := &Module{}
	if err := m.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	reg := tool.NewRegistry()
	appCtx := core.NewAppContext(slog.Default(), t.TempDir())
	appCtx.RegisterService("tool.registry", reg)
	if err := m.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := reg.Names(); len(got) != 2 {
		t.Fatalf("registered = %v", got)
	}
	def, err := reg.Get("parse_question")
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := def.Definition().Param("question"); !ok || !p.Required || p.Type != tool.TypeString {
		t.Errorf("param = %+v", p)
	}
}

func TestModule_Validate(t *testing.T) {
	t.Parallel()

	m := &Module{config: Config{Tools: []ToolConfig{
		{Name: "a", Endpoint: "http://x"},
		{Name: "a", Endpoint: "http://y"},
		{Endpoint: "not a url"},
	}}}
	if err := m.Validate(); err == nil {
		t.Fatal("expected validation errors")
	}
}
