package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/flemzord/convoq/internal/assistant"
	"github.com/flemzord/convoq/internal/budget"
	"github.com/flemzord/convoq/internal/tool"
)

// answer dispatches every pending call of run and submits all outputs in a
// single call. It returns the run as reported after submission.
func (r *Runner) answer(ctx context.Context, req Request, run assistant.Run) (assistant.Run, int, error) {
	calls := run.RequiredAction
	outputs := make([]assistant.ToolOutput, len(calls))

	if r.cfg.ParallelTools && len(calls) > 1 {
		var g errgroup.Group
		g.SetLimit(r.cfg.MaxParallel)
		for i, call := range calls {
			g.Go(func() error {
				outputs[i] = r.callTool(ctx, req, call)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, call := range calls {
			outputs[i] = r.callTool(ctx, req, call)
		}
	}

	updated, err := r.svc.SubmitToolOutputs(ctx, req.ThreadID, run.ID, outputs)
	if err != nil {
		return assistant.Run{}, len(calls), err
	}
	return updated, len(calls), nil
}

// callTool runs one tool call and renders the budgeted output sent back to
// the model.
func (r *Runner) callTool(ctx context.Context, req Request, call assistant.ToolCall) assistant.ToolOutput {
	in := tool.Input{
		Tool:           call.Name,
		ConversationID: req.ConversationID,
		InvocationID:   call.ID,
		Timestamp:      r.now(),
	}

	var out tool.Output
	params, err := decodeArguments(call.Arguments)
	switch {
	case err != nil:
		out = tool.Output{
			Tool:         call.Name,
			Error:        fmt.Sprintf("%v: %v", tool.ErrValidation, err),
			InvocationID: call.ID,
		}
	case call.Name == r.cfg.QueryTool:
		in.Params = params
		out = r.query(ctx, in)
	default:
		in.Params = params
		out = r.registry.Dispatch(ctx, in)
	}

	if !out.Success {
		r.logger.Warn("tool call failed",
			"tool", call.Name,
			"invocation_id", call.ID,
			"error", out.Error,
			"trace", out.Trace,
		)
	}

	return assistant.ToolOutput{
		ToolCallID: call.ID,
		Output:     r.render(out, r.kindFor(call.Name)),
	}
}

func decodeArguments(raw string) (map[string]any, error) {
	params := make(map[string]any)
	if strings.TrimSpace(raw) == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	return params, nil
}

// query runs the query executor tool, consulting the cache first unless
// the call asks for an explain plan or to bypass the cache.
func (r *Runner) query(ctx context.Context, in tool.Input) tool.Output {
	useCache := r.cache != nil && !in.Bool("explain") && !in.Bool("bypass_cache")
	if useCache {
		// Invalid input must fail validation, not hit the cache.
		if _, err := r.registry.Validate(in); err != nil {
			useCache = false
		}
	}

	query, bindVars := in.String("query"), in.Object("bind_vars")
	if useCache {
		if entry, ok := r.cache.Get(query, bindVars); ok {
			out := tool.Output{
				Tool:         in.Tool,
				Success:      true,
				Result:       fromCache(entry.Result),
				InvocationID: in.InvocationID,
			}
			r.logger.Debug("query served from cache", "invocation_id", in.InvocationID, "fingerprint", entry.Fingerprint)
			r.record(ctx, in, out, true)
			return out
		}
	}

	out := r.registry.Dispatch(ctx, in)
	if out.Success && useCache {
		r.cache.Put(query, bindVars, out.Result, out.Elapsed)
	}
	r.record(ctx, in, out, false)
	return out
}

// fromCache tags a cached result so the model knows it was not executed.
func fromCache(result any) any {
	m, ok := result.(map[string]any)
	if !ok {
		return map[string]any{
			"results":        result,
			"from_cache":     true,
			"execution_time": 0,
		}
	}
	tagged := maps.Clone(m)
	tagged["from_cache"] = true
	tagged["execution_time"] = 0
	return tagged
}

func (r *Runner) kindFor(name string) budget.Kind {
	switch {
	case name == r.cfg.QueryTool:
		return budget.KindQueryResult
	case slices.Contains(r.cfg.ParserTools, name):
		return budget.KindNLParserResult
	default:
		return budget.KindGeneric
	}
}

// render compresses a tool output and encodes it for the service.
// Successful outputs carry the result itself; failures carry the error.
func (r *Runner) render(out tool.Output, kind budget.Kind) string {
	var payload any
	if out.Success {
		payload = r.compressor.Compress(out.Result, kind)
	} else {
		payload = r.compressor.Compress(map[string]any{
			"success": false,
			"tool":    out.Tool,
			"error":   out.Error,
		}, budget.KindGeneric)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]any{
			"success": false,
			"tool":    out.Tool,
			"error":   "result is not JSON-serialisable: " + err.Error(),
		})
	}
	return string(data)
}
