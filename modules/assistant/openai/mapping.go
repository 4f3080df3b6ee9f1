package openai

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/flemzord/convoq/internal/assistant"
)

// apiError is the error envelope returned by the API.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

type threadObject struct {
	ID        string            `json:"id"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text *struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

type messageObject struct {
	ID        string        `json:"id"`
	ThreadID  string        `json:"thread_id"`
	Role      string        `json:"role"`
	Content   []contentPart `json:"content"`
	RunID     string        `json:"run_id"`
	CreatedAt int64         `json:"created_at"`
}

type messageList struct {
	Data    []messageObject `json:"data"`
	HasMore bool            `json:"has_more"`
}

type functionTool struct {
	Type     string          `json:"type"`
	Function functionPayload `json:"function"`
}

type functionPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type runRequest struct {
	AssistantID  string         `json:"assistant_id"`
	Model        string         `json:"model,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Tools        []functionTool `json:"tools,omitempty"`
}

type toolCallObject struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type runObject struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id"`
	AssistantID    string `json:"assistant_id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		Type              string `json:"type"`
		SubmitToolOutputs struct {
			ToolCalls []toolCallObject `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	CreatedAt int64 `json:"created_at"`
}

type submitRequest struct {
	ToolOutputs []assistant.ToolOutput `json:"tool_outputs"`
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func fromThread(t threadObject) assistant.Thread {
	return assistant.Thread{ID: t.ID, CreatedAt: unixTime(t.CreatedAt), Metadata: t.Metadata}
}

// fromMessage concatenates the text parts of a message. Non-text parts
// (images, files) are dropped.
func fromMessage(m messageObject) assistant.Message {
	var b strings.Builder
	for _, part := range m.Content {
		if part.Type != "text" || part.Text == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(part.Text.Value)
	}
	return assistant.Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      assistant.Role(m.Role),
		Content:   b.String(),
		RunID:     m.RunID,
		CreatedAt: unixTime(m.CreatedAt),
	}
}

func fromRun(r runObject) assistant.Run {
	run := assistant.Run{
		ID:          r.ID,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		Status:      assistant.RunStatus(r.Status),
		CreatedAt:   unixTime(r.CreatedAt),
	}
	if r.RequiredAction != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			if tc.Type != "" && tc.Type != "function" {
				continue
			}
			run.RequiredAction = append(run.RequiredAction, assistant.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	if r.LastError != nil {
		run.LastError = &assistant.LastError{Code: r.LastError.Code, Message: r.LastError.Message}
	}
	if r.IncompleteDetails != nil {
		run.Incomplete = r.IncompleteDetails.Reason
	}
	return run
}

func toRunRequest(req assistant.RunRequest) runRequest {
	out := runRequest{
		AssistantID:  req.AssistantID,
		Model:        req.Model,
		Instructions: req.Instructions,
	}
	for _, fn := range req.Tools {
		out.Tools = append(out.Tools, functionTool{
			Type: "function",
			Function: functionPayload{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}
	return out
}
