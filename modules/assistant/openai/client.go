package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/flemzord/convoq/internal/assistant"
)

// maxResponseSize caps response bodies at 10 MB.
const maxResponseSize = 10 * 1024 * 1024

// newHTTPRequest creates an authenticated request. A nil payload sends no body.
func (c *Client) newHTTPRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if c.config.Organization != "" {
		req.Header.Set("OpenAI-Organization", c.config.Organization)
	}
	if c.config.Project != "" {
		req.Header.Set("OpenAI-Project", c.config.Project)
	}
	return req, nil
}

// do sends a request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	req, err := c.newHTTPRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return mapConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("openai: read response: %w", err)
	}
	if httpErr := mapHTTPError(resp.StatusCode, body); httpErr != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode)
		return httpErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("openai: unmarshal response: %w", err)
	}
	return nil
}

// CreateThread implements assistant.Service.
func (c *Client) CreateThread(ctx context.Context) (assistant.Thread, error) {
	var t threadObject
	if err := c.do(ctx, http.MethodPost, "/threads", struct{}{}, &t); err != nil {
		return assistant.Thread{}, err
	}
	return fromThread(t), nil
}

// PostMessage implements assistant.Service.
func (c *Client) PostMessage(ctx context.Context, threadID string, role assistant.Role, content string) (assistant.Message, error) {
	var m messageObject
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, messageRequest{Role: string(role), Content: content}, &m); err != nil {
		return assistant.Message{}, err
	}
	return fromMessage(m), nil
}

// CreateRun implements assistant.Service.
func (c *Client) CreateRun(ctx context.Context, threadID string, req assistant.RunRequest) (assistant.Run, error) {
	var r runObject
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	if err := c.do(ctx, http.MethodPost, path, toRunRequest(req), &r); err != nil {
		return assistant.Run{}, err
	}
	return fromRun(r), nil
}

// GetRun implements assistant.Service.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	var r runObject
	if err := c.do(ctx, http.MethodGet, runPath(threadID, runID), nil, &r); err != nil {
		return assistant.Run{}, err
	}
	return fromRun(r), nil
}

// SubmitToolOutputs implements assistant.Service.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) (assistant.Run, error) {
	var r runObject
	path := runPath(threadID, runID) + "/submit_tool_outputs"
	if err := c.do(ctx, http.MethodPost, path, submitRequest{ToolOutputs: outputs}, &r); err != nil {
		return assistant.Run{}, err
	}
	return fromRun(r), nil
}

// CancelRun implements assistant.Canceler.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	var r runObject
	if err := c.do(ctx, http.MethodPost, runPath(threadID, runID)+"/cancel", struct{}{}, &r); err != nil {
		return assistant.Run{}, err
	}
	return fromRun(r), nil
}

// ListMessages implements assistant.Service. Only the first page is read.
func (c *Client) ListMessages(ctx context.Context, threadID string, opts assistant.ListOptions) ([]assistant.Message, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Order != "" {
		q.Set("order", opts.Order)
	}
	if opts.RunID != "" {
		q.Set("run_id", opts.RunID)
	}
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list messageList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	out := make([]assistant.Message, 0, len(list.Data))
	for _, m := range list.Data {
		out = append(out, fromMessage(m))
	}
	return out, nil
}

func runPath(threadID, runID string) string {
	return "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
}
