package arangodb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// maxResponseSize caps one response body at 64 MB.
const maxResponseSize = 64 << 20

// ErrQuery wraps errors reported by the database for a query.
var ErrQuery = errors.New("arangodb query error")

// apiError is the error envelope of the HTTP API.
type apiError struct {
	Error        bool   `json:"error"`
	Code         int    `json:"code"`
	ErrorNum     int    `json:"errorNum"`
	ErrorMessage string `json:"errorMessage"`
}

type cursorRequest struct {
	Query     string         `json:"query"`
	BindVars  map[string]any `json:"bindVars,omitempty"`
	BatchSize int            `json:"batchSize,omitempty"`
	Count     bool           `json:"count"`
}

type cursorResponse struct {
	Result  []any  `json:"result"`
	HasMore bool   `json:"hasMore"`
	ID      string `json:"id"`
	Count   *int   `json:"count"`
	Extra   struct {
		Stats map[string]any `json:"stats"`
	} `json:"extra"`
}

type explainRequest struct {
	Query    string         `json:"query"`
	BindVars map[string]any `json:"bindVars,omitempty"`
}

type explainResponse struct {
	Plan      map[string]any `json:"plan"`
	Warnings  []any          `json:"warnings"`
	Cacheable bool           `json:"cacheable"`
}

// client speaks the ArangoDB HTTP API for one database.
type client struct {
	base     string
	username string
	password string
	http     *http.Client
}

func newClient(cfg Config) *client {
	return &client{
		base:     cfg.Endpoint + "/_db/" + url.PathEscape(cfg.Database),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("arangodb: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("arangodb: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("arangodb: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("arangodb: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return fmt.Errorf("%w %d: %s", ErrQuery, apiErr.ErrorNum, apiErr.ErrorMessage)
		}
		return fmt.Errorf("arangodb: HTTP %d: %s", resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("arangodb: unmarshal response: %w", err)
	}
	return nil
}

// cursor executes query and drains its cursor up to maxRows rows. The
// returned count is the server-side total when known.
func (c *client) cursor(ctx context.Context, query string, bindVars map[string]any, batchSize, maxRows int) (rows []any, count int, stats map[string]any, err error) {
	var page cursorResponse
	req := cursorRequest{Query: query, BindVars: bindVars, BatchSize: batchSize, Count: true}
	if err := c.do(ctx, http.MethodPost, "/_api/cursor", req, &page); err != nil {
		return nil, 0, nil, err
	}
	stats, total := page.Extra.Stats, page.Count
	rows = append(rows, page.Result...)
	for page.HasMore && len(rows) < maxRows {
		id := page.ID
		page = cursorResponse{}
		if err := c.do(ctx, http.MethodPut, "/_api/cursor/"+url.PathEscape(id), nil, &page); err != nil {
			return nil, 0, nil, err
		}
		rows = append(rows, page.Result...)
	}
	if page.HasMore && page.ID != "" {
		_ = c.do(context.WithoutCancel(ctx), http.MethodDelete, "/_api/cursor/"+url.PathEscape(page.ID), nil, nil)
	}

	count = len(rows)
	if total != nil {
		count = *total
	}
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	return rows, count, stats, nil
}

func (c *client) explain(ctx context.Context, query string, bindVars map[string]any) (explainResponse, error) {
	var out explainResponse
	err := c.do(ctx, http.MethodPost, "/_api/explain", explainRequest{Query: query, BindVars: bindVars}, &out)
	return out, err
}

func (c *client) version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/_api/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}
