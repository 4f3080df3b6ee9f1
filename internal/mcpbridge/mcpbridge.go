// Package mcpbridge serves a tool registry over the Model Context Protocol,
// so MCP clients can call the same tools the assistant uses.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/convoq/internal/tool"
)

// New returns an MCP server exposing every tool registered in reg.
func New(reg *tool.Registry, version string) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		"convoq",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, def := range reg.Definitions() {
		schema, err := tool.RawSchema(def)
		if err != nil {
			return nil, fmt.Errorf("mcpbridge: schema for %s: %w", def.Name, err)
		}
		s.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, schema), Handler(reg, def.Name))
	}
	return s, nil
}

// Handler dispatches MCP calls for name through reg. Tool failures are
// reported as error results, never as protocol errors.
func Handler(reg *tool.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out := reg.Dispatch(ctx, tool.Input{
			Tool:         name,
			Params:       req.GetArguments(),
			InvocationID: "mcp-" + uuid.NewString(),
		})
		if !out.Success {
			return mcp.NewToolResultError(out.Error), nil
		}
		body, err := json.Marshal(out.Result)
		if err != nil {
			return mcp.NewToolResultError("encoding result: " + err.Error()), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

// ServeStdio serves s on standard input and output until ctx is done or
// the client disconnects.
func ServeStdio(ctx context.Context, s *server.MCPServer) error {
	return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
}
