// Package mcpserver exposes the reconciliation engine to AI-agent callers
// over the Model Context Protocol (SPEC_FULL.md §C.5 "admin/MCP
// observability surface"), the way the teacher's internal/mcp package
// exposes its connector registry as tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	servicenow "github.com/anguspalmer/servicenow"
	"github.com/anguspalmer/servicenow/internal/descriptoryaml"
)

// MCPServer wraps the mcp-go server with servicenow's tool registrations.
type MCPServer struct {
	client *servicenow.Client
	server *server.MCPServer
}

// New creates an MCPServer pre-loaded with the sync_table tool, ready to
// serve over stdio or HTTP.
func New(client *servicenow.Client) *MCPServer {
	s := &MCPServer{client: client}

	mcpServer := server.NewMCPServer(
		"servicenow reconciler",
		"0.1.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.server = mcpServer
	return s
}

func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("sync_table",
			mcp.WithDescription(
				"Diff a table descriptor against the instance and, optionally, apply the "+
					"resulting plan. Returns the pending actions (create/update/delete/error) "+
					"whether or not commit was requested.",
			),
			mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(false)}),
			mcp.WithString("table_yaml",
				mcp.Required(),
				mcp.Description("The desired table descriptor as YAML (name, label, parent, is_extendable, columns)"),
			),
			mcp.WithBoolean("commit",
				mcp.Description("Apply the plan instead of only reporting it (default false)"),
			),
		),
		s.handleSyncTable,
	)
}

func (s *MCPServer) handleSyncTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("table_yaml")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter \"table_yaml\""), nil
	}
	commit := request.GetBool("commit", false)

	desired, err := descriptoryaml.Decode([]byte(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p, err := s.client.SyncTable(ctx, desired, commit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type actionView struct {
		Kind   string `json:"kind"`
		Target string `json:"target"`
		Reason string `json:"reason,omitempty"`
	}
	views := make([]actionView, len(p.Actions))
	for i, a := range p.Actions {
		views[i] = actionView{Kind: a.Kind.String(), Target: a.Target, Reason: a.Reason}
	}

	body, err := json.MarshalIndent(map[string]interface{}{"committed": commit, "actions": views}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

// ServeStdio starts the MCP server in stdio mode, the primary integration
// path for an agent launching this process as a subprocess.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server)
}

// HTTPHandler returns an http.Handler implementing the Streamable HTTP MCP
// transport, for mounting alongside the admin REST surface on one port.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHeartbeatInterval(30*time.Second),
	)
}

func boolPtr(b bool) *bool { return &b }
