package gateway

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolServer is the contract an app backend must satisfy to be routable. A
// message handed to HandleMessage is one JSON-RPC request; the returned
// message is pushed back to the caller over the session's event stream.
type ToolServer interface {
	Name() string
	HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage
}

type mcpApp struct {
	name   string
	server *server.MCPServer
}

func (a *mcpApp) Name() string { return a.name }

func (a *mcpApp) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return a.server.HandleMessage(ctx, message)
}

// WrapServer adapts an MCP server into a routable ToolServer under the given
// app name.
func WrapServer(name string, s *server.MCPServer) ToolServer {
	return &mcpApp{name: name, server: s}
}

// AppRegistry is the static app name to tool server binding. It is populated
// once at startup and read-only afterwards, so lookups need no locking.
type AppRegistry struct {
	apps map[string]ToolServer
}

func NewAppRegistry(servers ...ToolServer) *AppRegistry {
	apps := make(map[string]ToolServer, len(servers))
	for _, ts := range servers {
		apps[ts.Name()] = ts
	}
	return &AppRegistry{apps: apps}
}

// Resolve returns the tool server registered under name.
func (r *AppRegistry) Resolve(name string) (ToolServer, bool) {
	ts, ok := r.apps[name]
	return ts, ok
}

// Names returns the registered app names in sorted order.
func (r *AppRegistry) Names() []string {
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
