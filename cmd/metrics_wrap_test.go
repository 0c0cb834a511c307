package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/toolgate-dev/toolgate/internal/metrics"
)

// newTestServer creates a fresh MCP server and resets the invocation counter
// so tests do not interfere with each other.
func newTestServer() *server.MCPServer {
	metrics.ToolgateToolInvocations.Reset()
	return server.NewMCPServer("test-server", "test")
}

// invokeWrapped registers handler on s, wraps all handlers with metrics, then
// calls the wrapped handler for toolName and returns its result.
func invokeWrapped(t *testing.T, s *server.MCPServer, toolName string, appName string, handler server.ToolHandlerFunc) (*mcp.CallToolResult, error) {
	t.Helper()
	s.AddTool(mcp.Tool{Name: toolName}, handler)
	wrapToolHandlersWithMetrics(s, appName)
	st, ok := s.ListTools()[toolName]
	if !ok {
		t.Fatalf("tool %q not found after wrapping", toolName)
	}
	return st.Handler(context.Background(), mcp.CallToolRequest{})
}

// Handlers report backend failures via NewToolResultError(...), nil, so the
// Go error alone is not enough to classify an invocation: a result with
// IsError set must count as "error" too.
func TestWrapToolHandlersWithMetricsIsErrorCountsAsError(t *testing.T) {
	s := newTestServer()

	result, err := invokeWrapped(t, s, "failing_tool", "search_bot",
		func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("search backend returned status 502"), nil
		},
	)

	if err != nil {
		t.Fatalf("expected nil Go error from handler, got: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected result.IsError=true")
	}

	errored := promtest.ToFloat64(metrics.ToolgateToolInvocations.WithLabelValues("search_bot", "failing_tool", "error"))
	if errored != 1 {
		t.Errorf("invocations error: expected 1, got %v (IsError=true was not counted)", errored)
	}
}

func TestWrapToolHandlersWithMetricsSuccessCountsAsOK(t *testing.T) {
	s := newTestServer()

	_, err := invokeWrapped(t, s, "success_tool", "search_bot",
		func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("all good"), nil
		},
	)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok := promtest.ToFloat64(metrics.ToolgateToolInvocations.WithLabelValues("search_bot", "success_tool", "ok"))
	if ok != 1 {
		t.Errorf("invocations ok: expected 1, got %v", ok)
	}
	errored := promtest.ToFloat64(metrics.ToolgateToolInvocations.WithLabelValues("search_bot", "success_tool", "error"))
	if errored != 0 {
		t.Errorf("invocations error: expected 0 for a successful call, got %v", errored)
	}
}

func TestWrapToolHandlersWithMetricsGoErrorCountsAsError(t *testing.T) {
	s := newTestServer()

	_, err := invokeWrapped(t, s, "broken_tool", "database_bot",
		func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, fmt.Errorf("connection refused")
		},
	)

	if err == nil {
		t.Fatal("expected a Go error, got nil")
	}

	errored := promtest.ToFloat64(metrics.ToolgateToolInvocations.WithLabelValues("database_bot", "broken_tool", "error"))
	if errored != 1 {
		t.Errorf("invocations error: expected 1 for Go error, got %v", errored)
	}
}
