package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func callToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestWithTracingSuccess(t *testing.T) {
	exporter := setupTestTracing(t)

	handler := WithTracing("echo", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("hello"), nil
	})

	result, err := handler(context.Background(), callToolRequest("echo", map[string]any{"msg": "hello"}))
	require.NoError(t, err)
	require.NotNil(t, result)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "mcp.tool.echo", spans[0].Name)

	var foundName bool
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "mcp.tool.name" {
			assert.Equal(t, "echo", attr.Value.AsString())
			foundName = true
		}
	}
	assert.True(t, foundName, "span should carry the tool name")
}

func TestWithTracingError(t *testing.T) {
	exporter := setupTestTracing(t)

	handlerErr := errors.New("backend unavailable")
	handler := WithTracing("flaky", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, handlerErr
	})

	_, err := handler(context.Background(), callToolRequest("flaky", nil))
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	var hasErrorEvent bool
	for _, event := range spans[0].Events {
		if event.Name == "tool.execution.error" {
			hasErrorEvent = true
		}
	}
	assert.True(t, hasErrorEvent, "span should record the execution error")
}

func TestHTTPMiddleware(t *testing.T) {
	exporter := setupTestTracing(t)

	var handlerCtx context.Context
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCtx = r.Context()
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/alice/search_bot/message", nil)
	HTTPMiddleware(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, handlerCtx)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "gateway.POST", spans[0].Name)
}

func TestAdaptToolHandler(t *testing.T) {
	adapted := AdaptToolHandler(func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	})

	result, err := adapted(context.Background(), callToolRequest("any", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}
