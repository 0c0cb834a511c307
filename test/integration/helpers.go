// Package integration exercises the assembled gateway over real HTTP: an
// SSE session channel per (user, app) pair, JSON-RPC deliveries to the
// per-session message endpoint, and responses pushed back on the stream.
package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/toolgate-dev/toolgate/internal/config"
	"github.com/toolgate-dev/toolgate/internal/gateway"
	"github.com/toolgate-dev/toolgate/internal/session"
	"github.com/toolgate-dev/toolgate/pkg/database"
	"github.com/toolgate-dev/toolgate/pkg/spreadsheet"
	"github.com/toolgate-dev/toolgate/pkg/websearch"
)

// stubQuerier replays canned rows so the database app can run without
// Postgres.
type stubQuerier struct {
	rows []map[string]interface{}
}

func (q *stubQuerier) Query(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	return q.rows, nil
}

// startGateway assembles a gateway with the search, database, and sheets
// apps and serves it on a real listener. searchBackend is the base URL of a
// fake search API.
func startGateway(t *testing.T, searchBackend string, rows []map[string]interface{}, workspaceDir string) string {
	t.Helper()

	contexts := session.NewStore(time.Minute, time.Minute)
	t.Cleanup(contexts.Close)

	searchServer := server.NewMCPServer("search_bot", "test",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	websearch.RegisterTools(searchServer, config.Search{BaseURL: searchBackend}, contexts)

	dbServer := server.NewMCPServer("database_bot", "test",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	database.RegisterTools(dbServer, &stubQuerier{rows: rows})

	sheetsServer := server.NewMCPServer("sheets_bot", "test",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	spreadsheet.RegisterTools(sheetsServer, config.Spreadsheet{WorkspaceDir: workspaceDir})

	gw := gateway.New(gateway.NewAppRegistry(
		gateway.WrapServer("search_bot", searchServer),
		gateway.WrapServer("database_bot", dbServer),
		gateway.WrapServer("sheets_bot", sheetsServer),
	), contexts)

	mux := chi.NewRouter()
	mux.Use(chimiddleware.Recoverer)
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Mount("/", gw.Routes())

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL
}

// gatewaySession is one open SSE channel plus its message endpoint.
type gatewaySession struct {
	t          *testing.T
	baseURL    string
	messageURL string
	headers    http.Header
	stream     *http.Response
	events     chan string
	nextID     int
}

// openSession opens the SSE channel for (user, app) and waits for the
// endpoint event that names the per-session message URL.
func openSession(t *testing.T, baseURL, user, app string, headers http.Header) *gatewaySession {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/%s/%s/sse", baseURL, user, app), nil)
	require.NoError(t, err)
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s := &gatewaySession{
		t:       t,
		baseURL: baseURL,
		headers: headers,
		stream:  resp,
		events:  make(chan string, 8),
	}
	t.Cleanup(s.close)
	go s.pump()

	s.messageURL = baseURL + s.next()
	return s
}

func (s *gatewaySession) pump() {
	defer close(s.events)
	scanner := bufio.NewScanner(s.stream.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				s.events <- data
			}
			data = ""
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func (s *gatewaySession) next() string {
	select {
	case data, ok := <-s.events:
		if !ok {
			s.t.Fatal("stream closed before event arrived")
		}
		return data
	case <-time.After(5 * time.Second):
		s.t.Fatal("timed out waiting for stream event")
	}
	return ""
}

func (s *gatewaySession) post(message map[string]interface{}) int {
	s.t.Helper()
	body, err := json.Marshal(message)
	require.NoError(s.t, err)

	req, err := http.NewRequest(http.MethodPost, s.messageURL, bytes.NewReader(body))
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

// call delivers a request and waits for the response with the matching id.
func (s *gatewaySession) call(method string, params map[string]interface{}) map[string]interface{} {
	s.t.Helper()

	s.nextID++
	id := s.nextID
	message := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		message["params"] = params
	}
	require.Equal(s.t, http.StatusAccepted, s.post(message))

	for {
		var response map[string]interface{}
		require.NoError(s.t, json.Unmarshal([]byte(s.next()), &response))
		if got, ok := response["id"].(float64); !ok || int(got) != id {
			continue
		}
		require.NotContains(s.t, response, "error", "unexpected rpc error")
		result, _ := response["result"].(map[string]interface{})
		return result
	}
}

// handshake performs the MCP initialize exchange.
func (s *gatewaySession) handshake() map[string]interface{} {
	s.t.Helper()
	result := s.call("initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]interface{}{"name": "integration-test", "version": "test"},
		"capabilities":    map[string]interface{}{},
	})
	require.Equal(s.t, http.StatusAccepted, s.post(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	}))
	return result
}

// callTool runs tools/call and returns the first text content plus isError.
func (s *gatewaySession) callTool(name string, args map[string]interface{}) (string, bool) {
	s.t.Helper()
	result := s.call("tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})

	isError, _ := result["isError"].(bool)
	content, _ := result["content"].([]interface{})
	for _, raw := range content {
		if c, ok := raw.(map[string]interface{}); ok && c["type"] == "text" {
			text, _ := c["text"].(string)
			return text, isError
		}
	}
	return "", isError
}

// toolNames runs tools/list and returns the registered tool names.
func (s *gatewaySession) toolNames() []string {
	s.t.Helper()
	result := s.call("tools/list", nil)
	tools, _ := result["tools"].([]interface{})
	var names []string
	for _, raw := range tools {
		if tool, ok := raw.(map[string]interface{}); ok {
			if name, ok := tool["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

func (s *gatewaySession) close() {
	s.stream.Body.Close()
}
