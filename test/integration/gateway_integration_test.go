package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// fakeSearchBackend records the api_key of every search request so tests can
// verify which credentials each session used.
type fakeSearchBackend struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeSearchBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		key, _ := payload["api_key"].(string)
		f.mu.Lock()
		f.keys = append(f.keys, key)
		f.mu.Unlock()
		fmt.Fprintf(w, `{"results":[{"title":"result for %s"}]}`, key)
	})
}

func (f *fakeSearchBackend) seenKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func newTestEnv(t *testing.T) (string, *fakeSearchBackend) {
	t.Helper()

	backend := &fakeSearchBackend{}
	backendServer := httptest.NewServer(backend.handler())
	t.Cleanup(backendServer.Close)

	workspace := t.TempDir()
	workbook := excelize.NewFile()
	require.NoError(t, workbook.SetSheetRow("Sheet1", "A1", &[]interface{}{"name", "city"}))
	require.NoError(t, workbook.SaveAs(filepath.Join(workspace, "report.xlsx")))

	rows := []map[string]interface{}{
		{"id": int64(1), "name": "ada"},
		{"id": int64(2), "name": "grace"},
	}

	baseURL := startGateway(t, backendServer.URL, rows, workspace)
	return baseURL, backend
}

func TestInitializeReportsAppIdentity(t *testing.T) {
	baseURL, _ := newTestEnv(t)

	sess := openSession(t, baseURL, "alice", "search_bot", nil)
	result := sess.handshake()

	serverInfo, ok := result["serverInfo"].(map[string]interface{})
	require.True(t, ok, "initialize result missing serverInfo")
	assert.Equal(t, "search_bot", serverInfo["name"])
}

func TestEachAppExposesItsOwnTools(t *testing.T) {
	baseURL, _ := newTestEnv(t)

	search := openSession(t, baseURL, "alice", "search_bot", nil)
	search.handshake()
	assert.ElementsMatch(t, []string{"web_search", "extract_content"}, search.toolNames())

	db := openSession(t, baseURL, "alice", "database_bot", nil)
	db.handshake()
	assert.ElementsMatch(t, []string{"list_tables", "execute_query", "query_table", "get_table_info"}, db.toolNames())

	sheets := openSession(t, baseURL, "alice", "sheets_bot", nil)
	sheets.handshake()
	assert.ElementsMatch(t, []string{"get_sheet_names", "preview_sheet"}, sheets.toolNames())
}

func TestSearchUsesEachSessionsOwnKey(t *testing.T) {
	baseURL, backend := newTestEnv(t)

	alice := openSession(t, baseURL, "alice", "search_bot", http.Header{"X-Search-Api-Key": []string{"key-alice"}})
	alice.handshake()
	bob := openSession(t, baseURL, "bob", "search_bot", http.Header{"X-Search-Api-Key": []string{"key-bob"}})
	bob.handshake()

	text, isError := alice.callTool("web_search", map[string]interface{}{"query": "golang"})
	require.False(t, isError, "unexpected tool error: %s", text)
	assert.Contains(t, text, "result for key-alice")

	text, isError = bob.callTool("web_search", map[string]interface{}{"query": "golang"})
	require.False(t, isError, "unexpected tool error: %s", text)
	assert.Contains(t, text, "result for key-bob")

	assert.ElementsMatch(t, []string{"key-alice", "key-bob"}, backend.seenKeys())
}

func TestSearchWithoutKeyFailsWithoutReachingBackend(t *testing.T) {
	baseURL, backend := newTestEnv(t)

	sess := openSession(t, baseURL, "alice", "search_bot", nil)
	sess.handshake()

	text, isError := sess.callTool("web_search", map[string]interface{}{"query": "golang"})
	assert.True(t, isError)
	assert.Contains(t, text, "no search API key")
	assert.Empty(t, backend.seenKeys())
}

func TestDatabaseRowsFlowThroughGateway(t *testing.T) {
	baseURL, _ := newTestEnv(t)

	sess := openSession(t, baseURL, "alice", "database_bot", nil)
	sess.handshake()

	text, isError := sess.callTool("query_table", map[string]interface{}{"table": "users"})
	require.False(t, isError, "unexpected tool error: %s", text)
	assert.Contains(t, text, "ada")
	assert.Contains(t, text, "grace")
}

func TestSheetNamesFlowThroughGateway(t *testing.T) {
	baseURL, _ := newTestEnv(t)

	sess := openSession(t, baseURL, "alice", "sheets_bot", nil)
	sess.handshake()

	text, isError := sess.callTool("get_sheet_names", map[string]interface{}{"file": "report.xlsx"})
	require.False(t, isError, "unexpected tool error: %s", text)
	assert.Contains(t, text, "Sheet1")
}

func TestSessionEndpointIsScopedToItsOwner(t *testing.T) {
	baseURL, _ := newTestEnv(t)

	alice := openSession(t, baseURL, "alice", "search_bot", nil)

	// A delivery to another user's path must not reach alice's session even
	// with her session id attached.
	stolen := alice.messageURL
	hijacked := gatewaySession{
		t:          t,
		baseURL:    baseURL,
		messageURL: replaceUser(stolen, "alice", "bob"),
	}
	status := hijacked.post(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "ping",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUnknownAppIsRejected(t *testing.T) {
	baseURL, _ := newTestEnv(t)

	resp, err := http.Get(baseURL + "/alice/no_such_app/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	baseURL, _ := newTestEnv(t)

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func replaceUser(url, from, to string) string {
	return strings.Replace(url, "/"+from+"/", "/"+to+"/", 1)
}
