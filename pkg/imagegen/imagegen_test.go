package imagegen

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate-dev/toolgate/internal/config"
)

func newTestImageTool(baseURL string) *ImageTool {
	return &ImageTool{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func callToolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	content, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return content.Text
}

func TestGenerateImageURLDefaults(t *testing.T) {
	tool := newTestImageTool("https://img.example.com")

	result, err := tool.handleGenerateImageURL(context.Background(), callToolRequest(map[string]interface{}{
		"prompt": "a red fox in snow",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	imageURL := textOf(t, result)
	assert.True(t, strings.HasPrefix(imageURL, "https://img.example.com/prompt/a%20red%20fox%20in%20snow?"))
	assert.Contains(t, imageURL, "width=1024")
	assert.Contains(t, imageURL, "height=1024")
	assert.Contains(t, imageURL, "model=flux")
	assert.NotContains(t, imageURL, "seed=")
}

func TestGenerateImageURLWithOverrides(t *testing.T) {
	tool := newTestImageTool("https://img.example.com")

	result, err := tool.handleGenerateImageURL(context.Background(), callToolRequest(map[string]interface{}{
		"prompt": "city skyline",
		"width":  float64(512),
		"height": float64(256),
		"model":  "turbo",
		"seed":   float64(42),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	imageURL := textOf(t, result)
	assert.Contains(t, imageURL, "width=512")
	assert.Contains(t, imageURL, "height=256")
	assert.Contains(t, imageURL, "model=turbo")
	assert.Contains(t, imageURL, "seed=42")
}

func TestGenerateImageURLMissingPrompt(t *testing.T) {
	tool := newTestImageTool("https://img.example.com")

	result, err := tool.handleGenerateImageURL(context.Background(), callToolRequest(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "prompt")
}

func TestGenerateImageFetchesBytes(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/prompt/"))
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer backend.Close()

	tool := newTestImageTool(backend.URL)
	result, err := tool.handleGenerateImage(context.Background(), callToolRequest(map[string]interface{}{
		"prompt": "a lighthouse",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var image *mcp.ImageContent
	for _, c := range result.Content {
		if img, ok := c.(mcp.ImageContent); ok {
			image = &img
			break
		}
	}
	require.NotNil(t, image, "expected image content")
	assert.Equal(t, "image/png", image.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), image.Data)
}

func TestGenerateImageBackendFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()

	tool := newTestImageTool(backend.URL)
	result, err := tool.handleGenerateImage(context.Background(), callToolRequest(map[string]interface{}{
		"prompt": "a lighthouse",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "status 500")
}

func TestListModelsCachesBackendResponse(t *testing.T) {
	var hits int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		hits++
		w.Write([]byte(`["flux","turbo"]`))
	}))
	defer backend.Close()

	tool := newTestImageTool(backend.URL)

	first, err := tool.handleListModels(context.Background(), callToolRequest(nil))
	require.NoError(t, err)
	require.False(t, first.IsError)
	assert.Equal(t, `["flux","turbo"]`, textOf(t, first))

	second, err := tool.handleListModels(context.Background(), callToolRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, `["flux","turbo"]`, textOf(t, second))

	assert.Equal(t, 1, hits, "second call should be served from cache")
}

func TestNewImageToolUsesConfiguredBaseURL(t *testing.T) {
	tool := NewImageTool(config.ImageGen{BaseURL: "https://img.example.com"})
	assert.Equal(t, "https://img.example.com", tool.baseURL)
	assert.NotNil(t, tool.httpClient)
}
