// Package websearch implements the search_bot tool server: web search and
// page extraction backed by a Tavily-style HTTP API. The API key is taken
// from the caller's session metadata, so every tenant searches with its own
// credentials.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate-dev/toolgate/internal/config"
	"github.com/toolgate-dev/toolgate/internal/logger"
	"github.com/toolgate-dev/toolgate/internal/metrics"
	"github.com/toolgate-dev/toolgate/internal/session"
	"github.com/toolgate-dev/toolgate/internal/telemetry"
	"github.com/toolgate-dev/toolgate/pkg/common"
)

// APIKeyHeader is the request header callers use to supply their search key.
const APIKeyHeader = "x-search-api-key"

type SearchTool struct {
	baseURL     string
	fallbackKey string
	contexts    *session.Store
	httpClient  *http.Client
}

func NewSearchTool(cfg config.Search, contexts *session.Store) *SearchTool {
	return &SearchTool{
		baseURL:     cfg.BaseURL,
		fallbackKey: cfg.APIKey,
		contexts:    contexts,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// apiKey resolves the key for the current session, falling back to the
// process-wide key when the caller supplied none.
func (t *SearchTool) apiKey(ctx context.Context) string {
	if key := session.MetadataFrom(ctx, t.contexts).Get(APIKeyHeader); key != "" {
		return key
	}
	return t.fallbackKey
}

func (t *SearchTool) post(ctx context.Context, path string, payload map[string]interface{}) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to encode request: %v", err)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to build request: %v", err)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("search backend unreachable: %v", err)), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to read response: %v", err)), nil
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return common.NewTextResult(string(respBody)), nil
	case http.StatusUnauthorized:
		return common.NewErrorResult("Invalid API key"), nil
	case http.StatusTooManyRequests:
		return common.NewErrorResult("Usage limit exceeded"), nil
	default:
		logger.WithContext(ctx).Warn("search backend error",
			"path", path,
			"status", resp.StatusCode,
		)
		return common.NewErrorResult(fmt.Sprintf("search backend returned status %d", resp.StatusCode)), nil
	}
}

func (t *SearchTool) handleWebSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query, errResult := common.RequireStringArg(args, "query")
	if errResult != nil {
		return errResult, nil
	}

	key := t.apiKey(ctx)
	if key == "" {
		return common.NewErrorResult("no search API key supplied for this session"), nil
	}

	maxResults := common.GetIntArg(args, "max_results", 5)
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 20 {
		maxResults = 20
	}

	payload := map[string]interface{}{
		"api_key":             key,
		"query":               query,
		"search_depth":        common.GetStringArg(args, "search_depth", "basic"),
		"topic":               common.GetStringArg(args, "topic", "general"),
		"max_results":         maxResults,
		"include_answer":      common.GetBoolArg(args, "include_answer", false),
		"include_raw_content": common.GetBoolArg(args, "include_raw_content", false),
	}
	if days := common.GetIntArg(args, "days", 0); days > 0 {
		payload["days"] = days
	}
	if timeRange := common.GetStringArg(args, "time_range", ""); timeRange != "" {
		payload["time_range"] = timeRange
	}
	if domains := common.GetStringSliceArg(args, "include_domains"); len(domains) > 0 {
		payload["include_domains"] = domains
	}
	if domains := common.GetStringSliceArg(args, "exclude_domains"); len(domains) > 0 {
		payload["exclude_domains"] = domains
	}

	result, err := t.post(ctx, "/search", payload)
	if err != nil || result.IsError {
		return result, err
	}
	return common.NewTextResult(formatSearchResults(textContent(result))), nil
}

func (t *SearchTool) handleExtractContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	urls := common.GetStringSliceArg(args, "urls")
	if rawURL := common.GetStringArg(args, "url", ""); rawURL != "" {
		urls = append(urls, rawURL)
	}
	if len(urls) == 0 {
		return common.NewErrorResult("url parameter is required"), nil
	}

	key := t.apiKey(ctx)
	if key == "" {
		return common.NewErrorResult("no search API key supplied for this session"), nil
	}

	payload := map[string]interface{}{
		"api_key":        key,
		"urls":           urls,
		"extract_depth":  common.GetStringArg(args, "extract_depth", "basic"),
		"include_images": common.GetBoolArg(args, "include_images", false),
	}
	result, err := t.post(ctx, "/extract", payload)
	if err != nil || result.IsError {
		return result, err
	}
	return common.NewTextResult(formatExtractResults(textContent(result))), nil
}

func textContent(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// formatSearchResults renders the backend's JSON as readable text. An
// unrecognized payload is passed through untouched.
func formatSearchResults(body string) string {
	var parsed searchResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil || len(parsed.Results) == 0 && parsed.Answer == "" {
		return body
	}

	var b strings.Builder
	if parsed.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n\n", parsed.Answer)
	}
	if len(parsed.Results) > 0 {
		b.WriteString("Sources:\n")
		for i, r := range parsed.Results {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
			if r.URL != "" {
				fmt.Fprintf(&b, "   %s\n", r.URL)
			}
			if r.Content != "" {
				fmt.Fprintf(&b, "   %s\n", r.Content)
			}
			if r.RawContent != "" {
				fmt.Fprintf(&b, "   %s\n", r.RawContent)
			}
		}
	}
	return b.String()
}

type extractResponse struct {
	Results []struct {
		URL        string   `json:"url"`
		RawContent string   `json:"raw_content"`
		Images     []string `json:"images"`
	} `json:"results"`
	FailedResults []struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	} `json:"failed_results"`
}

func formatExtractResults(body string) string {
	var parsed extractResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil || len(parsed.Results) == 0 && len(parsed.FailedResults) == 0 {
		return body
	}

	var b strings.Builder
	for _, r := range parsed.Results {
		if r.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", r.URL)
		}
		b.WriteString(r.RawContent)
		b.WriteString("\n")
		for _, img := range r.Images {
			fmt.Fprintf(&b, "Image: %s\n", img)
		}
	}
	for _, f := range parsed.FailedResults {
		fmt.Fprintf(&b, "Failed: %s (%s)\n", f.URL, f.Error)
	}
	return b.String()
}

// RegisterTools registers the search tools with the MCP server
func RegisterTools(s *server.MCPServer, cfg config.Search, contexts *session.Store) {
	tool := NewSearchTool(cfg, contexts)

	s.AddTool(mcp.NewTool("web_search",
		mcp.WithDescription("Search the web and return ranked results with snippets. Uses the caller's API key supplied at session open time."),
		mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		mcp.WithString("search_depth", mcp.Description("Search depth: 'basic' or 'advanced' (default: basic)")),
		mcp.WithString("topic", mcp.Description("Search topic: 'general' or 'news' (default: general)")),
		mcp.WithNumber("days", mcp.Description("Number of days back to search (news topic only)")),
		mcp.WithString("time_range", mcp.Description("Time range filter: 'day', 'week', 'month' or 'year'")),
		mcp.WithNumber("max_results", mcp.Description("Maximum number of results to return, 1-20 (default: 5)"), mcp.DefaultNumber(5)),
		mcp.WithBoolean("include_answer", mcp.Description("Include a short synthesized answer (default: false)")),
		mcp.WithBoolean("include_raw_content", mcp.Description("Include the raw page content of each result (default: false)")),
		mcp.WithString("include_domains", mcp.Description("Comma-separated list of domains to restrict results to")),
		mcp.WithString("exclude_domains", mcp.Description("Comma-separated list of domains to exclude")),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("web_search", tool.handleWebSearch)))

	s.AddTool(mcp.NewTool("extract_content",
		mcp.WithDescription("Extract the readable content of one or more web pages."),
		mcp.WithString("url", mcp.Description("URL of the page to extract")),
		mcp.WithString("urls", mcp.Description("Comma-separated list of URLs to extract")),
		mcp.WithString("extract_depth", mcp.Description("Extraction depth: 'basic' or 'advanced' (default: basic)")),
		mcp.WithBoolean("include_images", mcp.Description("Include image URLs found on the page (default: false)")),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("extract_content", tool.handleExtractContent)))

	metrics.ToolgateRegisteredTools.WithLabelValues("web_search", "search_bot").Set(1)
	metrics.ToolgateRegisteredTools.WithLabelValues("extract_content", "search_bot").Set(1)
}
