// Package imagegen implements the image_bot tool server: prompt-to-image
// generation against a Pollinations-style HTTP backend.
package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate-dev/toolgate/internal/cache"
	"github.com/toolgate-dev/toolgate/internal/config"
	"github.com/toolgate-dev/toolgate/internal/metrics"
	"github.com/toolgate-dev/toolgate/internal/telemetry"
	"github.com/toolgate-dev/toolgate/pkg/common"
)

// maxImageBytes bounds a fetched image payload.
const maxImageBytes = 16 << 20

type ImageTool struct {
	baseURL    string
	httpClient *http.Client
}

func NewImageTool(cfg config.ImageGen) *ImageTool {
	return &ImageTool{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *ImageTool) imageURL(args map[string]interface{}) (string, *mcp.CallToolResult) {
	prompt, errResult := common.RequireStringArg(args, "prompt")
	if errResult != nil {
		return "", errResult
	}

	width := common.GetIntArg(args, "width", 1024)
	height := common.GetIntArg(args, "height", 1024)
	model := common.GetStringArg(args, "model", "flux")

	query := url.Values{}
	query.Set("width", fmt.Sprintf("%d", width))
	query.Set("height", fmt.Sprintf("%d", height))
	query.Set("model", model)
	if seed := common.GetIntArg(args, "seed", 0); seed != 0 {
		query.Set("seed", fmt.Sprintf("%d", seed))
	}

	return fmt.Sprintf("%s/prompt/%s?%s", t.baseURL, url.PathEscape(prompt), query.Encode()), nil
}

func (t *ImageTool) handleGenerateImageURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imageURL, errResult := t.imageURL(request.GetArguments())
	if errResult != nil {
		return errResult, nil
	}
	return common.NewTextResult(imageURL), nil
}

func (t *ImageTool) handleGenerateImage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imageURL, errResult := t.imageURL(request.GetArguments())
	if errResult != nil {
		return errResult, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to build request: %v", err)), nil
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("image backend unreachable: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return common.NewErrorResult(fmt.Sprintf("image backend returned status %d", resp.StatusCode)), nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to read image: %v", err)), nil
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mcp.NewToolResultImage("generated image", base64.StdEncoding.EncodeToString(data), mimeType), nil
}

func (t *ImageTool) handleListModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Model listings change rarely, so serve them from cache.
	body, err := cache.CacheResult(cache.GetModelCache(), cache.CacheKey("imagegen", "models"), 30*time.Minute, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/models", nil)
		if err != nil {
			return "", err
		}
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("image backend returned status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to list models: %v", err)), nil
	}
	return common.NewTextResult(body), nil
}

// RegisterTools registers the image generation tools with the MCP server
func RegisterTools(s *server.MCPServer, cfg config.ImageGen) {
	tool := NewImageTool(cfg)

	s.AddTool(mcp.NewTool("generate_image_url",
		mcp.WithDescription("Build a URL that renders an image for a prompt. Cheap: no backend call is made."),
		mcp.WithString("prompt", mcp.Description("Image prompt"), mcp.Required()),
		mcp.WithNumber("width", mcp.Description("Image width in pixels (default: 1024)"), mcp.DefaultNumber(1024)),
		mcp.WithNumber("height", mcp.Description("Image height in pixels (default: 1024)"), mcp.DefaultNumber(1024)),
		mcp.WithString("model", mcp.Description("Model name (default: flux)")),
		mcp.WithNumber("seed", mcp.Description("Seed for reproducible output")),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("generate_image_url", tool.handleGenerateImageURL)))

	s.AddTool(mcp.NewTool("generate_image",
		mcp.WithDescription("Generate an image for a prompt and return it inline."),
		mcp.WithString("prompt", mcp.Description("Image prompt"), mcp.Required()),
		mcp.WithNumber("width", mcp.Description("Image width in pixels (default: 1024)"), mcp.DefaultNumber(1024)),
		mcp.WithNumber("height", mcp.Description("Image height in pixels (default: 1024)"), mcp.DefaultNumber(1024)),
		mcp.WithString("model", mcp.Description("Model name (default: flux)")),
		mcp.WithNumber("seed", mcp.Description("Seed for reproducible output")),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("generate_image", tool.handleGenerateImage)))

	s.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List the image models the backend offers."),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("list_models", tool.handleListModels)))

	for _, name := range []string{"generate_image_url", "generate_image", "list_models"} {
		metrics.ToolgateRegisteredTools.WithLabelValues(name, "image_bot").Set(1)
	}
}
