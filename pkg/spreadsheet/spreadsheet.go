// Package spreadsheet implements the sheets_bot tool server: workbook
// inspection for files stored under the configured workspace directory.
package spreadsheet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xuri/excelize/v2"

	"github.com/toolgate-dev/toolgate/internal/cache"
	"github.com/toolgate-dev/toolgate/internal/config"
	"github.com/toolgate-dev/toolgate/internal/metrics"
	"github.com/toolgate-dev/toolgate/internal/telemetry"
	"github.com/toolgate-dev/toolgate/pkg/common"
)

type SpreadsheetTool struct {
	workspaceDir string
}

func NewSpreadsheetTool(cfg config.Spreadsheet) *SpreadsheetTool {
	return &SpreadsheetTool{workspaceDir: cfg.WorkspaceDir}
}

// resolvePath confines file arguments to the workspace directory. A relative
// path that climbs out of the workspace is rejected.
func (t *SpreadsheetTool) resolvePath(file string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(t.workspaceDir, file))
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(t.workspaceDir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file is outside the workspace: %s", file)
	}
	return abs, nil
}

func (t *SpreadsheetTool) open(file string) (*excelize.File, *mcp.CallToolResult) {
	path, err := t.resolvePath(file)
	if err != nil {
		return nil, common.NewErrorResult(err.Error())
	}
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, common.NewErrorResult(fmt.Sprintf("failed to open workbook: %v", err))
	}
	return wb, nil
}

func (t *SpreadsheetTool) handleGetSheetNames(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	file, errResult := common.RequireStringArg(args, "file")
	if errResult != nil {
		return errResult, nil
	}

	path, err := t.resolvePath(file)
	if err != nil {
		return common.NewErrorResult(err.Error()), nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to open workbook: %v", err)), nil
	}

	// Keyed on the modification time so an edited workbook is re-read.
	key := cache.CacheKey("spreadsheet", "sheets", path, fi.ModTime().UTC().Format(time.RFC3339Nano))
	content, err := cache.CacheResult(cache.GetSheetCache(), key, 10*time.Minute, func() (string, error) {
		wb, err := excelize.OpenFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to open workbook: %v", err)
		}
		defer wb.Close()

		rendered, err := json.Marshal(wb.GetSheetList())
		if err != nil {
			return "", fmt.Errorf("failed to marshal result: %v", err)
		}
		return string(rendered), nil
	})
	if err != nil {
		return common.NewErrorResult(err.Error()), nil
	}
	return common.NewTextResult(content), nil
}

func (t *SpreadsheetTool) handlePreviewSheet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	file, errResult := common.RequireStringArg(args, "file")
	if errResult != nil {
		return errResult, nil
	}

	wb, errResult := t.open(file)
	if errResult != nil {
		return errResult, nil
	}
	defer wb.Close()

	sheet := common.GetStringArg(args, "sheet", "")
	if sheet == "" {
		sheet = wb.GetSheetName(0)
	}

	limit := common.GetIntArg(args, "limit", 5)
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	rows, err := wb.GetRows(sheet)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to read sheet %q: %v", sheet, err)), nil
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	content, err := json.MarshalIndent(map[string]any{
		"sheet": sheet,
		"rows":  rows,
	}, "", "  ")
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return common.NewTextResult(string(content)), nil
}

// RegisterTools registers the spreadsheet tools with the MCP server
func RegisterTools(s *server.MCPServer, cfg config.Spreadsheet) {
	tool := NewSpreadsheetTool(cfg)

	s.AddTool(mcp.NewTool("get_sheet_names",
		mcp.WithDescription("List the sheet names of a workbook in the workspace."),
		mcp.WithString("file", mcp.Description("Workbook path relative to the workspace"), mcp.Required()),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("get_sheet_names", tool.handleGetSheetNames)))

	s.AddTool(mcp.NewTool("preview_sheet",
		mcp.WithDescription("Return the first rows of a sheet as JSON."),
		mcp.WithString("file", mcp.Description("Workbook path relative to the workspace"), mcp.Required()),
		mcp.WithString("sheet", mcp.Description("Sheet name (default: first sheet)")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return (default: 5, max: 20)"), mcp.DefaultNumber(5)),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("preview_sheet", tool.handlePreviewSheet)))

	metrics.ToolgateRegisteredTools.WithLabelValues("get_sheet_names", "sheets_bot").Set(1)
	metrics.ToolgateRegisteredTools.WithLabelValues("preview_sheet", "sheets_bot").Set(1)
}
