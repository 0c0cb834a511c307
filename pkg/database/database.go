// Package database implements the database_bot tool server: read-mostly
// Postgres access over a pgx connection pool.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate-dev/toolgate/internal/cache"
	"github.com/toolgate-dev/toolgate/internal/metrics"
	"github.com/toolgate-dev/toolgate/internal/telemetry"
	"github.com/toolgate-dev/toolgate/pkg/common"
)

// Querier is the minimal query surface the tools need. *pgxpool.Pool is
// adapted to it, tests substitute a fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
}

type poolQuerier struct {
	pool *pgxpool.Pool
}

// NewPool connects a pgx pool and adapts it to the Querier interface.
func NewPool(ctx context.Context, url string) (Querier, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &poolQuerier{pool: pool}, nil
}

func (q *poolQuerier) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// identifierPattern matches a bare SQL identifier. Table names arriving as
// tool arguments are interpolated into SQL, so anything else is rejected.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type DatabaseTool struct {
	db Querier
}

func NewDatabaseTool(db Querier) *DatabaseTool {
	return &DatabaseTool{db: db}
}

func (t *DatabaseTool) renderRows(rows []map[string]any) (*mcp.CallToolResult, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	content, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return common.NewTextResult(string(content)), nil
}

func (t *DatabaseTool) handleListTables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query := `SELECT table_schema, table_name
	   FROM information_schema.tables
	  WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
	  ORDER BY table_schema, table_name`
	var queryArgs []any
	if schema := common.GetStringArg(args, "schema", ""); schema != "" {
		if !identifierPattern.MatchString(schema) {
			return common.NewErrorResult(fmt.Sprintf("invalid schema name: %q", schema)), nil
		}
		query = `SELECT table_schema, table_name
	   FROM information_schema.tables
	  WHERE table_schema = $1
	  ORDER BY table_name`
		queryArgs = append(queryArgs, schema)
	}

	rows, err := t.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return t.renderRows(rows)
}

func (t *DatabaseTool) handleExecuteQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query, errResult := common.RequireStringArg(args, "query")
	if errResult != nil {
		return errResult, nil
	}
	params, _ := args["params"].([]any)

	rows, err := t.db.Query(ctx, query, params...)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return t.renderRows(rows)
}

func (t *DatabaseTool) handleQueryTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	table, errResult := common.RequireStringArg(args, "table")
	if errResult != nil {
		return errResult, nil
	}
	if !identifierPattern.MatchString(table) {
		return common.NewErrorResult(fmt.Sprintf("invalid table name: %q", table)), nil
	}
	schema := common.GetStringArg(args, "schema", "public")
	if !identifierPattern.MatchString(schema) {
		return common.NewErrorResult(fmt.Sprintf("invalid schema name: %q", schema)), nil
	}

	limit := common.GetIntArg(args, "limit", 50)
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := common.GetIntArg(args, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s", schema, table)
	// The where fragment is interpolated as-is: execute_query already grants
	// full SQL access, so this adds no capability it does not have.
	if where := common.GetStringArg(args, "where", ""); where != "" {
		query += " WHERE " + where
	}
	if orderBy := common.GetStringArg(args, "order_by", ""); orderBy != "" {
		clause, err := orderByClause(orderBy)
		if err != nil {
			return common.NewErrorResult(err.Error()), nil
		}
		query += " ORDER BY " + clause
	}
	query += " LIMIT $1 OFFSET $2"

	rows, err := t.db.Query(ctx, query, limit, offset)
	if err != nil {
		return common.NewErrorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return t.renderRows(rows)
}

// orderByClause validates a "column [asc|desc]" ordering argument.
func orderByClause(orderBy string) (string, error) {
	parts := strings.Fields(orderBy)
	if len(parts) == 0 || len(parts) > 2 || !identifierPattern.MatchString(parts[0]) {
		return "", fmt.Errorf("invalid order_by: %q", orderBy)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	switch strings.ToLower(parts[1]) {
	case "asc":
		return parts[0] + " ASC", nil
	case "desc":
		return parts[0] + " DESC", nil
	}
	return "", fmt.Errorf("invalid order_by direction: %q", parts[1])
}

func (t *DatabaseTool) handleGetTableInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	table, errResult := common.RequireStringArg(args, "table")
	if errResult != nil {
		return errResult, nil
	}
	if !identifierPattern.MatchString(table) {
		return common.NewErrorResult(fmt.Sprintf("invalid table name: %q", table)), nil
	}
	schema := common.GetStringArg(args, "schema", "public")
	if !identifierPattern.MatchString(schema) {
		return common.NewErrorResult(fmt.Sprintf("invalid schema name: %q", schema)), nil
	}

	// Table metadata changes rarely, cache the rendered description.
	key := cache.CacheKey("database", "info", schema, table)
	content, err := cache.CacheResult(cache.GetSchemaCache(), key, 5*time.Minute, func() (string, error) {
		columns, err := t.db.Query(ctx,
			`SELECT column_name, data_type, is_nullable, column_default
			   FROM information_schema.columns
			  WHERE table_schema = $1 AND table_name = $2
			  ORDER BY ordinal_position`, schema, table)
		if err != nil {
			return "", fmt.Errorf("query failed: %v", err)
		}
		if len(columns) == 0 {
			return "", fmt.Errorf("table not found: %s.%s", schema, table)
		}

		primaryKey, err := t.db.Query(ctx,
			`SELECT a.attname AS column_name
			   FROM pg_index i
			   JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
			  WHERE i.indrelid = ($1 || '.' || $2)::regclass AND i.indisprimary
			  ORDER BY a.attnum`, schema, table)
		if err != nil {
			return "", fmt.Errorf("query failed: %v", err)
		}
		var pkColumns []string
		for _, row := range primaryKey {
			if name, ok := row["column_name"].(string); ok {
				pkColumns = append(pkColumns, name)
			}
		}

		indexes, err := t.db.Query(ctx,
			`SELECT indexname, indexdef
			   FROM pg_indexes
			  WHERE schemaname = $1 AND tablename = $2
			  ORDER BY indexname`, schema, table)
		if err != nil {
			return "", fmt.Errorf("query failed: %v", err)
		}

		info := map[string]any{
			"columns":     columns,
			"primary_key": pkColumns,
			"indexes":     indexes,
		}
		rendered, err := json.MarshalIndent(info, "", "  ")
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

// RegisterTools registers the database tools with the MCP server
func RegisterTools(s *server.MCPServer, db Querier) {
	tool := NewDatabaseTool(db)

	s.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription("List all user tables with their schemas."),
		mcp.WithString("schema", mcp.Description("Restrict the listing to one schema")),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("list_tables", tool.handleListTables)))

	s.AddTool(mcp.NewTool("execute_query",
		mcp.WithDescription("Execute a SQL query and return the rows as JSON."),
		mcp.WithString("query", mcp.Description("SQL query to execute, $1-style placeholders allowed"), mcp.Required()),
		mcp.WithArray("params", mcp.Description("Positional parameters for the query placeholders")),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("execute_query", tool.handleExecuteQuery)))

	s.AddTool(mcp.NewTool("query_table",
		mcp.WithDescription("Fetch rows from a single table."),
		mcp.WithString("table", mcp.Description("Table name"), mcp.Required()),
		mcp.WithString("schema", mcp.Description("Schema name (default: public)")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return (default: 50, max: 1000)"), mcp.DefaultNumber(50)),
		mcp.WithNumber("offset", mcp.Description("Number of rows to skip (default: 0)")),
		mcp.WithString("where", mcp.Description("Optional SQL filter appended after WHERE")),
		mcp.WithString("order_by", mcp.Description("Column to sort by, optionally followed by 'asc' or 'desc'")),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("query_table", tool.handleQueryTable)))

	s.AddTool(mcp.NewTool("get_table_info",
		mcp.WithDescription("Describe a table: columns, primary key, and indexes."),
		mcp.WithString("table", mcp.Description("Table name"), mcp.Required()),
		mcp.WithString("schema", mcp.Description("Schema name (default: public)")),
	), telemetry.AdaptToolHandler(telemetry.WithTracing("get_table_info", tool.handleGetTableInfo)))

	for _, name := range []string{"list_tables", "execute_query", "query_table", "get_table_info"} {
		metrics.ToolgateRegisteredTools.WithLabelValues(name, "database_bot").Set(1)
	}
}
