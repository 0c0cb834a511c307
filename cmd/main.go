package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/toolgate-dev/toolgate/internal/config"
	"github.com/toolgate-dev/toolgate/internal/gateway"
	"github.com/toolgate-dev/toolgate/internal/logger"
	"github.com/toolgate-dev/toolgate/internal/metrics"
	"github.com/toolgate-dev/toolgate/internal/session"
	"github.com/toolgate-dev/toolgate/internal/telemetry"
	"github.com/toolgate-dev/toolgate/internal/version"
	"github.com/toolgate-dev/toolgate/pkg/database"
	"github.com/toolgate-dev/toolgate/pkg/imagegen"
	"github.com/toolgate-dev/toolgate/pkg/spreadsheet"
	"github.com/toolgate-dev/toolgate/pkg/websearch"
)

var (
	addr        string
	metricsPort int
	apps        []string
	showVersion bool

	// These variables should be set during build time using -ldflags
	Name      = "toolgate"
	Version   = version.Version
	GitCommit = version.GitCommit
	BuildDate = version.BuildDate
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Session-routing gateway for MCP tool servers",
	Run:   run,
}

func init() {
	rootCmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from TOOLGATE_ADDR)")
	rootCmd.Flags().IntVarP(&metricsPort, "metrics-port", "m", 0, "Port for the metrics server (default from TOOLGATE_METRICS_PORT)")
	rootCmd.Flags().StringSliceVar(&apps, "apps", []string{}, "List of apps to serve. If empty, all apps are served.")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version information and exit")

	// if found .env file, load it
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// printVersion displays version information in a formatted way
func printVersion() {
	fmt.Printf("%s\n", Name)
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func run(cmd *cobra.Command, args []string) {
	// Handle version flag early, before any initialization
	if showVersion {
		printVersion()
		return
	}

	logger.InitWithEnv()
	defer logger.Sync()

	cfg := config.Load()
	if addr != "" {
		cfg.Gateway.Addr = addr
	}
	if metricsPort != 0 {
		cfg.Gateway.MetricsPort = metricsPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := telemetry.SetupOTelSDK(ctx, cfg.Telemetry)
	if err != nil {
		logger.Get().Error("Failed to setup OpenTelemetry SDK", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownOTel(flushCtx); err != nil {
			logger.Get().Error("Failed to shutdown OpenTelemetry SDK", "error", err)
		}
	}()

	// Root span for the server lifecycle
	tracer := otel.Tracer("toolgate/server")
	ctx, rootSpan := tracer.Start(ctx, "server.lifecycle")
	defer rootSpan.End()

	rootSpan.SetAttributes(
		attribute.String("server.name", Name),
		attribute.String("server.version", cfg.Telemetry.ServiceVersion),
		attribute.String("server.git_commit", GitCommit),
		attribute.String("server.build_date", BuildDate),
		attribute.String("server.addr", cfg.Gateway.Addr),
		attribute.StringSlice("server.apps", apps),
	)

	logger.Get().Info("Starting "+Name, "version", Version, "git_commit", GitCommit, "build_date", BuildDate)

	contexts := session.NewStore(cfg.Gateway.SessionTTL, cfg.Gateway.SweepInterval)
	defer contexts.Close()

	appRegistry := buildApps(ctx, cfg, apps, contexts)
	gw := gateway.New(appRegistry, contexts)

	registry := metrics.InitServer()
	metrics.ToolgateServerInfo.WithLabelValues(Name, Version, GitCommit, BuildDate).Set(1)

	mux := chi.NewRouter()
	mux.Use(chimiddleware.Recoverer)
	mux.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Get().Error("Failed to write health response", "error", err)
		}
	})
	mux.Mount("/", telemetry.HTTPMiddleware(gw.Routes()))

	httpServer := &http.Server{
		Addr:    cfg.Gateway.Addr,
		Handler: mux,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Gateway.MetricsPort),
		Handler: metricsMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Get().Info("Running gateway", "addr", cfg.Gateway.Addr, "apps", strings.Join(appRegistry.Names(), ","))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		logger.Get().Info("Starting Prometheus metrics endpoint on /metrics", "port", strconv.Itoa(cfg.Gateway.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Get().Info("Shutting down server...")
		rootSpan.AddEvent("server.shutdown.initiated")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		var shutdownErr error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Get().Error("Failed to shutdown gateway server gracefully", "error", err)
			rootSpan.RecordError(err)
			rootSpan.SetStatus(codes.Error, "Server shutdown failed")
			shutdownErr = err
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Get().Error("Failed to shutdown metrics server gracefully", "error", err)
			rootSpan.RecordError(err)
			if shutdownErr == nil {
				shutdownErr = err
			}
		}
		if shutdownErr == nil {
			rootSpan.AddEvent("server.shutdown.completed")
		}
		return shutdownErr
	})

	if err := group.Wait(); err != nil {
		logger.Get().Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Get().Info("Server shutdown complete")
}

// buildApps constructs one MCP server per tool app and returns them wrapped
// in an app registry. An empty enabled list serves every app. The database
// app is skipped when no database URL is configured, so a gateway can run
// without Postgres.
func buildApps(ctx context.Context, cfg *config.Config, enabled []string, contexts *session.Store) *gateway.AppRegistry {
	builders := map[string]func(*server.MCPServer) bool{
		"search_bot": func(s *server.MCPServer) bool {
			websearch.RegisterTools(s, cfg.Search, contexts)
			return true
		},
		"database_bot": func(s *server.MCPServer) bool {
			if cfg.Database.URL == "" {
				logger.Get().Warn("TOOLGATE_DATABASE_URL not set, skipping app", "app", "database_bot")
				return false
			}
			pool, err := database.NewPool(ctx, cfg.Database.URL)
			if err != nil {
				logger.Get().Error("Failed to connect to database, skipping app", "app", "database_bot", "error", err)
				return false
			}
			database.RegisterTools(s, pool)
			return true
		},
		"sheets_bot": func(s *server.MCPServer) bool {
			spreadsheet.RegisterTools(s, cfg.Spreadsheet)
			return true
		},
		"image_bot": func(s *server.MCPServer) bool {
			imagegen.RegisterTools(s, cfg.ImageGen)
			return true
		},
	}

	if len(enabled) == 0 {
		for name := range builders {
			enabled = append(enabled, name)
		}
	}

	var servers []gateway.ToolServer
	for _, name := range enabled {
		build, ok := builders[name]
		if !ok {
			logger.Get().Error("Unknown app specified", "app", name)
			continue
		}
		s := server.NewMCPServer(name, Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		)
		if build(s) {
			wrapToolHandlersWithMetrics(s, name)
			servers = append(servers, gateway.WrapServer(name, s))
			logger.Get().Info("Registered app", "app", name)
		}
	}
	return gateway.NewAppRegistry(servers...)
}

// wrapToolHandlersWithMetrics wraps every registered tool handler with a
// Prometheus invocation counter. A handler signals tool-level failure two
// ways: a Go error, or a result with IsError set. Both count as "error",
// checking only the Go error would miss most failures because handlers
// report backend problems through NewToolResultError.
func wrapToolHandlersWithMetrics(mcpServer *server.MCPServer, appName string) {
	allTools := mcpServer.ListTools()
	wrapped := make([]server.ServerTool, 0, len(allTools))

	for name, st := range allTools {
		originalHandler := st.Handler
		toolName := name // capture for closure

		wrapped = append(wrapped, server.ServerTool{
			Tool: st.Tool,
			Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				result, err := originalHandler(ctx, req)

				status := "ok"
				if err != nil || (result != nil && result.IsError) {
					status = "error"
				}
				metrics.ToolgateToolInvocations.WithLabelValues(appName, toolName, status).Inc()

				return result, err
			},
		})
	}

	mcpServer.SetTools(wrapped...)
}
