package logger

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

var globalLogger *slog.Logger

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger
// If useStderr is true, logs will be written to stderr (for stdio mode)
// If useStderr is false, logs will be written to stdout (for HTTP mode)
// logLevel can be "debug", "info", "warn", or "error"
func Init(useStderr bool, logLevel string) {
	level := parseLogLevel(logLevel)
	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Choose output destination based on mode
	output := os.Stdout
	if useStderr {
		output = os.Stderr
	}

	if os.Getenv("TOOLGATE_LOG_FORMAT") == "json" {
		globalLogger = slog.New(slog.NewJSONHandler(output, opts))
	} else {
		globalLogger = slog.New(slog.NewTextHandler(output, opts))
	}

	slog.SetDefault(globalLogger)
}

// InitWithEnv initializes the logger using environment variables
// This is a convenience function that defaults to stdout unless TOOLGATE_USE_STDERR is set
func InitWithEnv() {
	useStderr := os.Getenv("TOOLGATE_USE_STDERR") == "true"
	logLevel := os.Getenv("TOOLGATE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	Init(useStderr, logLevel)
}

func Get() *slog.Logger {
	if globalLogger == nil {
		InitWithEnv()
	}
	return globalLogger
}

func WithContext(ctx context.Context) *slog.Logger {
	logger := Get()
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		logger = logger.With(
			"trace_id", span.SpanContext().TraceID().String(),
			"span_id", span.SpanContext().SpanID().String(),
		)
	}
	return logger
}

// RedactHeader masks a credential-bearing header value for logging.
// The first four characters are kept so operators can tell keys apart.
func RedactHeader(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:4] + "****"
}

func Sync() {
	// No-op for slog, but kept for compatibility
}
