package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/feednode/internal/logging"
)

// HTTPLoggingMiddleware logs each request once it completes. Polling and
// streaming endpoints log at debug so a dashboard does not flood the log.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	method := ctx.Method()
	path := ctx.URL().Path

	next(ctx)

	status := ctx.Status()
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if q := ctx.URL().RawQuery; q != "" && !strings.Contains(q, "auth=") {
		attrs = append(attrs, slog.String("query", q))
	}

	logger.LogAttrs(ctx.Context(), requestLevel(method, path, status), "HTTP request completed", attrs...)
}

func requestLevel(method, path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case method == http.MethodOptions, method == http.MethodGet && quietPath(path):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func quietPath(path string) bool {
	switch path {
	case "/api/health", "/api/run", "/api/branches", "/api/schedule", "/api/logs":
		return true
	}
	return strings.HasPrefix(path, "/api/events") || strings.HasPrefix(path, "/api/logs/stream")
}
