package obs

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   = newLogger(os.Stdout, slog.LevelInfo)
)

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetOutput redirects the shared logger, mostly for tests.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(w, slog.LevelDebug)
}

// SetLevel rebuilds the stdout logger with the given level name.
func SetLevel(name string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		level = slog.LevelInfo
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(os.Stdout, level)
}

// LogRequest emits a structured access log line with common HTTP fields.
func LogRequest(method, path string, status int, durationMS float64, requestID string) {
	Logger().Info("http request",
		slog.String("event", "http.request"),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", durationMS),
		slog.String("request_id", requestID),
	)
}
