package config

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// stderrSentinel is the logging.file value that routes logs to stderr
// instead of a rotated file, the one case where cfg.Color takes effect.
const stderrSentinel = "-"

// InitLogger builds the application logger from cfg: a lumberjack-backed
// rotating file sink by default, or stderr when cfg.File is the "-"
// sentinel, with JSON or (optionally colored, stderr-only) text formatting.
func InitLogger(cfg *LoggingConfig) (*slog.Logger, error) {
	level := parseLogLevel(cfg.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	if cfg.File == stderrSentinel {
		logger := slog.New(buildHandler(os.Stderr, cfg, handlerOpts, true))
		slog.SetDefault(logger)
		return logger, nil
	}

	if cfg.File == "" {
		cfg.File = filepath.Join(getStateDir(), "segfetch", "segfetch.log")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	}

	logger := slog.New(buildHandler(writer, cfg, handlerOpts, false))
	slog.SetDefault(logger)
	return logger, nil
}

// buildHandler picks JSON, colored text, or plain text depending on
// cfg.Format and cfg.Color. Color is only ever applied when writing to a
// terminal (allowColor), since ANSI escapes embedded in a rotated log file
// would just corrupt it for anything that later greps or tails it.
func buildHandler(w io.Writer, cfg *LoggingConfig, opts *slog.HandlerOptions, allowColor bool) slog.Handler {
	if strings.ToLower(cfg.Format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	if cfg.Color && allowColor {
		return newColoredTextHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// coloredTextHandler renders each record through an ordinary TextHandler
// into a scratch buffer, then writes the result to out with the level
// token wrapped in an ANSI color. scratch and its mutex are shared across
// WithAttrs/WithGroup derivatives so attributes accumulated via
// logger.With(...) still reach the colorized output.
type coloredTextHandler struct {
	inner   slog.Handler
	scratch *bytes.Buffer
	mu      *sync.Mutex
	out     io.Writer
}

func newColoredTextHandler(w io.Writer, opts *slog.HandlerOptions) *coloredTextHandler {
	scratch := &bytes.Buffer{}
	return &coloredTextHandler{
		inner:   slog.NewTextHandler(scratch, opts),
		scratch: scratch,
		mu:      &sync.Mutex{},
		out:     w,
	}
}

func (h *coloredTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *coloredTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.scratch.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	_, err := h.out.Write([]byte(colorizeLevel(h.scratch.String(), r.Level)))
	return err
}

func (h *coloredTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &coloredTextHandler{inner: h.inner.WithAttrs(attrs), scratch: h.scratch, mu: h.mu, out: h.out}
}

func (h *coloredTextHandler) WithGroup(name string) slog.Handler {
	return &coloredTextHandler{inner: h.inner.WithGroup(name), scratch: h.scratch, mu: h.mu, out: h.out}
}

// colorizeLevel wraps the level token of line (the "level=..." field of
// slog's text layout, which follows "time=...") in an ANSI color matching
// level. A line without a level field is colored whole.
func colorizeLevel(line string, level slog.Level) string {
	var code string
	switch {
	case level >= slog.LevelError:
		code = "31" // red
	case level >= slog.LevelWarn:
		code = "33" // yellow
	case level >= slog.LevelInfo:
		code = "32" // green
	default:
		code = "90" // bright black/gray, debug
	}

	start := strings.Index(line, "level=")
	if start < 0 {
		return fmt.Sprintf("\033[%sm%s\033[0m", code, line)
	}
	end := strings.IndexByte(line[start:], ' ')
	if end < 0 {
		end = len(line)
	} else {
		end += start
	}
	return fmt.Sprintf("%s\033[%sm%s\033[0m%s", line[:start], code, line[start:end], line[end:])
}

func parseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
