package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/phrazzld/melody-api/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// level is shared by every handler built by this package so SetLevel
	// takes effect without rebuilding loggers.
	level = new(slog.LevelVar)

	fileMu sync.Mutex
	file   *lumberjack.Logger
)

// ParseLevel converts a configured level name (case-insensitive) to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Setup initializes the application's logging system from cfg, writing to
// stdout and, when cfg.LogFile is set, to a size-rotated file as well. The
// logger is installed as the slog default.
func Setup(cfg config.ServerConfig) (*slog.Logger, error) {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		fileMu.Lock()
		if file != nil {
			_ = file.Close()
		}
		file = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
		fileMu.Unlock()
	}

	logger, err := New(cfg, out)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// New builds a logger writing to out without touching the slog default.
func New(cfg config.ServerConfig, out io.Writer) (*slog.Logger, error) {
	if err := SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	case "json", "":
		handler = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}

	return slog.New(NewContextHandler(handler)), nil
}

// SetLevel changes the minimum level of every logger built by this package.
func SetLevel(name string) error {
	l, err := ParseLevel(name)
	if err != nil {
		return err
	}
	level.Set(l)
	return nil
}

// Level reports the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// Close releases the log file opened by Setup, if any.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}
