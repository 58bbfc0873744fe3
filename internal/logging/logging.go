package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schemaguard/schemaguard/internal/config"
)

const filePrefix = "schemaguard-"

// Setup initializes the logger with file and console output. Console output
// goes to stderr so reports written to stdout stay machine-readable. The
// returned closer flushes and closes the log file.
func Setup(cfg config.LogConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	directory := cfg.Directory
	if directory == "" {
		directory = config.ExpandHome("~/.schemaguard/logs/")
	} else {
		directory = config.ExpandHome(directory)
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	now := time.Now()
	if cfg.RetentionDays > 0 {
		Prune(directory, now.AddDate(0, 0, -cfg.RetentionDays))
	}

	logPath := filepath.Join(directory, filePrefix+now.Format("2006-01-02")+".log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	if console == nil {
		console = os.Stderr
	}
	writer := io.MultiWriter(console, file)

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})

	return slog.New(handler), file, nil
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Prune removes daily log files older than cutoff.
func Prune(directory string, cutoff time.Time) int {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".log"), cutoff.Location())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if os.Remove(filepath.Join(directory, name)) == nil {
				removed++
			}
		}
	}
	return removed
}
