package command

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/joeycumines/go-testproxy/internal/config"
	"github.com/joeycumines/go-testproxy/internal/logfile"
)

// logConfig is the resolved logging setup of a command.
type logConfig struct {
	level   slog.Level
	logFile io.WriteCloser // nil logs to stderr
}

// resolveLogConfig resolves the log level and file. Flags win, then the
// configuration (environment included), then info level on stderr. A log
// file rotates per log.max-size-mb and log.max-files. The caller must close
// logFile when it is non-nil.
func resolveLogConfig(flagPath, flagLevel string, cfg *config.Config) (logConfig, error) {
	schema := config.DefaultSchema()
	if cfg == nil {
		cfg = config.NewConfig()
	}
	var lc logConfig

	levelStr := flagLevel
	if levelStr == "" {
		levelStr = schema.Resolve(cfg, "log.level")
	}
	level, err := parseLevel(levelStr)
	if err != nil {
		return lc, err
	}
	lc.level = level

	logPath := flagPath
	if logPath == "" {
		logPath = schema.Resolve(cfg, "log.file")
	}
	if logPath != "" {
		maxSizeMB, _ := strconv.Atoi(schema.Resolve(cfg, "log.max-size-mb"))
		maxFiles, err := strconv.Atoi(schema.Resolve(cfg, "log.max-files"))
		if err == nil && maxFiles == 0 {
			maxFiles = -1
		}
		f, err := logfile.Open(logPath, logfile.Options{MaxBytes: int64(maxSizeMB) << 20, Backups: maxFiles})
		if err != nil {
			return lc, fmt.Errorf("failed to open log file %s: %w", logPath, err)
		}
		lc.logFile = f
	}
	return lc, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

// logger builds the command logger: JSON records when writing to a file,
// text on stderr otherwise.
func (lc logConfig) logger(stderr io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.level}
	if lc.logFile != nil {
		return slog.New(slog.NewJSONHandler(lc.logFile, opts))
	}
	return slog.New(slog.NewTextHandler(stderr, opts))
}

func (lc logConfig) Close() error {
	if lc.logFile == nil {
		return nil
	}
	return lc.logFile.Close()
}
