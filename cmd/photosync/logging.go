package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/photosync/internal/client/config"
	"github.com/openmined/photosync/internal/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging fans slog out to the console and a rotating log file.
func setupLogging(cfg config.LogConfig) (func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file := openLogFile(cfg)
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: level,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(newConsoleHandler(level), fileHandler)))

	return func() {
		file.Close()
	}, nil
}

// logFile timestamps lines into a size rotated file.
type logFile struct {
	*utils.LogInterceptor
	rotator *lumberjack.Logger
}

func openLogFile(cfg config.LogConfig) *logFile {
	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return &logFile{
		LogInterceptor: utils.NewLogInterceptor(rotator),
		rotator:        rotator,
	}
}

// Close flushes a pending partial line before the file goes away.
func (f *logFile) Close() error {
	return errors.Join(f.LogInterceptor.Close(), f.rotator.Close())
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}
