// Package util provides logging and host helpers used throughout Airlock.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFilePrefix = "airlock_"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
	// File disables the JSON log file when false, for containers that only read stdout.
	File bool `json:"file"`
}

// DefaultLogConfig returns console-only info logging, used until the
// configuration file has been read.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 7,
		Console:    true,
	}
}

// InitLogger replaces the global logger. JSON lines go to a daily file in
// cfg.Directory and a human-readable copy goes to stdout. Debug level adds
// caller information.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var (
		writers []io.Writer
		path    string
	)
	if cfg.File {
		f, p, err := openDailyLog(cfg.Directory, time.Now())
		if err != nil {
			return err
		}
		writers = append(writers, f)
		path = p
		go pruneLogs(cfg.Directory, cfg.MaxBackups)
	}
	if cfg.Console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"})
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp()
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()

	log.Debug().Str("level", level.String()).Str("file", path).Msg("logger configured")
	return nil
}

func openDailyLog(dir string, day time.Time) (*os.File, string, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, "", fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, logFilePrefix+day.Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, path, nil
}

// pruneLogs keeps the newest keep daily log files. Names embed the date, so
// lexical order is chronological.
func pruneLogs(dir string, keep int) {
	if keep <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(dir, logFilePrefix+"*.log"))
	if err != nil || len(matches) <= keep {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-keep] {
		if err := os.Remove(old); err == nil {
			log.Debug().Str("file", old).Msg("removed old log file")
		}
	}
}

// ComponentLogger derives a logger from the global one that tags every
// entry with component.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
