package logger

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
)

var (
	defaultMu sync.RWMutex
	fallback  Logger
)

func defaultLogger() Logger {
	defaultMu.RLock()
	l := fallback
	defaultMu.RUnlock()
	if l != nil {
		return l
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if fallback == nil {
		fallback = NewLogger(nil)
	}
	return fallback
}

// SetupLogger builds the process logger from CLI flags and installs it as default.
func SetupLogger(level LogLevel, logJSON, logSource bool) Logger {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.JSON = logJSON
	cfg.AddSource = logSource
	l := NewLogger(cfg)
	defaultMu.Lock()
	fallback = l
	defaultMu.Unlock()
	return l
}

func GetLoggerConfig(cmd *cobra.Command) (LogLevel, bool, bool, error) {
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	logJSON, err := cmd.Flags().GetBool("log-json")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-json flag: %w", err)
	}
	logSource, err := cmd.Flags().GetBool("log-source")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-source flag: %w", err)
	}
	return LogLevel(logLevel), logJSON, logSource, nil
}
