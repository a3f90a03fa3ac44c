// Package logger provides the structured logger used across the client.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Interface defines the methods the engine components log through.
// *slog.Logger satisfies it.
type Interface interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewLogger creates a logger writing JSON records to the given file,
// creating it if necessary.
func NewLogger(filename string) (Interface, error) {
	logFile, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(logFile, nil)), nil
}

// NewWithWriter creates a logger writing text records to w. Used by the CLI
// for console output and by tests.
func NewWithWriter(w io.Writer) Interface {
	return slog.New(slog.NewTextHandler(w, nil))
}

// Discard returns a logger that drops everything.
func Discard() Interface {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
