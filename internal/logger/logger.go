// Copyright (c) 2025 La Comanda Ops
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps the standard log package with leveled output to stdout
// and an optional log file.
type Logger struct {
	file   *os.File
	logger *log.Logger
	mu     sync.Mutex
	closed bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger, writing to stdout and, when
// logFile is non-empty, to that file as well. Subsequent calls return
// the first instance.
func Init(logFile string) (*Logger, error) {
	var err error
	once.Do(func() {
		defaultLogger, err = NewLogger(logFile)
	})
	return defaultLogger, err
}

// NewLogger creates a new logger instance.
func NewLogger(logFile string) (*Logger, error) {
	var out io.Writer = os.Stdout
	var file *os.File

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}

	return &Logger{
		file:   file,
		logger: log.New(out, "", log.LstdFlags|log.Lshortfile),
	}, nil
}

// GetDefault returns the default logger, falling back to stdout-only
// when Init was never called.
func GetDefault() *Logger {
	if defaultLogger == nil {
		defaultLogger = &Logger{
			logger: log.New(os.Stdout, "", log.LstdFlags|log.Lshortfile),
		}
	}
	return defaultLogger
}

func (l *Logger) logMessage(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.logger.Output(3, fmt.Sprintf("[%s] %s", level, fmt.Sprintf(format, v...)))
}

// Printf logs a message at INFO level
func (l *Logger) Printf(format string, v ...interface{}) {
	l.logMessage("INFO", format, v...)
}

// Errorf logs a message at ERROR level
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.logMessage("ERROR", format, v...)
}

// Warnf logs a message at WARN level
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.logMessage("WARN", format, v...)
}

// Debugf logs a message at DEBUG level
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.logMessage("DEBUG", format, v...)
}

// Fatalf logs a message at FATAL level and exits
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.logMessage("FATAL", format, v...)
	os.Exit(1)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Package-level convenience functions
func Printf(format string, v ...interface{}) {
	GetDefault().Printf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	GetDefault().Errorf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	GetDefault().Warnf(format, v...)
}

func Debugf(format string, v ...interface{}) {
	GetDefault().Debugf(format, v...)
}

func Fatalf(format string, v ...interface{}) {
	GetDefault().Fatalf(format, v...)
}
