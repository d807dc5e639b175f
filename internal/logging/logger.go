// Package logging provides structured logging with file and console output.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry is one line of the in-memory history.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

// Logger wraps zerolog with file output and a bounded history of recent
// entries.
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string

	mu      sync.RWMutex
	history []LogEntry
	maxHist int
}

// Config holds logger configuration
type Config struct {
	Dir        string `mapstructure:"dir"`         // default: ~/.cortexmotion/logs
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	MaxHistory int    `mapstructure:"max_history"` // entries kept in memory
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Dir:        filepath.Join(home, ".cortexmotion", "logs"),
		Level:      "info",
		MaxHistory: 1000,
		Console:    true,
		File:       true,
	}
}

// New creates a Logger writing to a dated file under cfg.Dir and, if enabled,
// to the console.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	logger := &Logger{maxHist: cfg.MaxHistory}
	if logger.maxHist <= 0 {
		logger.maxHist = 1000
	}
	writers := []io.Writer{historyWriter{logger}}

	if cfg.File {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFileName := fmt.Sprintf("cortexmotion_%s.log", time.Now().Format("2006-01-02"))
		logger.logPath = filepath.Join(cfg.Dir, logFileName)

		file, err := os.OpenFile(logger.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.file = file
		writers = append(writers, file)
	}

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	logger.zlog = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "cortexmotion").
		Logger()

	logger.zlog.Debug().Str("component", "logging").Str("logFile", logger.logPath).Str("level", level.String()).Msg("Logger initialized")
	return logger, nil
}

// historyWriter records every emitted event into the logger's history.
type historyWriter struct {
	l *Logger
}

func (w historyWriter) Write(p []byte) (int, error) {
	var raw struct {
		Time      string `json:"time"`
		Level     string `json:"level"`
		Component string `json:"component"`
		Avatar    string `json:"avatar"`
		Message   string `json:"message"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		// not ours to fail the write over
		return len(p), nil
	}
	w.l.addToHistory(LogEntry{
		Timestamp: raw.Time,
		Level:     raw.Level,
		Component: raw.Component,
		Avatar:    raw.Avatar,
		Message:   raw.Message,
		Error:     raw.Error,
	})
	return len(p), nil
}

func (l *Logger) addToHistory(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, entry)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
}

// History returns up to limit of the most recent entries, oldest first.
func (l *Logger) History(limit int) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}
	result := make([]LogEntry, limit)
	copy(result, l.history[len(l.history)-limit:])
	return result
}

// HistoryHandler serves recent entries as JSON. ?limit=N caps the count.
func (l *Logger) HistoryHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(l.History(limit))
	})
}

// LogPath returns the current log file path, empty when file output is off.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file
func (l *Logger) Close() error {
	l.Debug("logging", "Logger shutting down", nil)
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(component, msg string, data map[string]any) {
	withData(l.zlog.Debug().Str("component", component), data).Msg(msg)
}

// Info logs an info message
func (l *Logger) Info(component, msg string, data map[string]any) {
	withData(l.zlog.Info().Str("component", component), data).Msg(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(component, msg string, data map[string]any) {
	withData(l.zlog.Warn().Str("component", component), data).Msg(msg)
}

// Error logs an error message
func (l *Logger) Error(component, msg string, err error, data map[string]any) {
	event := l.zlog.Error().Str("component", component)
	if err != nil {
		event = event.Err(err)
	}
	withData(event, data).Msg(msg)
}

func withData(event *zerolog.Event, data map[string]any) *zerolog.Event {
	for k, v := range data {
		event = event.Interface(k, v)
	}
	return event
}

// Component returns a zerolog.Logger with the component field set
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger. Engine packages derive their
// own component loggers from it.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}
