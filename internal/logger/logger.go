package logger

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

type (
	LogLevel string

	// Logger defines the interface for structured logging
	Logger interface {
		Debug(msg string, keyvals ...any)
		Info(msg string, keyvals ...any)
		Warn(msg string, keyvals ...any)
		Error(msg string, keyvals ...any)
		With(keyvals ...any) Logger
	}

	loggerImpl struct {
		charmLogger *charmlog.Logger
	}

	contextKey string
)

const (
	DebugLevel    LogLevel = "debug"
	InfoLevel     LogLevel = "info"
	WarnLevel     LogLevel = "warn"
	ErrorLevel    LogLevel = "error"
	DisabledLevel LogLevel = "disabled"

	LoggerCtxKey contextKey = "logger"
)

var defaultLogger = NewLogger(nil)

func (l LogLevel) ToCharmlogLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case InfoLevel:
		return charmlog.InfoLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	case DisabledLevel:
		return charmlog.Level(1000)
	default:
		return charmlog.InfoLevel
	}
}

// ParseLevel maps a free-form level name to a LogLevel, defaulting to info.
func ParseLevel(raw string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case DebugLevel:
		return DebugLevel
	case WarnLevel, "warning":
		return WarnLevel
	case ErrorLevel:
		return ErrorLevel
	case DisabledLevel, "off", "none":
		return DisabledLevel
	default:
		return InfoLevel
	}
}

func (l *loggerImpl) Debug(msg string, keyvals ...any) { l.charmLogger.Debug(msg, keyvals...) }
func (l *loggerImpl) Info(msg string, keyvals ...any)  { l.charmLogger.Info(msg, keyvals...) }
func (l *loggerImpl) Warn(msg string, keyvals ...any)  { l.charmLogger.Warn(msg, keyvals...) }
func (l *loggerImpl) Error(msg string, keyvals ...any) { l.charmLogger.Error(msg, keyvals...) }

func (l *loggerImpl) With(keyvals ...any) Logger {
	return &loggerImpl{charmLogger: l.charmLogger.With(keyvals...)}
}

type Config struct {
	Level      LogLevel
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
}

func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Output:     os.Stdout,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

// TestConfig silences output; used by package tests.
func TestConfig() *Config {
	return &Config{
		Level:      DisabledLevel,
		Output:     io.Discard,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		if IsTestEnvironment() {
			cfg = TestConfig()
		} else {
			cfg = DefaultConfig()
		}
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	charmLogger := charmlog.NewWithOptions(output, charmlog.Options{
		ReportCaller:    cfg.AddSource,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           cfg.Level.ToCharmlogLevel(),
	})
	if cfg.JSON {
		charmLogger.SetFormatter(charmlog.JSONFormatter)
	} else {
		charmLogger.SetFormatter(charmlog.TextFormatter)
	}
	return &loggerImpl{charmLogger: charmLogger}
}

// SetupLogger replaces the process-wide default logger from CLI-style settings.
func SetupLogger(level string, logJSON, logSource bool) {
	defaultLogger = NewLogger(&Config{
		Level:      ParseLevel(level),
		Output:     os.Stderr,
		JSON:       logJSON,
		AddSource:  logSource,
		TimeFormat: "15:04:05",
	})
}

func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, LoggerCtxKey, l)
}

// FromContext returns the request-scoped logger, falling back to the default.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(LoggerCtxKey).(Logger); ok && l != nil {
			return l
		}
	}
	return defaultLogger
}

func GetDefault() Logger {
	return defaultLogger
}

func IsTestEnvironment() bool {
	return flag.Lookup("test.v") != nil
}
