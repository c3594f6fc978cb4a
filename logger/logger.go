package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format is the encoding of log lines.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Environment variables overriding the configured level and format.
const (
	EnvLevel  = "TAPIR_LOG_LEVEL"
	EnvFormat = "TAPIR_LOG_FORMAT"
)

// Component names used with For.
const (
	ComponentStore      = "store"
	ComponentUnitOfWork = "uow"
	ComponentChangeSet  = "changeset"
	ComponentCLI        = "cli"
)

// ParseLevel converts a level name into a zap level. Unknown names select info.
func ParseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// ParseFormat converts a format name into a Format. Unknown names select console.
func ParseFormat(format string) Format {
	if Format(strings.ToLower(format)) == FormatJSON {
		return FormatJSON
	}
	return FormatConsole
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New returns a logger writing to stderr with the given level and format.
// The TAPIR_LOG_LEVEL and TAPIR_LOG_FORMAT environment variables take precedence.
func New(level, format string) *zap.Logger {
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}
	if env := os.Getenv(EnvFormat); env != "" {
		format = env
	}

	config := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if ParseFormat(format) == FormatJSON {
		config.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(config)
	} else {
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncodeTime = timeEncoder
		config.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(config)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(ParseLevel(level)))
	return zap.New(core, zap.AddCaller())
}

// For returns a sugared logger named after the component.
func For(log *zap.Logger, component string) *zap.SugaredLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return log.Named(component).Sugar()
}
