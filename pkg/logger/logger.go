// Package logger provides structured logging utilities.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// Options configures New.
type Options struct {
	// Level is a zap level name; unknown names mean info.
	Level string
	// Development switches to colored console output with stack traces
	// on warnings.
	Development bool
	// Service is attached to every entry when set.
	Service string
}

// New creates a structured logger. Production loggers write JSON to stdout.
func New(opts Options) (*Logger, error) {
	var config zap.Config
	if opts.Development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
		config.OutputPaths = []string{"stdout"}
	}
	config.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	var buildOpts []zap.Option
	if opts.Service != "" {
		buildOpts = append(buildOpts, zap.Fields(zap.String("service", opts.Service)))
	}

	logger, err := config.Build(buildOpts...)
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	if level == "warning" {
		return zapcore.WarnLevel
	}
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Named creates a child logger scoped to a component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// WithRequest creates a child logger with request context fields.
func (l *Logger) WithRequest(correlationID, userID string) *Logger {
	return l.With(
		zap.String("correlation_id", correlationID),
		zap.String("user_id", userID),
	)
}

// WithChat creates a child logger scoped to one conversation.
func (l *Logger) WithChat(role, reportID, chatID string) *Logger {
	return l.With(
		zap.String("role", role),
		zap.String("report_id", reportID),
		zap.String("chat_id", chatID),
	)
}

// Install makes l the process-wide zap logger so libraries logging through
// zap.L() share its output.
func Install(l *Logger) func() {
	return zap.ReplaceGlobals(l.Logger)
}
