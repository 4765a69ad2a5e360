package logger

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/louisfang/grouphub/config"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey contextKey = "trace_id"
)

// Logger wraps zap.Logger with trace-aware helpers. Repositories and services
// log storage failures through it with operation and group id context.
type Logger struct {
	*zap.Logger
	file *os.File // kept so Close can release file output
}

// NewLogger builds a logger from the logging config: level (debug..fatal),
// format (json or text) and output (stdout or file).
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	var file *os.File
	if cfg.Output == "file" {
		var err error
		file, err = os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		writeSyncer = zapcore.AddSync(file)
	} else {
		writeSyncer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, writeSyncer, parseLogLevel(cfg.Level))

	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{Logger: zapLogger, file: file}, nil
}

// NewDevelopmentLogger creates a console logger at debug level.
func NewDevelopmentLogger() (*Logger, error) {
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: zapLogger}, nil
}

// NewProductionLogger creates a JSON logger at info level.
func NewProductionLogger() (*Logger, error) {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: zapLogger}, nil
}

// WithTraceID returns a new logger with the trace ID field added.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(zap.String("trace_id", traceID)),
	}
}

// WithContext extracts the trace ID from the context and returns a logger
// carrying it. If no trace ID is present the original logger is returned.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		return l.WithTraceID(traceID)
	}
	return l
}

// WithFields returns a new logger with the provided structured fields added.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
	}
}

// DebugContext logs a debug message with trace ID from context if available
func (l *Logger) DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Debug(msg, fields...)
}

// InfoContext logs an info message with trace ID from context if available
func (l *Logger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Info(msg, fields...)
}

// WarnContext logs a warning message with trace ID from context if available
func (l *Logger) WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Warn(msg, fields...)
}

// ErrorContext logs an error message with trace ID from context if available
func (l *Logger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Error(msg, fields...)
}

// parseLogLevel converts a string log level to zapcore.Level, defaulting to
// info for unknown values.
func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

// Close flushes and releases any file handle held by the logger.
func (l *Logger) Close() error {
	if err := l.Sync(); err != nil {
		return err
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
