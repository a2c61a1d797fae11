package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}

		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stderr, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	return &Logger{logger: logger}, nil
}

// NewDiscardLogger returns a logger that drops everything
func NewDiscardLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// WithContext returns a logger with context fields
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if id := OperationIDFromContext(ctx); id != "" {
		entry = entry.WithField("operation_id", id)
	}
	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogConnectionAttempt logs a single TCP dial attempt
func (l *Logger) LogConnectionAttempt(ctx context.Context, addr string, attempt int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "ssh_dial",
		"address":   addr,
		"attempt":   attempt,
		"duration":  duration.String(),
		"success":   err == nil,
	}

	if err != nil {
		fields["error"] = err.Error()
		l.WithContext(ctx).WithFields(fields).Warn("Connection attempt failed")
		return
	}
	l.WithContext(ctx).WithFields(fields).Debug("Connection attempt succeeded")
}

// LogSessionEstablished logs a completed handshake, authentication and SFTP setup
func (l *Logger) LogSessionEstablished(ctx context.Context, addr, username string, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"operation": "ssh_session",
		"address":   addr,
		"username":  username,
		"duration":  duration.String(),
	}).Info("SFTP session established")
}

// LogTransfer logs the summary of a tree transfer. Failures go to the debug
// log because the caller reports them to the user.
func (l *Logger) LogTransfer(ctx context.Context, direction, source, destination string, files int, bytes int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "transfer",
		"direction":   direction,
		"source":      source,
		"destination": destination,
		"files":       files,
		"bytes":       bytes,
		"duration":    duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.WithContext(ctx).WithFields(fields).Debug("Transfer failed")
		return
	}
	l.WithContext(ctx).WithFields(fields).Info("Transfer completed")
}

// LogOperationStart logs the start of an operation and returns a function to
// log completion. A failed operation is logged at debug level, like LogTransfer.
func (l *Logger) LogOperationStart(ctx context.Context, operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.WithContext(ctx).WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.WithContext(ctx).WithFields(logFields).Debug("Operation failed")
		} else {
			logFields["success"] = true
			l.WithContext(ctx).WithFields(logFields).Info("Operation completed")
		}
	}
}

type operationIDKey struct{}

// ContextWithOperationID attaches an operation ID used to correlate log lines.
// A new random ID is generated when id is empty.
func ContextWithOperationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationIDFromContext extracts the operation ID from context
func OperationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(operationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RedactPassword masks a secret for log output
func RedactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***"
}
