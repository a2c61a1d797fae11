package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   logrus.Level
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   logrus.InfoLevel,
		},
		{
			name:   "verbose config",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   logrus.DebugLevel,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   logrus.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.logger.GetLevel())
		})
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "deploy.log")

	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, LogFile: logFile})
	require.NoError(t, err)

	logger.WithField("phase", "upload").Info("written twice")
	assert.Contains(t, buf.String(), "written twice")
	assert.FileExists(t, logFile)
}

func TestNewLoggerBadFile(t *testing.T) {
	_, err := NewLogger(Config{LogFile: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestLoggerWithOperationID(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	require.NoError(t, err)

	ctx := ContextWithOperationID(context.Background(), "op-123")
	logger.WithContext(ctx).Info("with context")

	assert.Contains(t, buf.String(), "operation_id=op-123")
	assert.Equal(t, "op-123", OperationIDFromContext(ctx))
}

func TestContextWithOperationIDGenerates(t *testing.T) {
	ctx := ContextWithOperationID(context.Background(), "")
	id := OperationIDFromContext(ctx)
	assert.Len(t, id, 36)
	assert.Empty(t, OperationIDFromContext(context.Background()))
}

func TestLogConnectionAttempt(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	require.NoError(t, err)

	ctx := context.Background()
	logger.LogConnectionAttempt(ctx, "example.com:22", 1, 10*time.Millisecond, errors.New("connection refused"))
	output := buf.String()
	assert.Contains(t, output, "Connection attempt failed")
	assert.Contains(t, output, "attempt=1")
	assert.Contains(t, output, "connection refused")

	buf.Reset()
	logger.LogConnectionAttempt(ctx, "example.com:22", 2, 10*time.Millisecond, nil)
	assert.Contains(t, buf.String(), "Connection attempt succeeded")
}

func TestLogTransferJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	require.NoError(t, err)

	logger.LogTransfer(context.Background(), "upload", "/src", "/var/www", 3, 1024, time.Second, nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "upload", entry["direction"])
	assert.Equal(t, float64(3), entry["files"])
	assert.Equal(t, "Transfer completed", entry["msg"])
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	require.NoError(t, err)

	done := logger.LogOperationStart(context.Background(), "deploy", map[string]interface{}{"project": "shop"})
	assert.Contains(t, buf.String(), "Operation started")

	buf.Reset()
	done(nil)
	output := buf.String()
	assert.Contains(t, output, "Operation completed")
	assert.Contains(t, output, "project=shop")
	assert.Contains(t, output, "success=true")

	buf.Reset()
	done = logger.LogOperationStart(context.Background(), "rollback", nil)
	done(errors.New("no backup"))
	assert.Contains(t, buf.String(), "Operation failed")
}

func TestFailuresStayOutOfNormalLog(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "text"})
	require.NoError(t, err)

	ctx := context.Background()
	logger.LogTransfer(ctx, "upload", "/src", "/var/www", 1, 10, time.Second, errors.New("broken pipe"))
	done := logger.LogOperationStart(ctx, "deploy", nil)
	done(errors.New("broken pipe"))

	assert.Empty(t, buf.String())
}

func TestQuietLevelSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelQuiet, Output: &buf})
	require.NoError(t, err)

	logger.WithField("k", "v").Info("hidden")
	logger.WithField("k", "v").Error("shown")

	assert.False(t, strings.Contains(buf.String(), "hidden"))
	assert.Contains(t, buf.String(), "shown")
}

func TestRedactPassword(t *testing.T) {
	assert.Equal(t, "", RedactPassword(""))
	assert.Equal(t, "***", RedactPassword("hunter2"))
}
