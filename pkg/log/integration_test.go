package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "github.com/YuminosukeSato/agriwarn/pkg/errors"
)

func TestTestLoggerCapturesLevels(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationTrain)
	testLogger.Warn("warning message", ArtifactPathKey, "/models/x.json")
	testLogger.Error("error message", fmt.Errorf("boom"), ModelIDKey, "model_1")

	require.NotEmpty(t, buffer.String())
	assert.True(t, testLogger.ContainsMessage("debug message"))
	assert.True(t, testLogger.ContainsField("key1", "value1"))
	assert.True(t, testLogger.ContainsField("number", 42.0))
	assert.True(t, testLogger.ContainsField(ErrAttrKey, "boom"))
	assert.True(t, testLogger.ContainsField(ModelIDKey, "model_1"))
	assert.Len(t, testLogger.EntriesAt("WARN"), 1)
}

func TestTestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	contextLogger := testLogger.With(ComponentKey, "registry", ModelKindKey, "linear")
	contextLogger.Info("contextual message")
	contextLogger.Debug("filtered out")

	assert.True(t, testLogger.ContainsField(ComponentKey, "registry"))
	assert.True(t, testLogger.ContainsField(ModelKindKey, "linear"))
	assert.False(t, testLogger.ContainsMessage("filtered out"))
	assert.False(t, testLogger.Enabled(context.Background(), LevelDebug))
}

func TestZerologLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo)

	logger.With(ComponentKey, "engine").Info("model trained", ModelIDKey, "model_9", AccuracyKey, 0.5)
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "model trained", entry["message"])
	assert.Equal(t, "engine", entry[ComponentKey])
	assert.Equal(t, "model_9", entry[ModelIDKey])
	assert.Equal(t, 0.5, entry[AccuracyKey])
}

func TestZerologLoggerErrorDetails(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelDebug)

	err := agerrors.NewNotFoundError("model", "model_404")
	logger.Error("lookup failed", err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Contains(t, entry[ErrAttrKey], "model_404")
	detail, ok := entry["error.detail"].(map[string]interface{})
	require.True(t, ok, "expected structured error detail")
	assert.Equal(t, "NotFoundError", detail["type"])
}

func TestWarningsReachDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	agerrors.Warn(agerrors.NewUndefinedMetricWarning("r2", "constant targets", 1))

	assert.Contains(t, buf.String(), "ill-defined")
	assert.Contains(t, buf.String(), "UndefinedMetricWarning")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.True(t, agerrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	err := Setup("info", "xml")
	assert.True(t, agerrors.IsValidation(err))
}
