package logging

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, level zapcore.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewZapLogger(Options{Level: level, Output: &buf}), &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warning", zapcore.WarnLevel},
		{"WARN", zapcore.WarnLevel},
		{" ERROR ", zapcore.ErrorLevel},
		{"chatty", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestZapAdapter_Levels(t *testing.T) {
	logger, buf := newBufferLogger(t, zapcore.WarnLevel)

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn", String("queue", "q1"))
	logger.Error("visible error", errors.New("commit failed"))
	logger.Warn("field error", Err(errors.New("rollback failed")))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible warn")
	assert.Contains(t, out, "q1")
	assert.Contains(t, out, "commit failed")
	assert.Contains(t, out, "rollback failed")
}

func TestZapAdapter_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, zapcore.DebugLevel)

	child := logger.WithFields(String("component", "router"))
	child.Info("reloaded", Int("rules", 3))

	assert.Contains(t, buf.String(), "router")
	assert.Contains(t, buf.String(), "reloaded")
	assert.Same(t, logger, logger.WithFields())
}

func TestZapAdapter_WithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, zapcore.DebugLevel)

	assert.Same(t, logger, logger.WithContext(context.Background()))

	ctx := ContextWithMessageID(ContextWithWorker(context.Background(), "dispatcher-1"), "msg-42")
	logger.WithContext(ctx).Info("committed")

	assert.Contains(t, buf.String(), "dispatcher-1")
	assert.Contains(t, buf.String(), "msg-42")
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	logger, buf := newBufferLogger(t, zapcore.DebugLevel)
	SetGlobalLogger(logger)

	Info("global info")
	Component("supervisor").Warn("worker died")

	assert.Contains(t, buf.String(), "global info")
	assert.Contains(t, buf.String(), "supervisor")
}

func TestGlobalLogger_Concurrency(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	logger, _ := newBufferLogger(t, zapcore.ErrorLevel)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				SetGlobalLogger(logger)
			} else {
				assert.NotNil(t, GetGlobalLogger())
			}
		}(i)
	}
	wg.Wait()
}

func TestInitGlobalLogger_File(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	path := t.TempDir() + "/dispatcher.log"
	t.Setenv("LOG_FILE", path)
	t.Setenv("LOG_LEVEL", "debug")

	require.NoError(t, InitGlobalLogger())
	MustSync()
	assert.FileExists(t, path)
}
