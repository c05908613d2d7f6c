package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestContextLogger(t *testing.T) {
	logger := zap.NewNop().Sugar()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestNewLogger_Level(t *testing.T) {
	t.Setenv("LABELFLOW_DEBUG", "")

	assert.True(t, NewLogger("warn").Desugar().Core().Enabled(zapcore.WarnLevel))
	assert.False(t, NewLogger("warn").Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, NewLogger("").Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, NewLogger("bogus").Desugar().Core().Enabled(zapcore.DebugLevel))
}
