package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	l, err := New("settlementd", "prod", "warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = New("settlementd", "dev", "")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("settlementd", "prod", "loud")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestInit_FallsBackOnBadLevel(t *testing.T) {
	Init("settlementd", "prod", "loud")
	t.Cleanup(func() { log, sugar = nil, nil })

	require.NotNil(t, L())
	require.NotNil(t, S())
	assert.True(t, L().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, L().Core().Enabled(zapcore.DebugLevel))
}
