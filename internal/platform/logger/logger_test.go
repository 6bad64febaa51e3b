package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_FallsBackOnInvalidLevel(t *testing.T) {
	out := filepath.Join(t.TempDir(), "app.log")

	l, err := New(Config{Level: "loud", Encoding: "xml", OutputPath: out})
	require.NoError(t, err)

	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}

func TestNew_DebugLevel(t *testing.T) {
	l, err := New(Config{Level: "DEBUG", Encoding: "console", OutputPath: filepath.Join(t.TempDir(), "app.log")})
	require.NoError(t, err)

	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}
