package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocker.log")

	logger, err := New(Options{Level: "debug", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Debug("price history cached", zap.String("key", "BTCUSDT/1h"))
	_ = logger.Sync()

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"msg":"price history cached"`)
	assert.Contains(t, string(payload), `"key":"BTCUSDT/1h"`)
}

func TestNew_Level(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocker.log")

	logger, err := New(Options{Level: "warn", File: path})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "hidden")
	assert.Contains(t, string(payload), "shown")

	_, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}
