package logger

import (
	"os"
	"path/filepath"
	"testing"

	"tickwrangler/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestNewInvalidLevel
func TestNewInvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

// go test -v --run TestNewWritesFile
func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wrangler.log")
	log, err := New(config.LogConfig{Level: "debug", Format: "json", OutputFile: path}, zap.String("run_id", "r1"))
	require.NoError(t, err)

	log.Info("hello")
	_ = log.Sync() // stdout sync fails on some terminals

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
	assert.Contains(t, string(b), `"run_id":"r1"`)
}
