package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesToFile(t *testing.T) {
	prev := Lg
	t.Cleanup(func() { Lg = prev })

	path := filepath.Join(t.TempDir(), "meshcall.log")
	require.NoError(t, Init(LogConfig{Level: "debug", Filename: path, MaxSize: 1}, "production"))

	Named("test").Info("hello")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"logger":"test"`)
}

func TestInit_RejectsBadLevel(t *testing.T) {
	prev := Lg
	t.Cleanup(func() { Lg = prev })

	assert.Error(t, Init(LogConfig{Level: "loud"}, "production"))
}
