package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRotatingWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	w, err := NewRotatingWriter(path, 64)
	require.NoError(t, err)
	defer w.Close()

	line := []byte(strings.Repeat("x", 40) + "\n")
	_, err = w.Write(line)
	require.NoError(t, err)
	_, err = w.Write(line)
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	require.NoError(t, err, "backup should exist after exceeding max size")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestSetup_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	closeFn, err := Setup("info", "json", path)
	require.NoError(t, err)

	zap.L().Info("hello", zap.String("component", "test"))
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"component":"test"`)

	zap.ReplaceGlobals(zap.NewNop())
}

func TestSetup_BadLevel(t *testing.T) {
	_, err := Setup("loud", "json", "")
	require.Error(t, err)
}
