package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithConsole(Config{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer l.Close()

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestEmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithConsole(Config{}, &buf)
	require.NoError(t, err)

	l.Debug().Msg("debug line")
	l.Info().Msg("info line")

	assert.NotContains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "info line")
}

func TestInvalidLevelIsRejected(t *testing.T) {
	_, err := newWithConsole(Config{Level: "chatty"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatty")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	var buf bytes.Buffer
	l, err := newWithConsole(Config{Level: "info", File: path}, &buf)
	require.NoError(t, err)

	l.Info().Str("test_number", "1").Msg("written twice")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"test_number":"1"`)
	assert.Contains(t, buf.String(), "written twice")
}
