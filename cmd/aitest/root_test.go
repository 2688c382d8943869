package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/aitest/config"
	"github.com/m4xw311/aitest/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty working directory with no user config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestApplyFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--llm", "mock", "--max-retries", "5", "--cooldown", "0s", "--thread-scope", "query"}))

	cfg := config.Default()
	require.NoError(t, applyFlags(cmd, &flags{llm: "mock", maxRetries: 5, threadScope: "query"}, cfg))
	assert.Equal(t, "mock", cfg.LLMClient)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Zero(t, cfg.Retry.Cooldown)
	assert.Equal(t, config.ThreadScopeQuery, cfg.ThreadScope)
	// untouched flags keep the file values
	assert.Equal(t, "gemini-2.0-flash", cfg.Model)
}

func TestApplyFlagsRejectsInvalidValues(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--thread-scope", "forever"}))
	assert.Error(t, applyFlags(cmd, &flags{threadScope: "forever"}, config.Default()))

	cmd = newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "verbose"}))
	assert.Error(t, applyFlags(cmd, &flags{logLevel: "verbose"}, config.Default()))
}

func TestThreadFlagMustBePlainName(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--thread", "../../x"}))
	assert.Error(t, applyFlags(cmd, &flags{thread: "../../x"}, config.Default()))

	dir := isolate(t)
	inputs := filepath.Join(dir, "inputs.json")
	require.NoError(t, os.WriteFile(inputs, []byte(`["1→x"]`), 0644))
	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--llm", "mock", "--inputs", inputs, "--mcp-config", "", "--thread", "../x", "--log-level", "error"})
	assert.Error(t, cmd.Execute())
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "x.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunWithMockLLM(t *testing.T) {
	dir := isolate(t)
	inputs := filepath.Join(dir, "inputs.json")
	require.NoError(t, os.WriteFile(inputs, []byte(`["1→トップページを開く", "2→ログインする"]`), 0644))
	results := filepath.Join(dir, "out")

	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--llm", "mock",
		"--inputs", inputs,
		"--mcp-config", "",
		"--results-dir", results,
		"--cooldown", "0s",
		"--log-level", "error",
	})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, 2, strings.Count(stdout.String(), "================================="))

	files, err := filepath.Glob(filepath.Join(results, "test_results_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var got []report.Result
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].TestNumber)
	assert.Equal(t, "2", got[1].TestNumber)
	assert.Equal(t, report.StatusSuccess, got[1].Status)
}

func TestRunEmptyInputsFallsBackToInteractive(t *testing.T) {
	dir := isolate(t)
	inputs := filepath.Join(dir, "inputs.json")
	require.NoError(t, os.WriteFile(inputs, []byte(`[]`), 0644))

	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader("7→hello\nexit\n"))
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--llm", "mock", "--inputs", inputs, "--mcp-config", "", "--cooldown", "0s", "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "入力してください: ")
	assert.Contains(t, stdout.String(), "7→hello")
	files, err := filepath.Glob(filepath.Join(dir, "results", "test_results_*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRunFailsOnMissingInputs(t *testing.T) {
	dir := isolate(t)
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--llm", "mock", "--inputs", filepath.Join(dir, "missing.json"), "--log-level", "error"})
	assert.Error(t, cmd.Execute())
}

func TestRunFailsOnUnknownLLM(t *testing.T) {
	dir := isolate(t)
	inputs := filepath.Join(dir, "inputs.json")
	require.NoError(t, os.WriteFile(inputs, []byte(`["1→x"]`), 0644))
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--llm", "llama", "--inputs", inputs, "--log-level", "error"})
	assert.Error(t, cmd.Execute())
}
