package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 14, 9, 26, 53, 0, time.FixedZone("JST", 9*60*60))

func TestNewResult(t *testing.T) {
	r := NewResult("3", "ログインに成功しました", start)
	assert.Equal(t, "3", r.TestNumber)
	assert.Equal(t, "2025-03-14T09:26:53+09:00", r.Timestamp)
	assert.Equal(t, StatusSuccess, r.Status)

	r = NewResult("", "エラー: timeout", start)
	assert.Equal(t, "unknown", r.TestNumber)
	assert.Equal(t, StatusError, r.Status)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Result{
		{TestNumber: "1", Response: "ok"},
		{TestNumber: "2", Response: "エラー: x"},
	})
	assert.Equal(t, Summary{Total: 2, Success: 1, Error: 1}, s)
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	w := &Writer{Dir: dir, Start: start, Logger: zerolog.Nop()}

	results := []Result{
		NewResult("1", "<b>画面</b> & done", start),
		NewResult("2", "エラー: レート制限によりテストを実行できませんでした", start),
	}
	path, err := w.Write(results)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "test_results_20250314_092653.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<b>画面</b> & done")
	assert.Contains(t, string(data), "\n  {\n    \"test_number\": \"1\"")

	var decoded []Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, results, decoded)
}

func TestWriteEmpty(t *testing.T) {
	w := &Writer{Dir: t.TempDir(), Start: start}
	path, err := w.Write(nil)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestSaveSwallowsFailure(t *testing.T) {
	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "results")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	var logs bytes.Buffer
	w := &Writer{Dir: blocker, Start: start, Logger: zerolog.New(&logs)}
	_, err := w.Write([]Result{NewResult("1", "ok", start)})
	assert.Error(t, err)

	w.Save([]Result{NewResult("1", "ok", start)})
	assert.Contains(t, logs.String(), "failed to save test results")
	assert.Contains(t, logs.String(), "test_number")
}

func TestSaveLogsSummary(t *testing.T) {
	var logs bytes.Buffer
	w := &Writer{Dir: t.TempDir(), Start: start, Logger: zerolog.New(&logs)}
	w.Save([]Result{NewResult("1", "ok", start), NewResult("2", "エラー: boom", start)})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "test results saved", entry["message"])
	assert.EqualValues(t, 2, entry["total"])
	assert.EqualValues(t, 1, entry["success"])
	assert.EqualValues(t, 1, entry["errors"])
}
