package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m4xw311/aitest/errors"
	"github.com/rs/zerolog"
)

const (
	// ErrorMarker is the substring that marks a response as a failure.
	ErrorMarker = "エラー"

	StatusSuccess = "success"
	StatusError   = "error"

	unknownTestNumber = "unknown"
	fileTimeLayout    = "20060102_150405"
)

// Result is one report record.
type Result struct {
	TestNumber string `json:"test_number"`
	Timestamp  string `json:"timestamp"`
	Response   string `json:"response"`
	Status     string `json:"status"`
}

// NewResult builds the record for a query answered at t.
func NewResult(testNumber, response string, t time.Time) Result {
	if testNumber == "" {
		testNumber = unknownTestNumber
	}
	return Result{
		TestNumber: testNumber,
		Timestamp:  t.Format(time.RFC3339),
		Response:   response,
		Status:     StatusOf(response),
	}
}

func StatusOf(response string) string {
	if strings.Contains(response, ErrorMarker) {
		return StatusError
	}
	return StatusSuccess
}

type Summary struct {
	Total   int
	Success int
	Error   int
}

// Summarize counts results by the error marker in their response.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if StatusOf(r.Response) == StatusError {
			s.Error++
		} else {
			s.Success++
		}
	}
	return s
}

// Writer writes one report file per run.
type Writer struct {
	Dir    string
	Start  time.Time
	Logger zerolog.Logger
}

// Path is <Dir>/test_results_<start>.json.
func (w *Writer) Path() string {
	return filepath.Join(w.Dir, "test_results_"+w.Start.Format(fileTimeLayout)+".json")
}

// Write serializes results as an indented JSON array and returns the file path.
func (w *Writer) Write(results []Result) (string, error) {
	if results == nil {
		results = []Result{}
	}
	data, err := encode(results)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode results")
	}
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create results directory %s", w.Dir)
	}
	path := w.Path()
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", path)
	}
	return path, nil
}

// Save writes the report and logs the summary. Failures are logged with the
// payload that could not be written and never returned.
func (w *Writer) Save(results []Result) {
	path, err := w.Write(results)
	if err != nil {
		payload, _ := encode(results)
		w.Logger.Error().Err(err).Str("payload", string(payload)).Msg("failed to save test results")
		return
	}
	s := Summarize(results)
	w.Logger.Info().
		Str("path", path).
		Int("total", s.Total).
		Int("success", s.Success).
		Int("errors", s.Error).
		Msg("test results saved")
}

// encode keeps non-ASCII text and HTML characters as-is.
func encode(results []Result) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
