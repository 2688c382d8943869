package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/m4xw311/aitest/errors"
)

// Prompt is shown before each interactive read.
const Prompt = "入力してください: "

// Source yields queries one at a time. ok is false once the source is done.
type Source interface {
	Next(ctx context.Context) (query string, ok bool, err error)
}

// ListSource yields a fixed list of queries in order.
type ListSource struct {
	queries []string
	next    int
}

func NewListSource(queries []string) *ListSource {
	return &ListSource{queries: queries}
}

func (s *ListSource) Next(ctx context.Context) (string, bool, error) {
	if s.next >= len(s.queries) {
		return "", false, nil
	}
	q := s.queries[s.next]
	s.next++
	return q, true, nil
}

// InteractiveSource reads queries line by line until EOF or an exit keyword.
// Reads happen on a background goroutine so that a blocked read never delays
// cancellation.
type InteractiveSource struct {
	in     io.Reader
	prompt io.Writer

	once  sync.Once
	lines chan inputLine
}

type inputLine struct {
	text string
	err  error
}

func NewInteractiveSource(in io.Reader, prompt io.Writer) *InteractiveSource {
	return &InteractiveSource{in: in, prompt: prompt, lines: make(chan inputLine)}
}

// read feeds lines to Next and closes the channel at EOF. A read error is sent
// as the last value.
func (s *InteractiveSource) read() {
	defer close(s.lines)
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		s.lines <- inputLine{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		s.lines <- inputLine{err: err}
	}
}

func (s *InteractiveSource) Next(ctx context.Context) (string, bool, error) {
	s.once.Do(func() { go s.read() })
	for {
		if ctx.Err() != nil {
			return "", false, nil
		}
		fmt.Fprint(s.prompt, Prompt)

		var in inputLine
		var open bool
		select {
		case <-ctx.Done():
			return "", false, nil
		case in, open = <-s.lines:
		}
		// A line that raced with cancellation is dropped.
		if ctx.Err() != nil || !open {
			return "", false, nil
		}
		if in.err != nil {
			return "", false, errors.Wrapf(in.err, "failed to read input")
		}

		line := strings.TrimSpace(in.text)
		if line == "" {
			continue
		}
		if IsExitCommand(line) {
			return "", false, nil
		}
		return line, true, nil
	}
}

// IsExitCommand reports whether line is exit or quit in any letter case.
func IsExitCommand(line string) bool {
	line = strings.TrimSpace(line)
	return strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit")
}
