package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/aitest/agent"
	"github.com/m4xw311/aitest/config"
	"github.com/m4xw311/aitest/errors"
	"github.com/m4xw311/aitest/report"
	"github.com/m4xw311/aitest/session"
	"github.com/rs/zerolog"
)

const (
	// Separator splits the test number from the query text.
	Separator = "→"

	RateLimitMessage = report.ErrorMarker + ": レート制限によりテストを実行できませんでした"

	banner = "================================="
)

// Invoker runs one query on a conversation thread.
type Invoker interface {
	Invoke(ctx context.Context, threadID, input string) ([]session.Message, error)
}

// Reporter persists the results of a run.
type Reporter interface {
	Save(results []report.Result)
}

type Options struct {
	Agent    Invoker
	Reporter Reporter

	// MaxRetries bounds the total number of attempts per query.
	MaxRetries     int
	Cooldown       time.Duration
	Backoff        time.Duration
	RetryTransient bool

	// ThreadScope is config.ThreadScopeRun or config.ThreadScopeQuery.
	ThreadScope string
	// ThreadID resumes an existing thread. Empty starts a new one.
	ThreadID string

	Stdout io.Writer
	Logger zerolog.Logger
}

// Runner drives queries through the agent one at a time.
type Runner struct {
	agent          Invoker
	reporter       Reporter
	maxRetries     int
	cooldown       time.Duration
	backoff        time.Duration
	retryTransient bool
	threadScope    string
	threadID       string
	stdout         io.Writer
	log            zerolog.Logger

	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	newThreadID func() string
}

func New(opts Options) *Runner {
	r := &Runner{
		agent:          opts.Agent,
		reporter:       opts.Reporter,
		maxRetries:     opts.MaxRetries,
		cooldown:       opts.Cooldown,
		backoff:        opts.Backoff,
		retryTransient: opts.RetryTransient,
		threadScope:    opts.ThreadScope,
		threadID:       opts.ThreadID,
		stdout:         opts.Stdout,
		log:            opts.Logger,
		sleep:          sleepContext,
		now:            time.Now,
		newThreadID:    func() string { return uuid.NewString() },
	}
	if r.maxRetries < 1 {
		r.maxRetries = 1
	}
	if r.threadScope == "" {
		r.threadScope = config.ThreadScopeRun
	}
	if r.stdout == nil {
		r.stdout = os.Stdout
	}
	return r
}

// Run consumes src until it is exhausted, the exit keyword is read or ctx is
// cancelled. Every consumed query yields exactly one result, in order. The
// report is written whenever at least one result exists.
func (r *Runner) Run(ctx context.Context, src Source) ([]report.Result, error) {
	var results []report.Result
	defer func() {
		if len(results) > 0 && r.reporter != nil {
			r.reporter.Save(results)
		}
	}()

	threadID := r.threadID
	if threadID == "" {
		threadID = r.newThreadID()
	}

	for ctx.Err() == nil {
		query, ok, err := src.Next(ctx)
		if err != nil {
			return results, err
		}
		if !ok {
			break
		}
		if r.threadScope == config.ThreadScopeQuery && len(results) > 0 {
			threadID = r.newThreadID()
		}

		testNumber := ParseTestNumber(query)
		r.log.Info().Str("test", testNumber).Str("thread", threadID).Msg("running test")

		response := r.process(ctx, threadID, testNumber, query)
		fmt.Fprintln(r.stdout, banner)
		fmt.Fprintln(r.stdout, response)

		results = append(results, report.NewResult(testNumber, response, r.now()))
	}
	if err := ctx.Err(); err != nil {
		r.log.Warn().Err(err).Int("completed", len(results)).Msg("run interrupted")
	}
	return results, nil
}

// process runs one query with cooldown and bounded retries and always returns
// the text to record.
func (r *Runner) process(ctx context.Context, threadID, testNumber, query string) string {
	for attempt := 1; ; attempt++ {
		if err := r.sleep(ctx, r.cooldown); err != nil {
			return errorResponse(err)
		}

		history, err := r.agent.Invoke(ctx, threadID, query)
		if err == nil {
			return agent.FinalResponse(history)
		}

		kind := errors.KindOf(err)
		if kind != errors.RateLimited && !(kind == errors.Transient && r.retryTransient) {
			r.log.Error().Err(err).Str("test", testNumber).Stringer("kind", kind).Msg("test failed")
			return errorResponse(err)
		}
		if attempt >= r.maxRetries {
			r.log.Error().Err(err).Str("test", testNumber).Int("attempts", attempt).Msg("retries exhausted")
			if kind == errors.RateLimited {
				return RateLimitMessage
			}
			return errorResponse(err)
		}

		r.log.Warn().Err(err).
			Str("test", testNumber).
			Int("attempt", attempt).
			Dur("backoff", r.backoff).
			Msg("retrying after backoff")
		if err := r.sleep(ctx, r.backoff); err != nil {
			return errorResponse(err)
		}
	}
}

func errorResponse(err error) string {
	return report.ErrorMarker + ": " + err.Error()
}

// ParseTestNumber returns the text before Separator, or the whole query when
// there is none.
func ParseTestNumber(query string) string {
	if before, _, found := strings.Cut(query, Separator); found {
		return strings.TrimSpace(before)
	}
	return strings.TrimSpace(query)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
