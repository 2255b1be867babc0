// Package scheduler fans archive fetches out over a fixed pool of workers.
//
// A batch is a slice of jobs. Workers claim job indexes from a shared
// cursor under a mutex, so no job runs twice, and write each outcome into
// the slot pre-allocated at the job's index: outcomes[i] always belongs
// to jobs[i], whatever order the jobs finish in. RunBatch blocks until
// every worker has exited; there are no partial results.
package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/zion/pkg/errors"
	"github.com/matzehuels/zion/pkg/fetch"
	"github.com/matzehuels/zion/pkg/httputil"
)

// Defaults applied to zero Options fields.
const (
	DefaultConcurrency = 4
	DefaultAttempts    = 3
	DefaultBaseDelay   = 500 * time.Millisecond
)

// Fetcher performs a single fetch. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Archive, error)
}

// Job is one unit of work: a reference, an optional pre-resolved URL, and
// whether to bypass the archive cache.
type Job struct {
	Ref     string
	URL     string
	Refresh bool
}

// Outcome is the result of a job.
type Outcome struct {
	Ref      string
	OK       bool
	Archive  *fetch.Archive
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// Message returns the error text, or "" on success.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return errors.UserMessage(o.Err)
}

// Progress is reported after every completed job.
type Progress struct {
	BatchID   string
	Completed int
	Total     int
	Rate      float64 // jobs per second since the batch started
	Outcome   Outcome
}

// Options configures a Scheduler.
type Options struct {
	Concurrency int
	Attempts    int
	BaseDelay   time.Duration

	// OnProgress is called after each job completes, serialized under the
	// completion mutex. It must not block for long.
	OnProgress func(Progress)

	Logger *log.Logger
}

// Scheduler runs batches of fetch jobs.
type Scheduler struct {
	fetcher Fetcher
	opts    Options
	logger  *log.Logger
}

// New creates a Scheduler.
func New(f Fetcher, opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{fetcher: f, opts: opts, logger: logger}
}

// WithProgress returns a copy of s that reports to fn.
func (s *Scheduler) WithProgress(fn func(Progress)) *Scheduler {
	c := *s
	c.opts.OnProgress = fn
	return &c
}

// batch is the state shared by the workers of one RunBatch call.
type batch struct {
	id       string
	jobs     []Job
	outcomes []Outcome
	start    time.Time

	mu   sync.Mutex // guards next
	next int

	doneMu    sync.Mutex // guards completed
	completed int
}

// claim returns the next unclaimed job index, or false when the batch is
// exhausted.
func (b *batch) claim() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next >= len(b.jobs) {
		return 0, false
	}
	i := b.next
	b.next++
	return i, true
}

// RunBatch runs jobs and returns their outcomes in job order.
func (s *Scheduler) RunBatch(ctx context.Context, jobs []Job) []Outcome {
	b := &batch{
		id:       uuid.NewString(),
		jobs:     jobs,
		outcomes: make([]Outcome, len(jobs)),
		start:    time.Now(),
	}
	if len(jobs) == 0 {
		return b.outcomes
	}

	workers := min(s.opts.Concurrency, len(jobs))
	logger := s.logger.With("batch", b.id[:8])
	logger.Debug("starting batch", "jobs", len(jobs), "workers", workers)

	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for {
				i, ok := b.claim()
				if !ok {
					return nil
				}
				b.outcomes[i] = s.run(ctx, b.jobs[i])
				s.complete(b, b.outcomes[i])
			}
		})
	}
	_ = g.Wait()

	logger.Debug("batch finished", "jobs", len(jobs), "elapsed", time.Since(b.start).Round(time.Millisecond))
	return b.outcomes
}

func (s *Scheduler) complete(b *batch, o Outcome) {
	b.doneMu.Lock()
	defer b.doneMu.Unlock()
	b.completed++

	if s.opts.OnProgress == nil {
		return
	}
	rate := 0.0
	if secs := time.Since(b.start).Seconds(); secs > 0 {
		rate = float64(b.completed) / secs
	}
	s.opts.OnProgress(Progress{
		BatchID:   b.id,
		Completed: b.completed,
		Total:     len(b.jobs),
		Rate:      rate,
		Outcome:   o,
	})
}

// run executes one job with retries. The delay before attempt n+1 is
// BaseDelay * 2^(n-1).
func (s *Scheduler) run(ctx context.Context, job Job) Outcome {
	start := time.Now()
	out := Outcome{Ref: job.Ref}

	err := httputil.RetryFunc(ctx, s.opts.Attempts, s.opts.BaseDelay, retryable, func(attempt int) error {
		out.Attempts = attempt
		a, err := s.fetcher.Fetch(ctx, fetch.Request{Ref: job.Ref, URL: job.URL, Refresh: job.Refresh})
		if err != nil {
			s.logger.Debug("fetch attempt failed", "ref", job.Ref, "attempt", attempt, "err", err)
			return err
		}
		out.Archive = a
		return nil
	})

	out.Err = err
	out.OK = err == nil
	out.Elapsed = time.Since(start)
	return out
}

// retryable reports whether a failed fetch is worth another attempt.
// Only failures the transfer marked transient are retried, so a 404 or a
// malformed reference fails on the first attempt.
func retryable(err error) bool {
	if errors.Is(err, errors.ErrCodeInvalidReference) {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return httputil.IsRetryable(err)
}
