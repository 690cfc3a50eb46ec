// Package ratelimit paces calls to quota-bound external APIs.
//
// A Limiter is a FIFO queue drained by a single dispatcher goroutine: at most
// one job runs at a time, consecutive jobs are spaced by MinInterval, the
// backlog is bounded by HighWater, and jobs failing with a rate-limit error
// re-join the back of the queue until MaxRetries or MaxRetryWindow is hit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"backoffice/internal/core"
)

// Strategy decides which job is dropped when the queue overflows.
type Strategy string

const (
	// StrategyLeak drops the oldest pending job.
	StrategyLeak Strategy = "LEAK"
	// StrategyOverflow rejects the newly submitted job.
	StrategyOverflow Strategy = "OVERFLOW"
)

var (
	ErrDropped = errors.New("rate limiter: job dropped from full queue")
	ErrStopped = errors.New("rate limiter: stopped")
)

// Config holds limiter configuration
type Config struct {
	Name           string
	MinInterval    time.Duration
	HighWater      int
	Strategy       Strategy
	MaxRetries     int
	MaxRetryWindow time.Duration

	// Retryable decides whether a failed job is re-enqueued. Defaults to
	// core.IsRateLimited.
	Retryable func(error) bool
}

// DefaultConfig returns the quota-safe defaults used for Google APIs.
func DefaultConfig() Config {
	return Config{
		Name:           "google",
		MinInterval:    2 * time.Second,
		HighWater:      50,
		Strategy:       StrategyLeak,
		MaxRetries:     10,
		MaxRetryWindow: 60 * time.Second,
		Retryable:      core.IsRateLimited,
	}
}

// ParseStrategy accepts LEAK or OVERFLOW, case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToUpper(strings.TrimSpace(s))); st {
	case StrategyLeak, StrategyOverflow:
		return st, nil
	}
	return "", fmt.Errorf("unknown overflow strategy %q", s)
}

// Job is a unit of work run by the limiter.
type Job func(ctx context.Context) (any, error)

// Future resolves with a job's final result.
type Future struct {
	done chan struct{}
	once sync.Once
	val  any
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(val any, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
	})
}

// Done is closed once the job has succeeded, failed, or been dropped.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the job resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pending struct {
	ctx      context.Context
	job      Job
	future   *Future
	attempts int
	firstRun time.Time
	lastErr  error
}

// Stats is a snapshot of limiter counters.
type Stats struct {
	Queued    int    `json:"queued"`
	InFlight  int    `json:"inFlight"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
	Dropped   uint64 `json:"dropped"`
}

// Limiter serialises and paces jobs.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	queue    []*pending
	stats    Stats
	stopped  bool
	notify   chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a limiter and starts its dispatcher.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = def.HighWater
	}
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetryWindow <= 0 {
		cfg.MaxRetryWindow = def.MaxRetryWindow
	}
	if cfg.Retryable == nil {
		cfg.Retryable = def.Retryable
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}

	l := &Limiter{
		cfg:    cfg,
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go l.run()
	return l
}

// Submit enqueues job and returns its future. ctx is passed to the job and,
// if cancelled before the job starts, the job is skipped.
func (l *Limiter) Submit(ctx context.Context, job Job) *Future {
	p := &pending{ctx: ctx, job: job, future: newFuture()}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		p.future.resolve(nil, ErrStopped)
		return p.future
	}
	dropped := l.enqueueLocked(p)
	l.mu.Unlock()

	if dropped != nil {
		l.drop(dropped)
	}
	l.wake()
	return p.future
}

// Do runs fn through the limiter and waits for its final error.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := l.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	}).Wait(ctx)
	return err
}

// Schedule runs fn through l and returns its typed result.
func Schedule[T any](ctx context.Context, l *Limiter, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := l.Submit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}).Wait(ctx)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok && v != nil {
		return zero, fmt.Errorf("rate limiter: unexpected result type %T", v)
	}
	return out, nil
}

// enqueueLocked appends p and returns the job evicted by the overflow
// strategy, if any.
func (l *Limiter) enqueueLocked(p *pending) *pending {
	l.queue = append(l.queue, p)
	if len(l.queue) <= l.cfg.HighWater {
		return nil
	}
	var victim *pending
	if l.cfg.Strategy == StrategyOverflow {
		victim = l.queue[len(l.queue)-1]
		l.queue = l.queue[:len(l.queue)-1]
	} else {
		victim = l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
	}
	l.stats.Dropped++
	return victim
}

func (l *Limiter) drop(p *pending) {
	slog.WarnContext(p.ctx, "Rate limiter queue full, dropping job",
		"limiter", l.cfg.Name,
		"strategy", string(l.cfg.Strategy),
		"high_water", l.cfg.HighWater)
	p.future.resolve(nil, core.E(core.KindRateLimited, "ratelimit.enqueue", ErrDropped))
}

func (l *Limiter) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Limiter) next() (*pending, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	p := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return p, true
}

// run is the dispatcher loop
func (l *Limiter) run() {
	defer close(l.doneCh)

	var lastDone time.Time
	for {
		p, ok := l.next()
		if !ok {
			select {
			case <-l.notify:
				continue
			case <-l.stopCh:
				return
			}
		}

		if err := p.ctx.Err(); err != nil {
			p.future.resolve(nil, err)
			continue
		}

		if !lastDone.IsZero() {
			if wait := l.cfg.MinInterval - time.Since(lastDone); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-l.stopCh:
					timer.Stop()
					p.future.resolve(nil, ErrStopped)
					return
				}
			}
		}

		// A retried job that waited in the queue past its window is not
		// started again.
		if p.attempts > 0 && time.Since(p.firstRun) > l.cfg.MaxRetryWindow {
			l.finish(p, nil, p.lastErr)
			continue
		}

		val, err := l.invoke(p)
		lastDone = time.Now()

		if err != nil && l.shouldRetry(p, err, lastDone) {
			p.attempts++
			p.lastErr = err
			slog.WarnContext(p.ctx, "Rate limited, re-queueing job",
				"limiter", l.cfg.Name,
				"attempt", p.attempts,
				"max_retries", l.cfg.MaxRetries,
				"error", err)
			l.mu.Lock()
			l.stats.InFlight = 0
			if l.stopped {
				l.mu.Unlock()
				p.future.resolve(nil, ErrStopped)
				continue
			}
			l.stats.Retried++
			dropped := l.enqueueLocked(p)
			l.mu.Unlock()
			if dropped != nil {
				l.drop(dropped)
			}
			continue
		}

		l.finish(p, val, err)
	}
}

func (l *Limiter) finish(p *pending, val any, err error) {
	l.mu.Lock()
	l.stats.InFlight = 0
	if err != nil {
		l.stats.Failed++
	} else {
		l.stats.Completed++
	}
	l.mu.Unlock()
	p.future.resolve(val, err)
}

// invoke runs one attempt, converting a panic into an error.
func (l *Limiter) invoke(p *pending) (val any, err error) {
	l.mu.Lock()
	l.stats.InFlight = 1
	l.mu.Unlock()

	if p.firstRun.IsZero() {
		p.firstRun = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(p.ctx, "Rate limited job panicked", "limiter", l.cfg.Name, "panic", r)
			val, err = nil, core.Errorf(core.KindInternal, "ratelimit.invoke", "job panicked: %v", r)
		}
	}()
	return p.job(p.ctx)
}

// shouldRetry allows another attempt only while both the retry count and the
// retry window (measured from the first attempt, including the spacing the
// next attempt must wait) still have room.
func (l *Limiter) shouldRetry(p *pending, err error, now time.Time) bool {
	if !l.cfg.Retryable(err) {
		return false
	}
	if p.attempts >= l.cfg.MaxRetries {
		return false
	}
	if p.ctx.Err() != nil {
		return false
	}
	return now.Add(l.cfg.MinInterval).Sub(p.firstRun) <= l.cfg.MaxRetryWindow
}

// Stats returns current counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Queued = len(l.queue)
	return s
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config { return l.cfg }

// Stop rejects pending jobs with ErrStopped and waits for the in-flight job
// to finish or ctx to expire.
func (l *Limiter) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		rest := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, p := range rest {
			p.future.resolve(nil, ErrStopped)
		}
		close(l.stopCh)
	})

	select {
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
