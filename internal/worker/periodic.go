package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Task is one cycle of a periodic job. Returning an error makes the next
// cycle wait for an exponentially growing backoff instead of the interval.
type Task func(ctx context.Context) error

// Periodic runs a Task on a fixed interval until stopped. A running cycle
// is never interrupted by Stop unless the grace context expires first.
type Periodic struct {
	name       string
	interval   time.Duration
	maxBackoff time.Duration
	immediate  bool
	task       Task
	logger     *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	abort   context.CancelFunc
	running bool
}

// Option configures a Periodic.
type Option func(*Periodic)

// WithMaxBackoff caps the delay applied after consecutive failures.
func WithMaxBackoff(d time.Duration) Option {
	return func(p *Periodic) { p.maxBackoff = d }
}

// WithImmediateRun runs the first cycle as soon as the loop starts.
func WithImmediateRun() Option {
	return func(p *Periodic) { p.immediate = true }
}

// WithLogger sets the logger used for loop lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(p *Periodic) { p.logger = l }
}

// NewPeriodic creates a stopped periodic runner. The name is used as the log
// tag, e.g. "VOTE-BUFFER".
func NewPeriodic(name string, interval time.Duration, task Task, opts ...Option) *Periodic {
	p := &Periodic{
		name:       name,
		interval:   interval,
		maxBackoff: 30 * time.Second,
		task:       task,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxBackoff < interval {
		p.maxBackoff = interval
	}
	return p
}

// Start launches the loop. Cycles run with a context derived from ctx that
// ignores ctx's cancellation; use Stop to end the loop. Calling Start on a
// running loop is a no-op. A non-positive interval disables the loop.
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	if p.interval <= 0 {
		p.logger.Info("[" + p.name + "] periodic job disabled (interval=0)")
		return
	}

	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.abort = abort
	p.running = true

	go p.loop(runCtx, p.stop, p.done)
}

// Stop signals the loop to exit and waits for the in-flight cycle, if any,
// to finish. If ctx expires first the cycle's context is cancelled and
// ctx.Err() is returned.
func (p *Periodic) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stop)
	done, abort := p.done, p.abort
	p.mu.Unlock()

	defer abort()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("["+p.name+"] shutdown grace period expired, aborting in-flight cycle",
			"error", ctx.Err(),
		)
		abort()
		<-done
		return ctx.Err()
	}
}

func (p *Periodic) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	p.logger.Info("["+p.name+"] periodic job started", "interval", p.interval)

	backoff := p.newBackoff()
	delay := p.interval
	if p.immediate {
		delay = 0
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	cycleCount := 0
	failures := 0
	for {
		select {
		case <-stop:
			p.logger.Info("[" + p.name + "] periodic job stopped")
			return
		case <-timer.C:
			select {
			case <-stop:
				p.logger.Info("[" + p.name + "] periodic job stopped")
				return
			default:
			}
		}

		cycleCount++
		err := Safe(func() error { return p.task(ctx) })
		if err != nil {
			failures++
			next, _ := backoff.Next()
			if next < p.interval {
				next = p.interval
			}
			p.logger.Warn("["+p.name+"] cycle failed, backing off",
				"error", err,
				"cycle", cycleCount,
				"consecutive_failures", failures,
				"retry_in", next,
			)
			timer.Reset(next)
			continue
		}

		if failures > 0 {
			p.logger.Info("["+p.name+"] recovered after failures", "consecutive_failures", failures)
			failures = 0
			backoff = p.newBackoff()
		}
		if cycleCount%600 == 0 {
			p.logger.Debug("["+p.name+"] heartbeat", "cycle", cycleCount)
		}
		timer.Reset(p.interval)
	}
}

func (p *Periodic) newBackoff() retry.Backoff {
	base := p.interval
	if base <= 0 {
		base = time.Second
	}
	return retry.WithCappedDuration(p.maxBackoff, retry.NewExponential(base))
}
