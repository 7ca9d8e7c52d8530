// Package sender runs outbound Telegram calls on a bounded worker pool.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/walletlink/core/logger"
	"github.com/m3rciful/walletlink/core/netutil"
)

const component = "tg.sender"

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
	// OnResult, when set, is told the final status ("ok" or "fail") of every job.
	OnResult func(action, status string)
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

// Queue accepts outbound calls for later execution.
type Queue interface {
	Enqueue(ctx context.Context, action, endpoint string, run func() error) error
}

// Deliver enqueues run on q. A nil queue, or one that is full or closed,
// runs the call inline instead.
func Deliver(ctx context.Context, q Queue, action, endpoint string, run func() error) error {
	if q == nil {
		return run()
	}
	err := q.Enqueue(ctx, action, endpoint, run)
	if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueClosed) {
		logger.Warn(ctx, component, "queue.fallback",
			slog.String("status", "retry"),
			slog.String("action", action),
			slog.String("endpoint", endpoint),
			slog.String("err", err.Error()),
		)
		return run()
	}
	return err
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

func (j job) attrs(extra ...slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, 2+len(extra))
	out = append(out, slog.String("action", j.action))
	if j.endpoint != "" {
		out = append(out, slog.String("endpoint", j.endpoint))
	}
	return append(out, extra...)
}

// Dispatcher executes outbound Telegram calls asynchronously with retries.
type Dispatcher struct {
	opts Options
	jobs chan job
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
	errs atomic.Uint64
}

// NewDispatcher starts the workers. Zero options take defaults.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
		stop: make(chan struct{}),
	}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				d.process(j)
			}
		}()
	}
	return d
}

// Enqueue schedules run for asynchronous execution. run may be called more
// than once, so it must be safe to repeat.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of failed jobs.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops accepting jobs and waits for the queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		close(d.jobs)
		d.wg.Wait()
	})
}

func (d *Dispatcher) process(j job) {
	start := time.Now()
	logger.Debug(j.ctx, component, "send.start", j.attrs()...)

	attempts, err := d.attempt(j)
	status := "ok"
	if err != nil {
		status = "fail"
		d.errs.Add(1)
		logger.Error(j.ctx, component, "send",
			j.attrs(
				slog.String("status", status),
				slog.Int("attempts", attempts),
				slog.Duration("duration", logger.Took(start)),
				slog.String("err", redact(err)),
				slog.String("err_code", errKind(err)),
			)...,
		)
	} else {
		level := slog.LevelDebug
		if attempts > 1 {
			level = slog.LevelInfo
		}
		logger.Event(j.ctx, component, level, "send",
			j.attrs(
				slog.String("status", status),
				slog.Int("attempts", attempts),
				slog.Duration("duration", logger.Took(start)),
			)...,
		)
	}
	if d.opts.OnResult != nil {
		d.opts.OnResult(j.action, status)
	}
}

// attempt runs j until it succeeds, fails permanently, exhausts its retries
// or runs out of time. It returns the number of calls made.
func (d *Dispatcher) attempt(j job) (int, error) {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()

	limit := d.opts.MaxRetries + 1
	calls := 0
	for {
		if err := ctx.Err(); err != nil {
			return calls, err
		}
		calls++
		err := j.run()
		if err == nil {
			return calls, nil
		}
		wait, flood := floodWait(err)
		if calls == limit || (!flood && !netutil.ShouldRetry(err)) {
			return calls, err
		}

		delay := max(d.opts.RetryBackoff*time.Duration(calls), wait)
		logger.Debug(j.ctx, component, "send.backoff",
			j.attrs(
				slog.String("status", "retry"),
				slog.Int("attempts", calls),
				slog.Int64("backoff_ms", delay.Milliseconds()),
				slog.String("err", redact(err)),
			)...,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return calls, ctx.Err()
		case <-timer.C:
		}
	}
}
