package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"atelier/internal/vision"
)

// ErrShutdown is returned by Submit once the dispatcher has been shut
// down.
var ErrShutdown = errors.New("dispatcher is shut down")

// ErrCancelled resolves tasks that were queued but never started when
// the dispatcher shut down.
var ErrCancelled = errors.New("task cancelled: dispatcher shut down")

// Outcome is the resolution of one submitted task: either a vision
// result or an error, plus the observed execution duration. Every
// submitted task resolves exactly once; failures never propagate out
// of the pool.
type Outcome struct {
	Result   vision.Result
	Err      error
	Duration time.Duration
}

// Future resolves once the task's executor call finishes.
type Future struct {
	ch chan Outcome
}

// Done returns a channel that receives the task's outcome exactly once.
func (f *Future) Done() <-chan Outcome {
	return f.ch
}

// Wait blocks until the task resolves.
func (f *Future) Wait() Outcome {
	return <-f.ch
}

type task struct {
	req     vision.Request
	onStart func()
	future  *Future
}

// Dispatcher drains an unbounded FIFO backlog of vision tasks through
// a fixed pool of workers, so at most `workers` executor calls are in
// flight at any instant. Admission order is strict FIFO; completion
// order is unconstrained.
type Dispatcher struct {
	exec    vision.Describer
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	backlog []*task
	closed  bool

	wg sync.WaitGroup
}

// New starts a dispatcher with the given concurrency ceiling. A
// non-positive ceiling falls back to 4 workers. A positive timeout
// bounds each executor call; expiry surfaces as a task failure, never
// as a job-level error.
func New(exec vision.Describer, workers int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		exec:    exec,
		timeout: timeout,
		logger:  logger,
	}
	d.cond = sync.NewCond(&d.mu)

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i + 1)
	}
	logger.Info("dispatcher started", "workers", workers, "task_timeout", timeout)

	return d
}

// Submit enqueues a task and returns its future immediately. The task
// starts as soon as a worker is free, in submission order. onStart, if
// non-nil, fires when the task is admitted to a worker; it runs under
// the scheduling lock so admission signals are observed in FIFO order
// and must not block.
func (d *Dispatcher) Submit(req vision.Request, onStart func()) (*Future, error) {
	f := &Future{ch: make(chan Outcome, 1)}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrShutdown
	}
	d.backlog = append(d.backlog, &task{req: req, onStart: onStart, future: f})
	d.mu.Unlock()

	d.cond.Signal()
	return f, nil
}

// Shutdown stops admission and drains the pool. Tasks already running
// complete normally; tasks still queued resolve with ErrCancelled. It
// returns when all workers have exited or the context expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		d.logger.Info("dispatcher drained")
		return nil
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		for len(d.backlog) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.backlog) == 0 && d.closed {
			d.mu.Unlock()
			return
		}

		t := d.backlog[0]
		d.backlog = d.backlog[1:]

		if d.closed {
			// Drain without running: queued-but-unstarted work is
			// cancelled at shutdown.
			d.mu.Unlock()
			t.future.ch <- Outcome{Err: ErrCancelled}
			continue
		}

		if t.onStart != nil {
			t.onStart()
		}
		d.mu.Unlock()

		t.future.ch <- d.run(id, t)
	}
}

// run executes one task and converts every failure mode, including a
// panicking executor, into a resolved Outcome so the worker slot is
// always recovered.
func (d *Dispatcher) run(workerID int, t *task) (out Outcome) {
	start := time.Now()

	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			d.logger.Error("executor panicked", "worker_id", workerID, "filename", t.req.Filename, "panic", r)
			out = Outcome{Err: errors.New("executor crashed"), Duration: time.Since(start)}
		}
	}()

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	res, err := d.exec.Describe(ctx, t.req)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Result: res}
}
