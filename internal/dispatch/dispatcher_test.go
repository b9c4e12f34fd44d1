package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"atelier/internal/vision"
)

// fakeExecutor lets tests control when each Describe call returns and
// observe how many calls are in flight at once.
type fakeExecutor struct {
	release  chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	fail func(req vision.Request) error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{release: make(chan struct{})}
}

func (f *fakeExecutor) Describe(ctx context.Context, req vision.Request) (vision.Result, error) {
	cur := f.inFlight.Add(1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	defer f.inFlight.Add(-1)

	select {
	case <-f.release:
	case <-ctx.Done():
		return vision.Result{}, ctx.Err()
	}

	if f.fail != nil {
		if err := f.fail(req); err != nil {
			return vision.Result{}, err
		}
	}
	return vision.Result{Description: "described " + req.Filename, Tokens: 10}, nil
}

func TestConcurrencyCeiling(t *testing.T) {
	exec := newFakeExecutor()
	d := New(exec, 2, 0, nil)
	defer d.Shutdown(context.Background())

	var futures []*Future
	for i := 0; i < 8; i++ {
		f, err := d.Submit(vision.Request{Filename: fmt.Sprintf("img-%d.jpg", i)}, nil)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		futures = append(futures, f)
	}

	// Give workers a moment to pick up as much as they can.
	time.Sleep(50 * time.Millisecond)
	close(exec.release)

	for _, f := range futures {
		if out := f.Wait(); out.Err != nil {
			t.Fatalf("unexpected task error: %v", out.Err)
		}
	}

	if max := exec.maxSeen.Load(); max > 2 {
		t.Fatalf("concurrency ceiling exceeded: saw %d in flight", max)
	}
}

func TestFIFOAdmissionOrder(t *testing.T) {
	exec := newFakeExecutor()
	// Single worker makes admission order fully observable.
	d := New(exec, 1, 0, nil)
	defer d.Shutdown(context.Background())

	var mu sync.Mutex
	var started []string

	var futures []*Future
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("img-%d.jpg", i)
		f, err := d.Submit(vision.Request{Filename: name}, func() {
			mu.Lock()
			started = append(started, name)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		futures = append(futures, f)
	}

	close(exec.release)
	for _, f := range futures {
		f.Wait()
	}

	mu.Lock()
	defer mu.Unlock()
	for i, name := range started {
		want := fmt.Sprintf("img-%d.jpg", i)
		if name != want {
			t.Fatalf("admission order broken at %d: got %s, want %s (full: %v)", i, name, want, started)
		}
	}
}

func TestFailureIsolation(t *testing.T) {
	exec := newFakeExecutor()
	exec.fail = func(req vision.Request) error {
		if req.Filename == "bad.jpg" {
			return errors.New("upstream rejected image")
		}
		return nil
	}
	d := New(exec, 2, 0, nil)
	defer d.Shutdown(context.Background())

	good, _ := d.Submit(vision.Request{Filename: "good.jpg"}, nil)
	bad, _ := d.Submit(vision.Request{Filename: "bad.jpg"}, nil)
	close(exec.release)

	if out := bad.Wait(); out.Err == nil {
		t.Fatalf("expected failing task to resolve with error")
	}
	out := good.Wait()
	if out.Err != nil {
		t.Fatalf("sibling task affected by failure: %v", out.Err)
	}
	if out.Result.Description != "described good.jpg" {
		t.Fatalf("unexpected result: %+v", out.Result)
	}
	if out.Duration <= 0 {
		t.Fatalf("expected positive duration, got %v", out.Duration)
	}
}

func TestTaskTimeoutBecomesFailure(t *testing.T) {
	exec := newFakeExecutor() // never released: tasks block until ctx expiry
	d := New(exec, 1, 20*time.Millisecond, nil)
	defer d.Shutdown(context.Background())

	f, err := d.Submit(vision.Request{Filename: "slow.jpg"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	out := f.Wait()
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", out.Err)
	}
}

func TestPanickingExecutorResolvesTask(t *testing.T) {
	exec := newFakeExecutor()
	exec.fail = func(req vision.Request) error {
		if req.Filename == "img.jpg" {
			panic("boom")
		}
		return nil
	}
	d := New(exec, 1, 0, nil)
	defer d.Shutdown(context.Background())

	f, _ := d.Submit(vision.Request{Filename: "img.jpg"}, nil)
	next, _ := d.Submit(vision.Request{Filename: "after.jpg"}, nil)
	close(exec.release)

	if out := f.Wait(); out.Err == nil {
		t.Fatalf("expected panic to surface as task failure")
	}

	// The worker slot must survive the panic and keep draining.
	if out := next.Wait(); out.Err != nil {
		t.Fatalf("expected worker to survive panic, got %v", out.Err)
	}
}

func TestShutdownCancelsQueuedTasks(t *testing.T) {
	exec := newFakeExecutor()
	d := New(exec, 1, 0, nil)

	running, _ := d.Submit(vision.Request{Filename: "running.jpg"}, nil)
	queued, _ := d.Submit(vision.Request{Filename: "queued.jpg"}, nil)

	// Let the first task reach the executor before shutting down.
	for exec.inFlight.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	done := make(chan error, 1)
	go func() {
		done <- d.Shutdown(context.Background())
	}()

	// In-flight task completes normally once released.
	close(exec.release)
	if out := running.Wait(); out.Err != nil {
		t.Fatalf("expected in-flight task to finish, got %v", out.Err)
	}

	// The queued task never runs; it resolves cancelled during drain.
	if out := queued.Wait(); !errors.Is(out.Err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled for queued task, got %v", out.Err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := d.Submit(vision.Request{Filename: "late.jpg"}, nil); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown after shutdown, got %v", err)
	}
}
