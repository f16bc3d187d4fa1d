// Package scheduler implements the Scheduler / Ticker Kernel (C10): the
// single process-wide owner of every periodic timer, and the five
// terminal-state cleanup protocols. Grounded in the teacher's
// cmd/cliaimonitor/main.go explicit dependency-injected construction and
// ordered startup/shutdown, and internal/server/heartbeat.go's
// ticker-in-a-goroutine-with-ctx.Done() shape, generalized into a
// registry of named tickers.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

const shutdownDeadline = 5 * time.Second

// TaskFunc is a registered periodic job; it must respect ctx's deadline.
type TaskFunc func(ctx context.Context)

type ticker struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	cancel   context.CancelFunc
	paused   bool
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// Scheduler is C10.
type Scheduler struct {
	mu      sync.Mutex
	tickers []*ticker
	ctx     context.Context
}

// New constructs a Scheduler bound to a parent context; every registered
// ticker derives its own cancellable child from ctx.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{ctx: ctx}
}

// Register adds a named periodic job and starts it immediately. Tickers
// are torn down in reverse registration order on Shutdown.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tickerCtx, cancel := context.WithCancel(s.ctx)
	t := &ticker{name: name, interval: interval, fn: fn, cancel: cancel}
	s.tickers = append(s.tickers, t)

	t.wg.Add(1)
	go t.run(tickerCtx)
}

func (t *ticker) run(ctx context.Context) {
	defer t.wg.Done()

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.mu.Lock()
			paused := t.paused
			t.mu.Unlock()
			if paused {
				continue
			}

			tickCtx, cancel := context.WithTimeout(ctx, t.interval)
			t.fn(tickCtx)
			cancel()
		}
	}
}

// Pause suspends a named ticker without cancelling it; Resume restarts
// delivery. Both are no-ops for an unknown name.
func (s *Scheduler) Pause(name string) {
	s.withTicker(name, func(t *ticker) {
		t.mu.Lock()
		t.paused = true
		t.mu.Unlock()
	})
}

func (s *Scheduler) Resume(name string) {
	s.withTicker(name, func(t *ticker) {
		t.mu.Lock()
		t.paused = false
		t.mu.Unlock()
	})
}

// Reschedule stops a named ticker and re-registers it under a new
// interval with the same callback, for jobs whose cadence changes
// between runs (the health supervisor's adaptive interval). A no-op if
// the name is unknown.
func (s *Scheduler) Reschedule(name string, interval time.Duration) {
	s.mu.Lock()
	var fn TaskFunc
	for i, t := range s.tickers {
		if t.name == name {
			t.cancel()
			fn = t.fn
			s.tickers = append(s.tickers[:i], s.tickers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if fn != nil {
		s.Register(name, interval, fn)
	}
}

// Cancel stops and removes a single named ticker.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tickers {
		if t.name == name {
			t.cancel()
			s.tickers = append(s.tickers[:i], s.tickers[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) withTicker(name string, fn func(*ticker)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickers {
		if t.name == name {
			fn(t)
			return
		}
	}
}

// Shutdown fires in reverse registration order, waiting for in-flight
// callbacks, blocking until quiescent or a hard 5-second deadline.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	reversed := make([]*ticker, len(s.tickers))
	for i, t := range s.tickers {
		reversed[len(s.tickers)-1-i] = t
	}
	s.tickers = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, t := range reversed {
			t.cancel()
			t.wg.Wait()
			log.Printf("[SCHEDULER] stopped ticker %s", t.name)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownDeadline):
		log.Printf("[SCHEDULER] shutdown deadline exceeded, proceeding anyway")
	}
}
