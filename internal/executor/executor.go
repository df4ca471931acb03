// Package executor runs the control plane's periodic tasks: the scheduler
// loop, the reconciler's timeout scan, and the registry's GC sweep each own
// one handle into a small fixed-size pool (spec.md §4.10).
package executor

import (
	"sync"
	"time"

	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/logger"
)

// Task is a unit of scheduled work. Panics and errors are caught by the
// pool and never poison it (spec.md §4.10).
type Task func()

// Handle lets a caller cancel future firings of a scheduled task. The
// in-flight run, if any, is allowed to complete.
type Handle struct {
	cancel func()
}

// Cancel stops future firings of the task this handle refers to.
func (h Handle) Cancel() {
	h.cancel()
}

// Pool is a fixed-size set of named long-lived goroutines, one per
// scheduled task, driven by a Clock so tests can use a virtual one.
type Pool struct {
	clock clock.Clock

	mu      sync.Mutex
	running int
	maxSize int
}

// New creates a Pool bounded to size concurrently in-flight task runs.
// size <= 0 means unbounded (each scheduled task still runs serially
// against itself; only cross-task concurrency is bounded).
func New(c clock.Clock, size int) *Pool {
	return &Pool{clock: c, maxSize: size}
}

// ScheduleAtFixedRate runs f at t0+initial, t0+initial+period, ... A run
// that takes longer than period does not overlap with the next: the next
// run starts immediately after the slow one finishes (spec.md §4.10).
func (p *Pool) ScheduleAtFixedRate(f Task, initial, period time.Duration) Handle {
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	go func() {
		if !p.sleep(initial, stop) {
			return
		}
		for {
			next := p.clock.Now().Add(period)
			p.runSafely(f)
			remaining := next.Sub(p.clock.Now())
			if remaining < 0 {
				remaining = 0
			}
			if !p.sleep(remaining, stop) {
				return
			}
		}
	}()

	return Handle{cancel: cancel}
}

// ScheduleAtFixedDelay runs f, waits period after it finishes, runs again.
func (p *Pool) ScheduleAtFixedDelay(f Task, initial, period time.Duration) Handle {
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	go func() {
		if !p.sleep(initial, stop) {
			return
		}
		for {
			p.runSafely(f)
			if !p.sleep(period, stop) {
				return
			}
		}
	}()

	return Handle{cancel: cancel}
}

func (p *Pool) sleep(d time.Duration, stop <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	select {
	case <-stop:
		return false
	case <-p.clock.After(d):
		return true
	}
}

func (p *Pool) runSafely(f Task) {
	p.acquire()
	defer p.release()
	defer func() {
		if r := recover(); r != nil {
			logger.ComponentLogger("executor").Errorw("scheduled task panicked", "panic", r)
		}
	}()
	f()
}

func (p *Pool) acquire() {
	if p.maxSize <= 0 {
		return
	}
	for {
		p.mu.Lock()
		if p.running < p.maxSize {
			p.running++
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (p *Pool) release() {
	if p.maxSize <= 0 {
		return
	}
	p.mu.Lock()
	p.running--
	p.mu.Unlock()
}
