package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eliasyaoyc/fastjob/internal/clock"
)

func TestScheduleAtFixedRateRunsRepeatedly(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	p := New(v, 0)

	var count int32
	h := p.ScheduleAtFixedRate(func() {
		atomic.AddInt32(&count, 1)
	}, 0, 10*time.Millisecond)
	defer h.Cancel()

	for i := 0; i < 5; i++ {
		v.Advance(10 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	if atomic.LoadInt32(&count) < 3 {
		t.Fatalf("expected at least 3 runs, got %d", count)
	}
}

func TestCancelStopsFutureRuns(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	p := New(v, 0)

	var count int32
	h := p.ScheduleAtFixedDelay(func() {
		atomic.AddInt32(&count, 1)
	}, 0, 10*time.Millisecond)

	v.Advance(10 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	h.Cancel()
	before := atomic.LoadInt32(&count)

	for i := 0; i < 5; i++ {
		v.Advance(10 * time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)

	after := atomic.LoadInt32(&count)
	if after != before {
		t.Fatalf("task ran after cancel: before=%d after=%d", before, after)
	}
}

func TestPanicInTaskDoesNotHaltScheduling(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	p := New(v, 0)

	var mu sync.Mutex
	var runs int
	h := p.ScheduleAtFixedDelay(func() {
		mu.Lock()
		runs++
		n := runs
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
	}, 0, 5*time.Millisecond)
	defer h.Cancel()

	for i := 0; i < 4; i++ {
		v.Advance(5 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if runs < 2 {
		t.Fatalf("expected pool to keep running after panic, got %d runs", runs)
	}
}
