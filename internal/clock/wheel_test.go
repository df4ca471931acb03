package clock

import (
	"sync"
	"testing"
	"time"
)

func TestWheelFiresInFIFOOrderAtEqualTime(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	w := New(v, time.Millisecond)
	go w.Run()
	defer w.Stop()

	var mu sync.Mutex
	var order []int

	at := v.NowMS() + 50
	for i := 0; i < 5; i++ {
		i := i
		w.Schedule(at, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	v.Advance(100 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 5 {
		t.Fatalf("expected 5 callbacks fired, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("callback %d fired out of FIFO order: %v", i, order)
		}
	}
}

func TestWheelCancelPreventsFire(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	w := New(v, time.Millisecond)
	go w.Run()
	defer w.Stop()

	fired := false
	h := w.Schedule(v.NowMS()+10, func() { fired = true })
	h.Cancel()

	v.Advance(50 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if fired {
		t.Fatal("cancelled callback fired")
	}
}

func TestWheelCallbackPanicDoesNotHaltWheel(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	w := New(v, time.Millisecond)
	go w.Run()
	defer w.Stop()

	second := false
	w.Schedule(v.NowMS()+10, func() { panic("boom") })
	w.Schedule(v.NowMS()+10, func() { second = true })

	v.Advance(50 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if !second {
		t.Fatal("second callback did not fire after first panicked")
	}
}

func TestVirtualClockMonotonic(t *testing.T) {
	v := NewVirtual(time.Unix(1000, 0))
	first := v.NowMS()
	v.Advance(time.Second)
	second := v.NowMS()
	if second < first {
		t.Fatalf("virtual clock went backwards: %d -> %d", first, second)
	}
}
