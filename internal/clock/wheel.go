package clock

import (
	"container/heap"
	"sync"
	"time"

	"github.com/eliasyaoyc/fastjob/internal/logger"
)

// Callback is a fire-at-time handler. Panics and errors are caught by the
// Wheel and never halt the tick loop (spec.md §4.1 failure model).
type Callback func()

// Handle lets a caller cancel a scheduled callback before it fires.
type Handle struct {
	id   int64
	seq  int64
	w    *Wheel
}

// Cancel prevents the callback from firing, if it hasn't already.
func (h Handle) Cancel() {
	h.w.cancel(h.id)
}

// Wheel is a hierarchical timing wheel keyed by absolute epoch-ms. It is
// approximate (granularity bounded by the tick period) but gives O(log n)
// insert/expire via a min-heap ordered by (at_ms, insertion sequence) so
// that callbacks with equal fire times run FIFO (spec.md §4.1).
type Wheel struct {
	clock Clock
	tick  time.Duration

	mu      sync.Mutex
	items   timerHeap
	nextID  int64
	nextSeq int64
	cancels map[int64]bool

	stop chan struct{}
	done chan struct{}
}

// New creates a Wheel driven by clock, ticking at the given granularity.
// Call Run to start the tick loop and Stop to halt it.
func New(c Clock, tickGranularity time.Duration) *Wheel {
	if tickGranularity <= 0 || tickGranularity > 100*time.Millisecond {
		tickGranularity = 100 * time.Millisecond
	}
	return &Wheel{
		clock:   c,
		tick:    tickGranularity,
		cancels: make(map[int64]bool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Schedule registers cb to fire once the wheel's clock reaches atMS.
// Returns a Handle that can cancel the firing before it happens.
func (w *Wheel) Schedule(atMS int64, cb Callback) Handle {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	w.nextSeq++
	id := w.nextID
	item := &timerItem{atMS: atMS, seq: w.nextSeq, id: id, cb: cb}
	heap.Push(&w.items, item)

	return Handle{id: id, seq: item.seq, w: w}
}

func (w *Wheel) cancel(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancels[id] = true
}

// Run starts the tick loop in the current goroutine; call it from a
// dedicated goroutine. It returns when Stop is called.
func (w *Wheel) Run() {
	defer close(w.done)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.fireDue()
		}
	}
}

// Stop halts the tick loop and waits for it to exit.
func (w *Wheel) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Wheel) fireDue() {
	now := w.clock.NowMS()

	var due []*timerItem
	w.mu.Lock()
	for w.items.Len() > 0 {
		top := w.items[0]
		if top.atMS > now {
			break
		}
		item := heap.Pop(&w.items).(*timerItem)
		if w.cancels[item.id] {
			delete(w.cancels, item.id)
			continue
		}
		due = append(due, item)
	}
	w.mu.Unlock()

	for _, item := range due {
		w.runSafely(item.cb)
	}
}

func (w *Wheel) runSafely(cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			logger.ComponentLogger("clock").Errorw("timing wheel callback panicked", "panic", r)
		}
	}()
	cb()
}

// timerItem is one scheduled callback, ordered by (atMS, seq) so that
// equal-time callbacks fire FIFO by insertion order.
type timerItem struct {
	atMS int64
	seq  int64
	id   int64
	cb   Callback
}

type timerHeap []*timerItem

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].atMS != h[j].atMS {
		return h[i].atMS < h[j].atMS
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) {
	*h = append(*h, x.(*timerItem))
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
