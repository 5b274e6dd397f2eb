// Package debounce provides a coalescing trigger: bursts of signals collapse
// into a single action run once the burst has been quiet for a window.
package debounce

import (
	"sync"
	"time"
)

// Trigger runs an action after signals stop arriving for a quiet window.
//
// Guarantees:
//   - at most one action per quiet window
//   - the last signal always causes an action
//   - actions never overlap; a signal that fires while an action runs queues
//     exactly one follow-up
type Trigger struct {
	window time.Duration
	action func()

	mu      sync.Mutex
	cond    *sync.Cond
	timer   *time.Timer
	seq     uint64
	pending bool
	running bool
	again   bool
	stopped bool
}

// New creates a Trigger that runs action window after the last Signal.
func New(window time.Duration, action func()) *Trigger {
	t := &Trigger{window: window, action: action}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Signal records an event and restarts the quiet window.
func (t *Trigger) Signal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.seq++
	seq := t.seq
	t.pending = true
	t.timer = time.AfterFunc(t.window, func() { t.fire(seq) })
}

// Flush runs a pending action immediately on the calling goroutine.
// It does nothing when no signal is pending. If an action is running, the
// pending signal becomes its follow-up instead.
func (t *Trigger) Flush() {
	t.mu.Lock()
	if !t.pending || t.stopped {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.seq++
	seq := t.seq
	t.mu.Unlock()
	t.fire(seq)
}

// Pending reports whether a signal is waiting for its window to elapse.
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Stop cancels pending work. An action already running is not interrupted;
// no follow-up runs after it.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = false
	t.again = false
	t.seq++
	if t.timer != nil {
		t.timer.Stop()
	}
	t.cond.Broadcast()
}

// Wait blocks until no action is running or pending.
func (t *Trigger) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.running || t.pending {
		t.cond.Wait()
	}
}

func (t *Trigger) fire(seq uint64) {
	t.mu.Lock()
	if t.stopped || seq != t.seq {
		t.mu.Unlock()
		return
	}
	t.pending = false
	if t.running {
		t.again = true
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	for {
		t.action()

		t.mu.Lock()
		if t.again && !t.stopped {
			t.again = false
			t.mu.Unlock()
			continue
		}
		t.running = false
		t.cond.Broadcast()
		t.mu.Unlock()
		return
	}
}
