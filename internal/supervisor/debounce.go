package supervisor

import (
	"sync"
	"time"

	"github.com/vanpelt/scrollguard/internal/logger"
)

// ResizeDebouncer coalesces a burst of terminal-resize signals into one
// reaction. An isolated signal fires synchronously with zero added latency;
// a burst collapses to a single deferred fire once the burst settles.
type ResizeDebouncer struct {
	mu        sync.Mutex
	window    func() time.Duration
	last      time.Time
	timer     *time.Timer
	gen       uint64
	callbacks []func()
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewResizeDebouncer builds a debouncer whose merge window is re-read on
// every signal.
func NewResizeDebouncer(window func() time.Duration) *ResizeDebouncer {
	return &ResizeDebouncer{
		window:    window,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// RegisterReaction appends a callback. All registered callbacks run
// together per fire, in registration order.
func (d *ResizeDebouncer) RegisterReaction(fn func()) {
	d.mu.Lock()
	d.callbacks = append(d.callbacks, fn)
	d.mu.Unlock()
}

// Notify is invoked on each raw resize signal.
func (d *ResizeDebouncer) Notify() {
	d.mu.Lock()

	now := d.now()
	elapsed := now.Sub(d.last)
	if d.last.IsZero() {
		// First signal ever counts as isolated.
		elapsed = d.window() + 1
	}
	d.last = now

	// Bumping the generation invalidates any scheduled fire, including a
	// timer that already expired but whose callback has not taken the
	// lock yet, so Stop's lost race cannot cause a double fire.
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	window := d.window()
	if elapsed < window {
		// Mid-burst: defer until the burst settles, replacing any
		// previously scheduled fire.
		gen := d.gen
		d.timer = d.afterFunc(window, func() {
			d.mu.Lock()
			if gen != d.gen {
				d.mu.Unlock()
				return
			}
			d.timer = nil
			d.mu.Unlock()
			d.fire()
		})
		d.mu.Unlock()
		return
	}

	d.mu.Unlock()
	d.fire()
}

// Cancel drops any pending deferred fire.
func (d *ResizeDebouncer) Cancel() {
	d.mu.Lock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}

func (d *ResizeDebouncer) fire() {
	d.mu.Lock()
	callbacks := make([]func(), len(d.callbacks))
	copy(callbacks, d.callbacks)
	d.mu.Unlock()

	for _, fn := range callbacks {
		d.invoke(fn)
	}
}

// invoke runs one callback; a panic in one reaction must not prevent the
// rest from running.
func (d *ResizeDebouncer) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("🚨 PANIC recovered in resize reaction: %v", r)
		}
	}()
	fn()
}
