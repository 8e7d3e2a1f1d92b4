package geocode

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a typed query is searched.
const DefaultDebounce = 500 * time.Millisecond

// Debouncer runs fn for the last query of a burst of Trigger calls. Each new
// trigger cancels the context handed to the previous run.
type Debouncer struct {
	delay time.Duration
	fn    func(ctx context.Context, query string)

	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
	gen    uint64
}

// NewDebouncer returns a debouncer. A non-positive delay uses DefaultDebounce.
func NewDebouncer(delay time.Duration, fn func(ctx context.Context, query string)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger schedules fn(query) after the delay, replacing any pending query.
func (d *Debouncer) Trigger(query string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.gen++
	gen := d.gen
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := gen == d.gen
		d.mu.Unlock()
		if current {
			d.fn(ctx, query)
		}
	})
}

// Stop drops any pending query and cancels the running one.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.gen++
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}
