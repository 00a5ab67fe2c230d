package control

import (
	"log/slog"
	"sync"
	"time"
)

// debouncer coalesces bursts of file events into one callback after a quiet
// interval. Editors typically write, chmod and rename for a single save.
type debouncer struct {
	interval time.Duration
	callback func()

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncer(interval time.Duration, callback func()) *debouncer {
	return &debouncer{interval: interval, callback: callback}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("control: debounced callback panicked", "error", r)
			}
		}()
		d.callback()
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
