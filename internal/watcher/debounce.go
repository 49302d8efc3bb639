package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of events on the same path: one editor
// save typically produces several writes and a rename in quick
// succession.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[string]Event
	order   []string
	timer   *time.Timer
	emit    func(Event)
	stopped bool
}

func newDebouncer(delay time.Duration, emit func(Event)) *debouncer {
	return &debouncer{
		delay:   delay,
		pending: map[string]Event{},
		emit:    emit,
	}
}

// observe folds an event into the pending set and restarts the delay.
// Operations on the same path accumulate into one bitmask.
func (d *debouncer) observe(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if prev, ok := d.pending[e.Path]; ok {
		e.Op |= prev.Op
	} else {
		d.order = append(d.order, e.Path)
	}
	d.pending[e.Path] = e
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
	} else {
		d.timer.Reset(d.delay)
	}
}

func (d *debouncer) fire() {
	d.mu.Lock()
	events := d.take()
	d.mu.Unlock()
	for _, e := range events {
		d.emit(e)
	}
}

// take drains the pending set in first-observation order. Callers
// hold d.mu.
func (d *debouncer) take() []Event {
	out := make([]Event, 0, len(d.pending))
	for _, path := range d.order {
		out = append(out, d.pending[path])
	}
	d.pending = map[string]Event{}
	d.order = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return out
}

// flush emits everything pending without waiting out the delay.
func (d *debouncer) flush() { d.fire() }

// stopAll drops pending events and prevents further emits.
func (d *debouncer) stopAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = map[string]Event{}
	d.order = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
