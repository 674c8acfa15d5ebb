package source

import (
	"context"
	"sync"
	"time"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
	EventRename
)

// Event is a change to one transcript file.
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// eventBatch collects events for the same path until the quiet period ends
type eventBatch struct {
	events []Event
	timer  *time.Timer
	first  time.Time
}

// Debouncer coalesces bursts of events per path. A batch is released after
// delay without new events for that path, or at most maxDelay after its first event.
type Debouncer struct {
	delay    time.Duration
	maxDelay time.Duration
	out      chan []Event
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	pending  map[string]*eventBatch
	closed   bool
}

// NewDebouncer creates a new debouncer
func NewDebouncer(delay, maxDelay time.Duration, queueCapacity int) *Debouncer {
	if maxDelay < delay {
		maxDelay = delay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		delay:    delay,
		maxDelay: maxDelay,
		out:      make(chan []Event, queueCapacity),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*eventBatch),
	}
}

// Add adds an event to be debounced
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	batch, ok := d.pending[ev.Path]
	if !ok {
		batch = &eventBatch{events: make([]Event, 0, 4), first: time.Now()}
		d.pending[ev.Path] = batch
	}
	batch.events = append(batch.events, ev)

	wait := d.delay
	if remaining := d.maxDelay - time.Since(batch.first); remaining < wait {
		wait = max(remaining, 0)
	}
	if batch.timer != nil {
		batch.timer.Stop()
	}
	path := ev.Path
	batch.timer = time.AfterFunc(wait, func() { d.flush(path, batch) })
}

// Events returns the debounced batches
func (d *Debouncer) Events() <-chan []Event {
	return d.out
}

func (d *Debouncer) flush(path string, batch *eventBatch) {
	d.mu.Lock()
	if d.closed || d.pending[path] != batch {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.mu.Unlock()

	select {
	case d.out <- batch.events:
	case <-d.ctx.Done():
	}
}

// Close stops pending timers. Batches not yet released are discarded.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cancel()
	for _, batch := range d.pending {
		if batch.timer != nil {
			batch.timer.Stop()
		}
	}
	d.pending = nil
	d.mu.Unlock()
}
