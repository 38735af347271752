package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// OnDrop, when set, is called synchronously for every event discarded
	// because the buffer was full.
	OnDrop func(Event)
}

// entry is a buffered event. Block entries are also indexed in pending
// until delivery so later blocks of the same scope can fold into them.
type entry struct {
	key   string
	event Event
}

type outcome uint8

const (
	queued outcome = iota
	full
	abandoned
)

// Dispatcher forwards limiter events to a sink from a single goroutine.
//
// A scope attacked while blocked produces a rejected attempt per request.
// Those do not each take a buffer slot: while a block event for the same
// scope and tier is still waiting, new ones are merged into it and counted
// in Event.Repeats. A nil Dispatcher is valid and discards everything.
type Dispatcher struct {
	cfg  Config
	sink Sink
	ch   chan *entry
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*entry

	dropped   atomic.Uint64
	merged    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		ch:      make(chan *entry, cfg.BufferSize),
		done:    make(chan struct{}),
		pending: make(map[string]*entry),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case e := <-d.ch:
			d.deliver(e)
		case <-d.done:
			for {
				select {
				case e := <-d.ch:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e *entry) {
	d.mu.Lock()
	d.release(e)
	event := e.event
	d.mu.Unlock()

	d.sink.Emit(context.Background(), event)
}

// Blocked queues a block event for the scope identified by scopeKey. When a
// block event for the same scope and tier is still buffered, that event
// takes the newer retry-after and counts and its Repeats grows by one.
func (d *Dispatcher) Blocked(ctx context.Context, scopeKey string, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	event.EventType = EventBlocked
	key := scopeKey + "|" + event.Tier

	d.mu.Lock()
	if e, ok := d.pending[key]; ok {
		e.event.Repeats++
		e.event.RetryAfter = event.RetryAfter
		e.event.ShortCount = event.ShortCount
		e.event.LongCount = event.LongCount
		d.mu.Unlock()
		d.merged.Add(1)
		return
	}
	e := &entry{key: key, event: event}
	d.pending[key] = e
	d.mu.Unlock()

	d.submit(ctx, e)
}

// Degraded queues a degradation event. Degradation events are never merged.
func (d *Dispatcher) Degraded(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	event.EventType = EventDegraded
	d.submit(ctx, &entry{event: event})
}

func (d *Dispatcher) submit(ctx context.Context, e *entry) {
	res := d.enqueue(ctx, e)
	if res == queued {
		return
	}

	d.mu.Lock()
	d.release(e)
	lost := e.event
	d.mu.Unlock()

	if res == full {
		d.dropped.Add(uint64(1 + lost.Repeats))
		if d.cfg.OnDrop != nil {
			d.cfg.OnDrop(lost)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, e *entry) outcome {
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- e:
			return queued
		case <-d.done:
			return abandoned
		default:
			return full
		}
	}

	select {
	case d.ch <- e:
		return queued
	case <-ctx.Done():
		return abandoned
	case <-d.done:
		return abandoned
	}
}

// release removes e from pending. Callers hold mu.
func (d *Dispatcher) release(e *entry) {
	if e.key != "" && d.pending[e.key] == e {
		delete(d.pending, e.key)
	}
}

// Close stops accepting events, drains the buffer into the sink and waits
// for the delivery goroutine to exit. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the number of blocked attempts and degradations lost to
// backpressure, merged repeats included.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Merged returns the number of block events folded into a buffered one.
func (d *Dispatcher) Merged() uint64 {
	if d == nil {
		return 0
	}
	return d.merged.Load()
}
