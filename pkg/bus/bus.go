// Package bus fans session, QR, log and message events out to every attached
// observer. Observers come and go without coordination; a slow or closed
// observer never blocks the producer.
package bus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-observer queue length.
const DefaultBuffer = 64

// Observer is a named tap on the event stream.
type Observer struct {
	Name string

	ch      chan Event
	closed  atomic.Bool
	dropped atomic.Int64
}

// Events is closed when the observer is detached or the broadcaster closes.
func (o *Observer) Events() <-chan Event { return o.ch }

// Dropped counts events skipped because the observer's buffer was full.
func (o *Observer) Dropped() int64 { return o.dropped.Load() }

func (o *Observer) deliver(e Event) {
	select {
	case o.ch <- e:
	default:
		o.dropped.Add(1)
	}
}

// ReplayFunc returns the events a newly attached observer needs to catch up
// with current state.
type ReplayFunc func() []Event

// Broadcaster is the registry of observers.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[*Observer]struct{}
	replay    ReplayFunc
	buffer    int
	closed    bool
	closeOnce sync.Once
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		observers: make(map[*Observer]struct{}),
		buffer:    DefaultBuffer,
	}
}

// SetReplay installs the catch-up source used by Attach.
func (b *Broadcaster) SetReplay(fn ReplayFunc) {
	b.mu.Lock()
	b.replay = fn
	b.mu.Unlock()
}

// Attach registers an observer and queues the replay events ahead of any
// later broadcast. Replay and registration happen under the same lock as
// Broadcast, so nothing published in between is lost.
func (b *Broadcaster) Attach(name string) *Observer {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := &Observer{Name: name, ch: make(chan Event, b.buffer)}
	if b.closed {
		o.closed.Store(true)
		close(o.ch)
		return o
	}
	if b.replay != nil {
		for _, e := range b.replay() {
			o.deliver(e)
		}
	}
	b.observers[o] = struct{}{}
	return o
}

// Detach removes o and closes its channel. Detaching twice is harmless.
func (b *Broadcaster) Detach(o *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.observers[o]; !ok {
		return
	}
	delete(b.observers, o)
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

// Broadcast delivers e to every open observer without blocking.
func (b *Broadcaster) Broadcast(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for o := range b.observers {
		if o.closed.Load() {
			continue
		}
		o.deliver(e)
	}
}

// Count returns the number of attached observers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Close detaches everyone. Later broadcasts are dropped.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for o := range b.observers {
			if o.closed.CompareAndSwap(false, true) {
				close(o.ch)
			}
		}
		b.observers = make(map[*Observer]struct{})
	})
}
