// Package bus implements the broadcast event bus that every worker in the
// player backend uses to coordinate. It is the single point of
// synchronization described in spec.md §9: workers never share mutable
// state directly, they publish and observe self-contained Message values.
//
// The fan-out shape is a map of subscriber channels guarded by a mutex,
// with non-blocking sends so one slow consumer can't stall the others.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// defaultCapacity is the buffer size of each subscriber's channel.
const defaultCapacity = 256

// Bus is a multi-producer/multi-consumer broadcast channel carrying Message
// values. It never back-pressures a slow subscriber; instead it counts and
// logs the drop, per spec.md §4.A.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriberState
	nextID      uint64
	capacity    int
}

type subscriberState struct {
	ch      chan Message
	name    string
	dropped atomic.Uint64
}

// New creates a Bus. A capacity <= 0 falls back to defaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{
		subscribers: make(map[uint64]*subscriberState),
		capacity:    capacity,
	}
}

// Receiver is a single worker's handle onto the bus.
type Receiver struct {
	bus   *Bus
	id    uint64
	state *subscriberState
}

// Subscribe registers a new receiver. name is used only for log messages.
func (b *Bus) Subscribe(name string) *Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	state := &subscriberState{
		ch:   make(chan Message, b.capacity),
		name: name,
	}
	b.subscribers[id] = state

	return &Receiver{bus: b, id: id, state: state}
}

// Unsubscribe removes the receiver. Safe to call more than once.
func (r *Receiver) Unsubscribe() {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	if _, ok := r.bus.subscribers[r.id]; ok {
		delete(r.bus.subscribers, r.id)
		close(r.state.ch)
	}
}

// Recv blocks until a message arrives or ctx is cancelled.
func (r *Receiver) Recv(ctx context.Context) (Message, bool) {
	select {
	case msg, ok := <-r.state.ch:
		return msg, ok
	case <-ctx.Done():
		return nil, false
	}
}

// TryRecv drains one pending message without blocking. Workers use this to
// stay responsive while waiting out a retry/backoff sleep (spec.md §5).
func (r *Receiver) TryRecv() (Message, bool) {
	select {
	case msg, ok := <-r.state.ch:
		return msg, ok
	default:
		return nil, false
	}
}

// Dropped returns how many messages have been dropped for this receiver
// because its channel was full (a lagging consumer, spec.md §4.A).
func (r *Receiver) Dropped() uint64 {
	return r.state.dropped.Load()
}

// Publish fans msg out to every current subscriber. A subscriber whose
// channel is full does not block the publisher; the message is dropped for
// that subscriber and its drop counter is incremented, mirroring
// broadcastWriter.Write's "client channel full - drop this chunk" behavior.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, state := range b.subscribers {
		select {
		case state.ch <- msg:
		default:
			n := state.dropped.Add(1)
			slog.Warn("bus: receiver lagging, dropping message",
				"receiver", state.name,
				"dropped_total", n,
				"message_type", fmt.Sprintf("%T", msg),
			)
		}
	}
}

// SubscriberCount reports how many receivers are currently attached. Useful
// for tests and the admin/status surface.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
