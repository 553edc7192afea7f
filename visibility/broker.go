package visibility

import (
	"sync"
	"sync/atomic"
)

// Broker republishes raw change records as direction-tagged events.
// Subscriptions are keyed by (direction, target) so a record only reaches
// the handlers that asked for it. It is safe for concurrent use.
//
// Handlers run synchronously on the publishing goroutine, in record order.
// A handler must not call Publish.
type Broker struct {
	// pubMu serializes batches: one batch is fully delivered before the next.
	pubMu sync.Mutex

	mu   sync.RWMutex
	subs map[subKey][]*Subscription
	taps []*Subscription

	published atomic.Int64
	delivered atomic.Int64
}

type subKey struct {
	dir    Direction
	target Node
}

// BrokerStats are point-in-time counters.
type BrokerStats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Subscribers int   `json:"subscribers"`
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[subKey][]*Subscription)}
}

// Publish emits one event per record, in order. Records reporting an
// intersecting target are Entered, all others Left.
func (b *Broker) Publish(batch []Record) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	for _, rec := range batch {
		ev := Event{Direction: Left, Target: rec.Target, Record: rec}
		if rec.Intersecting {
			ev.Direction = Entered
		}
		b.published.Add(1)

		b.mu.RLock()
		subs := b.subs[subKey{dir: ev.Direction, target: ev.Target}]
		taps := b.taps
		b.mu.RUnlock()

		for _, s := range subs {
			s.deliver(ev)
		}
		for _, s := range taps {
			s.deliver(ev)
		}
	}
}

// WatchDirection calls fn with every record published after this call whose
// direction is dir and whose target is target (compared with ==).
func (b *Broker) WatchDirection(dir Direction, target Node, fn func(Record)) *Subscription {
	s := &Subscription{b: b, key: subKey{dir: dir, target: target}, onRecord: fn}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.subs[s.key]
	next := make([]*Subscription, len(cur), len(cur)+1)
	copy(next, cur)
	b.subs[s.key] = append(next, s)
	return s
}

// WhenEntered is WatchDirection(Entered, target, fn).
func (b *Broker) WhenEntered(target Node, fn func(Record)) *Subscription {
	return b.WatchDirection(Entered, target, fn)
}

// WhenLeft is WatchDirection(Left, target, fn).
func (b *Broker) WhenLeft(target Node, fn func(Record)) *Subscription {
	return b.WatchDirection(Left, target, fn)
}

// Tap calls fn with every event published after this call, unfiltered.
func (b *Broker) Tap(fn func(Event)) *Subscription {
	s := &Subscription{b: b, tap: true, onEvent: fn}
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]*Subscription, len(b.taps), len(b.taps)+1)
	copy(next, b.taps)
	b.taps = append(next, s)
	return s
}

// Stats returns the current counters.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	n := len(b.taps)
	for _, subs := range b.subs {
		n += len(subs)
	}
	b.mu.RUnlock()
	return BrokerStats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Subscribers: n,
	}
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.tap {
		b.taps = without(b.taps, s)
		return
	}
	rest := without(b.subs[s.key], s)
	if len(rest) == 0 {
		delete(b.subs, s.key)
		return
	}
	b.subs[s.key] = rest
}

// without returns a new slice; published snapshots keep the old one.
func without(subs []*Subscription, s *Subscription) []*Subscription {
	out := make([]*Subscription, 0, len(subs))
	for _, cur := range subs {
		if cur != s {
			out = append(out, cur)
		}
	}
	return out
}

// Subscription is a caller-owned filter on a Broker. It holds no host
// resources; releasing it does not stop any watcher.
type Subscription struct {
	b        *Broker
	key      subKey
	tap      bool
	onRecord func(Record)
	onEvent  func(Event)
	closed   atomic.Bool
}

// Unsubscribe stops delivery immediately, including for the rest of a batch
// being published. Safe to call more than once and from inside a handler.
func (s *Subscription) Unsubscribe() {
	if s.closed.Swap(true) {
		return
	}
	s.b.remove(s)
}

func (s *Subscription) deliver(ev Event) {
	if s.closed.Load() {
		return
	}
	s.b.delivered.Add(1)
	if s.onEvent != nil {
		s.onEvent(ev)
		return
	}
	if s.onRecord != nil {
		s.onRecord(ev.Record)
	}
}
