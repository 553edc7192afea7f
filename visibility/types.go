// Package visibility shares one native visibility-detection primitive per
// distinct watch configuration and fans its change records out to
// per-element, per-direction subscribers.
//
// The host platform (a browser page, a test double) supplies the primitive
// through PrimitiveFactory and the element model through Node. The package
// itself does no I/O.
//
// Typical usage:
//
//	broker := visibility.NewBroker()
//	reg := visibility.NewRegistry(host, broker)
//	w := reg.GetOrCreate(visibility.WatchConfig{Threshold: visibility.ScalarThreshold(0.5)})
//	sub := broker.WhenEntered(el, func(r visibility.Record) { ... })
//	defer sub.Unsubscribe()
//	err := w.Observe(ctx, el)
package visibility

import (
	"context"
	"time"
)

// Node is an element of the host document. Implementations must be
// comparable: element identity is == on the interface value, so pointer
// types are the natural choice.
type Node interface {
	// TagName is the element's tag as reported by the host (e.g. "DIV").
	TagName() string
	// ID is the identifier attribute, "" when absent.
	ID() string
	// Parent returns the parent element, nil above the top element.
	Parent() Node
}

// Record is one raw change record delivered by a primitive.
type Record struct {
	Target       Node
	Intersecting bool
	// Ratio is the visible fraction of the target, in [0,1].
	Ratio float64
	// Time is the host timestamp of the change, relative to the host's time origin.
	Time time.Duration
	// Raw carries the host-specific record untouched.
	Raw any
}

// BatchFunc receives every batch of records a primitive reports.
type BatchFunc func(records []Record)

// Options is what a primitive is configured with.
type Options struct {
	Root       Root
	RootMargin string
	Threshold  Threshold
}

// Primitive is one native visibility-detection instance.
type Primitive interface {
	Observe(ctx context.Context, n Node) error
	Unobserve(ctx context.Context, n Node) error
}

// PrimitiveFactory builds primitives. NewPrimitive must not fail: hosts that
// need I/O to install the primitive defer it to the first Observe.
type PrimitiveFactory interface {
	NewPrimitive(cb BatchFunc, opts Options) Primitive
}

// Direction tells whether a record reports a target becoming visible or not.
type Direction int

const (
	Entered Direction = iota
	Left
)

func (d Direction) String() string {
	switch d {
	case Entered:
		return "entered"
	case Left:
		return "left"
	}
	return "unknown"
}

// Event is a record tagged with its direction.
type Event struct {
	Direction Direction
	Target    Node
	Record    Record
}

// WatchConfig selects a watcher. Structurally equal configs share one
// watcher. An empty RootMargin means unspecified.
type WatchConfig struct {
	Root       Root
	RootMargin string
	Threshold  Threshold
}
