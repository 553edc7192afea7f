package sink

import (
	"context"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
)

// EventFunc is called for each event.
type EventFunc func(ctx context.Context, e event.Event) error

// Callback delivers events as in-process function calls.
type Callback struct {
	fn EventFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn EventFunc) *Callback { return &Callback{fn: fn} }

func (c *Callback) Send(ctx context.Context, e event.Event) error {
	if c.fn != nil {
		return c.fn(ctx, e)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
