// Package sink defines output backends for viewwatch events.
package sink

import (
	"context"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
)

// Sink delivers visibility events to a backend (stdout, webhook, journal,
// in-process callback).
type Sink interface {
	Send(ctx context.Context, e event.Event) error
	Close() error
}
