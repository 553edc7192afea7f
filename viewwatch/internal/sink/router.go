package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
)

// Router fans events out to every sink. One failing sink does not block
// the others: errors are logged and the first is returned.
type Router struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink.
func (r *Router) Add(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

func (r *Router) Send(ctx context.Context, e event.Event) error {
	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("sink: send event failed", "target", e.Target, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
