package sink

import (
	"context"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/store"
)

// Journal appends events to the SQLite journal.
type Journal struct {
	j *store.Journal
}

// NewJournal wraps a store journal.
func NewJournal(j *store.Journal) *Journal { return &Journal{j: j} }

func (s *Journal) Send(ctx context.Context, e event.Event) error {
	return s.j.Append(ctx, e)
}

// Close leaves the database open; its owner closes it.
func (s *Journal) Close() error { return nil }
