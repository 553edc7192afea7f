package viewwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/viewwatch/visibility"
)

// ChangeFunc receives every visibility change of a bound target.
type ChangeFunc func(w *visibility.Watcher, dir visibility.Direction, rec visibility.Record)

// Binding ties one target element to a shared watcher: it subscribes to the
// target's entered and left streams and tracks the target. It is the
// mount/unmount glue around a Registry and a Broker.
type Binding struct {
	registry *visibility.Registry
	broker   *visibility.Broker
	target   visibility.Node
	cfg      visibility.WatchConfig
	onChange ChangeFunc

	watcher *visibility.Watcher
	entered *visibility.Subscription
	left    *visibility.Subscription
}

// NewBinding prepares a binding. Nothing happens until Attach.
func NewBinding(reg *visibility.Registry, broker *visibility.Broker, target visibility.Node,
	cfg visibility.WatchConfig, onChange ChangeFunc) *Binding {
	return &Binding{registry: reg, broker: broker, target: target, cfg: cfg, onChange: onChange}
}

// Attach gets or creates the watcher, subscribes, then starts tracking.
// Subscriptions come first so the initial record is not missed.
func (b *Binding) Attach(ctx context.Context) error {
	if b.watcher != nil {
		return fmt.Errorf("viewwatch: binding already attached")
	}
	w := b.registry.GetOrCreate(b.cfg)
	b.entered = b.broker.WhenEntered(b.target, func(r visibility.Record) {
		b.onChange(w, visibility.Entered, r)
	})
	b.left = b.broker.WhenLeft(b.target, func(r visibility.Record) {
		b.onChange(w, visibility.Left, r)
	})
	if err := w.Observe(ctx, b.target); err != nil {
		b.release()
		return err
	}
	b.watcher = w
	return nil
}

// Detach stops tracking and releases both subscriptions. The watcher stays
// in the registry.
func (b *Binding) Detach(ctx context.Context) error {
	if b.watcher == nil {
		return nil
	}
	err := b.watcher.Unobserve(ctx, b.target)
	b.release()
	b.watcher = nil
	return err
}

// Watcher returns the attached watcher, nil when detached.
func (b *Binding) Watcher() *visibility.Watcher { return b.watcher }

// Target returns the bound element.
func (b *Binding) Target() visibility.Node { return b.target }

func (b *Binding) release() {
	for _, s := range []*visibility.Subscription{b.entered, b.left} {
		if s != nil {
			s.Unsubscribe()
		}
	}
	b.entered, b.left = nil, nil
}

// detachAll detaches every binding, joining errors.
func detachAll(ctx context.Context, bs []*Binding) error {
	var errs []error
	for _, b := range bs {
		if err := b.Detach(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
