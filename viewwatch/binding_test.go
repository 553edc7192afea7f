package viewwatch

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/viewwatch/visibility"
)

type failingPrim struct{ fakePrim }

func (p *failingPrim) Observe(context.Context, visibility.Node) error {
	return errors.New("detached node")
}

type failingFactory struct{}

func (failingFactory) NewPrimitive(cb visibility.BatchFunc, opts visibility.Options) visibility.Primitive {
	return &failingPrim{}
}

func TestBinding_AttachDetach(t *testing.T) {
	fp := newFakePage()
	broker := visibility.NewBroker()
	reg := visibility.NewRegistry(fp, broker, visibility.WithLogger(discardLogger()))
	hero := fp.els["#hero"]

	var dirs []visibility.Direction
	b := NewBinding(reg, broker, hero, visibility.WatchConfig{}, func(_ *visibility.Watcher, d visibility.Direction, _ visibility.Record) {
		dirs = append(dirs, d)
	})
	ctx := context.Background()
	if err := b.Attach(ctx); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := b.Attach(ctx); err == nil {
		t.Error("second Attach should fail")
	}
	if b.Watcher() == nil || b.Target() != hero {
		t.Fatal("binding state not set")
	}

	fp.prims[0].fire(
		visibility.Record{Target: hero, Intersecting: true},
		visibility.Record{Target: hero, Intersecting: false},
	)
	if len(dirs) != 2 || dirs[0] != visibility.Entered || dirs[1] != visibility.Left {
		t.Fatalf("dirs = %v, want [entered left]", dirs)
	}

	if err := b.Detach(ctx); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := b.Detach(ctx); err != nil {
		t.Errorf("second Detach: %v", err)
	}
	fp.prims[0].fire(visibility.Record{Target: hero, Intersecting: true})
	if len(dirs) != 2 {
		t.Errorf("event delivered after Detach")
	}
	if reg.Len() != 1 {
		t.Errorf("registry len = %d, watcher should survive Detach", reg.Len())
	}
}

func TestBinding_AttachFailureReleases(t *testing.T) {
	broker := visibility.NewBroker()
	reg := visibility.NewRegistry(failingFactory{}, broker, visibility.WithLogger(discardLogger()))
	target := &fakeEl{tag: "DIV"}

	b := NewBinding(reg, broker, target, visibility.WatchConfig{}, func(*visibility.Watcher, visibility.Direction, visibility.Record) {
		t.Error("callback must not run")
	})
	if err := b.Attach(context.Background()); err == nil {
		t.Fatal("expected Attach error")
	}
	if b.Watcher() != nil {
		t.Error("watcher set after failed Attach")
	}
	if got := broker.Stats().Subscribers; got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}
	broker.Publish([]visibility.Record{{Target: target, Intersecting: true}})
}
