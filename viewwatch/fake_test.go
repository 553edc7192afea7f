package viewwatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/config"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/store"
	"github.com/hazyhaar/viewwatch/visibility"
)

type fakeEl struct {
	tag    string
	id     string
	parent *fakeEl
}

func (e *fakeEl) TagName() string { return e.tag }
func (e *fakeEl) ID() string      { return e.id }
func (e *fakeEl) Parent() visibility.Node {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

// fakePage is an in-memory document: selectors map to elements.
type fakePage struct {
	mu     sync.Mutex
	els    map[string]*fakeEl
	prims  []*fakePrim
	closed bool
}

func newFakePage() *fakePage {
	body := &fakeEl{tag: "BODY"}
	main := &fakeEl{tag: "MAIN", id: "content", parent: body}
	scroller := &fakeEl{tag: "DIV", id: "scroller", parent: main}
	return &fakePage{els: map[string]*fakeEl{
		"body":      body,
		"#content":  main,
		"#scroller": scroller,
		"#hero":     {tag: "SECTION", id: "hero", parent: main},
		"#footer":   {tag: "FOOTER", id: "footer", parent: body},
		".card":     {tag: "ARTICLE", parent: scroller},
		".anon":     {tag: "DIV", parent: main},
	}}
}

func (p *fakePage) NewPrimitive(cb visibility.BatchFunc, opts visibility.Options) visibility.Primitive {
	p.mu.Lock()
	defer p.mu.Unlock()
	prim := &fakePrim{cb: cb, opts: opts, observed: make(map[visibility.Node]bool)}
	p.prims = append(p.prims, prim)
	return prim
}

func (p *fakePage) Query(_ context.Context, selector string) (visibility.Node, error) {
	if el, ok := p.els[selector]; ok {
		return el, nil
	}
	return nil, fmt.Errorf("no element matches %q", selector)
}

func (p *fakePage) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePage) primCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prims)
}

type fakePrim struct {
	mu       sync.Mutex
	cb       visibility.BatchFunc
	opts     visibility.Options
	observed map[visibility.Node]bool
	observes int
}

func (p *fakePrim) Observe(_ context.Context, n visibility.Node) error {
	p.mu.Lock()
	p.observed[n] = true
	p.observes++
	p.mu.Unlock()
	return nil
}

func (p *fakePrim) Unobserve(_ context.Context, n visibility.Node) error {
	p.mu.Lock()
	delete(p.observed, n)
	p.mu.Unlock()
	return nil
}

func (p *fakePrim) observing() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observed)
}

func (p *fakePrim) observeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observes
}

func (p *fakePrim) fire(records ...visibility.Record) { p.cb(records) }

// collector is a callback sink.
type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) send(_ context.Context, e event.Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *collector) all() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Event(nil), c.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// testService builds a Service with a collecting sink and deterministic
// event IDs. withDB also opens an in-memory journal.
func testService(t *testing.T, withDB bool) (*Service, *collector) {
	t.Helper()
	c := &collector{}
	svc := New(&Config{}, discardLogger(), NewCallbackSink(c.send))
	var n int
	svc.newID = func() string {
		n++
		return fmt.Sprintf("evt-%d", n)
	}
	if withDB {
		svc.useDB(store.OpenMemory(t, store.WithSchema(config.TargetSchema)))
	}
	return svc, c
}

func target(name, selector string) config.TargetConfig {
	tc := config.TargetConfig{Name: name, Selector: selector}
	tc.ApplyDefaults()
	return tc
}
