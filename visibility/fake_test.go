package visibility

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

type fakeNode struct {
	tag    string
	id     string
	parent *fakeNode
}

func (n *fakeNode) TagName() string { return n.tag }
func (n *fakeNode) ID() string      { return n.id }
func (n *fakeNode) Parent() Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func el(tag, id string, parent *fakeNode) *fakeNode {
	return &fakeNode{tag: tag, id: id, parent: parent}
}

// fakeHost records every primitive it builds.
type fakeHost struct {
	mu    sync.Mutex
	prims []*fakePrimitive
}

func (h *fakeHost) NewPrimitive(cb BatchFunc, opts Options) Primitive {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := &fakePrimitive{cb: cb, opts: opts, observed: make(map[Node]bool)}
	h.prims = append(h.prims, p)
	return p
}

func (h *fakeHost) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.prims)
}

type fakePrimitive struct {
	cb       BatchFunc
	opts     Options
	observed map[Node]bool
	failWith error
}

func (p *fakePrimitive) Observe(_ context.Context, n Node) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.observed[n] = true
	return nil
}

func (p *fakePrimitive) Unobserve(_ context.Context, n Node) error {
	delete(p.observed, n)
	return nil
}

// fire simulates the host callback.
func (p *fakePrimitive) fire(records ...Record) { p.cb(records) }

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func countLevel(buf *bytes.Buffer, level string) int {
	return strings.Count(buf.String(), `"level":"`+level+`"`)
}
