// Package rodhost implements the visibility host capability on a live
// Chrome page: primitives are IntersectionObservers injected through CDP,
// elements are DOM nodes tagged with a token attribute, and change batches
// come back through a Runtime binding.
package rodhost

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/viewwatch/visibility"
)

//go:embed intersect.js
var intersectJS string

const bindingName = "__viewwatch_binding"

// Host is the capability implementation for one page. It satisfies
// visibility.PrimitiveFactory.
type Host struct {
	page   *rod.Page
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	elements map[string]*Element    // by token
	prims    map[string]*primitive // by observer id
	seq      int
}

// New creates a Host for page. Call Start before use.
func New(page *rod.Page, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		page:     page,
		logger:   logger,
		ctx:      context.Background(),
		cancel:   func() {},
		elements: make(map[string]*Element),
		prims:    make(map[string]*primitive),
	}
}

// Start installs the binding and the injected script, then listens for
// batches until ctx is done or Close is called.
func (h *Host) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(h.page); err != nil {
		h.logger.Warn("rodhost: addBinding failed (may already exist)", "error", err)
	}

	wait := h.page.Context(h.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == bindingName {
			h.dispatch(e.Payload)
		}
	})
	go wait()

	if _, err := h.page.Context(h.ctx).Eval(`() => {` + intersectJS + `}`); err != nil {
		return fmt.Errorf("rodhost: inject script: %w", err)
	}
	return nil
}

// Close stops listening. Injected observers stay in the page until it closes.
func (h *Host) Close() {
	h.cancel()
}

type chainLink struct {
	Token string `json:"token"`
	Tag   string `json:"tag"`
	ID    string `json:"id"`
}

// Query finds the first element matching selector and returns it with its
// ancestor chain.
func (h *Host) Query(ctx context.Context, selector string) (*Element, error) {
	res, err := h.page.Context(ctx).Eval(`(sel) => window.__viewwatch.describe(sel)`, selector)
	if err != nil {
		return nil, fmt.Errorf("rodhost: query %q: %w", selector, err)
	}
	var chain []chainLink
	if err := json.Unmarshal([]byte(res.Value.Str()), &chain); err != nil {
		return nil, fmt.Errorf("rodhost: query %q: decode: %w", selector, err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("rodhost: query %q: no match", selector)
	}
	return h.link(chain), nil
}

// link interns a root-first chain and returns its last element.
func (h *Host) link(chain []chainLink) *Element {
	h.mu.Lock()
	defer h.mu.Unlock()

	var parent *Element
	for _, c := range chain {
		el, ok := h.elements[c.Token]
		if !ok {
			el = &Element{host: h, token: c.Token, tag: c.Tag, id: c.ID, parent: parent}
			h.elements[c.Token] = el
		}
		parent = el
	}
	return parent
}

// NewPrimitive registers an observer id; the page-side observer is created
// on first Observe.
func (h *Host) NewPrimitive(cb visibility.BatchFunc, opts visibility.Options) visibility.Primitive {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	p := &primitive{host: h, id: "o" + strconv.Itoa(h.seq), cb: cb, opts: opts}
	h.prims[p.id] = p
	return p
}

// Primitives returns how many primitives this host has built.
func (h *Host) Primitives() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.prims)
}

type wireRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Entry is the raw record a page reports. It is kept in Record.Raw.
type Entry struct {
	Token        string   `json:"token"`
	Intersecting bool     `json:"intersecting"`
	Ratio        float64  `json:"ratio"`
	Time         float64  `json:"time"` // ms since page time origin
	Rect         wireRect `json:"rect"`
}

type wireBatch struct {
	Observer string  `json:"observer"`
	Entries  []Entry `json:"entries"`
}

// dispatch decodes one binding call and hands it to its primitive's
// callback. Entries for unknown elements are dropped.
func (h *Host) dispatch(payload string) {
	var b wireBatch
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		h.logger.Warn("rodhost: parse binding payload", "error", err)
		return
	}

	h.mu.Lock()
	p, ok := h.prims[b.Observer]
	records := make([]visibility.Record, 0, len(b.Entries))
	for _, e := range b.Entries {
		el, known := h.elements[e.Token]
		if !known {
			h.logger.Debug("rodhost: entry for unknown element", "token", e.Token)
			continue
		}
		records = append(records, visibility.Record{
			Target:       el,
			Intersecting: e.Intersecting,
			Ratio:        e.Ratio,
			Time:         time.Duration(e.Time * float64(time.Millisecond)),
			Raw:          e,
		})
	}
	h.mu.Unlock()

	if !ok {
		h.logger.Warn("rodhost: batch for unknown observer", "observer", b.Observer)
		return
	}
	p.cb(records)
}
