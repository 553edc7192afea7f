package rodhost

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/viewwatch/visibility"
)

// primitive is one IntersectionObserver in the page.
type primitive struct {
	host *Host
	id   string
	cb   visibility.BatchFunc
	opts visibility.Options

	mu        sync.Mutex
	installed bool
}

func (p *primitive) Observe(ctx context.Context, n visibility.Node) error {
	el, err := p.element(n)
	if err != nil {
		return err
	}
	if err := p.install(ctx); err != nil {
		return err
	}
	return p.call(ctx, "observe", el)
}

func (p *primitive) Unobserve(ctx context.Context, n visibility.Node) error {
	el, err := p.element(n)
	if err != nil {
		return err
	}
	p.mu.Lock()
	installed := p.installed
	p.mu.Unlock()
	if !installed {
		return nil
	}
	return p.call(ctx, "unobserve", el)
}

func (p *primitive) element(n visibility.Node) (*Element, error) {
	el, ok := n.(*Element)
	if !ok || el.host != p.host {
		return nil, fmt.Errorf("rodhost: %T is not an element of this page", n)
	}
	return el, nil
}

func (p *primitive) call(ctx context.Context, fn string, el *Element) error {
	res, err := p.host.page.Context(ctx).Eval(
		`(fn, id, token) => window.__viewwatch[fn](id, token)`, fn, p.id, el.token)
	if err != nil {
		return fmt.Errorf("rodhost: %s: %w", fn, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("rodhost: %s %s: element detached", fn, el.Path())
	}
	return nil
}

func (p *primitive) install(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.installed {
		return nil
	}

	root, err := p.rootArg()
	if err != nil {
		return err
	}
	res, err := p.host.page.Context(ctx).Eval(
		`(id, root, margin, threshold) => window.__viewwatch.create(id, root, margin, threshold)`,
		p.id, root, p.opts.RootMargin, thresholdArg(p.opts.Threshold))
	if err != nil {
		return fmt.Errorf("rodhost: create observer: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("rodhost: create observer: root %s not in page", visibility.Resolve(p.opts.Root))
	}
	p.installed = true
	return nil
}

// rootArg is nil for the viewport, "document", or the container's token.
func (p *primitive) rootArg() (any, error) {
	r := p.opts.Root
	switch {
	case r.IsViewport():
		return nil, nil
	case r.IsDocument():
		return "document", nil
	}
	el, err := p.element(r.Element())
	if err != nil {
		return nil, fmt.Errorf("rodhost: root: %w", err)
	}
	return el.token, nil
}

func thresholdArg(t visibility.Threshold) any {
	switch {
	case t.IsZero():
		return nil
	case t.IsList():
		return t.Values()
	}
	return t.Values()[0]
}
