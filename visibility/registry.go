package visibility

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry hands out one Watcher per canonical configuration. Watchers are
// never evicted: a registry grows with the number of distinct configurations
// it has seen and lives as long as its owner. It is safe for concurrent use.
type Registry struct {
	factory PrimitiveFactory
	broker  *Broker
	logger  *slog.Logger

	mu       sync.Mutex
	watchers map[string]*Watcher

	created    atomic.Int64
	hits       atomic.Int64
	advisories atomic.Int64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for advisories. Default: slog.Default().
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// RegistryStats are point-in-time counters.
type RegistryStats struct {
	Watchers   int   `json:"watchers"`
	Created    int64 `json:"created"`
	Hits       int64 `json:"hits"`
	Advisories int64 `json:"advisories"`
}

// NewRegistry creates a Registry building primitives with factory and
// forwarding their batches to broker.
func NewRegistry(factory PrimitiveFactory, broker *Broker, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory:  factory,
		broker:   broker,
		logger:   slog.Default(),
		watchers: make(map[string]*Watcher),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreate returns the watcher for cfg, creating its primitive on the
// first request for that canonical key. A new watcher rooted at an element
// without identifier logs one advisory: its identity is path-derived and may
// be shared with a sibling of the same shape.
func (r *Registry) GetOrCreate(cfg WatchConfig) *Watcher {
	id := Resolve(cfg.Root)
	key := canonicalKey(id, cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.watchers[key]; ok {
		r.hits.Add(1)
		return w
	}

	if cfg.Root.NeedsAdvisory() {
		r.advisories.Add(1)
		r.logger.Warn("visibility: root element has no id, watcher may be shared with a similar element",
			"root", id.Path, "key", key)
	}

	w := &Watcher{
		key:      key,
		cfg:      cfg,
		identity: id,
		observed: make(map[Node]struct{}),
	}
	w.prim = r.factory.NewPrimitive(r.broker.Publish, Options{
		Root:       cfg.Root,
		RootMargin: cfg.RootMargin,
		Threshold:  cfg.Threshold,
	})
	r.watchers[key] = w
	r.created.Add(1)

	r.logger.Debug("visibility: watcher created", "key", key)
	return w
}

// Lookup returns the watcher stored under a canonical key.
func (r *Registry) Lookup(key string) (*Watcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watchers[key]
	return w, ok
}

// Len returns the number of watchers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Keys returns the canonical keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.watchers))
	for k := range r.watchers {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Stats returns the current counters.
func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Watchers:   r.Len(),
		Created:    r.created.Load(),
		Hits:       r.hits.Load(),
		Advisories: r.advisories.Load(),
	}
}

// Watcher wraps one primitive shared by every caller asking for an
// equivalent configuration.
type Watcher struct {
	key      string
	cfg      WatchConfig
	identity RootIdentity
	prim     Primitive

	mu       sync.Mutex
	observed map[Node]struct{}
}

// Key returns the canonical key.
func (w *Watcher) Key() string { return w.key }

// Config returns the configuration the watcher was created with.
func (w *Watcher) Config() WatchConfig { return w.cfg }

// Identity returns the resolved root identity.
func (w *Watcher) Identity() RootIdentity { return w.identity }

// Observe starts tracking n.
func (w *Watcher) Observe(ctx context.Context, n Node) error {
	if err := w.prim.Observe(ctx, n); err != nil {
		return fmt.Errorf("visibility: observe: %w", err)
	}
	w.mu.Lock()
	w.observed[n] = struct{}{}
	w.mu.Unlock()
	return nil
}

// Unobserve stops tracking n. Subscriptions on n are left alone.
func (w *Watcher) Unobserve(ctx context.Context, n Node) error {
	if err := w.prim.Unobserve(ctx, n); err != nil {
		return fmt.Errorf("visibility: unobserve: %w", err)
	}
	w.mu.Lock()
	delete(w.observed, n)
	w.mu.Unlock()
	return nil
}

// Observed returns how many elements are currently tracked.
func (w *Watcher) Observed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.observed)
}
