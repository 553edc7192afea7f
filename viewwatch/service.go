// Package viewwatch is a visibility observation daemon. It drives Chrome
// headless, watches configured elements with shared IntersectionObservers
// and emits entered/left events to sinks (stdout, webhook, SQLite journal).
//
// One Broker serves the whole process; each page gets its own Registry
// because native observers belong to a document.
package viewwatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/browser"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/config"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/rodhost"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/sink"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/store"
	"github.com/hazyhaar/viewwatch/visibility"
)

// pageHost is what a page offers the service: primitives and element lookup.
type pageHost interface {
	visibility.PrimitiveFactory
	Query(ctx context.Context, selector string) (visibility.Node, error)
	Close()
}

// rodPage adapts a rodhost.Host and its tab.
type rodPage struct {
	host *rodhost.Host
	tab  *rod.Page
}

func (p *rodPage) NewPrimitive(cb visibility.BatchFunc, opts visibility.Options) visibility.Primitive {
	return p.host.NewPrimitive(cb, opts)
}

func (p *rodPage) Query(ctx context.Context, selector string) (visibility.Node, error) {
	el, err := p.host.Query(ctx, selector)
	if err != nil {
		return nil, err
	}
	return el, nil
}

func (p *rodPage) Close() {
	p.host.Close()
	p.tab.Close()
}

type boundTarget struct {
	cfg     config.TargetConfig
	binding *Binding
}

type page struct {
	cfg      config.PageConfig
	host     pageHost
	registry *visibility.Registry
	targets  []boundTarget
	seq      atomic.Uint64
}

// Service is the top-level orchestrator. Create one per process.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger
	mgr    *browser.Manager
	broker *visibility.Broker
	sinkR  *sink.Router
	newID  func() string

	db      *sql.DB
	journal *store.Journal

	mu    sync.Mutex
	pages map[string]*page
	order []string
}

// New creates a Service from configuration.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:    cfg,
		logger: logger,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Stealth:          cfg.Browser.Stealth,
			Headful:          cfg.Browser.Headful,
			ViewportWidth:    cfg.Browser.Viewport.Width,
			ViewportHeight:   cfg.Browser.Viewport.Height,
			Logger:           logger,
		}),
		broker: visibility.NewBroker(),
		sinkR:  sink.NewRouter(logger, sinks...),
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
		pages:  make(map[string]*page),
	}
	s.broker.Tap(s.trace)
	return s
}

// trace logs every raw change at debug level, bound or not.
func (s *Service) trace(e visibility.Event) {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	s.logger.Debug("viewwatch: change",
		"direction", e.Direction.String(),
		"path", visibility.ElementPath(e.Target),
		"ratio", e.Record.Ratio)
}

// Broker returns the process-wide broker.
func (s *Service) Broker() *visibility.Broker { return s.broker }

// Start opens the journal, launches the browser and attaches every
// configured page. A page that fails to attach is logged and skipped.
// When a journal is configured, watch_targets is polled until ctx ends.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.Journal.Path != "" {
		db, err := store.Open(s.cfg.Journal.Path, store.WithSchema(config.TargetSchema))
		if err != nil {
			return fmt.Errorf("viewwatch: open journal: %w", err)
		}
		s.useDB(db)

		fromDB, err := config.LoadTargets(ctx, db, s.logger)
		if err != nil {
			return fmt.Errorf("viewwatch: %w", err)
		}
		s.cfg.Pages = config.MergeTargets(s.cfg.Pages, fromDB)
	}

	if err := s.mgr.Start(ctx); err != nil {
		return fmt.Errorf("viewwatch: start browser: %w", err)
	}
	s.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: s.closePages,
		AfterRecycle:  s.openPages,
	})

	s.openPages(ctx)

	if s.db != nil {
		poller := config.NewPoller(s.db, 0, 0, s.logger)
		go poller.OnChange(ctx, s.ReloadTargets)
	}
	return nil
}

// Stop detaches all pages and shuts the browser and sinks down.
func (s *Service) Stop() {
	s.closePages()
	if err := s.sinkR.Close(); err != nil {
		s.logger.Warn("viewwatch: close sinks", "error", err)
	}
	s.mgr.Close()
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Service) useDB(db *sql.DB) {
	s.db = db
	s.journal = store.NewJournal(db)
	s.sinkR.Add(sink.NewJournal(s.journal))
}

func (s *Service) openPages(ctx context.Context) {
	for _, pc := range s.cfg.Pages {
		if err := s.openPage(ctx, pc); err != nil {
			s.logger.Error("viewwatch: failed to open page", "url", pc.URL, "error", err)
		}
	}
}

func (s *Service) openPage(ctx context.Context, pc config.PageConfig) error {
	tab, err := s.mgr.OpenTab(ctx, pc.URL)
	if err != nil {
		return err
	}
	h := rodhost.New(tab, s.logger.With("page_id", pc.ID))
	if err := h.Start(ctx); err != nil {
		tab.Close()
		return err
	}
	s.attachPage(ctx, pc, &rodPage{host: h, tab: tab})
	return nil
}

// attachPage registers a page and binds its targets. Targets that cannot
// be bound are logged and skipped.
func (s *Service) attachPage(ctx context.Context, pc config.PageConfig, host pageHost) *page {
	p := &page{
		cfg:      pc,
		host:     host,
		registry: visibility.NewRegistry(host, s.broker, visibility.WithLogger(s.logger.With("page_id", pc.ID))),
	}
	for _, tc := range pc.Targets {
		if err := s.bindTarget(ctx, p, tc); err != nil {
			s.logger.Warn("viewwatch: target not bound",
				"page_id", pc.ID, "target", tc.Name, "error", err)
		}
	}

	s.mu.Lock()
	if _, ok := s.pages[pc.ID]; !ok {
		s.order = append(s.order, pc.ID)
	}
	s.pages[pc.ID] = p
	s.mu.Unlock()

	s.logger.Info("viewwatch: observing page",
		"url", pc.URL, "id", pc.ID, "targets", len(p.targets), "watchers", p.registry.Len())
	return p
}

// bindTarget attaches tc on p and records the binding. Events outlive ctx:
// it may be a request context that ends before the target first changes.
func (s *Service) bindTarget(ctx context.Context, p *page, tc config.TargetConfig) error {
	el, err := p.host.Query(ctx, tc.Selector)
	if err != nil {
		return err
	}

	root := visibility.Root{}
	switch tc.Root {
	case "":
	case config.RootDocument:
		root = visibility.DocumentRoot()
	default:
		container, err := p.host.Query(ctx, tc.Root)
		if err != nil {
			return fmt.Errorf("root: %w", err)
		}
		root = visibility.ElementRoot(container)
	}

	path := visibility.ElementPath(el)
	emitCtx := context.WithoutCancel(ctx)
	b := NewBinding(p.registry, s.broker, el, tc.WatchConfig(root),
		func(w *visibility.Watcher, dir visibility.Direction, rec visibility.Record) {
			s.emit(emitCtx, p, tc, path, w, dir, rec)
		})
	if err := b.Attach(ctx); err != nil {
		return err
	}
	p.targets = append(p.targets, boundTarget{cfg: tc, binding: b})
	return nil
}

func (s *Service) emit(ctx context.Context, p *page, tc config.TargetConfig, path string,
	w *visibility.Watcher, dir visibility.Direction, rec visibility.Record) {
	e := event.Event{
		ID:         s.newID(),
		PageID:     p.cfg.ID,
		PageURL:    p.cfg.URL,
		Seq:        p.seq.Add(1),
		Target:     tc.Name,
		Selector:   tc.Selector,
		Path:       path,
		Direction:  event.Left,
		Ratio:      rec.Ratio,
		HostTimeMs: float64(rec.Time) / float64(time.Millisecond),
		WatcherKey: w.Key(),
		Timestamp:  time.Now().UnixMilli(),
	}
	if dir == visibility.Entered {
		e.Direction = event.Entered
	}
	if err := s.sinkR.Send(ctx, e); err != nil {
		s.logger.Error("viewwatch: send event failed", "page_id", e.PageID, "target", e.Target, "error", err)
	}
}

// closePages detaches every binding and closes the page hosts. Registries
// go with their page: their observers lived in the closed document.
func (s *Service) closePages() {
	s.mu.Lock()
	pages := s.pages
	s.pages = make(map[string]*page)
	s.order = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for id, p := range pages {
		if err := detachAll(ctx, p.bindings()); err != nil {
			s.logger.Debug("viewwatch: detach on close", "page_id", id, "error", err)
		}
		p.host.Close()
		s.logger.Info("viewwatch: closed page", "id", id)
	}
}

func (p *page) bindings() []*Binding {
	out := make([]*Binding, len(p.targets))
	for i, t := range p.targets {
		out[i] = t.binding
	}
	return out
}

// ReloadTargets merges watch_targets into the configured pages and brings
// every open page in line: bindings whose target is unchanged stay attached,
// removed or changed targets are detached, new or changed ones are bound.
func (s *Service) ReloadTargets(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("viewwatch: no journal database")
	}
	fromDB, err := config.LoadTargets(ctx, s.db, s.logger)
	if err != nil {
		return err
	}
	merged := config.MergeTargets(s.cfg.Pages, fromDB)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range merged {
		p, ok := s.pages[pc.ID]
		if !ok {
			continue
		}
		s.syncTargets(ctx, p, pc.Targets)
	}
	return nil
}

func (s *Service) syncTargets(ctx context.Context, p *page, want []config.TargetConfig) {
	current := make(map[string]boundTarget, len(p.targets))
	for _, t := range p.targets {
		current[t.cfg.Name] = t
	}

	var kept []boundTarget
	var toBind []config.TargetConfig
	for _, tc := range want {
		if t, ok := current[tc.Name]; ok && sameTarget(t.cfg, tc) {
			kept = append(kept, t)
			delete(current, tc.Name)
			continue
		}
		toBind = append(toBind, tc)
	}

	var stale []*Binding
	for _, t := range current {
		stale = append(stale, t.binding)
	}
	if err := detachAll(ctx, stale); err != nil {
		s.logger.Warn("viewwatch: detach on reload", "page_id", p.cfg.ID, "error", err)
	}

	p.targets = kept
	p.cfg.Targets = want
	for _, tc := range toBind {
		if err := s.bindTarget(ctx, p, tc); err != nil {
			s.logger.Warn("viewwatch: target not bound", "page_id", p.cfg.ID, "target", tc.Name, "error", err)
		}
	}
	if len(toBind) > 0 || len(stale) > 0 {
		s.logger.Info("viewwatch: targets reloaded",
			"page_id", p.cfg.ID, "kept", len(kept), "bound", len(toBind), "detached", len(stale))
	}
}

func sameTarget(a, b config.TargetConfig) bool {
	return a.Name == b.Name &&
		a.Selector == b.Selector &&
		a.Root == b.Root &&
		a.RootMargin == b.RootMargin &&
		a.Threshold.String() == b.Threshold.String()
}

// AddTarget validates tc, binds it on the live page and, once bound,
// persists it when a journal database is open.
func (s *Service) AddTarget(ctx context.Context, pageID string, tc config.TargetConfig) error {
	tc.ApplyDefaults()
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("viewwatch: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		return fmt.Errorf("viewwatch: unknown page %q", pageID)
	}
	for _, t := range p.cfg.Targets {
		if t.Name == tc.Name {
			return fmt.Errorf("viewwatch: page %q already has target %q", pageID, tc.Name)
		}
	}
	for _, t := range p.targets {
		if t.cfg.Name == tc.Name {
			return fmt.Errorf("viewwatch: page %q already has target %q", pageID, tc.Name)
		}
	}
	if err := s.bindTarget(ctx, p, tc); err != nil {
		return fmt.Errorf("viewwatch: bind %q: %w", tc.Name, err)
	}
	if s.db != nil {
		if err := config.UpsertTarget(ctx, s.db, pageID, tc); err != nil {
			last := len(p.targets) - 1
			if derr := p.targets[last].binding.Detach(ctx); derr != nil {
				s.logger.Warn("viewwatch: detach after failed persist", "page_id", pageID, "target", tc.Name, "error", derr)
			}
			p.targets = p.targets[:last]
			return err
		}
	}
	p.cfg.Targets = append(p.cfg.Targets, tc)
	return nil
}
