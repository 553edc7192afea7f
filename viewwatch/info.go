package viewwatch

import (
	"context"
	"fmt"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
	"github.com/hazyhaar/viewwatch/visibility"
)

// PageInfo describes an open page and its watchers.
type PageInfo struct {
	ID       string        `json:"id"`
	URL      string        `json:"url"`
	Targets  []TargetInfo  `json:"targets"`
	Watchers []WatcherInfo `json:"watchers"`
}

// TargetInfo is a bound target.
type TargetInfo struct {
	Name       string `json:"name"`
	Selector   string `json:"selector"`
	Path       string `json:"path"`
	WatcherKey string `json:"watcher_key"`
}

// WatcherInfo is one shared watcher of a page.
type WatcherInfo struct {
	Key      string `json:"key"`
	Root     string `json:"root"`
	Observed int    `json:"observed"`
}

// Stats aggregates broker and registry counters.
type Stats struct {
	Pages     int                      `json:"pages"`
	Broker    visibility.BrokerStats   `json:"broker"`
	Registry  visibility.RegistryStats `json:"registry"`
	Journaled int64                    `json:"journaled"`
}

// Pages lists open pages in the order they were attached.
func (s *Service) Pages() []PageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PageInfo, 0, len(s.order))
	for _, id := range s.order {
		p := s.pages[id]
		info := PageInfo{ID: p.cfg.ID, URL: p.cfg.URL}
		for _, t := range p.targets {
			ti := TargetInfo{
				Name:     t.cfg.Name,
				Selector: t.cfg.Selector,
				Path:     visibility.ElementPath(t.binding.Target()),
			}
			if w := t.binding.Watcher(); w != nil {
				ti.WatcherKey = w.Key()
			}
			info.Targets = append(info.Targets, ti)
		}
		info.Watchers = watcherInfos(p.registry)
		out = append(out, info)
	}
	return out
}

// Page returns one page by ID.
func (s *Service) Page(id string) (PageInfo, bool) {
	for _, p := range s.Pages() {
		if p.ID == id {
			return p, true
		}
	}
	return PageInfo{}, false
}

func watcherInfos(reg *visibility.Registry) []WatcherInfo {
	keys := reg.Keys()
	out := make([]WatcherInfo, 0, len(keys))
	for _, k := range keys {
		w, ok := reg.Lookup(k)
		if !ok {
			continue
		}
		out = append(out, WatcherInfo{Key: k, Root: w.Identity().String(), Observed: w.Observed()})
	}
	return out
}

// Stats returns counters summed across pages.
func (s *Service) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	st := Stats{Pages: len(s.pages), Broker: s.broker.Stats()}
	for _, p := range s.pages {
		rs := p.registry.Stats()
		st.Registry.Watchers += rs.Watchers
		st.Registry.Created += rs.Created
		st.Registry.Hits += rs.Hits
		st.Registry.Advisories += rs.Advisories
	}
	s.mu.Unlock()

	if s.journal != nil {
		if n, err := s.journal.Count(ctx); err == nil {
			st.Journaled = n
		} else {
			s.logger.Warn("viewwatch: journal count", "error", err)
		}
	}
	return st
}

// RecentEvents returns journaled events, newest first. pageID "" means
// all pages.
func (s *Service) RecentEvents(ctx context.Context, pageID string, limit int) ([]event.Event, error) {
	if s.journal == nil {
		return nil, fmt.Errorf("viewwatch: journal disabled")
	}
	return s.journal.Recent(ctx, pageID, limit)
}
