package config

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/store"
	"github.com/hazyhaar/viewwatch/visibility"
)

const sampleYAML = `
browser:
  stealth: true
pages:
  - id: home
    url: https://example.com
    targets:
      - name: hero
        selector: "#hero"
        threshold: 0.5
      - selector: ".card"
        root: "#feed"
        root_margin: "10px 0px"
        threshold: [0, 0.5, 1]
      - selector: "footer"
        root: document
sinks:
  - type: stdout
  - type: webhook
    url: http://localhost:9000/hook
http:
  addr: ":8086"
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.RecycleInterval != 4*time.Hour {
		t.Errorf("RecycleInterval: got %v", cfg.Browser.RecycleInterval)
	}
	if cfg.Browser.Viewport.Width != 1280 || cfg.Browser.Viewport.Height != 800 {
		t.Errorf("Viewport: got %+v", cfg.Browser.Viewport)
	}
	if len(cfg.Pages) != 1 || len(cfg.Pages[0].Targets) != 3 {
		t.Fatalf("pages: got %+v", cfg.Pages)
	}

	hero, card, footer := cfg.Pages[0].Targets[0], cfg.Pages[0].Targets[1], cfg.Pages[0].Targets[2]
	if hero.Threshold.IsList() || hero.Threshold.Values()[0] != 0.5 {
		t.Errorf("hero threshold: got %v", hero.Threshold)
	}
	if card.Name != ".card" {
		t.Errorf("card name: got %q, want selector", card.Name)
	}
	if !card.Threshold.IsList() || len(card.Threshold.Values()) != 3 {
		t.Errorf("card threshold: got %v", card.Threshold)
	}
	if footer.Root != RootDocument {
		t.Errorf("footer root: got %q", footer.Root)
	}
	if footer.Threshold.IsList() || footer.Threshold.Values()[0] != 0 {
		t.Errorf("footer default threshold: got %v, want 0", footer.Threshold)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"no url":        "pages: [{id: a}]",
		"no selector":   "pages: [{id: a, url: http://x, targets: [{name: t}]}]",
		"bad threshold": "pages: [{id: a, url: http://x, targets: [{selector: p, threshold: 2}]}]",
		"dup page":      "pages: [{id: a, url: http://x}, {id: a, url: http://y}]",
		"bad sink":      "sinks: [{type: nats}]",
		"webhook url":   "sinks: [{type: webhook}]",
		"journal sink":  "sinks: [{type: journal}]",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestWatchConfig(t *testing.T) {
	tc := TargetConfig{Selector: "p", RootMargin: "5px", Threshold: visibility.ListThreshold(0.5)}
	wc := tc.WatchConfig(visibility.DocumentRoot())
	want := `{"root":"document","rootMargin":"5px","threshold":[0.5]}`
	if got := visibility.Canonicalize(wc); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(TargetSchema); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestLoadTargets(t *testing.T) {
	db := openDB(t, filepath.Join(t.TempDir(), "t.db"))
	ctx := context.Background()

	if err := UpsertTarget(ctx, db, "home", TargetConfig{Name: "hero", Selector: "#hero", Threshold: visibility.ListThreshold(0, 1)}); err != nil {
		t.Fatal(err)
	}
	if err := UpsertTarget(ctx, db, "home", TargetConfig{Name: "hero", Selector: "#hero2", Threshold: visibility.ScalarThreshold(1)}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO watch_targets (page_id, name, selector, threshold, updated_at) VALUES ('home', 'broken', 'p', '"x"', 0)`); err != nil {
		t.Fatal(err)
	}

	got, err := LoadTargets(ctx, db, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(got["home"]) != 1 {
		t.Fatalf("targets: got %+v", got)
	}
	hero := got["home"][0]
	if hero.Selector != "#hero2" || hero.Threshold.IsList() {
		t.Errorf("hero: got %+v", hero)
	}
}

func TestMergeTargets(t *testing.T) {
	pages := []PageConfig{{ID: "home", URL: "http://x", Targets: []TargetConfig{
		{Name: "hero", Selector: "#hero"},
		{Name: "footer", Selector: "footer"},
	}}}
	merged := MergeTargets(pages, map[string][]TargetConfig{
		"home": {{Name: "hero", Selector: "#new-hero"}, {Name: "ad", Selector: ".ad"}},
	})

	ts := merged[0].Targets
	if len(ts) != 3 {
		t.Fatalf("got %d targets, want 3", len(ts))
	}
	if ts[0].Selector != "#new-hero" || ts[2].Name != "ad" {
		t.Errorf("got %+v", ts)
	}
	if pages[0].Targets[0].Selector != "#hero" {
		t.Error("input mutated")
	}
}

func TestPoller_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.db")
	writer := openDB(t, path)
	reader := openDB(t, path)

	p := NewPoller(reader, 10*time.Millisecond, 20*time.Millisecond, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 4)
	go p.OnChange(ctx, func(context.Context) error {
		fired <- struct{}{}
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	if err := UpsertTarget(ctx, writer, "home", TargetConfig{Name: "x", Selector: "p"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("reload not fired")
	}
}

func TestPoller_IgnoresOtherTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.db")
	writer, err := store.Open(path, store.WithSchema(TargetSchema))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { writer.Close() })
	reader := openDB(t, path)

	p := NewPoller(reader, 10*time.Millisecond, 20*time.Millisecond, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 8)
	go p.OnChange(ctx, func(context.Context) error {
		fired <- struct{}{}
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	journal := store.NewJournal(writer)
	for i := 1; i <= 3; i++ {
		e := event.Event{ID: fmt.Sprintf("e%d", i), PageID: "home", Seq: uint64(i), Direction: event.Entered}
		if err := journal.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
		time.Sleep(30 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if got := p.Reloads(); got != 0 {
		t.Fatalf("reloads after journal appends: got %d, want 0", got)
	}

	if err := UpsertTarget(ctx, writer, "home", TargetConfig{Name: "x", Selector: "p"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("reload not fired after watch_targets write")
	}
}

func TestTargetsVersion_Triggers(t *testing.T) {
	db := openDB(t, filepath.Join(t.TempDir(), "v.db"))
	ctx := context.Background()
	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	version := func() int64 {
		t.Helper()
		v, err := TargetsVersion(ctx, conn)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}

	v0 := version()
	if err := UpsertTarget(ctx, db, "home", TargetConfig{Name: "x", Selector: "p"}); err != nil {
		t.Fatal(err)
	}
	v1 := version()
	if v1 <= v0 {
		t.Errorf("insert: version %d, want > %d", v1, v0)
	}
	if err := UpsertTarget(ctx, db, "home", TargetConfig{Name: "x", Selector: "div"}); err != nil {
		t.Fatal(err)
	}
	v2 := version()
	if v2 <= v1 {
		t.Errorf("update: version %d, want > %d", v2, v1)
	}
	if err := DeleteTarget(ctx, db, "home", "x"); err != nil {
		t.Fatal(err)
	}
	if v3 := version(); v3 <= v2 {
		t.Errorf("delete: version %d, want > %d", v3, v2)
	}
}
