package browser

import "testing"

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "script": true}
	cases := map[string]bool{
		"Image":      true,
		"Font":       true,
		"Script":     true,
		"Stylesheet": false,
		"Media":      false,
		"Document":   false,
	}
	for typ, want := range cases {
		if got := shouldBlock(set, typ); got != want {
			t.Errorf("shouldBlock(%q): got %v, want %v", typ, got, want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.ViewportWidth != 1280 || m.cfg.ViewportHeight != 800 {
		t.Errorf("viewport: got %dx%d", m.cfg.ViewportWidth, m.cfg.ViewportHeight)
	}
	if m.cfg.Logger == nil || m.cfg.RecycleInterval <= 0 {
		t.Error("defaults not applied")
	}
	if m.Browser() != nil {
		t.Error("Browser before Start should be nil")
	}
}
