// Package config handles viewwatch configuration from YAML files or SQLite.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/viewwatch/visibility"
)

// Config is the top-level viewwatch configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Pages   []PageConfig  `yaml:"pages"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	HTTP    HTTPConfig    `yaml:"http"`
	Journal JournalConfig `yaml:"journal"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          bool          `yaml:"stealth"`
	Headful          bool          `yaml:"headful"`
	Viewport         Viewport      `yaml:"viewport"`
}

// Viewport is the emulated window size. It decides what is visible.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// PageConfig defines a page and the targets watched on it.
type PageConfig struct {
	ID      string         `yaml:"id"`
	URL     string         `yaml:"url"`
	Targets []TargetConfig `yaml:"targets"`
}

// TargetConfig is one element to watch.
type TargetConfig struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
	// Root is "" for the viewport, "document", or the CSS selector of a
	// scroll container.
	Root       string               `yaml:"root"`
	RootMargin string               `yaml:"root_margin"`
	Threshold  visibility.Threshold `yaml:"threshold"`
}

// RootDocument is the Root value selecting the whole document.
const RootDocument = "document"

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// HTTPConfig controls the admin API. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// JournalConfig locates the SQLite database holding the event journal and
// the watch_targets table. Empty Path disables both.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.Viewport.Width <= 0 {
		c.Browser.Viewport.Width = 1280
	}
	if c.Browser.Viewport.Height <= 0 {
		c.Browser.Viewport.Height = 800
	}
	for i := range c.Pages {
		p := &c.Pages[i]
		if p.ID == "" {
			p.ID = fmt.Sprintf("page-%d", i+1)
		}
		for j := range p.Targets {
			p.Targets[j].ApplyDefaults()
		}
	}
}

// ApplyDefaults names an unnamed target after its selector and sets the
// threshold to 0 when unset.
func (t *TargetConfig) ApplyDefaults() {
	if t.Name == "" {
		t.Name = t.Selector
	}
	if t.Threshold.IsZero() {
		t.Threshold = visibility.ScalarThreshold(0)
	}
}

// Validate reports the first invalid page or target.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Pages))
	for _, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %q: url is required", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
		for _, t := range p.Targets {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("config: page %q: %w", p.ID, err)
			}
		}
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink: url is required")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}

// Validate checks a single target.
func (t TargetConfig) Validate() error {
	if t.Selector == "" {
		return fmt.Errorf("target %q: selector is required", t.Name)
	}
	return t.Threshold.Validate()
}

// WatchConfig converts the target's options, given the resolved root.
func (t TargetConfig) WatchConfig(root visibility.Root) visibility.WatchConfig {
	return visibility.WatchConfig{
		Root:       root,
		RootMargin: t.RootMargin,
		Threshold:  t.Threshold,
	}
}
