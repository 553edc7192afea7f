package viewwatch

import (
	"github.com/hazyhaar/viewwatch/viewwatch/internal/config"
)

// Config is the top-level viewwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page and its targets.
type PageConfig = config.PageConfig

// TargetConfig is one element to watch.
type TargetConfig = config.TargetConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes a YAML document.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
