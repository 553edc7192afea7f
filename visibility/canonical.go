package visibility

import (
	"encoding/json"
	"strings"
)

// Canonicalize serializes cfg into its watcher key: a JSON object with the
// fixed field order root, rootMargin, threshold, unspecified fields omitted.
// Structurally equal configs produce the same key. Thresholds are not
// normalized across shapes.
func Canonicalize(cfg WatchConfig) string {
	return canonicalKey(Resolve(cfg.Root), cfg)
}

func canonicalKey(id RootIdentity, cfg WatchConfig) string {
	var b strings.Builder
	b.WriteByte('{')
	sep := ""
	field := func(name, raw string) {
		b.WriteString(sep)
		b.WriteString(quote(name))
		b.WriteByte(':')
		b.WriteString(raw)
		sep = ","
	}
	if id.Kind != RootUnspecified {
		field("root", quote(id.String()))
	}
	if cfg.RootMargin != "" {
		field("rootMargin", quote(cfg.RootMargin))
	}
	if !cfg.Threshold.IsZero() {
		field("threshold", cfg.Threshold.canonical())
	}
	b.WriteByte('}')
	return b.String()
}

func quote(s string) string {
	// Marshalling a string cannot fail.
	data, _ := json.Marshal(s)
	return string(data)
}
