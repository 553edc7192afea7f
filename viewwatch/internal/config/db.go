package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// TargetSchema for the watch_targets table. Rows override or extend the
// targets of the page with the same id.
const TargetSchema = `
CREATE TABLE IF NOT EXISTS watch_targets (
	page_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	selector    TEXT NOT NULL,
	root        TEXT NOT NULL DEFAULT '',
	root_margin TEXT NOT NULL DEFAULT '',
	threshold   TEXT NOT NULL DEFAULT 'null',
	status      TEXT NOT NULL DEFAULT 'active',
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (page_id, name)
);

CREATE TABLE IF NOT EXISTS watch_targets_version (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);
INSERT OR IGNORE INTO watch_targets_version (id, version) VALUES (1, 0);

CREATE TRIGGER IF NOT EXISTS watch_targets_ai AFTER INSERT ON watch_targets
BEGIN UPDATE watch_targets_version SET version = version + 1 WHERE id = 1; END;
CREATE TRIGGER IF NOT EXISTS watch_targets_au AFTER UPDATE ON watch_targets
BEGIN UPDATE watch_targets_version SET version = version + 1 WHERE id = 1; END;
CREATE TRIGGER IF NOT EXISTS watch_targets_ad AFTER DELETE ON watch_targets
BEGIN UPDATE watch_targets_version SET version = version + 1 WHERE id = 1; END;
`

// LoadTargets reads active targets grouped by page id. A row whose
// threshold does not parse is skipped with a warning.
func LoadTargets(ctx context.Context, db *sql.DB, logger *slog.Logger) (map[string][]TargetConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT page_id, name, selector, root, root_margin, threshold
		FROM watch_targets
		WHERE status = 'active'
		ORDER BY page_id, name
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load targets: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]TargetConfig)
	for rows.Next() {
		var pageID, thresholdJSON string
		var t TargetConfig
		if err := rows.Scan(&pageID, &t.Name, &t.Selector, &t.Root, &t.RootMargin, &thresholdJSON); err != nil {
			return nil, fmt.Errorf("config: scan target: %w", err)
		}
		if err := json.Unmarshal([]byte(thresholdJSON), &t.Threshold); err != nil {
			logger.Warn("config: skipping target with bad threshold",
				"page_id", pageID, "name", t.Name, "error", err)
			continue
		}
		t.ApplyDefaults()
		out[pageID] = append(out[pageID], t)
	}
	return out, rows.Err()
}

// DeleteTarget removes a target row. Missing rows are not an error.
func DeleteTarget(ctx context.Context, db *sql.DB, pageID, name string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM watch_targets WHERE page_id = ? AND name = ?`, pageID, name)
	if err != nil {
		return fmt.Errorf("config: delete target: %w", err)
	}
	return nil
}

// UpsertTarget inserts or replaces a target row.
func UpsertTarget(ctx context.Context, db *sql.DB, pageID string, t TargetConfig) error {
	th, err := json.Marshal(t.Threshold)
	if err != nil {
		return fmt.Errorf("config: marshal threshold: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO watch_targets (page_id, name, selector, root, root_margin, threshold, status, updated_at)
		VALUES (?,?,?,?,?,?,'active',?)
		ON CONFLICT(page_id, name) DO UPDATE SET
			selector = excluded.selector,
			root = excluded.root,
			root_margin = excluded.root_margin,
			threshold = excluded.threshold,
			status = 'active',
			updated_at = excluded.updated_at`,
		pageID, t.Name, t.Selector, t.Root, t.RootMargin, string(th), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: upsert target: %w", err)
	}
	return nil
}

// MergeTargets returns a copy of pages where targets from the table replace
// file targets of the same name and new names are appended.
func MergeTargets(pages []PageConfig, fromDB map[string][]TargetConfig) []PageConfig {
	out := make([]PageConfig, len(pages))
	for i, p := range pages {
		merged := append([]TargetConfig(nil), p.Targets...)
		for _, t := range fromDB[p.ID] {
			replaced := false
			for j := range merged {
				if merged[j].Name == t.Name {
					merged[j] = t
					replaced = true
					break
				}
			}
			if !replaced {
				merged = append(merged, t)
			}
		}
		p.Targets = merged
		out[i] = p
	}
	return out
}
