package config

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Two equal tokens mean nothing the
// action cares about has changed.
type Detector func(ctx context.Context, conn *sql.Conn) (int64, error)

// Poller watches the database for writes by polling PRAGMA data_version.
// A bump only tells that some table changed, so the detector is read next
// and the action runs once its token has been stable for the debounce
// window.
type Poller struct {
	db       *sql.DB
	interval time.Duration
	debounce time.Duration
	detect   Detector
	logger   *slog.Logger

	version atomic.Int64
	reloads atomic.Int64
}

// NewPoller creates a Poller tracking watch_targets. Zero durations default
// to 200ms polling and 500ms debounce.
func NewPoller(db *sql.DB, interval, debounce time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{db: db, interval: interval, debounce: debounce, detect: TargetsVersion, logger: logger}
}

// Reloads returns how many times the action succeeded.
func (p *Poller) Reloads() int64 { return p.reloads.Load() }

// OnChange blocks until ctx is cancelled. If action fails the version is
// not advanced and the action is retried on the next poll.
func (p *Poller) OnChange(ctx context.Context, action func(context.Context) error) {
	// data_version is per connection: pin one.
	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.logger.Error("config: poller connection failed", "error", err)
		return
	}
	defer conn.Close()

	dv, err := dataVersion(ctx, conn)
	if err != nil {
		p.logger.Warn("config: initial data_version failed", "error", err)
	}
	if v, err := p.detect(ctx, conn); err != nil {
		p.logger.Warn("config: initial version check failed", "error", err)
	} else {
		p.version.Store(v)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var debounceCh <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			cur, err := dataVersion(ctx, conn)
			if err != nil {
				p.logger.Warn("config: data_version check failed", "error", err)
				continue
			}
			if cur == dv {
				continue
			}
			dv = cur

			v, err := p.detect(ctx, conn)
			if err != nil {
				p.logger.Warn("config: version check failed", "error", err)
				continue
			}
			if v != p.version.Load() && v != pending {
				pending = v
				debounceCh = time.After(p.debounce)
				p.logger.Debug("config: change detected, debouncing", "pending_version", v)
			}

		case <-debounceCh:
			debounceCh = nil
			if pending < 0 {
				continue
			}
			if err := action(ctx); err != nil {
				p.logger.Error("config: reload failed", "error", err, "version", pending)
				pending = -1
				dv = -1 // re-read the detector on the next tick
				continue
			}
			p.version.Store(pending)
			p.reloads.Add(1)
			p.logger.Info("config: reloaded", "version", pending)
			pending = -1
		}
	}
}

// TargetsVersion reads the counter the watch_targets triggers bump.
func TargetsVersion(ctx context.Context, conn *sql.Conn) (int64, error) {
	var v int64
	err := conn.QueryRowContext(ctx, "SELECT version FROM watch_targets_version WHERE id = 1").Scan(&v)
	return v, err
}

// dataVersion changes whenever another connection commits to the file.
func dataVersion(ctx context.Context, conn *sql.Conn) (int64, error) {
	var v int64
	err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
