package affiliate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/metrics"
	"github.com/refmetric/refmetric/internal/notify"
)

// Snapshot is the latest fully derived dashboard state for one
// affiliate: window stats plus tier placement, computed together from
// one consistent read.
type Snapshot struct {
	Stats       *DashboardStats  `json:"stats"`
	Progression *ProgressionView `json:"progression"`
	ComputedAt  time.Time        `json:"computed_at"`
}

type dashEntry struct {
	gen      uint64
	snapshot *Snapshot
}

// Dashboard is the subscription adapter between the change notifier and
// the pure derivation code. Each notification triggers a full
// re-fetch-and-recompute for the affected affiliate; nothing
// incremental is kept between notifications, so a recomputation can
// never drift from the stored state. Notifications may overlap: each
// one bumps a per-affiliate generation and a finished recomputation is
// discarded if a newer one started meanwhile (latest wins).
type Dashboard struct {
	stats       *StatsService
	progression *ProgressionService
	leaderboard *Leaderboard
	metrics     *metrics.Metrics
	logger      *zap.Logger
	windowDays  int
	timeout     time.Duration

	mu      sync.Mutex
	entries map[string]*dashEntry
}

// NewDashboard constructs the dashboard adapter. leaderboard and
// metrics may be nil.
func NewDashboard(
	statsSvc *StatsService,
	progressionSvc *ProgressionService,
	leaderboard *Leaderboard,
	m *metrics.Metrics,
	logger *zap.Logger,
	windowDays int,
) *Dashboard {
	if windowDays < 1 {
		windowDays = 30
	}
	return &Dashboard{
		stats:       statsSvc,
		progression: progressionSvc,
		leaderboard: leaderboard,
		metrics:     m,
		logger:      logger,
		windowDays:  windowDays,
		timeout:     30 * time.Second,
		entries:     make(map[string]*dashEntry),
	}
}

// HandleChange is the notify.Handler wired to the subscriber. It only
// bumps the generation and hands off to a goroutine, so the notifier's
// receive loop is never blocked by a recomputation.
func (d *Dashboard) HandleChange(change notify.Change) {
	if change.AffiliateID == "" {
		return
	}

	d.mu.Lock()
	entry, ok := d.entries[change.AffiliateID]
	if !ok {
		entry = &dashEntry{}
		d.entries[change.AffiliateID] = entry
	}
	entry.gen++
	gen := entry.gen
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.Recomputes.WithLabelValues(string(change.Table)).Inc()
	}

	go d.recompute(change, gen)
}

func (d *Dashboard) recompute(change notify.Change, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	started := time.Now()
	snap, err := d.compute(ctx, change.AffiliateID)
	if err != nil {
		d.logger.Warn("dashboard recompute failed",
			zap.String("affiliate_id", change.AffiliateID),
			zap.Error(err),
		)
		return
	}
	if d.metrics != nil {
		d.metrics.RecomputeLatency.Observe(time.Since(started).Seconds())
	}

	d.mu.Lock()
	entry := d.entries[change.AffiliateID]
	stale := entry == nil || entry.gen != gen
	if !stale {
		entry.snapshot = snap
	}
	d.mu.Unlock()

	if stale {
		if d.metrics != nil {
			d.metrics.RecomputesDropped.Inc()
		}
		return
	}

	// Progression snapshots carry the authoritative revenue total used
	// to rank affiliates.
	if change.Table == notify.TableProgression && d.leaderboard != nil {
		if err := d.leaderboard.Record(ctx, snap.Progression.Progression); err != nil {
			d.logger.Warn("failed to update leaderboard", zap.Error(err))
		}
	}
}

// Snapshot returns the cached dashboard state for the affiliate,
// computing it synchronously on first access.
func (d *Dashboard) Snapshot(ctx context.Context, affiliateID string) (*Snapshot, error) {
	d.mu.Lock()
	if entry, ok := d.entries[affiliateID]; ok && entry.snapshot != nil {
		snap := entry.snapshot
		d.mu.Unlock()
		return snap, nil
	}
	d.mu.Unlock()

	snap, err := d.compute(ctx, affiliateID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	entry, ok := d.entries[affiliateID]
	if !ok {
		entry = &dashEntry{}
		d.entries[affiliateID] = entry
	}
	if entry.snapshot == nil {
		entry.snapshot = snap
	}
	d.mu.Unlock()

	return snap, nil
}

// compute performs one full derivation from fresh reads.
func (d *Dashboard) compute(ctx context.Context, affiliateID string) (*Snapshot, error) {
	now := time.Now().UTC()
	windowStart := now.AddDate(0, 0, -(d.windowDays - 1))

	st, err := d.stats.Window(ctx, affiliateID, windowStart, d.windowDays)
	if err != nil {
		return nil, err
	}

	prog, err := d.progression.Get(ctx, affiliateID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Stats: st, Progression: prog, ComputedAt: now}, nil
}
