package affiliate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/refmetric/refmetric/internal/stats"
	"github.com/refmetric/refmetric/internal/storage"
)

// ErrStatsUnavailable reports that the event store could not serve the
// window. Recoverable: the caller shows a degraded dashboard and the
// next notification retriggers the fetch. The service never retries on
// its own.
var ErrStatsUnavailable = errors.New("stats unavailable")

// DashboardStats is the full derived output for one affiliate window.
type DashboardStats struct {
	Daily   []stats.DailyBucket  `json:"daily"`
	Devices []stats.DeviceBucket `json:"devices"`
	Summary stats.Summary        `json:"summary"`
}

// StatsService fetches an affiliate's events and runs the aggregator
// over them. The fetch and the derivation are separate on purpose: the
// aggregator stays pure while this service owns the I/O edge.
type StatsService struct {
	links  storage.LinkRepo
	events storage.EventStore
}

// NewStatsService constructs a StatsService.
func NewStatsService(links storage.LinkRepo, events storage.EventStore) *StatsService {
	return &StatsService{links: links, events: events}
}

// Window fetches the affiliate's events for windowDays days starting at
// windowStart (UTC calendar days) and derives daily, device and summary
// stats. An affiliate without a link, or an empty window, yields
// zero-filled structures, not an error.
func (s *StatsService) Window(ctx context.Context, affiliateID string, windowStart time.Time, windowDays int) (*DashboardStats, error) {
	if windowDays < 1 {
		return nil, fmt.Errorf("window must cover at least one day, got %d", windowDays)
	}

	link, err := s.links.GetByAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatsUnavailable, err)
	}

	start := windowStart.UTC().Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, windowDays).Add(-time.Nanosecond)

	var linkIDs []string
	if link != nil {
		linkIDs = []string{link.ID}
	}

	clicks, err := s.events.FetchClicks(ctx, linkIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatsUnavailable, err)
	}
	conversions, err := s.events.FetchConversions(ctx, linkIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatsUnavailable, err)
	}

	return &DashboardStats{
		Daily:   stats.DailyStats(clicks, conversions, start, windowDays),
		Devices: stats.DeviceStats(clicks, conversions),
		Summary: stats.SummaryStats(clicks, conversions),
	}, nil
}
