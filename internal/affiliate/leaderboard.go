package affiliate

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/refmetric/refmetric/internal/config"
	"github.com/refmetric/refmetric/internal/models"
)

// ErrLeaderboardDisabled is returned when no Redis backend is
// configured for the leaderboard.
var ErrLeaderboardDisabled = errors.New("leaderboard disabled")

// LeaderboardEntry is one ranked affiliate.
type LeaderboardEntry struct {
	Rank         int64   `json:"rank"`
	AffiliateID  string  `json:"affiliate_id"`
	TotalRevenue float64 `json:"total_revenue"`
}

// Leaderboard ranks affiliates by cumulative revenue in a Redis sorted
// set. Scores are refreshed from progression snapshots whenever a
// progression change notification arrives, so the board tracks the
// authoritative totals, not locally derived ones.
type Leaderboard struct {
	client *redis.Client
	key    string
	size   int
}

// NewLeaderboard constructs a leaderboard. client may be nil, in which
// case every method reports ErrLeaderboardDisabled.
func NewLeaderboard(client *redis.Client, cfg config.LeaderboardConfig) *Leaderboard {
	return &Leaderboard{client: client, key: cfg.Key, size: cfg.Size}
}

// Record refreshes an affiliate's score from a progression snapshot.
func (l *Leaderboard) Record(ctx context.Context, prog *models.Progression) error {
	if l.client == nil {
		return ErrLeaderboardDisabled
	}

	score, _ := prog.TotalRevenue.Float64()
	if err := l.client.ZAdd(ctx, l.key, redis.Z{Score: score, Member: prog.AffiliateID}).Err(); err != nil {
		return fmt.Errorf("failed to record leaderboard score: %w", err)
	}
	return nil
}

// Top returns the highest-revenue affiliates, best first. limit is
// capped at the configured board size.
func (l *Leaderboard) Top(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if l.client == nil {
		return nil, ErrLeaderboardDisabled
	}
	if limit <= 0 || limit > l.size {
		limit = l.size
	}

	members, err := l.client.ZRevRangeWithScores(ctx, l.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(members))
	for i, m := range members {
		id, _ := m.Member.(string)
		entries = append(entries, LeaderboardEntry{
			Rank:         int64(i + 1),
			AffiliateID:  id,
			TotalRevenue: m.Score,
		})
	}
	return entries, nil
}

// Rank returns an affiliate's 1-based position, or 0 when unranked.
func (l *Leaderboard) Rank(ctx context.Context, affiliateID string) (int64, error) {
	if l.client == nil {
		return 0, ErrLeaderboardDisabled
	}

	rank, err := l.client.ZRevRank(ctx, l.key, affiliateID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read leaderboard rank: %w", err)
	}
	return rank + 1, nil
}
