package storage

import (
	"context"
	"errors"
	"time"

	"github.com/refmetric/refmetric/internal/models"
)

// ErrUnknownCode is returned when a link code does not resolve to any
// affiliate link. It is deliberately distinct from storage failures so
// the ingress can answer 404 instead of 500.
var ErrUnknownCode = errors.New("unknown link code")

// ErrNoProgression is returned when an affiliate has no progression row
// yet. Recoverable: callers may create the default row or report the
// state upward.
var ErrNoProgression = errors.New("no progression for affiliate")

// =============================================
// LINK REPOSITORY
// =============================================

// LinkRepo defines operations for affiliate link storage. Links are
// created once at registration and immutable thereafter.
type LinkRepo interface {
	Create(ctx context.Context, link *models.AffiliateLink) error
	GetByCode(ctx context.Context, code string) (*models.AffiliateLink, error)
	GetByAffiliate(ctx context.Context, affiliateID string) (*models.AffiliateLink, error)
}

// =============================================
// EVENT STORE
// =============================================

// EventStore defines operations for click and conversion events.
// Fetch methods return rows for the given link ids with created_at in
// [start, end], ordered ascending by created_at.
type EventStore interface {
	SaveClick(ctx context.Context, click *models.Click) error
	SaveConversion(ctx context.Context, conv *models.Conversion) error

	// UpdateConversionStatus applies the out-of-band pending->completed
	// transition reported by the payment webhook.
	UpdateConversionStatus(ctx context.Context, id string, status models.ConversionStatus) error

	FetchClicks(ctx context.Context, linkIDs []string, start, end time.Time) ([]*models.Click, error)
	FetchConversions(ctx context.Context, linkIDs []string, start, end time.Time) ([]*models.Conversion, error)
}

// =============================================
// TIER / PROGRESSION REPOSITORIES
// =============================================

// TierRepo reads the commission tier configuration. Tiers are managed
// externally and read-only here; ListOrdered returns them ascending by
// min_revenue, which the tier engine relies on.
type TierRepo interface {
	ListOrdered(ctx context.Context) ([]*models.CommissionTier, error)
}

// ProgressionRepo defines operations for progression snapshots. One row
// per affiliate; TotalRevenue/TotalCommission are written by an
// external settlement job, this service only creates the default row
// and reads.
type ProgressionRepo interface {
	GetByAffiliate(ctx context.Context, affiliateID string) (*models.Progression, error)
	CreateDefault(ctx context.Context, affiliateID string, lowestTierID int64) (*models.Progression, error)
}
