package affiliate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/models"
	"github.com/refmetric/refmetric/internal/storage"
	"github.com/refmetric/refmetric/internal/tier"
)

// ProgressionView combines the stored progression snapshot with the
// derived tier placement.
type ProgressionView struct {
	Progression *models.Progression `json:"progression"`
	Placement   *tier.Placement     `json:"placement"`
}

// ProgressionService reads progression snapshots and derives tier
// placement. Tier assignment itself is authoritative external state
// written by the settlement job; this service only displays progress
// and never promotes anyone.
type ProgressionService struct {
	progressions storage.ProgressionRepo
	tiers        storage.TierRepo
	logger       *zap.Logger
}

// NewProgressionService constructs a ProgressionService.
func NewProgressionService(progressions storage.ProgressionRepo, tiers storage.TierRepo, logger *zap.Logger) *ProgressionService {
	return &ProgressionService{progressions: progressions, tiers: tiers, logger: logger}
}

// Get returns the affiliate's progression with derived placement. On
// first request the default row is created at the lowest tier with zero
// totals. The tier configuration is re-read and re-validated on every
// call: a derivation never mixes a stale tier list with a fresh
// progression snapshot.
func (s *ProgressionService) Get(ctx context.Context, affiliateID string) (*ProgressionView, error) {
	tiers, err := s.tiers.ListOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiers: %w", err)
	}
	if err := tier.Validate(tiers); err != nil {
		return nil, err
	}

	prog, err := s.progressions.GetByAffiliate(ctx, affiliateID)
	if errors.Is(err, storage.ErrNoProgression) {
		prog, err = s.progressions.CreateDefault(ctx, affiliateID, tiers[0].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to create default progression: %w", err)
		}
		s.logger.Info("default progression created",
			zap.String("affiliate_id", affiliateID),
			zap.String("tier", tiers[0].Name),
		)
	} else if err != nil {
		return nil, err
	}

	placement, err := tier.Locate(tiers, prog)
	if err != nil {
		return nil, err
	}

	return &ProgressionView{Progression: prog, Placement: placement}, nil
}

// Tiers returns the validated tier configuration.
func (s *ProgressionService) Tiers(ctx context.Context) ([]*models.CommissionTier, error) {
	tiers, err := s.tiers.ListOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiers: %w", err)
	}
	if err := tier.Validate(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// Examples returns the per-tier commission illustrations.
func (s *ProgressionService) Examples(ctx context.Context) ([]tier.TierExamples, error) {
	tiers, err := s.Tiers(ctx)
	if err != nil {
		return nil, err
	}
	return tier.Examples(tiers), nil
}
