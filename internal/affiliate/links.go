// Package affiliate holds the services behind the portal: link
// issuance, dashboard statistics, tier progression, the revenue
// leaderboard and the realtime recompute adapter.
package affiliate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/models"
	"github.com/refmetric/refmetric/internal/storage"
)

const codeLength = 8

// LinkService issues and looks up tracked referral links.
type LinkService struct {
	links  storage.LinkRepo
	logger *zap.Logger
}

// NewLinkService constructs a LinkService.
func NewLinkService(links storage.LinkRepo, logger *zap.Logger) *LinkService {
	return &LinkService{links: links, logger: logger}
}

// Register creates the affiliate's link at registration completion.
// One link per affiliate: if one already exists it is returned
// unchanged, since links are immutable.
func (s *LinkService) Register(ctx context.Context, affiliateID string) (*models.AffiliateLink, error) {
	if affiliateID == "" {
		return nil, fmt.Errorf("affiliate id is required")
	}

	existing, err := s.links.GetByAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	// Code collisions are possible; retry with a fresh code.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		link := &models.AffiliateLink{
			ID:          uuid.New().String(),
			AffiliateID: affiliateID,
			Code:        newCode(),
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.links.Create(ctx, link); err != nil {
			lastErr = err
			continue
		}

		s.logger.Info("affiliate link created",
			zap.String("affiliate_id", affiliateID),
			zap.String("code", link.Code),
		)
		return link, nil
	}

	return nil, fmt.Errorf("failed to create link: %w", lastErr)
}

// Get returns the affiliate's link, or nil if none exists yet.
func (s *LinkService) Get(ctx context.Context, affiliateID string) (*models.AffiliateLink, error) {
	return s.links.GetByAffiliate(ctx, affiliateID)
}

// newCode derives a short shareable code from a fresh UUID.
func newCode() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:codeLength]
}
