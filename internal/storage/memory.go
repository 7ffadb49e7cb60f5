package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/refmetric/refmetric/internal/models"
)

// In-memory repositories back the service when no database is
// configured and are used by tests. Not durable; reset on restart.

// =============================================
// Links
// =============================================

// InMemoryLinkRepo implements LinkRepo with a mutex-guarded map.
type InMemoryLinkRepo struct {
	mu          sync.RWMutex
	links       map[string]*models.AffiliateLink // by id
	linksByCode map[string]string                // code -> id
}

// NewInMemoryLinkRepo creates a new empty link repository.
func NewInMemoryLinkRepo() *InMemoryLinkRepo {
	return &InMemoryLinkRepo{
		links:       make(map[string]*models.AffiliateLink),
		linksByCode: make(map[string]string),
	}
}

func (r *InMemoryLinkRepo) Create(ctx context.Context, link *models.AffiliateLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.linksByCode[link.Code]; exists {
		return fmt.Errorf("link code %q already exists", link.Code)
	}
	cp := *link
	r.links[link.ID] = &cp
	r.linksByCode[link.Code] = link.ID
	return nil
}

func (r *InMemoryLinkRepo) GetByCode(ctx context.Context, code string) (*models.AffiliateLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.linksByCode[code]
	if !ok {
		return nil, ErrUnknownCode
	}
	return r.links[id], nil
}

func (r *InMemoryLinkRepo) GetByAffiliate(ctx context.Context, affiliateID string) (*models.AffiliateLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.links {
		if l.AffiliateID == affiliateID {
			return l, nil
		}
	}
	return nil, nil
}

// =============================================
// Events
// =============================================

// InMemoryEventStore implements EventStore with mutex-guarded maps.
type InMemoryEventStore struct {
	mu          sync.RWMutex
	clicks      map[string]*models.Click
	conversions map[string]*models.Conversion
}

// NewInMemoryEventStore creates a new empty event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		clicks:      make(map[string]*models.Click),
		conversions: make(map[string]*models.Conversion),
	}
}

func (s *InMemoryEventStore) SaveClick(ctx context.Context, click *models.Click) error {
	if click == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *click
	s.clicks[click.ID] = &cp
	return nil
}

func (s *InMemoryEventStore) SaveConversion(ctx context.Context, conv *models.Conversion) error {
	if conv == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.conversions[conv.ID] = &cp
	return nil
}

func (s *InMemoryEventStore) UpdateConversionStatus(ctx context.Context, id string, status models.ConversionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversions[id]
	if !ok {
		return fmt.Errorf("conversion %s not found", id)
	}
	now := time.Now().UTC()
	conv.Status = status
	conv.UpdatedAt = &now
	return nil
}

func (s *InMemoryEventStore) FetchClicks(ctx context.Context, linkIDs []string, start, end time.Time) ([]*models.Click, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := toSet(linkIDs)
	var result []*models.Click
	for _, c := range s.clicks {
		if wanted[c.LinkID] && inWindow(c.CreatedAt, start, end) {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *InMemoryEventStore) FetchConversions(ctx context.Context, linkIDs []string, start, end time.Time) ([]*models.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := toSet(linkIDs)
	var result []*models.Conversion
	for _, c := range s.conversions {
		if wanted[c.LinkID] && inWindow(c.CreatedAt, start, end) {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// =============================================
// Tiers
// =============================================

// InMemoryTierRepo implements TierRepo over a fixed tier list.
type InMemoryTierRepo struct {
	mu    sync.RWMutex
	tiers []*models.CommissionTier
}

// NewInMemoryTierRepo creates a tier repository holding the given
// configuration, sorted ascending by min_revenue per the TierRepo
// contract.
func NewInMemoryTierRepo(tiers []*models.CommissionTier) *InMemoryTierRepo {
	cp := make([]*models.CommissionTier, len(tiers))
	copy(cp, tiers)
	sort.Slice(cp, func(i, j int) bool { return cp[i].MinRevenue.LessThan(cp[j].MinRevenue) })
	return &InMemoryTierRepo{tiers: cp}
}

func (r *InMemoryTierRepo) ListOrdered(ctx context.Context) ([]*models.CommissionTier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.CommissionTier, len(r.tiers))
	copy(result, r.tiers)
	return result, nil
}

// DefaultTiers returns the built-in commission ladder used when no
// database-backed tier configuration is available.
func DefaultTiers() []*models.CommissionTier {
	max1 := decimal.NewFromInt(500)
	max2 := decimal.NewFromInt(2000)
	now := time.Now().UTC()
	return []*models.CommissionTier{
		{
			ID:         1,
			Name:       "Bronze",
			MinRevenue: decimal.Zero,
			MaxRevenue: &max1,
			RatePct:    decimal.NewFromInt(5),
			Color:      "#cd7f32",
			CreatedAt:  now,
		},
		{
			ID:         2,
			Name:       "Argent",
			MinRevenue: max1,
			MaxRevenue: &max2,
			RatePct:    decimal.NewFromInt(8),
			Color:      "#c0c0c0",
			CreatedAt:  now,
		},
		{
			ID:         3,
			Name:       "Or",
			MinRevenue: max2,
			RatePct:    decimal.NewFromInt(12),
			Color:      "#ffd700",
			CreatedAt:  now,
		},
	}
}

// =============================================
// Progression
// =============================================

// InMemoryProgressionRepo implements ProgressionRepo with a
// mutex-guarded map keyed by affiliate id.
type InMemoryProgressionRepo struct {
	mu           sync.RWMutex
	progressions map[string]*models.Progression
}

// NewInMemoryProgressionRepo creates a new empty progression repository.
func NewInMemoryProgressionRepo() *InMemoryProgressionRepo {
	return &InMemoryProgressionRepo{
		progressions: make(map[string]*models.Progression),
	}
}

func (r *InMemoryProgressionRepo) GetByAffiliate(ctx context.Context, affiliateID string) (*models.Progression, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.progressions[affiliateID]
	if !ok {
		return nil, ErrNoProgression
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryProgressionRepo) CreateDefault(ctx context.Context, affiliateID string, lowestTierID int64) (*models.Progression, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.progressions[affiliateID]; ok {
		cp := *p
		return &cp, nil
	}

	now := time.Now().UTC()
	p := &models.Progression{
		ID:              uuid.New().String(),
		AffiliateID:     affiliateID,
		CurrentTierID:   lowestTierID,
		TotalRevenue:    decimal.Zero,
		TotalCommission: decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.progressions[affiliateID] = p
	cp := *p
	return &cp, nil
}

// Set overwrites an affiliate's progression snapshot, standing in for
// the external settlement job in development and tests.
func (r *InMemoryProgressionRepo) Set(p *models.Progression) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.progressions[p.AffiliateID] = &cp
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
