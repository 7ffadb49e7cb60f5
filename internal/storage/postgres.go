package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/refmetric/refmetric/internal/models"
)

// =============================================
// LINKS
// =============================================

// PostgresLinkRepo implements LinkRepo using PostgreSQL.
type PostgresLinkRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresLinkRepo creates a new PostgreSQL-backed link repository.
func NewPostgresLinkRepo(pool *pgxpool.Pool) *PostgresLinkRepo {
	return &PostgresLinkRepo{pool: pool}
}

func (r *PostgresLinkRepo) Create(ctx context.Context, link *models.AffiliateLink) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO affiliate_links (id, affiliate_id, code, created_at)
		VALUES ($1, $2, $3, $4)
	`, link.ID, link.AffiliateID, link.Code, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

func (r *PostgresLinkRepo) GetByCode(ctx context.Context, code string) (*models.AffiliateLink, error) {
	var link models.AffiliateLink
	err := r.pool.QueryRow(ctx, `
		SELECT id, affiliate_id, code, created_at
		FROM affiliate_links WHERE code = $1
	`, code).Scan(&link.ID, &link.AffiliateID, &link.Code, &link.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link by code: %w", err)
	}
	return &link, nil
}

func (r *PostgresLinkRepo) GetByAffiliate(ctx context.Context, affiliateID string) (*models.AffiliateLink, error) {
	var link models.AffiliateLink
	err := r.pool.QueryRow(ctx, `
		SELECT id, affiliate_id, code, created_at
		FROM affiliate_links WHERE affiliate_id = $1
	`, affiliateID).Scan(&link.ID, &link.AffiliateID, &link.Code, &link.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link by affiliate: %w", err)
	}
	return &link, nil
}

// =============================================
// EVENTS
// =============================================

// PostgresEventStore implements EventStore using PostgreSQL.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

func (s *PostgresEventStore) SaveClick(ctx context.Context, click *models.Click) error {
	if click == nil {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO clicks (id, link_id, created_at, referrer, user_agent, device_type, path, ip, geo_country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, click.ID, click.LinkID, click.CreatedAt, nullString(click.Referrer), nullString(click.UserAgent),
		nullString(string(click.DeviceType)), nullString(click.Path), nullString(click.IP), nullString(click.GeoCountry))

	if err != nil {
		return fmt.Errorf("failed to save click: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) SaveConversion(ctx context.Context, conv *models.Conversion) error {
	if conv == nil {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversions (id, link_id, created_at, product, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, conv.ID, conv.LinkID, conv.CreatedAt, conv.Product, conv.Amount, nullString(string(conv.Status)))

	if err != nil {
		return fmt.Errorf("failed to save conversion: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) UpdateConversionStatus(ctx context.Context, id string, status models.ConversionStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversions SET status = $2, updated_at = now() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update conversion status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversion %s not found", id)
	}
	return nil
}

func (s *PostgresEventStore) FetchClicks(ctx context.Context, linkIDs []string, start, end time.Time) ([]*models.Click, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, link_id, created_at, referrer, user_agent, device_type, path, ip, geo_country
		FROM clicks
		WHERE link_id = ANY($1) AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC
	`, linkIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch clicks: %w", err)
	}
	defer rows.Close()

	var clicks []*models.Click
	for rows.Next() {
		var c models.Click
		var referrer, userAgent, deviceType, path, ip, geoCountry *string

		if err := rows.Scan(&c.ID, &c.LinkID, &c.CreatedAt, &referrer, &userAgent, &deviceType, &path, &ip, &geoCountry); err != nil {
			return nil, fmt.Errorf("failed to scan click: %w", err)
		}

		c.Referrer = deref(referrer)
		c.UserAgent = deref(userAgent)
		c.DeviceType = models.NormalizeDevice(deref(deviceType))
		c.Path = deref(path)
		c.IP = deref(ip)
		c.GeoCountry = deref(geoCountry)

		clicks = append(clicks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clicks: %w", err)
	}

	return clicks, nil
}

func (s *PostgresEventStore) FetchConversions(ctx context.Context, linkIDs []string, start, end time.Time) ([]*models.Conversion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, link_id, created_at, product, amount, status, updated_at
		FROM conversions
		WHERE link_id = ANY($1) AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC
	`, linkIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversions: %w", err)
	}
	defer rows.Close()

	var conversions []*models.Conversion
	for rows.Next() {
		var c models.Conversion
		var status *string

		if err := rows.Scan(&c.ID, &c.LinkID, &c.CreatedAt, &c.Product, &c.Amount, &status, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		if status != nil {
			c.Status = models.ConversionStatus(*status)
		}

		conversions = append(conversions, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversions: %w", err)
	}

	return conversions, nil
}

// =============================================
// TIERS
// =============================================

// PostgresTierRepo implements TierRepo using PostgreSQL.
type PostgresTierRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresTierRepo creates a new PostgreSQL-backed tier repository.
func NewPostgresTierRepo(pool *pgxpool.Pool) *PostgresTierRepo {
	return &PostgresTierRepo{pool: pool}
}

// ListOrdered returns tiers ascending by min_revenue. The ordering is
// part of the contract: the tier engine does not sort.
func (r *PostgresTierRepo) ListOrdered(ctx context.Context) ([]*models.CommissionTier, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, min_revenue, max_revenue, rate_pct, color, created_at
		FROM commission_tiers
		ORDER BY min_revenue ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []*models.CommissionTier
	for rows.Next() {
		var t models.CommissionTier
		var maxRevenue, color *string

		if err := rows.Scan(&t.ID, &t.Name, &t.MinRevenue, &maxRevenue, &t.RatePct, &color, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		t.Color = deref(color)
		if maxRevenue != nil {
			max, err := decimal.NewFromString(*maxRevenue)
			if err != nil {
				return nil, fmt.Errorf("invalid max_revenue for tier %d: %w", t.ID, err)
			}
			t.MaxRevenue = &max
		}

		tiers = append(tiers, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tiers: %w", err)
	}

	return tiers, nil
}

// =============================================
// PROGRESSION
// =============================================

// PostgresProgressionRepo implements ProgressionRepo using PostgreSQL.
type PostgresProgressionRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresProgressionRepo creates a new PostgreSQL-backed progression repository.
func NewPostgresProgressionRepo(pool *pgxpool.Pool) *PostgresProgressionRepo {
	return &PostgresProgressionRepo{pool: pool}
}

func (r *PostgresProgressionRepo) GetByAffiliate(ctx context.Context, affiliateID string) (*models.Progression, error) {
	var p models.Progression
	err := r.pool.QueryRow(ctx, `
		SELECT id, affiliate_id, current_tier_id, total_revenue, total_commission, manual_override, created_at, updated_at
		FROM user_progressions WHERE affiliate_id = $1
	`, affiliateID).Scan(&p.ID, &p.AffiliateID, &p.CurrentTierID, &p.TotalRevenue, &p.TotalCommission,
		&p.ManualOverride, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoProgression
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progression: %w", err)
	}
	return &p, nil
}

// CreateDefault inserts the zero progression row at the lowest tier.
// Concurrent first requests race on the unique affiliate_id constraint;
// the loser re-reads the winner's row.
func (r *PostgresProgressionRepo) CreateDefault(ctx context.Context, affiliateID string, lowestTierID int64) (*models.Progression, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_progressions (id, affiliate_id, current_tier_id, total_revenue, total_commission, manual_override, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, 0, 0, false, now(), now())
		ON CONFLICT (affiliate_id) DO NOTHING
	`, affiliateID, lowestTierID)
	if err != nil {
		return nil, fmt.Errorf("failed to create default progression: %w", err)
	}

	return r.GetByAffiliate(ctx, affiliateID)
}

// Helpers for nullable columns

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
