package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/config"
	"github.com/refmetric/refmetric/internal/models"
)

// ClickHouseEventStore implements EventStore against a ClickHouse
// analytics archive. Installations with high click volumes point the
// stats read path here instead of the primary Postgres store; writes
// use batched inserts.
type ClickHouseEventStore struct {
	conn driver.Conn
	log  *zap.Logger
}

// NewClickHouseEventStore opens a connection to ClickHouse and verifies
// it with a ping.
func NewClickHouseEventStore(ctx context.Context, cfg config.ClickHouseConfig, log *zap.Logger) (*ClickHouseEventStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info("connected to ClickHouse",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	return &ClickHouseEventStore{conn: conn, log: log}, nil
}

// InitSchema creates the clicks and conversions tables.
func (s *ClickHouseEventStore) InitSchema(ctx context.Context) error {
	clicksDDL := `
	CREATE TABLE IF NOT EXISTS clicks (
		id String,
		link_id String,
		created_at DateTime64(3),
		referrer String,
		user_agent String,
		device_type LowCardinality(String),
		path String,
		ip String,
		geo_country LowCardinality(String)
	) ENGINE = MergeTree()
	ORDER BY (link_id, created_at)
	PARTITION BY toYYYYMM(created_at)
	`

	conversionsDDL := `
	CREATE TABLE IF NOT EXISTS conversions (
		id String,
		link_id String,
		created_at DateTime64(3),
		product String,
		amount Decimal64(2),
		status LowCardinality(String),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	ORDER BY (link_id, created_at, id)
	PARTITION BY toYYYYMM(created_at)
	`

	if err := s.conn.Exec(ctx, clicksDDL); err != nil {
		return fmt.Errorf("failed to create clicks table: %w", err)
	}
	if err := s.conn.Exec(ctx, conversionsDDL); err != nil {
		return fmt.Errorf("failed to create conversions table: %w", err)
	}

	s.log.Info("ClickHouse schema initialized")
	return nil
}

func (s *ClickHouseEventStore) SaveClick(ctx context.Context, click *models.Click) error {
	if click == nil {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO clicks")
	if err != nil {
		return fmt.Errorf("failed to prepare click batch: %w", err)
	}
	if err := batch.Append(
		click.ID,
		click.LinkID,
		click.CreatedAt,
		click.Referrer,
		click.UserAgent,
		string(click.DeviceType),
		click.Path,
		click.IP,
		click.GeoCountry,
	); err != nil {
		return fmt.Errorf("failed to append click: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send click batch: %w", err)
	}
	return nil
}

func (s *ClickHouseEventStore) SaveConversion(ctx context.Context, conv *models.Conversion) error {
	if conv == nil {
		return nil
	}
	return s.writeConversion(ctx, conv)
}

// UpdateConversionStatus rewrites the conversion row with a newer
// version; the ReplacingMergeTree engine keeps the latest one.
func (s *ClickHouseEventStore) UpdateConversionStatus(ctx context.Context, id string, status models.ConversionStatus) error {
	rows, err := s.conn.Query(ctx, `
		SELECT id, link_id, created_at, product, toString(amount), status
		FROM conversions FINAL
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to look up conversion: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return fmt.Errorf("conversion %s not found", id)
	}

	var conv models.Conversion
	var amount, st string
	if err := rows.Scan(&conv.ID, &conv.LinkID, &conv.CreatedAt, &conv.Product, &amount, &st); err != nil {
		return fmt.Errorf("failed to scan conversion: %w", err)
	}
	conv.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("invalid amount for conversion %s: %w", id, err)
	}
	conv.Status = status

	return s.writeConversion(ctx, &conv)
}

func (s *ClickHouseEventStore) writeConversion(ctx context.Context, conv *models.Conversion) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO conversions")
	if err != nil {
		return fmt.Errorf("failed to prepare conversion batch: %w", err)
	}
	if err := batch.Append(
		conv.ID,
		conv.LinkID,
		conv.CreatedAt,
		conv.Product,
		conv.Amount,
		string(conv.Status),
		uint64(time.Now().UnixNano()),
	); err != nil {
		return fmt.Errorf("failed to append conversion: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send conversion batch: %w", err)
	}
	return nil
}

func (s *ClickHouseEventStore) FetchClicks(ctx context.Context, linkIDs []string, start, end time.Time) ([]*models.Click, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, link_id, created_at, referrer, user_agent, device_type, path, ip, geo_country
		FROM clicks
		WHERE link_id IN (?) AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC
	`, linkIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch clicks: %w", err)
	}
	defer rows.Close()

	var clicks []*models.Click
	for rows.Next() {
		var c models.Click
		var deviceType string
		if err := rows.Scan(&c.ID, &c.LinkID, &c.CreatedAt, &c.Referrer, &c.UserAgent, &deviceType, &c.Path, &c.IP, &c.GeoCountry); err != nil {
			return nil, fmt.Errorf("failed to scan click: %w", err)
		}
		c.DeviceType = models.NormalizeDevice(deviceType)
		clicks = append(clicks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clicks: %w", err)
	}

	return clicks, nil
}

func (s *ClickHouseEventStore) FetchConversions(ctx context.Context, linkIDs []string, start, end time.Time) ([]*models.Conversion, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, link_id, created_at, product, toString(amount), status
		FROM conversions FINAL
		WHERE link_id IN (?) AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC
	`, linkIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversions: %w", err)
	}
	defer rows.Close()

	var conversions []*models.Conversion
	for rows.Next() {
		var c models.Conversion
		var amount, status string
		if err := rows.Scan(&c.ID, &c.LinkID, &c.CreatedAt, &c.Product, &amount, &status); err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		c.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount for conversion %s: %w", c.ID, err)
		}
		c.Status = models.ConversionStatus(status)
		conversions = append(conversions, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversions: %w", err)
	}

	return conversions, nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseEventStore) Close() error {
	return s.conn.Close()
}
