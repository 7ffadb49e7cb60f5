// Package tracking is the click ingress: it resolves a shareable link
// code, enriches the visit with device and geo metadata, appends the
// click event and hands back the affiliate's destination.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/metrics"
	"github.com/refmetric/refmetric/internal/models"
	"github.com/refmetric/refmetric/internal/notify"
	"github.com/refmetric/refmetric/internal/storage"
)

// Service registers click events for tracked links.
type Service struct {
	links    storage.LinkRepo
	events   storage.EventStore
	geo      GeoProvider
	notifier notify.Publisher
	redis    *redis.Client
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService constructs a tracking service. geo, redis and metrics may
// be nil; the corresponding enrichment is skipped.
func NewService(
	links storage.LinkRepo,
	events storage.EventStore,
	geo GeoProvider,
	notifier notify.Publisher,
	redisClient *redis.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		links:    links,
		events:   events,
		geo:      geo,
		notifier: notifier,
		redis:    redisClient,
		metrics:  m,
		logger:   logger,
	}
}

// ClickMeta carries the visitor metadata captured at the ingress.
type ClickMeta struct {
	Referrer  string
	UserAgent string
	Path      string
	IP        string
}

// RegisterClick resolves the code, appends a click event and returns
// the stored click with its owning link. Unknown codes surface as
// storage.ErrUnknownCode, distinct from storage failures. A failed
// insert is returned to the caller but the resolved link is kept so the
// handler can still redirect the visitor.
func (s *Service) RegisterClick(ctx context.Context, code string, meta ClickMeta) (*models.Click, *models.AffiliateLink, error) {
	link, err := s.links.GetByCode(ctx, code)
	if err != nil {
		if err == storage.ErrUnknownCode && s.metrics != nil {
			s.metrics.UnknownCodes.Inc()
		}
		return nil, nil, err
	}

	click := &models.Click{
		ID:         uuid.New().String(),
		LinkID:     link.ID,
		CreatedAt:  time.Now().UTC(),
		Referrer:   meta.Referrer,
		UserAgent:  meta.UserAgent,
		DeviceType: ClassifyDevice(meta.UserAgent),
		Path:       meta.Path,
		IP:         meta.IP,
	}

	if s.geo != nil && meta.IP != "" {
		country, err := s.geo.Country(meta.IP)
		if err != nil {
			s.logger.Debug("geo lookup failed", zap.String("ip", meta.IP), zap.Error(err))
		} else {
			click.GeoCountry = country
		}
	}

	if err := s.events.SaveClick(ctx, click); err != nil {
		s.logger.Error("failed to save click",
			zap.Error(err),
			zap.String("click_id", click.ID),
			zap.String("code", code),
		)
		return nil, link, fmt.Errorf("failed to save click: %w", err)
	}

	s.bumpDailyCounter(ctx, link.ID, click.CreatedAt)
	s.metrics.RecordClick(string(click.DeviceType))

	if err := s.notifier.Publish(ctx, notify.Change{Table: notify.TableClicks, AffiliateID: link.AffiliateID}); err != nil {
		s.logger.Warn("failed to publish click notification", zap.Error(err))
	}

	s.logger.Info("click registered",
		zap.String("click_id", click.ID),
		zap.String("link_id", link.ID),
		zap.String("device_type", string(click.DeviceType)),
	)

	return click, link, nil
}

// bumpDailyCounter increments the per-link per-day click counter used
// by operational dashboards. Counters expire after 90 days.
func (s *Service) bumpDailyCounter(ctx context.Context, linkID string, ts time.Time) {
	if s.redis == nil {
		return
	}

	key := fmt.Sprintf("stats:clicks:%s:%s", linkID, ts.Format("2006-01-02"))
	pipe := s.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 90*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Debug("failed to bump click counter", zap.String("key", key), zap.Error(err))
	}
}
