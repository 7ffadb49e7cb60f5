// Package postback is the conversion ingress. Sales land here as
// server-to-server postbacks referencing a link code; settlement
// webhooks later flip a conversion from pending to completed.
package postback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/metrics"
	"github.com/refmetric/refmetric/internal/models"
	"github.com/refmetric/refmetric/internal/notify"
	"github.com/refmetric/refmetric/internal/storage"
)

// ErrInvalidAmount is returned when the postback amount is missing,
// unparsable, or not positive.
var ErrInvalidAmount = errors.New("invalid conversion amount")

// Service records conversions and status transitions.
type Service struct {
	links    storage.LinkRepo
	events   storage.EventStore
	notifier notify.Publisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService constructs a postback service.
func NewService(
	links storage.LinkRepo,
	events storage.EventStore,
	notifier notify.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		links:    links,
		events:   events,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// Params carries the fields of an incoming conversion postback.
type Params struct {
	Code    string
	Product string
	Amount  string
	Status  string
}

// RegisterConversion validates and appends a conversion event. Amount
// must be a positive decimal. Status defaults to pending when absent;
// pending conversions are counted but contribute no revenue until the
// settlement webhook completes them. Unknown codes surface as
// storage.ErrUnknownCode.
func (s *Service) RegisterConversion(ctx context.Context, p Params) (*models.Conversion, error) {
	link, err := s.links.GetByCode(ctx, p.Code)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(p.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, p.Amount)
	}

	status := models.ConversionStatus(p.Status)
	if status == "" {
		status = models.ConversionPending
	}
	if status != models.ConversionPending && status != models.ConversionCompleted {
		return nil, fmt.Errorf("unknown conversion status %q", p.Status)
	}

	conv := &models.Conversion{
		ID:        uuid.New().String(),
		LinkID:    link.ID,
		CreatedAt: time.Now().UTC(),
		Product:   p.Product,
		Amount:    amount,
		Status:    status,
	}

	if err := s.events.SaveConversion(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to save conversion: %w", err)
	}

	amt, _ := amount.Float64()
	s.metrics.RecordConversion(string(status), amt)

	if err := s.notifier.Publish(ctx, notify.Change{Table: notify.TableConversions, AffiliateID: link.AffiliateID}); err != nil {
		s.logger.Warn("failed to publish conversion notification", zap.Error(err))
	}

	s.logger.Info("conversion registered",
		zap.String("conversion_id", conv.ID),
		zap.String("link_id", link.ID),
		zap.String("product", p.Product),
		zap.String("status", string(status)),
	)

	return conv, nil
}

// CompleteConversion applies the out-of-band settlement transition for
// a conversion. The affiliate id is needed only for the change
// notification; callers that don't know it may pass "".
func (s *Service) CompleteConversion(ctx context.Context, conversionID, affiliateID string) error {
	if err := s.events.UpdateConversionStatus(ctx, conversionID, models.ConversionCompleted); err != nil {
		return err
	}

	if err := s.notifier.Publish(ctx, notify.Change{Table: notify.TableConversions, AffiliateID: affiliateID}); err != nil {
		s.logger.Warn("failed to publish settlement notification", zap.Error(err))
	}

	s.logger.Info("conversion completed", zap.String("conversion_id", conversionID))
	return nil
}
