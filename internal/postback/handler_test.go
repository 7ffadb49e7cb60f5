package postback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/models"
	"github.com/refmetric/refmetric/internal/notify"
	"github.com/refmetric/refmetric/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.InMemoryEventStore) {
	t.Helper()

	links := storage.NewInMemoryLinkRepo()
	events := storage.NewInMemoryEventStore()
	require.NoError(t, links.Create(context.Background(), &models.AffiliateLink{
		ID:          "link-1",
		AffiliateID: "aff-1",
		Code:        "abc12345",
		CreatedAt:   time.Now().UTC(),
	}))

	return NewService(links, events, notify.NopPublisher{}, nil, zap.NewNop()), events
}

func TestRegisterConversion(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to pending", func(t *testing.T) {
		svc, _ := newTestService(t)

		conv, err := svc.RegisterConversion(ctx, Params{
			Code:    "abc12345",
			Product: "Abonnement mensuel",
			Amount:  "49.90",
		})
		require.NoError(t, err)

		assert.Equal(t, models.ConversionPending, conv.Status)
		assert.True(t, conv.Amount.Equal(decimal.RequireFromString("49.90")))
		assert.False(t, conv.Completed())
	})

	t.Run("accepts explicit completed status", func(t *testing.T) {
		svc, _ := newTestService(t)

		conv, err := svc.RegisterConversion(ctx, Params{
			Code:   "abc12345",
			Amount: "100",
			Status: "completed",
		})
		require.NoError(t, err)
		assert.True(t, conv.Completed())
	})

	t.Run("rejects bad amounts", func(t *testing.T) {
		svc, _ := newTestService(t)

		for _, amount := range []string{"", "abc", "0", "-5", "1,50"} {
			_, err := svc.RegisterConversion(ctx, Params{Code: "abc12345", Amount: amount})
			assert.True(t, errors.Is(err, ErrInvalidAmount), "amount %q", amount)
		}
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.RegisterConversion(ctx, Params{Code: "abc12345", Amount: "10", Status: "refunded"})
		assert.Error(t, err)
	})

	t.Run("unknown code", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.RegisterConversion(ctx, Params{Code: "nope", Amount: "10"})
		assert.True(t, errors.Is(err, storage.ErrUnknownCode))
	})
}

func TestCompleteConversion(t *testing.T) {
	ctx := context.Background()
	svc, events := newTestService(t)

	conv, err := svc.RegisterConversion(ctx, Params{Code: "abc12345", Amount: "75.00"})
	require.NoError(t, err)
	require.Equal(t, models.ConversionPending, conv.Status)

	require.NoError(t, svc.CompleteConversion(ctx, conv.ID, "aff-1"))

	now := time.Now().UTC()
	stored, err := events.FetchConversions(ctx, []string{"link-1"}, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Completed())
	assert.NotNil(t, stored[0].UpdatedAt)
}
