package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refmetric/refmetric/internal/models"
)

func TestInMemoryLinkRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryLinkRepo()

	link := &models.AffiliateLink{
		ID:          "link-1",
		AffiliateID: "aff-1",
		Code:        "abc12345",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, link))

	t.Run("lookup by code", func(t *testing.T) {
		got, err := repo.GetByCode(ctx, "abc12345")
		require.NoError(t, err)
		assert.Equal(t, "link-1", got.ID)
	})

	t.Run("unknown code is a sentinel", func(t *testing.T) {
		_, err := repo.GetByCode(ctx, "nope")
		assert.ErrorIs(t, err, ErrUnknownCode)
	})

	t.Run("lookup by affiliate", func(t *testing.T) {
		got, err := repo.GetByAffiliate(ctx, "aff-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "abc12345", got.Code)

		got, err = repo.GetByAffiliate(ctx, "aff-2")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("duplicate code rejected", func(t *testing.T) {
		err := repo.Create(ctx, &models.AffiliateLink{
			ID:          "link-2",
			AffiliateID: "aff-2",
			Code:        "abc12345",
		})
		assert.Error(t, err)
	})
}

func TestInMemoryEventStoreWindow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-48 * time.Hour, 0, time.Hour, 72 * time.Hour} {
		require.NoError(t, store.SaveClick(ctx, &models.Click{
			ID:        string(rune('a' + i)),
			LinkID:    "link-1",
			CreatedAt: base.Add(offset),
		}))
	}
	require.NoError(t, store.SaveClick(ctx, &models.Click{
		ID:        "other",
		LinkID:    "link-2",
		CreatedAt: base,
	}))

	clicks, err := store.FetchClicks(ctx, []string{"link-1"}, base.Add(-time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, clicks, 2)
	// Ascending by created_at.
	assert.True(t, !clicks[0].CreatedAt.After(clicks[1].CreatedAt))
	for _, c := range clicks {
		assert.Equal(t, "link-1", c.LinkID)
	}
}

func TestInMemoryEventStoreConversionUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	now := time.Now().UTC()

	require.NoError(t, store.SaveConversion(ctx, &models.Conversion{
		ID:        "v1",
		LinkID:    "link-1",
		CreatedAt: now,
		Amount:    decimal.RequireFromString("49.90"),
		Status:    models.ConversionPending,
	}))

	require.NoError(t, store.UpdateConversionStatus(ctx, "v1", models.ConversionCompleted))

	got, err := store.FetchConversions(ctx, []string{"link-1"}, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Completed())
	require.NotNil(t, got[0].UpdatedAt)

	t.Run("unknown id errors", func(t *testing.T) {
		assert.Error(t, store.UpdateConversionStatus(ctx, "missing", models.ConversionCompleted))
	})
}

func TestInMemoryProgressionRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryProgressionRepo()

	t.Run("missing row is the sentinel", func(t *testing.T) {
		_, err := repo.GetByAffiliate(ctx, "aff-1")
		assert.ErrorIs(t, err, ErrNoProgression)
	})

	t.Run("create default is idempotent", func(t *testing.T) {
		first, err := repo.CreateDefault(ctx, "aff-1", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), first.CurrentTierID)
		assert.True(t, first.TotalRevenue.IsZero())

		second, err := repo.CreateDefault(ctx, "aff-1", 1)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, "Bronze", tiers[0].Name)
	assert.Nil(t, tiers[2].MaxRevenue)
	assert.True(t, tiers[0].MaxRevenue.Equal(tiers[1].MinRevenue))
	assert.True(t, tiers[1].MaxRevenue.Equal(tiers[2].MinRevenue))
}
