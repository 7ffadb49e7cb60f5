package affiliate

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/models"
	"github.com/refmetric/refmetric/internal/storage"
	"github.com/refmetric/refmetric/internal/tier"
)

func newProgressionService(progs *storage.InMemoryProgressionRepo) *ProgressionService {
	tiers := storage.NewInMemoryTierRepo(storage.DefaultTiers())
	return NewProgressionService(progs, tiers, zap.NewNop())
}

func TestProgressionServiceGet(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the default row at the lowest tier", func(t *testing.T) {
		progs := storage.NewInMemoryProgressionRepo()
		svc := newProgressionService(progs)

		view, err := svc.Get(ctx, "aff-new")
		require.NoError(t, err)

		assert.Equal(t, "aff-new", view.Progression.AffiliateID)
		assert.Equal(t, int64(1), view.Progression.CurrentTierID)
		assert.True(t, view.Progression.TotalRevenue.IsZero())
		assert.Equal(t, "Bronze", view.Placement.Current.Name)
		assert.Equal(t, "Argent", view.Placement.Next.Name)
		assert.Equal(t, 0.0, view.Placement.ProgressPercent)

		// A second call reuses the row instead of recreating it.
		again, err := svc.Get(ctx, "aff-new")
		require.NoError(t, err)
		assert.Equal(t, view.Progression.ID, again.Progression.ID)
	})

	t.Run("derives placement from the stored snapshot", func(t *testing.T) {
		progs := storage.NewInMemoryProgressionRepo()
		progs.Set(&models.Progression{
			ID:            "p1",
			AffiliateID:   "aff-1",
			CurrentTierID: 2,
			TotalRevenue:  decimal.RequireFromString("1250"),
		})
		svc := newProgressionService(progs)

		view, err := svc.Get(ctx, "aff-1")
		require.NoError(t, err)

		assert.Equal(t, "Argent", view.Placement.Current.Name)
		assert.Equal(t, "Or", view.Placement.Next.Name)
		assert.InDelta(t, 50.0, view.Placement.ProgressPercent, 1e-9)
	})

	t.Run("top tier has no next and full progress", func(t *testing.T) {
		progs := storage.NewInMemoryProgressionRepo()
		progs.Set(&models.Progression{
			ID:            "p2",
			AffiliateID:   "aff-2",
			CurrentTierID: 3,
			TotalRevenue:  decimal.RequireFromString("10000"),
		})
		svc := newProgressionService(progs)

		view, err := svc.Get(ctx, "aff-2")
		require.NoError(t, err)

		assert.Nil(t, view.Placement.Next)
		assert.Equal(t, 100.0, view.Placement.ProgressPercent)
	})

	t.Run("manual override flag carries through", func(t *testing.T) {
		progs := storage.NewInMemoryProgressionRepo()
		progs.Set(&models.Progression{
			ID:             "p3",
			AffiliateID:    "aff-3",
			CurrentTierID:  1,
			TotalRevenue:   decimal.RequireFromString("9000"),
			ManualOverride: true,
		})
		svc := newProgressionService(progs)

		view, err := svc.Get(ctx, "aff-3")
		require.NoError(t, err)

		assert.True(t, view.Progression.ManualOverride)
		assert.Equal(t, "Bronze", view.Placement.Current.Name)
	})

	t.Run("broken tier configuration is fatal", func(t *testing.T) {
		tiers := storage.NewInMemoryTierRepo(nil)
		svc := NewProgressionService(storage.NewInMemoryProgressionRepo(), tiers, zap.NewNop())

		_, err := svc.Get(ctx, "aff-1")
		var cfgErr *tier.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestProgressionServiceExamples(t *testing.T) {
	svc := newProgressionService(storage.NewInMemoryProgressionRepo())

	out, err := svc.Examples(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "Bronze", out[0].Tier.Name)
	require.Len(t, out[0].Examples, 2)
	assert.True(t, out[0].Examples[0].Commission.Equal(decimal.RequireFromString("2.50")))
}
