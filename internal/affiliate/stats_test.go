package affiliate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refmetric/refmetric/internal/models"
	"github.com/refmetric/refmetric/internal/storage"
)

type failingEventStore struct {
	storage.EventStore
}

func (f *failingEventStore) FetchClicks(ctx context.Context, linkIDs []string, start, end time.Time) ([]*models.Click, error) {
	return nil, errors.New("connection refused")
}

func seedLink(t *testing.T, links *storage.InMemoryLinkRepo) {
	t.Helper()
	require.NoError(t, links.Create(context.Background(), &models.AffiliateLink{
		ID:          "link-1",
		AffiliateID: "aff-1",
		Code:        "abc12345",
		CreatedAt:   time.Now().UTC(),
	}))
}

func TestStatsServiceWindow(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("derives the full dashboard from stored events", func(t *testing.T) {
		links := storage.NewInMemoryLinkRepo()
		events := storage.NewInMemoryEventStore()
		seedLink(t, links)

		for i := 0; i < 7; i++ {
			require.NoError(t, events.SaveClick(ctx, &models.Click{
				ID: "d" + string(rune('0'+i)), LinkID: "link-1",
				CreatedAt: start.Add(time.Duration(i) * time.Hour), DeviceType: models.DeviceDesktop,
			}))
		}
		for i := 0; i < 3; i++ {
			require.NoError(t, events.SaveClick(ctx, &models.Click{
				ID: "m" + string(rune('0'+i)), LinkID: "link-1",
				CreatedAt: start.AddDate(0, 0, 1), DeviceType: models.DeviceMobile,
			}))
		}
		require.NoError(t, events.SaveConversion(ctx, &models.Conversion{
			ID: "v1", LinkID: "link-1", CreatedAt: start,
			Amount: decimal.RequireFromString("100.00"), Status: models.ConversionCompleted,
		}))
		require.NoError(t, events.SaveConversion(ctx, &models.Conversion{
			ID: "v2", LinkID: "link-1", CreatedAt: start.AddDate(0, 0, 2),
			Amount: decimal.RequireFromString("50.00"), Status: models.ConversionCompleted,
		}))
		require.NoError(t, events.SaveConversion(ctx, &models.Conversion{
			ID: "v3", LinkID: "link-1", CreatedAt: start.AddDate(0, 0, 2),
			Amount: decimal.RequireFromString("9999.00"), Status: models.ConversionPending,
		}))

		svc := NewStatsService(links, events)
		out, err := svc.Window(ctx, "aff-1", start, 7)
		require.NoError(t, err)

		require.Len(t, out.Daily, 7)
		assert.Equal(t, int64(7), out.Daily[0].Clicks)
		assert.Equal(t, int64(3), out.Daily[1].Clicks)
		assert.True(t, out.Daily[2].Revenue.Equal(decimal.RequireFromString("50.00")))

		assert.Equal(t, int64(10), out.Summary.TotalClicks)
		assert.Equal(t, int64(3), out.Summary.TotalConversions)
		assert.True(t, out.Summary.TotalRevenue.Equal(decimal.RequireFromString("150.00")))
		assert.InDelta(t, 30.0, out.Summary.ConversionRate, 1e-9)

		require.Len(t, out.Devices, 3)
		assert.Equal(t, int64(3), out.Devices[0].Clicks)  // mobile
		assert.Equal(t, int64(7), out.Devices[1].Clicks)  // desktop
		assert.True(t, out.Devices[1].Revenue.Equal(decimal.RequireFromString("105.00")))
	})

	t.Run("affiliate without a link gets zero-filled stats", func(t *testing.T) {
		svc := NewStatsService(storage.NewInMemoryLinkRepo(), storage.NewInMemoryEventStore())

		out, err := svc.Window(ctx, "nobody", start, 5)
		require.NoError(t, err)
		require.Len(t, out.Daily, 5)
		assert.Zero(t, out.Summary.TotalClicks)
	})

	t.Run("rejects empty windows", func(t *testing.T) {
		svc := NewStatsService(storage.NewInMemoryLinkRepo(), storage.NewInMemoryEventStore())

		_, err := svc.Window(ctx, "aff-1", start, 0)
		assert.Error(t, err)
	})

	t.Run("storage failure surfaces as ErrStatsUnavailable", func(t *testing.T) {
		links := storage.NewInMemoryLinkRepo()
		seedLink(t, links)
		svc := NewStatsService(links, &failingEventStore{EventStore: storage.NewInMemoryEventStore()})

		_, err := svc.Window(ctx, "aff-1", start, 7)
		assert.True(t, errors.Is(err, ErrStatsUnavailable))
	})
}
