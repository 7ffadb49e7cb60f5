package stats

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refmetric/refmetric/internal/models"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return ts.UTC()
}

func click(at time.Time, device models.DeviceType) *models.Click {
	return &models.Click{ID: "c", LinkID: "l1", CreatedAt: at, DeviceType: device}
}

func conversion(at time.Time, amount string, status models.ConversionStatus) *models.Conversion {
	return &models.Conversion{
		ID:        "v",
		LinkID:    "l1",
		CreatedAt: at,
		Amount:    decimal.RequireFromString(amount),
		Status:    status,
	}
}

func TestDailyStats(t *testing.T) {
	start := day(t, "2026-03-01")

	t.Run("zero-fills the full window", func(t *testing.T) {
		buckets := DailyStats(nil, nil, start, 7)

		require.Len(t, buckets, 7)
		assert.Equal(t, "2026-03-01", buckets[0].Date)
		assert.Equal(t, "2026-03-07", buckets[6].Date)
		for _, b := range buckets {
			assert.Zero(t, b.Clicks)
			assert.Zero(t, b.Conversions)
			assert.True(t, b.Revenue.IsZero())
		}
	})

	t.Run("buckets events by UTC calendar day", func(t *testing.T) {
		clicks := []*models.Click{
			click(start.Add(2*time.Hour), models.DeviceDesktop),
			click(start.Add(23*time.Hour+59*time.Minute), models.DeviceMobile),
			click(start.AddDate(0, 0, 2), models.DeviceDesktop),
		}
		conversions := []*models.Conversion{
			conversion(start.Add(5*time.Hour), "100.00", models.ConversionCompleted),
			conversion(start.AddDate(0, 0, 2), "40.00", models.ConversionPending),
		}

		buckets := DailyStats(clicks, conversions, start, 3)

		require.Len(t, buckets, 3)
		assert.Equal(t, int64(2), buckets[0].Clicks)
		assert.Equal(t, int64(1), buckets[0].Conversions)
		assert.True(t, buckets[0].Revenue.Equal(decimal.RequireFromString("100.00")))

		assert.Equal(t, int64(0), buckets[1].Clicks)

		assert.Equal(t, int64(1), buckets[2].Clicks)
		assert.Equal(t, int64(1), buckets[2].Conversions)
		assert.True(t, buckets[2].Revenue.IsZero(), "pending conversions contribute no revenue")
	})

	t.Run("ignores events outside the window", func(t *testing.T) {
		clicks := []*models.Click{
			click(start.AddDate(0, 0, -1), models.DeviceDesktop),
			click(start.AddDate(0, 0, 7), models.DeviceDesktop),
		}
		conversions := []*models.Conversion{
			conversion(start.AddDate(0, 0, 10), "500.00", models.ConversionCompleted),
		}

		buckets := DailyStats(clicks, conversions, start, 7)

		for _, b := range buckets {
			assert.Zero(t, b.Clicks)
			assert.Zero(t, b.Conversions)
			assert.True(t, b.Revenue.IsZero())
		}
	})

	t.Run("clamps non-positive window to one day", func(t *testing.T) {
		buckets := DailyStats(nil, nil, start, 0)
		require.Len(t, buckets, 1)
	})

	t.Run("is deterministic", func(t *testing.T) {
		clicks := []*models.Click{click(start, models.DeviceMobile)}
		conversions := []*models.Conversion{
			conversion(start, "10.00", models.ConversionCompleted),
		}

		first := DailyStats(clicks, conversions, start, 3)
		second := DailyStats(clicks, conversions, start, 3)
		assert.Equal(t, first, second)
	})
}

func TestDeviceStats(t *testing.T) {
	start := day(t, "2026-03-01")

	t.Run("allocates conversions and revenue by click share", func(t *testing.T) {
		var clicks []*models.Click
		for i := 0; i < 7; i++ {
			clicks = append(clicks, click(start, models.DeviceDesktop))
		}
		for i := 0; i < 3; i++ {
			clicks = append(clicks, click(start, models.DeviceMobile))
		}
		conversions := []*models.Conversion{
			conversion(start, "100.00", models.ConversionCompleted),
			conversion(start, "50.00", models.ConversionCompleted),
			conversion(start, "9999.00", models.ConversionPending),
		}

		buckets := DeviceStats(clicks, conversions)

		require.Len(t, buckets, 3)
		assert.Equal(t, models.DeviceMobile, buckets[0].Device)
		assert.Equal(t, models.DeviceDesktop, buckets[1].Device)
		assert.Equal(t, models.DeviceUnknown, buckets[2].Device)

		mobile, desktop, unknown := buckets[0], buckets[1], buckets[2]

		assert.Equal(t, int64(3), mobile.Clicks)
		assert.Equal(t, int64(1), mobile.Conversions)
		assert.True(t, mobile.Revenue.Equal(decimal.RequireFromString("45.00")), "got %s", mobile.Revenue)

		assert.Equal(t, int64(7), desktop.Clicks)
		assert.Equal(t, int64(2), desktop.Conversions)
		assert.True(t, desktop.Revenue.Equal(decimal.RequireFromString("105.00")), "got %s", desktop.Revenue)

		assert.Zero(t, unknown.Clicks)
		assert.Zero(t, unknown.Conversions)
		assert.True(t, unknown.Revenue.IsZero())
	})

	t.Run("zero clicks yields zero buckets", func(t *testing.T) {
		conversions := []*models.Conversion{
			conversion(start, "100.00", models.ConversionCompleted),
		}

		buckets := DeviceStats(nil, conversions)

		require.Len(t, buckets, 3)
		for _, b := range buckets {
			assert.Zero(t, b.Clicks)
			assert.Zero(t, b.Conversions)
			assert.True(t, b.Revenue.IsZero())
		}
	})

	t.Run("unrecognized device classifications land in unknown", func(t *testing.T) {
		clicks := []*models.Click{
			{ID: "c", LinkID: "l1", CreatedAt: start, DeviceType: "smartwatch"},
			click(start, models.DeviceDesktop),
		}

		buckets := DeviceStats(clicks, nil)

		assert.Equal(t, int64(1), buckets[2].Clicks)
	})
}

func TestSummaryStats(t *testing.T) {
	start := day(t, "2026-03-01")

	t.Run("totals with pending excluded from revenue", func(t *testing.T) {
		var clicks []*models.Click
		for i := 0; i < 10; i++ {
			clicks = append(clicks, click(start, models.DeviceDesktop))
		}
		conversions := []*models.Conversion{
			conversion(start, "100.00", models.ConversionCompleted),
			conversion(start, "50.00", models.ConversionCompleted),
			conversion(start, "9999.00", models.ConversionPending),
		}

		s := SummaryStats(clicks, conversions)

		assert.Equal(t, int64(10), s.TotalClicks)
		assert.Equal(t, int64(3), s.TotalConversions)
		assert.True(t, s.TotalRevenue.Equal(decimal.RequireFromString("150.00")), "got %s", s.TotalRevenue)
		assert.InDelta(t, 30.0, s.ConversionRate, 1e-9)
	})

	t.Run("no clicks means zero rate, not NaN", func(t *testing.T) {
		conversions := []*models.Conversion{
			conversion(start, "100.00", models.ConversionCompleted),
		}

		s := SummaryStats(nil, conversions)

		assert.Zero(t, s.TotalClicks)
		assert.Equal(t, int64(1), s.TotalConversions)
		assert.Equal(t, 0.0, s.ConversionRate)
	})
}
