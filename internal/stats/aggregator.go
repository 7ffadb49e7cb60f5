// Package stats turns raw click and conversion events into daily,
// device and summary aggregates. Every function here is a pure
// derivation over already-fetched slices: no I/O, no clock reads, no
// hidden state. Calling twice with the same inputs yields identical
// output.
package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/refmetric/refmetric/internal/models"
)

const dateLayout = "2006-01-02"

// DailyBucket holds one calendar day of activity.
type DailyBucket struct {
	Date        string          `json:"date"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// DeviceBucket holds the per-device breakdown. Conversions and Revenue
// are a proportional estimate, see DeviceStats.
type DeviceBucket struct {
	Device      models.DeviceType `json:"device"`
	Clicks      int64             `json:"clicks"`
	Conversions int64             `json:"conversions"`
	Revenue     decimal.Decimal   `json:"revenue"`
}

// Summary holds window totals.
type Summary struct {
	TotalClicks      int64           `json:"total_clicks"`
	TotalConversions int64           `json:"total_conversions"`
	ConversionRate   float64         `json:"conversion_rate"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
}

// DailyStats buckets clicks and conversions into windowDays calendar
// days (UTC) starting at windowStart. The result always has exactly
// windowDays entries in ascending date order, zero-filled for idle
// days. Events dated outside the window are ignored. Revenue counts
// completed conversions only; a conversion of any other status still
// increments the conversion count but contributes zero revenue.
func DailyStats(clicks []*models.Click, conversions []*models.Conversion, windowStart time.Time, windowDays int) []DailyBucket {
	if windowDays < 1 {
		windowDays = 1
	}

	start := windowStart.UTC().Truncate(24 * time.Hour)
	buckets := make([]DailyBucket, windowDays)
	index := make(map[string]int, windowDays)
	for i := 0; i < windowDays; i++ {
		date := start.AddDate(0, 0, i).Format(dateLayout)
		buckets[i] = DailyBucket{Date: date, Revenue: decimal.Zero}
		index[date] = i
	}

	for _, c := range clicks {
		if i, ok := index[c.CreatedAt.UTC().Format(dateLayout)]; ok {
			buckets[i].Clicks++
		}
	}

	for _, conv := range conversions {
		i, ok := index[conv.CreatedAt.UTC().Format(dateLayout)]
		if !ok {
			continue
		}
		buckets[i].Conversions++
		if conv.Completed() {
			buckets[i].Revenue = buckets[i].Revenue.Add(conv.Amount)
		}
	}

	return buckets
}

// DeviceStats breaks clicks down by recorded device classification and
// distributes conversions and revenue across the buckets in proportion
// to each bucket's click share. Conversion rows carry no device field,
// so the allocation is an explicit estimate, not a measured fact: a
// bucket holding 7 of 10 clicks is credited 7/10 of conversions and of
// completed revenue, rounded. With zero clicks every bucket stays at
// zero. Buckets are returned in mobile, desktop, unknown order.
func DeviceStats(clicks []*models.Click, conversions []*models.Conversion) []DeviceBucket {
	order := []models.DeviceType{models.DeviceMobile, models.DeviceDesktop, models.DeviceUnknown}

	clickCount := make(map[models.DeviceType]int64, len(order))
	for _, c := range clicks {
		clickCount[models.NormalizeDevice(string(c.DeviceType))]++
	}

	var totalClicks int64
	for _, n := range clickCount {
		totalClicks += n
	}

	totalConversions := int64(len(conversions))
	totalRevenue := decimal.Zero
	for _, conv := range conversions {
		if conv.Completed() {
			totalRevenue = totalRevenue.Add(conv.Amount)
		}
	}

	buckets := make([]DeviceBucket, 0, len(order))
	for _, dev := range order {
		b := DeviceBucket{Device: dev, Clicks: clickCount[dev], Revenue: decimal.Zero}
		if totalClicks > 0 && b.Clicks > 0 {
			share := decimal.NewFromInt(b.Clicks).Div(decimal.NewFromInt(totalClicks))
			b.Conversions = decimal.NewFromInt(totalConversions).Mul(share).Round(0).IntPart()
			b.Revenue = totalRevenue.Mul(share).Round(2)
		}
		buckets = append(buckets, b)
	}

	return buckets
}

// SummaryStats computes window totals. ConversionRate is
// conversions/clicks as a percentage, 0 when there are no clicks so the
// result never carries NaN or Inf. TotalRevenue sums completed
// conversions only.
func SummaryStats(clicks []*models.Click, conversions []*models.Conversion) Summary {
	s := Summary{
		TotalClicks:      int64(len(clicks)),
		TotalConversions: int64(len(conversions)),
		TotalRevenue:     decimal.Zero,
	}

	for _, conv := range conversions {
		if conv.Completed() {
			s.TotalRevenue = s.TotalRevenue.Add(conv.Amount)
		}
	}

	if s.TotalClicks > 0 {
		s.ConversionRate = float64(s.TotalConversions) / float64(s.TotalClicks) * 100
	}

	return s
}
