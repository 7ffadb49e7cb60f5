package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ===========================================
// AFFILIATE LINK
// ===========================================

// AffiliateLink is the tracked referral link handed to an affiliate at
// registration. One link per affiliate, immutable after creation.
type AffiliateLink struct {
	ID          string    `json:"id"`
	AffiliateID string    `json:"affiliate_id"`
	Code        string    `json:"code"`
	CreatedAt   time.Time `json:"created_at"`
}

// ===========================================
// CLICK EVENT
// ===========================================

// DeviceType classifies the device a click came from.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceDesktop DeviceType = "desktop"
	DeviceUnknown DeviceType = "unknown"
)

// NormalizeDevice maps an arbitrary recorded classification onto one of
// the three known buckets. Anything unrecognized lands in unknown.
func NormalizeDevice(s string) DeviceType {
	switch DeviceType(strings.ToLower(strings.TrimSpace(s))) {
	case DeviceMobile:
		return DeviceMobile
	case DeviceDesktop:
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}

// Click is a recorded visit through an affiliate link. Append-only.
type Click struct {
	ID         string     `json:"id"`
	LinkID     string     `json:"link_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Referrer   string     `json:"referrer,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	DeviceType DeviceType `json:"device_type,omitempty"`
	Path       string     `json:"path,omitempty"`
	IP         string     `json:"ip,omitempty"`
	GeoCountry string     `json:"geo_country,omitempty"`
}

// ===========================================
// CONVERSION EVENT
// ===========================================

// ConversionStatus is the settlement state of a conversion. A nil or
// empty status means unspecified and never counts toward revenue.
type ConversionStatus string

const (
	ConversionPending   ConversionStatus = "pending"
	ConversionCompleted ConversionStatus = "completed"
)

// Conversion is a recorded sale attributed to an affiliate link.
// Status may transition from pending to completed out-of-band (payment
// webhook); only completed conversions count as revenue.
type Conversion struct {
	ID        string           `json:"id"`
	LinkID    string           `json:"link_id"`
	CreatedAt time.Time        `json:"created_at"`
	Product   string           `json:"product"`
	Amount    decimal.Decimal  `json:"amount"`
	Status    ConversionStatus `json:"status,omitempty"`
	UpdatedAt *time.Time       `json:"updated_at,omitempty"`
}

// Completed reports whether the conversion counts toward revenue.
func (c *Conversion) Completed() bool {
	return c.Status == ConversionCompleted
}

// ===========================================
// COMMISSION TIER
// ===========================================

// CommissionTier is a revenue bracket with an associated commission
// rate. Tiers partition [0, +inf) by MinRevenue ascending; the last
// tier has MaxRevenue == nil (open-ended).
type CommissionTier struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	MinRevenue decimal.Decimal  `json:"min_revenue"`
	MaxRevenue *decimal.Decimal `json:"max_revenue,omitempty"`
	RatePct    decimal.Decimal  `json:"rate_pct"`
	Color      string           `json:"color,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ===========================================
// USER PROGRESSION
// ===========================================

// Progression is an affiliate's current tier plus cumulative
// revenue/commission snapshot. TotalRevenue and TotalCommission are
// written by an external settlement job; this service only reads them
// and derives progress. When ManualOverride is set, automatic tier
// recomputation must not overwrite CurrentTierID.
type Progression struct {
	ID              string          `json:"id"`
	AffiliateID     string          `json:"affiliate_id"`
	CurrentTierID   int64           `json:"current_tier_id"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	ManualOverride  bool            `json:"manual_override"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
