// Package tier derives commission-tier placement and progress from a
// tier configuration and a progression snapshot. The engine is
// display-only: tier assignment is authoritative external state and is
// never recomputed or corrected here.
package tier

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/refmetric/refmetric/internal/models"
)

// ConfigError reports an invalid tier configuration: empty list,
// unsorted bounds, overlapping brackets, or an open-ended tier that is
// not last. It is fatal to the call that detects it and must never be
// silently patched over.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "tier config: " + e.Reason
}

// ErrTierNotFound is returned when a progression references a tier id
// absent from the configured tier list.
var ErrTierNotFound = errors.New("tier not found in configuration")

// Placement is the derived tier position for one affiliate.
type Placement struct {
	Current         *models.CommissionTier `json:"current"`
	Next            *models.CommissionTier `json:"next,omitempty"`
	ProgressPercent float64                `json:"progress_percent"`
}

// Validate checks the tier invariants: non-empty, sorted ascending by
// MinRevenue, strictly increasing, non-overlapping brackets, and only
// the last tier open-ended. Call it once when the configuration is
// loaded and fail fast on error.
func Validate(tiers []*models.CommissionTier) error {
	if len(tiers) == 0 {
		return &ConfigError{Reason: "empty tier list"}
	}

	for i, t := range tiers {
		last := i == len(tiers)-1

		if t.MaxRevenue == nil && !last {
			return &ConfigError{Reason: fmt.Sprintf("tier %q is open-ended but not last", t.Name)}
		}
		if t.MaxRevenue != nil && !t.MaxRevenue.GreaterThan(t.MinRevenue) {
			return &ConfigError{Reason: fmt.Sprintf("tier %q has max_revenue <= min_revenue", t.Name)}
		}
		if last {
			if t.MaxRevenue != nil {
				return &ConfigError{Reason: fmt.Sprintf("last tier %q must be open-ended", t.Name)}
			}
			continue
		}

		next := tiers[i+1]
		if !next.MinRevenue.GreaterThan(t.MinRevenue) {
			return &ConfigError{Reason: fmt.Sprintf("tiers %q and %q are not strictly ascending", t.Name, next.Name)}
		}
		if !t.MaxRevenue.Equal(next.MinRevenue) {
			return &ConfigError{Reason: fmt.Sprintf("tiers %q and %q do not partition contiguously", t.Name, next.Name)}
		}
	}

	return nil
}

// Locate resolves the affiliate's current tier by the progression's
// authoritative CurrentTierID and derives the next tier plus progress
// toward its threshold. Tiers must be pre-sorted ascending by
// MinRevenue (enforced by Validate; the store query orders them). On
// the last tier Next is nil and progress is pinned at 100. Progress is
// clamped to [0, 100] so revenue snapshots lagging a tier change never
// produce out-of-range values.
func Locate(tiers []*models.CommissionTier, prog *models.Progression) (*Placement, error) {
	if err := Validate(tiers); err != nil {
		return nil, err
	}

	idx := -1
	for i, t := range tiers {
		if t.ID == prog.CurrentTierID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("%w: id %d", ErrTierNotFound, prog.CurrentTierID)
	}

	current := tiers[idx]
	if idx == len(tiers)-1 {
		return &Placement{Current: current, ProgressPercent: 100}, nil
	}

	next := tiers[idx+1]
	// Validate guarantees next.MinRevenue > current.MinRevenue, so the
	// span is never zero.
	span := next.MinRevenue.Sub(current.MinRevenue)
	gained := prog.TotalRevenue.Sub(current.MinRevenue)
	pct, _ := gained.Div(span).Mul(decimal.NewFromInt(100)).Float64()
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}

	return &Placement{Current: current, Next: next, ProgressPercent: pct}, nil
}

// CommissionExample is an illustrative sale and the commission the
// tier's rate would yield on it.
type CommissionExample struct {
	Description string          `json:"description"`
	Value       decimal.Decimal `json:"value"`
	Commission  decimal.Decimal `json:"commission"`
}

// TierExamples pairs a tier with its example sales.
type TierExamples struct {
	Tier     *models.CommissionTier `json:"tier"`
	Examples []CommissionExample    `json:"examples"`
}

// exampleScenarios maps tier names to illustrative sale scenarios.
// Static configuration: tiers named outside this table get an empty
// example list, which is valid, just undocumented.
var exampleScenarios = map[string][]struct {
	description string
	value       int64
}{
	"Bronze": {
		{"Abonnement mensuel", 50},
		{"Formation en ligne", 200},
	},
	"Argent": {
		{"Abonnement annuel", 500},
		{"Pack entreprise", 1500},
	},
	"Or": {
		{"Licence équipe", 3000},
		{"Contrat annuel grand compte", 10000},
	},
}

// Examples builds the per-tier commission illustrations
// (value * rate / 100) from the static scenario table.
func Examples(tiers []*models.CommissionTier) []TierExamples {
	hundred := decimal.NewFromInt(100)

	out := make([]TierExamples, 0, len(tiers))
	for _, t := range tiers {
		te := TierExamples{Tier: t, Examples: []CommissionExample{}}
		for _, sc := range exampleScenarios[t.Name] {
			value := decimal.NewFromInt(sc.value)
			te.Examples = append(te.Examples, CommissionExample{
				Description: sc.description,
				Value:       value,
				Commission:  value.Mul(t.RatePct).Div(hundred).Round(2),
			})
		}
		out = append(out, te)
	}

	return out
}
