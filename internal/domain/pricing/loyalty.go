package pricing

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DefaultTiers is the loyalty table used when none is configured.
const DefaultTiers = "1000000:10,500000:7,200000:5,100000:3"

// Tier grants Percent off to customers whose lifetime spend is at least
// MinSpent minor units.
type Tier struct {
	MinSpent int64
	Percent  decimal.Decimal
}

// ParseTiers parses a comma separated "minSpent:percent" list.
// An empty string yields no tiers.
func ParseTiers(s string) ([]Tier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		spent, pct, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, errors.Errorf("tier %q: expected minSpent:percent", part)
		}
		threshold, err := strconv.ParseInt(strings.TrimSpace(spent), 10, 64)
		if err != nil || threshold < 0 {
			return nil, errors.Errorf("tier %q: invalid spend threshold", part)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(pct))
		if err != nil {
			return nil, errors.Wrapf(err, "tier %q: percent", part)
		}
		if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
			return nil, errors.Errorf("tier %q: percent out of range", part)
		}
		tiers = append(tiers, Tier{MinSpent: threshold, Percent: p})
	}
	return tiers, nil
}

// Policy maps lifetime spend to a loyalty discount.
type Policy struct {
	tiers []Tier // highest threshold first
}

// NewPolicy builds a policy from tiers in any order.
func NewPolicy(tiers []Tier) *Policy {
	sorted := slices.Clone(tiers)
	slices.SortFunc(sorted, func(a, b Tier) int {
		return cmp.Compare(b.MinSpent, a.MinSpent)
	})
	return &Policy{tiers: sorted}
}

// Percent returns the discount percentage for totalSpent, zero below the
// lowest tier.
func (p *Policy) Percent(totalSpent int64) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	for _, t := range p.tiers {
		if totalSpent >= t.MinSpent {
			return t.Percent
		}
	}
	return decimal.Zero
}

// Discount returns round(subtotal * percent / 100).
func (p *Policy) Discount(subtotal, totalSpent int64) int64 {
	pct := p.Percent(totalSpent)
	if pct.IsZero() || subtotal <= 0 {
		return 0
	}
	return percentOf(subtotal, pct)
}

func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}
