package donation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Tier classifies a donor by an amount. Tiers are ordered, so they can be
// compared with < and >.
type Tier int

const (
	TierNewDonor Tier = iota
	TierBlue
	TierBronze
	TierSilver
	TierGold
)

var tierNames = [...]string{"New Donor", "Blue", "Bronze", "Silver", "Gold"}

func (t Tier) String() string {
	if t < TierNewDonor || t > TierGold {
		return "Unknown"
	}
	return tierNames[t]
}

// ParseTier accepts the display names, case-insensitively.
func ParseTier(s string) (Tier, bool) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", " "))
	for i, name := range tierNames {
		if strings.ToLower(name) == norm {
			return Tier(i), true
		}
	}
	return TierNewDonor, false
}

// Thresholds are the lower bounds of each band. Amounts below Blue are
// TierNewDonor.
type Thresholds struct {
	Blue   decimal.Decimal
	Bronze decimal.Decimal
	Silver decimal.Decimal
	Gold   decimal.Decimal
}

// DefaultThresholds are the bands used by this deployment.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Blue:   decimal.NewFromInt(1000),
		Bronze: decimal.NewFromInt(5000),
		Silver: decimal.NewFromInt(10000),
		Gold:   decimal.NewFromInt(20000),
	}
}

// Validate checks that the bands are non-negative and strictly ascending.
func (th Thresholds) Validate() error {
	if th.Blue.IsNegative() ||
		!th.Bronze.GreaterThan(th.Blue) ||
		!th.Silver.GreaterThan(th.Bronze) ||
		!th.Gold.GreaterThan(th.Silver) {
		return ErrInvalidThresholds
	}
	return nil
}

// TierFor maps an amount to its band. Negative amounts are TierNewDonor.
func (th Thresholds) TierFor(amount decimal.Decimal) Tier {
	switch {
	case amount.GreaterThanOrEqual(th.Gold):
		return TierGold
	case amount.GreaterThanOrEqual(th.Silver):
		return TierSilver
	case amount.GreaterThanOrEqual(th.Bronze):
		return TierBronze
	case amount.GreaterThanOrEqual(th.Blue):
		return TierBlue
	default:
		return TierNewDonor
	}
}

// Min returns the lower bound of a tier.
func (th Thresholds) Min(t Tier) decimal.Decimal {
	switch t {
	case TierBlue:
		return th.Blue
	case TierBronze:
		return th.Bronze
	case TierSilver:
		return th.Silver
	case TierGold:
		return th.Gold
	default:
		return decimal.Zero
	}
}

// NextTier returns the tier above the one amount falls in and how much more
// is needed to reach it. At TierGold it returns (TierGold, 0).
func (th Thresholds) NextTier(amount decimal.Decimal) (Tier, decimal.Decimal) {
	current := th.TierFor(amount)
	if current == TierGold {
		return TierGold, decimal.Zero
	}
	next := current + 1
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return next, th.Min(next).Sub(amount)
}

// TierFor classifies amount with DefaultThresholds.
func TierFor(amount decimal.Decimal) Tier {
	return DefaultThresholds().TierFor(amount)
}
