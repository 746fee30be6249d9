package engine

import "github.com/shopspring/decimal"

// FeeSchedule configures the platform fee charged on each trade.
type FeeSchedule struct {
	Rate       decimal.Decimal // fraction of notional, e.g. 0.025
	BuyerShare decimal.Decimal // fraction of the platform fee attributed to the buyer
	Min        decimal.Decimal
	Max        decimal.Decimal // zero means uncapped
}

// Fees is the fee breakdown of one trade. Buyer + Seller == Platform.
type Fees struct {
	Platform decimal.Decimal
	Buyer    decimal.Decimal
	Seller   decimal.Decimal
}

// Compute returns the fees for a trade of the given notional, rounded to
// scale decimal places. The platform fee never exceeds the notional.
func (f FeeSchedule) Compute(notional decimal.Decimal, scale int32) Fees {
	platform := notional.Mul(f.Rate).Round(scale)
	if platform.LessThan(f.Min) {
		platform = f.Min
	}
	if f.Max.IsPositive() && platform.GreaterThan(f.Max) {
		platform = f.Max
	}
	if platform.GreaterThan(notional) {
		platform = notional
	}
	platform = platform.Round(scale)
	if platform.IsNegative() {
		platform = decimal.Zero
	}

	buyer := platform.Mul(f.BuyerShare).Round(scale)
	if buyer.GreaterThan(platform) {
		buyer = platform
	}
	if buyer.IsNegative() {
		buyer = decimal.Zero
	}
	return Fees{
		Platform: platform,
		Buyer:    buyer,
		Seller:   platform.Sub(buyer),
	}
}
