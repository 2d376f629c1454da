package lending

import (
	"fmt"
	"math/big"
)

// InterestRateModel prices borrowing linearly in pool utilisation:
//
//	rate = BaseRate + Slope × utilisation
//
// clamped to [BaseRate, MaxRate]. Rates are annual and expressed in basis
// points; Slope is the increase in basis points per utilisation percentage
// point. The model is a pure function of its inputs.
type InterestRateModel struct {
	BaseRateBps uint64
	SlopeBps    uint64
	MaxRateBps  uint64
}

// DefaultInterestRateModel starts at 5% and reaches the 50% cap at 90%
// utilisation.
var DefaultInterestRateModel = InterestRateModel{
	BaseRateBps: 500,
	SlopeBps:    50,
	MaxRateBps:  5_000,
}

// Validate rejects curves whose cap sits below the base rate or above 100%.
func (m InterestRateModel) Validate() error {
	if m.MaxRateBps > 10_000 {
		return fmt.Errorf("max rate %d bps exceeds 100%%", m.MaxRateBps)
	}
	if m.BaseRateBps > m.MaxRateBps {
		return fmt.Errorf("base rate %d bps exceeds max rate %d bps", m.BaseRateBps, m.MaxRateBps)
	}
	return nil
}

// Utilization returns totalBorrowed / totalSupply × 100 as an exact
// percentage in [0, 100]. An empty pool has zero utilisation.
func (m InterestRateModel) Utilization(totalBorrowed, totalSupply *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() <= 0 {
		return new(big.Rat)
	}
	if totalSupply == nil || totalSupply.Sign() <= 0 {
		return new(big.Rat)
	}
	util := new(big.Rat).SetFrac(totalBorrowed, totalSupply)
	util.Mul(util, hundred)
	if util.Cmp(hundred) > 0 {
		return new(big.Rat).Set(hundred)
	}
	return util
}

// RateBps returns the borrow rate in basis points for a utilisation
// percentage, rounded down to a whole basis point.
func (m InterestRateModel) RateBps(utilization *big.Rat) uint64 {
	util := cloneRat(utilization)
	if util.Sign() < 0 {
		util.SetInt64(0)
	}
	if util.Cmp(hundred) > 0 {
		util.Set(hundred)
	}
	rate := new(big.Rat).Mul(util, new(big.Rat).SetUint64(m.SlopeBps))
	rate.Add(rate, new(big.Rat).SetUint64(m.BaseRateBps))
	bps := floorRat(rate)
	if bps < m.BaseRateBps {
		bps = m.BaseRateBps
	}
	if bps > m.MaxRateBps {
		bps = m.MaxRateBps
	}
	return bps
}

// Rate returns the borrow rate as a percentage for a utilisation percentage.
func (m InterestRateModel) Rate(utilization *big.Rat) *big.Rat {
	return BpsToPercent(m.RateBps(utilization))
}

// MarketRateBps prices the market in its current state.
func (m InterestRateModel) MarketRateBps(market *Market) uint64 {
	if market == nil {
		return m.RateBps(nil)
	}
	return m.RateBps(m.Utilization(market.TotalBorrowed, market.TotalSupply))
}
