package lending

import (
	"math"
	"math/big"
)

// SecondsPerYear is the accrual denominator for annual rates.
const SecondsPerYear = 31_536_000

var (
	basisPoints = big.NewInt(10_000)
	hundred     = big.NewRat(100, 1)
)

// addSeconds returns ts+delta, or false when the sum leaves the int64 range.
func addSeconds(ts, delta int64) (int64, bool) {
	if (delta > 0 && ts > math.MaxInt64-delta) || (delta < 0 && ts < math.MinInt64-delta) {
		return 0, false
	}
	return ts + delta, true
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}

// accruedInterest computes simple interest on principal at rateBps per year
// over elapsed seconds, rounded half-up.
func accruedInterest(principal *big.Int, rateBps uint64, elapsed int64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || rateBps == 0 || elapsed <= 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	numerator.Mul(numerator, big.NewInt(elapsed))
	denominator := new(big.Int).Mul(basisPoints, big.NewInt(SecondsPerYear))
	numerator.Add(numerator, halfUp(denominator))
	return numerator.Quo(numerator, denominator)
}

// withinLTV reports whether amount ≤ ltvBps/10000 × value without rounding.
func withinLTV(amount, value *big.Int, ltvBps uint64) bool {
	if amount == nil || value == nil || value.Sign() <= 0 {
		return false
	}
	lhs := new(big.Int).Mul(amount, basisPoints)
	rhs := new(big.Int).Mul(value, new(big.Int).SetUint64(ltvBps))
	return lhs.Cmp(rhs) <= 0
}

// maxLoanForValue returns the largest principal the LTV allows for value.
func maxLoanForValue(value *big.Int, ltvBps uint64) *big.Int {
	if value == nil || value.Sign() <= 0 {
		return big.NewInt(0)
	}
	limit := new(big.Int).Mul(value, new(big.Int).SetUint64(ltvBps))
	return limit.Quo(limit, basisPoints)
}

// availableLiquidity is the lendable cash in the pool.
func availableLiquidity(m *Market) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	free := new(big.Int).Sub(cloneBigInt(m.TotalSupply), cloneBigInt(m.TotalBorrowed))
	free.Sub(free, cloneBigInt(m.WrittenOff))
	if free.Sign() < 0 {
		return big.NewInt(0)
	}
	return free
}

// BpsToPercent renders basis points as a percentage, e.g. 750 → 7.5.
func BpsToPercent(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), big.NewInt(100))
}

func floorRat(r *big.Rat) uint64 {
	if r == nil || r.Sign() <= 0 {
		return 0
	}
	q := new(big.Int).Quo(r.Num(), r.Denom())
	if !q.IsUint64() {
		return ^uint64(0)
	}
	return q.Uint64()
}
