package lending

import (
	"math/big"
	"testing"
)

func TestUtilizationBounds(t *testing.T) {
	model := DefaultInterestRateModel
	cases := []struct {
		borrowed, supply int64
		want             *big.Rat
	}{
		{0, 0, new(big.Rat)},
		{100, 0, new(big.Rat)},
		{0, 1_000, new(big.Rat)},
		{500, 10_000, big.NewRat(5, 1)},
		{1, 3, big.NewRat(100, 3)},
		{10_000, 10_000, big.NewRat(100, 1)},
		{20_000, 10_000, big.NewRat(100, 1)},
	}
	for _, tc := range cases {
		got := model.Utilization(big.NewInt(tc.borrowed), big.NewInt(tc.supply))
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("utilization(%d, %d) = %s, want %s", tc.borrowed, tc.supply, got.RatString(), tc.want.RatString())
		}
	}
}

func TestRateCurve(t *testing.T) {
	model := DefaultInterestRateModel
	cases := []struct {
		util *big.Rat
		want uint64
	}{
		{new(big.Rat), 500},
		{big.NewRat(5, 1), 750},
		{big.NewRat(30, 1), 2_000},
		{big.NewRat(1, 3), 516},
		{big.NewRat(90, 1), 5_000},
		{big.NewRat(100, 1), 5_000},
		{big.NewRat(-10, 1), 500},
		{big.NewRat(250, 1), 5_000},
	}
	for _, tc := range cases {
		if got := model.RateBps(tc.util); got != tc.want {
			t.Fatalf("rate(%s) = %d bps, want %d", tc.util.RatString(), got, tc.want)
		}
	}
	if got := model.Rate(big.NewRat(5, 1)); got.Cmp(big.NewRat(15, 2)) != 0 {
		t.Fatalf("rate percent = %s, want 15/2", got.RatString())
	}
}

func TestRateMonotonicInUtilization(t *testing.T) {
	model := DefaultInterestRateModel
	prev := uint64(0)
	for borrowed := int64(0); borrowed <= 10_000; borrowed += 37 {
		rate := model.RateBps(model.Utilization(big.NewInt(borrowed), big.NewInt(10_000)))
		if rate < prev {
			t.Fatalf("rate decreased at borrowed=%d: %d < %d", borrowed, rate, prev)
		}
		if rate < model.BaseRateBps || rate > model.MaxRateBps {
			t.Fatalf("rate %d outside [%d, %d]", rate, model.BaseRateBps, model.MaxRateBps)
		}
		prev = rate
	}
}

func TestInterestModelValidate(t *testing.T) {
	if err := (InterestRateModel{BaseRateBps: 600, MaxRateBps: 500}).Validate(); err == nil {
		t.Fatalf("expected base above max to fail")
	}
	if err := (InterestRateModel{MaxRateBps: 10_001}).Validate(); err == nil {
		t.Fatalf("expected max above 100%% to fail")
	}
	if err := DefaultInterestRateModel.Validate(); err != nil {
		t.Fatalf("default model invalid: %v", err)
	}
}

func TestAccruedInterest(t *testing.T) {
	principal := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	year := accruedInterest(principal, 500, SecondsPerYear)
	if want := new(big.Int).Div(principal, big.NewInt(20)); year.Cmp(want) != 0 {
		t.Fatalf("one year at 5%% = %s, want %s", year, want)
	}
	day := accruedInterest(principal, 500, 86_400)
	if want, _ := new(big.Int).SetString("136986301369863", 10); day.Cmp(want) != 0 {
		t.Fatalf("one day at 5%% = %s, want %s", day, want)
	}
	if got := accruedInterest(big.NewInt(800), 500, 0); got.Sign() != 0 {
		t.Fatalf("zero elapsed accrued %s", got)
	}
	if got := accruedInterest(big.NewInt(800), 500, -5); got.Sign() != 0 {
		t.Fatalf("negative elapsed accrued %s", got)
	}
	// 0.5 of a unit rounds up.
	half := accruedInterest(big.NewInt(1), 10_000, SecondsPerYear/2)
	if half.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("half unit rounded to %s, want 1", half)
	}
}

func TestWithinLTV(t *testing.T) {
	value := big.NewInt(1_000)
	if !withinLTV(big.NewInt(800), value, 8_000) {
		t.Fatalf("800 against 1000 should be within 80%%")
	}
	if withinLTV(big.NewInt(801), value, 8_000) {
		t.Fatalf("801 against 1000 should exceed 80%%")
	}
	if got := maxLoanForValue(value, 8_000); got.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("max loan = %s, want 800", got)
	}
}
