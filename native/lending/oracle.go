package lending

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/miekg/dns"
)

// CollateralOracle appraises domain-name collateral. An error, or a nil or
// non-positive value, means the collateral could not be resolved.
type CollateralOracle interface {
	Valuate(ctx context.Context, collateralRef string) (*big.Int, error)
}

// OracleFunc adapts a function to CollateralOracle.
type OracleFunc func(ctx context.Context, collateralRef string) (*big.Int, error)

func (f OracleFunc) Valuate(ctx context.Context, collateralRef string) (*big.Int, error) {
	return f(ctx, collateralRef)
}

// CollateralCustodian takes over collateral of liquidated loans. The engine
// only records the terminal loan state; seizure and sale happen downstream.
type CollateralCustodian interface {
	Seize(ctx context.Context, loan *Loan) error
}

// Valuation is a resolved appraisal captured before a borrow transaction.
type Valuation struct {
	CollateralRef string
	Value         *big.Int
}

var errUnresolved = errors.New("collateral value unresolved")

// NormalizeCollateralRef canonicalises a domain name: lower case, no trailing
// dot, at least two labels.
func NormalizeCollateralRef(ref string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(ref))
	trimmed = strings.TrimSuffix(trimmed, ".")
	if trimmed == "" {
		return "", ErrInvalidCollateral
	}
	labels, ok := dns.IsDomainName(trimmed)
	if !ok || labels < 2 {
		return "", ErrInvalidCollateral
	}
	return trimmed, nil
}

func valuate(ctx context.Context, oracle CollateralOracle, ref string) (Valuation, error) {
	if oracle == nil {
		return Valuation{}, errNilOracle
	}
	value, err := oracle.Valuate(ctx, ref)
	if err != nil {
		return Valuation{}, err
	}
	if value == nil || value.Sign() <= 0 {
		return Valuation{}, errUnresolved
	}
	return Valuation{CollateralRef: ref, Value: new(big.Int).Set(value)}, nil
}
