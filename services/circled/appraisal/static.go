package appraisal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"circlefi/native/lending"
)

// ErrNoAppraisal is returned for domains without a recorded value.
var ErrNoAppraisal = errors.New("appraisal: no value for domain")

// Static serves appraisals from a fixed table loaded at startup.
type Static struct {
	mu     sync.RWMutex
	values map[string]*big.Int
}

// NewStatic parses decimal values keyed by domain name.
func NewStatic(values map[string]string) (*Static, error) {
	s := &Static{values: make(map[string]*big.Int, len(values))}
	for domain, raw := range values {
		value, ok := new(big.Int).SetString(raw, 10)
		if !ok || value.Sign() <= 0 {
			return nil, fmt.Errorf("appraisal %s: invalid value %q", domain, raw)
		}
		if err := s.Set(domain, value); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Set records or replaces the value of domain.
func (s *Static) Set(domain string, value *big.Int) error {
	ref, err := lending.NormalizeCollateralRef(domain)
	if err != nil {
		return fmt.Errorf("appraisal %q: %w", domain, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[ref] = new(big.Int).Set(value)
	return nil
}

func (s *Static) Valuate(ctx context.Context, collateralRef string) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[collateralRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAppraisal, collateralRef)
	}
	return new(big.Int).Set(value), nil
}

// Timed wraps an oracle and reports the latency of every valuation.
func Timed(oracle lending.CollateralOracle, observe func(time.Duration)) lending.CollateralOracle {
	return lending.OracleFunc(func(ctx context.Context, ref string) (*big.Int, error) {
		started := time.Now()
		value, err := oracle.Valuate(ctx, ref)
		if observe != nil {
			observe(time.Since(started))
		}
		return value, err
	})
}
