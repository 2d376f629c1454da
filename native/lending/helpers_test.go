package lending

import (
	"context"
	"fmt"
	"math/big"
	"testing"
)

const (
	testStart = int64(1_700_000_000)
	testCycle = int64(86_400)
)

func mustAddr(t *testing.T, seed byte) string {
	t.Helper()
	addr, err := NormalizeAddress(fmt.Sprintf("0x%040x", seed))
	if err != nil {
		t.Fatalf("normalize address %d: %v", seed, err)
	}
	return addr
}

func staticOracle(values map[string]int64) CollateralOracle {
	return OracleFunc(func(_ context.Context, ref string) (*big.Int, error) {
		v, ok := values[ref]
		if !ok {
			return nil, fmt.Errorf("no appraisal for %s", ref)
		}
		return big.NewInt(v), nil
	})
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultConfig(), staticOracle(map[string]int64{
		"example.com": 1_000,
		"circle.io":   5_000,
	}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

type fixture struct {
	engine  *Engine
	lender  string
	members []string
	circle  uint64
}

// newFixture funds the pool with 10000 units and opens a three member circle
// with a 1000 unit pool amount and daily turns.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	engine := newTestEngine(t)
	f := &fixture{
		engine:  engine,
		lender:  mustAddr(t, 0xA0),
		members: []string{mustAddr(t, 1), mustAddr(t, 2), mustAddr(t, 3)},
	}
	if _, err := engine.Deposit(ctx, f.lender, big.NewInt(10_000), testStart); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := engine.CreateCircle(ctx, f.members[0], f.members, big.NewInt(1_000), testCycle, testStart)
	if err != nil {
		t.Fatalf("create circle: %v", err)
	}
	f.circle = id
	return f
}
