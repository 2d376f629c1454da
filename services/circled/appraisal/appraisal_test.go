package appraisal

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"circlefi/native/lending"
)

func TestStaticOracle(t *testing.T) {
	oracle, err := NewStatic(map[string]string{"Example.com.": "1000"})
	require.NoError(t, err)

	value, err := oracle.Valuate(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, int64(1000), value.Int64())

	_, err = oracle.Valuate(context.Background(), "missing.org")
	require.ErrorIs(t, err, ErrNoAppraisal)

	_, err = NewStatic(map[string]string{"example.com": "-5"})
	require.Error(t, err)
	_, err = NewStatic(map[string]string{"localhost": "5"})
	require.Error(t, err)
}

func TestTimedReportsLatency(t *testing.T) {
	oracle, err := NewStatic(map[string]string{"example.com": "1"})
	require.NoError(t, err)
	var observed []time.Duration
	timed := Timed(oracle, func(d time.Duration) { observed = append(observed, d) })
	_, err = timed.Valuate(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, observed, 1)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := OpenStore("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreUpsertAndValuate(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Upsert(ctx, "House.ETH", big.NewInt(2_000), "manual"))
	value, err := store.Valuate(ctx, "house.eth")
	require.NoError(t, err)
	require.Equal(t, int64(2_000), value.Int64())

	require.NoError(t, store.Upsert(ctx, "house.eth", big.NewInt(2_500), "auction"))
	value, err = store.Valuate(ctx, "house.eth")
	require.NoError(t, err)
	require.Equal(t, int64(2_500), value.Int64())

	_, err = store.Valuate(ctx, "unknown.eth")
	require.ErrorIs(t, err, ErrNoAppraisal)
	require.Error(t, store.Upsert(ctx, "house.eth", big.NewInt(0), "manual"))
	require.Error(t, store.Upsert(ctx, "nodots", big.NewInt(1), "manual"))

	_, err = OpenStore("mysql", "")
	require.Error(t, err)
}

func TestStoreRecordsSeizuresOnce(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	loan := &lending.Loan{
		ID:            7,
		CircleID:      2,
		Borrower:      "0x0000000000000000000000000000000000000001",
		Amount:        big.NewInt(800),
		CollateralRef: "example.com",
		LiquidatedBy:  "0x0000000000000000000000000000000000000002",
		ClosedAt:      1_700_086_401,
	}
	require.NoError(t, store.Seize(ctx, loan))
	require.NoError(t, store.Seize(ctx, loan))

	rows, err := store.Seizures(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "800", rows[0].Principal)
	require.Equal(t, "example.com", rows[0].Domain)
}
