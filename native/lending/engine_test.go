package lending

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sync"
	"testing"

	"circlefi/core/events"
	"circlefi/core/types"
	nativecommon "circlefi/native/common"
)

func TestBorrowWithinCollateralBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Borrow(ctx, f.members[0], f.circle, big.NewInt(900), "example.com", testStart); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("900 against 1000: expected ErrInsufficientCollateral, got %v", err)
	}
	loan, err := f.engine.Borrow(ctx, f.members[0], f.circle, big.NewInt(800), "Example.COM.", testStart)
	if err != nil {
		t.Fatalf("borrow 800: %v", err)
	}
	if loan.ID != 1 || loan.Borrower != f.members[0] || loan.CircleID != f.circle {
		t.Fatalf("unexpected loan: %+v", loan)
	}
	if loan.CollateralRef != "example.com" || loan.CollateralValue.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("collateral not captured: %s %s", loan.CollateralRef, loan.CollateralValue)
	}
	if loan.InterestRateBps != 500 {
		t.Fatalf("rate snapshot = %d, want 500", loan.InterestRateBps)
	}
	if loan.DueTime != testStart+testCycle || !loan.IsActive {
		t.Fatalf("unexpected schedule: %+v", loan)
	}

	stats := f.engine.Stats()
	if stats.TotalBorrowed.Cmp(big.NewInt(800)) != 0 || stats.AvailableLiquidity.Cmp(big.NewInt(9_200)) != 0 {
		t.Fatalf("unexpected stats after borrow: %+v", stats)
	}
	if stats.UtilizationRate.Cmp(big.NewRat(8, 1)) != 0 {
		t.Fatalf("utilization = %s, want 8", stats.UtilizationRate.RatString())
	}
	if got := f.engine.GetCurrentInterestRateBps(); got != 900 {
		t.Fatalf("rate after borrow = %d, want 900", got)
	}
	if got := f.engine.GetCurrentInterestRate(); got.Cmp(big.NewRat(9, 1)) != 0 {
		t.Fatalf("rate percent = %s, want 9", got.RatString())
	}
	circle, err := f.engine.GetCircleInfo(f.circle)
	if err != nil {
		t.Fatalf("circle info: %v", err)
	}
	if circle.Outstanding.Cmp(big.NewInt(800)) != 0 || circle.TotalBorrowed.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("circle totals not updated: %+v", circle)
	}
}

func TestBorrowTurnEnforcement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Borrow(ctx, f.members[1], f.circle, big.NewInt(100), "example.com", testStart)
	if !errors.Is(err, ErrAuthorization) {
		t.Fatalf("second member at start: expected ErrAuthorization, got %v", err)
	}
	if _, err := f.engine.Borrow(ctx, f.lender, f.circle, big.NewInt(100), "example.com", testStart); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("non member: expected ErrAuthorization, got %v", err)
	}
	if _, err := f.engine.Borrow(ctx, f.members[1], f.circle, big.NewInt(100), "example.com", testStart+testCycle); err != nil {
		t.Fatalf("second member on its turn: %v", err)
	}
	borrower, err := f.engine.CurrentBorrower(f.circle, testStart+2*testCycle)
	if err != nil || borrower != f.members[2] {
		t.Fatalf("current borrower = %s, %v", borrower, err)
	}
}

func TestBorrowRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	borrower := f.members[0]

	cases := []struct {
		name   string
		circle uint64
		amount *big.Int
		ref    string
		want   error
	}{
		{"zero amount", f.circle, big.NewInt(0), "example.com", ErrValidation},
		{"unknown circle", 99, big.NewInt(1), "example.com", ErrNotFound},
		{"malformed domain", f.circle, big.NewInt(1), "notadomain", ErrInvalidCollateral},
		{"unappraised domain", f.circle, big.NewInt(1), "unknown.org", ErrInvalidCollateral},
	}
	for _, tc := range cases {
		if _, err := f.engine.Borrow(ctx, borrower, tc.circle, tc.amount, tc.ref, testStart); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if _, err := f.engine.Borrow(ctx, "0x1234", f.circle, big.NewInt(1), "example.com", testStart); !errors.Is(err, ErrValidation) {
		t.Fatalf("malformed caller: expected ErrValidation, got %v", err)
	}
	if stats := f.engine.Stats(); stats.TotalLoans != 0 || stats.TotalBorrowed.Sign() != 0 {
		t.Fatalf("rejected borrows changed state: %+v", stats)
	}
}

func TestBorrowNotCappedByCirclePoolAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loan, err := f.engine.Borrow(ctx, f.members[0], f.circle, big.NewInt(3_500), "circle.io", testStart)
	if err != nil {
		t.Fatalf("borrow above pool amount: %v", err)
	}
	if loan.Amount.Cmp(big.NewInt(3_500)) != 0 {
		t.Fatalf("principal = %s, want 3500", loan.Amount)
	}
	circle, err := f.engine.GetCircleInfo(f.circle)
	if err != nil {
		t.Fatalf("circle info: %v", err)
	}
	if circle.PoolAmount.Cmp(big.NewInt(1_000)) != 0 || circle.Outstanding.Cmp(big.NewInt(3_500)) != 0 {
		t.Fatalf("unexpected circle totals: pool %s outstanding %s", circle.PoolAmount, circle.Outstanding)
	}
	if err := f.engine.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestCycleLengthCannotWrapDueTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.engine.CreateCircle(ctx, f.members[0], f.members, big.NewInt(1_000), math.MaxInt64, testStart); !errors.Is(err, ErrValidation) {
		t.Fatalf("unbounded cycle: expected ErrValidation, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.MaxCycleLength = math.MaxInt64
	engine, err := NewEngine(cfg, staticOracle(map[string]int64{"circle.io": 5_000}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.Deposit(ctx, f.lender, big.NewInt(10_000), testStart); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := engine.CreateCircle(ctx, f.members[0], f.members, big.NewInt(1_000), math.MaxInt64, testStart)
	if err != nil {
		t.Fatalf("create circle: %v", err)
	}
	if _, err := engine.Borrow(ctx, f.members[0], id, big.NewInt(1_000), "circle.io", testStart+10); !errors.Is(err, ErrValidation) {
		t.Fatalf("overflowing due time: expected ErrValidation, got %v", err)
	}
	if stats := engine.Stats(); stats.TotalLoans != 0 {
		t.Fatalf("loan opened despite overflow: %+v", stats)
	}
	if _, err := engine.Liquidate(ctx, f.lender, 1, testStart+10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("liquidate: expected ErrNotFound, got %v", err)
	}
}

func TestBorrowPoolLiquidity(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	lender := mustAddr(t, 0xA0)
	members := []string{mustAddr(t, 1), mustAddr(t, 2), mustAddr(t, 3)}
	if _, err := engine.Deposit(ctx, lender, big.NewInt(500), testStart); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := engine.CreateCircle(ctx, members[0], members, big.NewInt(1_000), testCycle, testStart)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Borrow(ctx, members[0], id, big.NewInt(600), "circle.io", testStart); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := engine.Borrow(ctx, members[0], id, big.NewInt(500), "circle.io", testStart); err != nil {
		t.Fatalf("borrow all liquidity: %v", err)
	}
	if _, err := engine.Withdraw(ctx, lender, big.NewInt(1), testStart); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("withdraw of lent funds: expected ErrInsufficientLiquidity, got %v", err)
	}
	if got := engine.GetUtilizationRate(); got.Cmp(big.NewRat(100, 1)) != 0 {
		t.Fatalf("utilization = %s, want 100", got.RatString())
	}
	if got := engine.GetCurrentInterestRateBps(); got != 5_000 {
		t.Fatalf("rate at full utilization = %d, want cap", got)
	}
}

func TestRepayAccruesInterestToReserves(t *testing.T) {
	ctx := context.Background()
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	engine, err := NewEngine(DefaultConfig(), OracleFunc(func(context.Context, string) (*big.Int, error) {
		return new(big.Int).Mul(unit, big.NewInt(2)), nil
	}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	lender := mustAddr(t, 0xA0)
	members := []string{mustAddr(t, 1), mustAddr(t, 2), mustAddr(t, 3)}
	if _, err := engine.Deposit(ctx, lender, new(big.Int).Mul(unit, big.NewInt(10)), testStart); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := engine.CreateCircle(ctx, members[0], members, unit, testCycle, testStart)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	loan, err := engine.Borrow(ctx, members[0], id, unit, "house.eth", testStart)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	repayAt := testStart + SecondsPerYear

	principal, interest, err := engine.LoanOwed(loan.ID, repayAt)
	if err != nil {
		t.Fatalf("owed: %v", err)
	}
	wantInterest := new(big.Int).Div(unit, big.NewInt(20))
	if principal.Cmp(unit) != 0 || interest.Cmp(wantInterest) != 0 {
		t.Fatalf("owed = %s + %s", principal, interest)
	}

	payer := mustAddr(t, 2)
	repaid, err := engine.Repay(ctx, payer, loan.ID, repayAt)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.IsActive || repaid.RepaidBy != payer || repaid.ClosedAt != repayAt {
		t.Fatalf("unexpected repaid loan: %+v", repaid)
	}
	if want := new(big.Int).Add(unit, wantInterest); repaid.RepaidAmount.Cmp(want) != 0 {
		t.Fatalf("repaid amount = %s, want %s", repaid.RepaidAmount, want)
	}
	stats := engine.Stats()
	if stats.TotalBorrowed.Sign() != 0 || stats.Reserves.Cmp(wantInterest) != 0 {
		t.Fatalf("unexpected stats after repay: %+v", stats)
	}
	if stats.TotalSupply.Cmp(new(big.Int).Mul(unit, big.NewInt(10))) != 0 {
		t.Fatalf("interest leaked into supply: %s", stats.TotalSupply)
	}
	user, err := engine.GetUser(members[0])
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ActiveLoans != 0 || user.TotalBorrowed.Cmp(unit) != 0 {
		t.Fatalf("unexpected borrower totals: %+v", user)
	}
	if _, err := engine.Repay(ctx, payer, loan.ID, repayAt+1); !errors.Is(err, ErrAlreadyInactive) {
		t.Fatalf("second repay: expected ErrAlreadyInactive, got %v", err)
	}
	if _, err := engine.Liquidate(ctx, payer, loan.ID, repayAt+testCycle); !errors.Is(err, ErrAlreadyInactive) {
		t.Fatalf("liquidate repaid: expected ErrAlreadyInactive, got %v", err)
	}
	if _, _, err := engine.LoanOwed(loan.ID, repayAt); !errors.Is(err, ErrAlreadyInactive) {
		t.Fatalf("owed on closed loan: expected ErrAlreadyInactive, got %v", err)
	}
}

type recordingCustodian struct {
	mu     sync.Mutex
	seized []uint64
}

func (c *recordingCustodian) Seize(_ context.Context, loan *Loan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seized = append(c.seized, loan.ID)
	return nil
}

func TestLiquidationBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	custodian := &recordingCustodian{}
	f.engine.SetCustodian(custodian)

	loan, err := f.engine.Borrow(ctx, f.members[0], f.circle, big.NewInt(800), "example.com", testStart)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := f.engine.Liquidate(ctx, f.lender, loan.ID, loan.DueTime); !errors.Is(err, ErrNotOverdue) {
		t.Fatalf("at due time: expected ErrNotOverdue, got %v", err)
	}
	liquidated, err := f.engine.Liquidate(ctx, f.lender, loan.ID, loan.DueTime+1)
	if err != nil {
		t.Fatalf("liquidate after due: %v", err)
	}
	if liquidated.IsActive || !liquidated.IsLiquidated || liquidated.LiquidatedBy != f.lender {
		t.Fatalf("unexpected liquidated loan: %+v", liquidated)
	}
	if _, err := f.engine.Liquidate(ctx, f.lender, loan.ID, loan.DueTime+2); !errors.Is(err, ErrAlreadyLiquidated) {
		t.Fatalf("second liquidation: expected ErrAlreadyLiquidated, got %v", err)
	}
	if _, err := f.engine.Repay(ctx, f.members[0], loan.ID, loan.DueTime+2); !errors.Is(err, ErrAlreadyInactive) {
		t.Fatalf("repay liquidated: expected ErrAlreadyInactive, got %v", err)
	}
	if _, err := f.engine.Liquidate(ctx, f.lender, 77, loan.DueTime+2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown loan: expected ErrNotFound, got %v", err)
	}
	if len(custodian.seized) != 1 || custodian.seized[0] != loan.ID {
		t.Fatalf("custodian saw %v", custodian.seized)
	}

	stats := f.engine.Stats()
	if stats.TotalBorrowed.Sign() != 0 || stats.WrittenOff.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("unexpected stats after liquidation: %+v", stats)
	}
	if _, err := f.engine.Withdraw(ctx, f.lender, big.NewInt(9_201), loan.DueTime+3); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("withdraw of written off funds: expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := f.engine.Withdraw(ctx, f.lender, big.NewInt(9_200), loan.DueTime+3); err != nil {
		t.Fatalf("withdraw free liquidity: %v", err)
	}
	if err := f.engine.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestEventsCarryIncreasingSequence(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	lender := mustAddr(t, 0xA0)
	members := []string{mustAddr(t, 1), mustAddr(t, 2), mustAddr(t, 3)}

	if _, err := engine.Deposit(ctx, lender, big.NewInt(10_000), testStart); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := engine.CreateCircle(ctx, members[0], members, big.NewInt(1_000), testCycle, testStart)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	loan, err := engine.Borrow(ctx, members[0], id, big.NewInt(800), "example.com", testStart)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := engine.Borrow(ctx, members[0], id, big.NewInt(900), "example.com", testStart); err == nil {
		t.Fatalf("expected over-collateral borrow to fail")
	}
	if _, err := engine.Repay(ctx, members[0], loan.ID, testStart+3_600); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if _, err := engine.Withdraw(ctx, lender, big.NewInt(1_000), testStart+3_600); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	want := []string{EventTypeDeposited, EventTypeCircleCreated, EventTypeLoanCreated, EventTypeLoanRepaid, EventTypeWithdrawn}
	got := recorder.Types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
		seq, ok := recorder.Events[i].Sequence()
		if !ok || seq != uint64(i+1) {
			t.Fatalf("event %d sequence = %d, %v", i, seq, ok)
		}
	}
	created := recorder.Events[2]
	if created.Attr("borrower") != members[0] || created.Attr("collateral") != "example.com" || created.Attr("rateBps") != "500" {
		t.Fatalf("unexpected loan event: %+v", created.Attributes)
	}
	if engine.Stats().Sequence != 5 {
		t.Fatalf("market sequence = %d", engine.Stats().Sequence)
	}
}

type failingLog struct{ err error }

func (l failingLog) Append(*types.Event) error { return l.err }

func TestEventLogFailureAbortsOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.engine.Stats()
	recorder := &events.Recorder{}
	f.engine.SetEmitter(recorder)
	f.engine.SetEventLog(failingLog{err: errors.New("disk full")})

	if _, err := f.engine.Deposit(ctx, f.lender, big.NewInt(5), testStart); err == nil {
		t.Fatalf("expected deposit to fail when the event log rejects it")
	}
	if _, err := f.engine.Borrow(ctx, f.members[0], f.circle, big.NewInt(800), "example.com", testStart); err == nil {
		t.Fatalf("expected borrow to fail when the event log rejects it")
	}
	after := f.engine.Stats()
	if after.Sequence != before.Sequence || after.TotalSupply.Cmp(before.TotalSupply) != 0 || after.TotalLoans != 0 {
		t.Fatalf("state changed: before %+v after %+v", before, after)
	}
	if len(recorder.Events) != 0 {
		t.Fatalf("events emitted for aborted operations: %v", recorder.Types())
	}
	if _, err := f.engine.GetLoanInfo(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("aborted loan visible: %v", err)
	}
}

func TestOracleTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OracleTimeoutMs = 20
	engine, err := NewEngine(cfg, OracleFunc(func(ctx context.Context, _ string) (*big.Int, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()
	members := []string{mustAddr(t, 1), mustAddr(t, 2), mustAddr(t, 3)}
	if _, err := engine.Deposit(ctx, members[1], big.NewInt(1_000), testStart); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := engine.CreateCircle(ctx, members[0], members, big.NewInt(100), testCycle, testStart)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Borrow(ctx, members[0], id, big.NewInt(10), "slow.example", testStart); !errors.Is(err, ErrInvalidCollateral) {
		t.Fatalf("expected ErrInvalidCollateral on timeout, got %v", err)
	}
	if engine.Stats().TotalLoans != 0 {
		t.Fatalf("timed out borrow created a loan")
	}
}

func TestPausedActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.SetPauses(ActionPauses{Borrow: true})

	if _, err := f.engine.Borrow(ctx, f.members[0], f.circle, big.NewInt(1), "example.com", testStart); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused borrow, got %v", err)
	}
	if _, err := f.engine.Deposit(ctx, f.lender, big.NewInt(1), testStart); err != nil {
		t.Fatalf("deposit should not be paused: %v", err)
	}
	f.engine.SetPauses(ActionPauses{All: true})
	if _, err := f.engine.Deposit(ctx, f.lender, big.NewInt(1), testStart); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused deposit, got %v", err)
	}
	if _, err := f.engine.GetUserDeposits(f.lender); err != nil {
		t.Fatalf("queries should not be paused: %v", err)
	}
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	stranger, err := f.engine.GetUser(mustAddr(t, 0x44))
	if err != nil {
		t.Fatalf("unknown user: %v", err)
	}
	if stranger.Address != mustAddr(t, 0x44) || stranger.Deposits.Sign() != 0 || stranger.TotalBorrowed.Sign() != 0 || stranger.ActiveLoans != 0 {
		t.Fatalf("unknown user should report zero totals: %+v", stranger)
	}
	if users := f.engine.state.Users(); len(users) != 1 {
		t.Fatalf("query created a user record: %d users", len(users))
	}
	if _, err := f.engine.GetUser("not-an-address"); !errors.Is(err, ErrValidation) {
		t.Fatalf("malformed user: expected ErrValidation, got %v", err)
	}
	balance, err := f.engine.GetUserDeposits(mustAddr(t, 0x44))
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("unknown user deposits = %v, %v", balance, err)
	}
	if _, err := f.engine.GetUserDeposits("not-an-address"); !errors.Is(err, ErrValidation) {
		t.Fatalf("malformed address: expected ErrValidation, got %v", err)
	}
	if _, err := f.engine.GetCircleInfo(5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown circle: expected ErrNotFound, got %v", err)
	}
	if _, err := f.engine.GetLoanInfo(5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown loan: expected ErrNotFound, got %v", err)
	}
	stats := f.engine.Stats()
	if stats.TotalCircles != 1 || stats.CurrentRateBps != 500 || stats.UtilizationRate.Sign() != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	loans, err := f.engine.LoansByBorrower(f.members[0])
	if err != nil || len(loans) != 0 {
		t.Fatalf("loans = %v, %v", loans, err)
	}
}

func TestConcurrentDepositsConserveSupply(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 1; i <= 16; i++ {
		addr := mustAddr(t, byte(i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if _, err := engine.Deposit(ctx, addr, big.NewInt(4), testStart); err != nil {
					t.Errorf("deposit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	stats := engine.Stats()
	if stats.TotalSupply.Cmp(big.NewInt(16*25*4)) != 0 {
		t.Fatalf("total supply = %s", stats.TotalSupply)
	}
	if stats.Sequence != 16*25 {
		t.Fatalf("sequence = %d", stats.Sequence)
	}
	if err := engine.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLTVBps = 20_000
	if _, err := NewEngine(cfg, staticOracle(nil)); err == nil {
		t.Fatalf("expected invalid LTV to be rejected")
	}
}
