package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"circlefi/core/events"
	"circlefi/core/types"
	nativecommon "circlefi/native/common"
)

// EventLog durably records committed events. An Append failure aborts the
// operation before any state becomes visible.
type EventLog interface {
	Append(evt *types.Event) error
}

// Engine is the single entry point of the circle lending module. Mutations
// are serialised behind one writer lock and applied as all-or-nothing
// transactions; every committed mutation emits exactly one event.
//
// The engine never reads a clock: every operation takes the caller supplied
// unix time, so a replayed event stream reproduces the same state.
type Engine struct {
	mu        sync.RWMutex
	state     *MemoryState
	config    Config
	model     InterestRateModel
	oracle    CollateralOracle
	custodian CollateralCustodian
	emitter   events.Emitter
	eventLog  EventLog
	pauses    nativecommon.PauseView
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewEngine constructs an engine over an empty store.
func NewEngine(cfg Config, oracle CollateralOracle) (*Engine, error) {
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		state:   NewMemoryState(),
		config:  cfg,
		model:   cfg.InterestModel(),
		oracle:  oracle,
		emitter: events.NoopEmitter{},
		pauses:  cfg.Pauses,
		logger:  slog.Default(),
		tracer:  otel.Tracer("circlefi/native/lending"),
	}, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetEventLog wires durable event storage.
func (e *Engine) SetEventLog(log EventLog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventLog = log
}

// SetCustodian wires the collaborator notified of liquidations.
func (e *Engine) SetCustodian(custodian CollateralCustodian) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custodian = custodian
}

// SetPauses replaces the pause switches taken from the configuration.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// Config returns the parameters the engine runs with.
func (e *Engine) Config() Config { return e.config }

func (e *Engine) ledger(state engineState) *AccountLedger {
	return &AccountLedger{state: state}
}

func (e *Engine) registry(state engineState) *CircleRegistry {
	return &CircleRegistry{
		state:      state,
		minMembers: e.config.MinMembers,
		maxMembers: e.config.MaxMembers,
		maxCycle:   e.config.MaxCycleLength,
	}
}

func (e *Engine) loans(state engineState) *LoanManager {
	return &LoanManager{
		state:     state,
		circles:   e.registry(state),
		model:     e.model,
		maxLTVBps: e.config.MaxLTVBps,
	}
}

type mutation func(tx *txState) (*types.Event, error)

func (e *Engine) guard(op, entity string) error {
	if err := nativecommon.GuardAction(e.pauses, moduleName, op); err != nil {
		return &OpError{Op: op, Entity: entity, Reason: "paused", Err: err}
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, op, entity string, fn mutation) (*types.Event, error) {
	_, span := e.tracer.Start(ctx, "lending."+op, trace.WithAttributes(attribute.String("lending.entity", entity)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	evt, err := e.executeLocked(op, entity, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("lending operation rejected", "op", op, "entity", entity, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("lending.seq", evt.Attr(AttrSequence)))
	e.logger.Info("lending operation committed", "op", op, "entity", entity, "event", evt.Type, AttrSequence, evt.Attr(AttrSequence))
	return evt, nil
}

func (e *Engine) executeLocked(op, entity string, fn mutation) (*types.Event, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.guard(op, entity); err != nil {
		return nil, err
	}
	tx := e.state.begin()
	evt, err := fn(tx)
	if err != nil {
		return nil, err
	}
	market, err := tx.GetMarket()
	if err != nil {
		return nil, wrapOp(op, entity, err)
	}
	market.Sequence++
	evt.Attributes[AttrSequence] = formatUint(market.Sequence)
	if err := tx.PutMarket(market); err != nil {
		return nil, wrapOp(op, entity, err)
	}
	if e.eventLog != nil {
		if err := e.eventLog.Append(evt.Clone()); err != nil {
			return nil, wrapOp(op, entity, fmt.Errorf("append event: %w", err))
		}
	}
	tx.commit()
	e.emitter.Emit(poolEvent{evt: evt.Clone()})
	return evt, nil
}

// Deposit credits amount to user and returns the new balance.
func (e *Engine) Deposit(ctx context.Context, user string, amount *big.Int, now int64) (*big.Int, error) {
	addr, err := normalizeCaller(ActionDeposit, user)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	_, err = e.execute(ctx, ActionDeposit, addr, func(tx *txState) (*types.Event, error) {
		u, market, err := e.ledger(tx).Deposit(addr, amount)
		if err != nil {
			return nil, err
		}
		balance = cloneBigInt(u.Deposits)
		return NewDepositedEvent(addr, amount, u, market, now), nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// Withdraw debits amount from user and returns the new balance.
func (e *Engine) Withdraw(ctx context.Context, user string, amount *big.Int, now int64) (*big.Int, error) {
	addr, err := normalizeCaller(ActionWithdraw, user)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	_, err = e.execute(ctx, ActionWithdraw, addr, func(tx *txState) (*types.Event, error) {
		u, market, err := e.ledger(tx).Withdraw(addr, amount)
		if err != nil {
			return nil, err
		}
		balance = cloneBigInt(u.Deposits)
		return NewWithdrawnEvent(addr, amount, u, market, now), nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// CreateCircle registers a circle whose rotation starts at now and returns
// its identifier.
func (e *Engine) CreateCircle(ctx context.Context, creator string, members []string, poolAmount *big.Int, cycleLength int64, now int64) (uint64, error) {
	creatorAddr, err := normalizeCaller(ActionCreateCircle, creator)
	if err != nil {
		return 0, err
	}
	normalized := make([]string, 0, len(members))
	for _, member := range members {
		addr, err := normalizeCaller(ActionCreateCircle, member)
		if err != nil {
			return 0, err
		}
		normalized = append(normalized, addr)
	}
	var id uint64
	_, err = e.execute(ctx, ActionCreateCircle, creatorAddr, func(tx *txState) (*types.Event, error) {
		circle, err := e.registry(tx).Create(CircleParams{
			Creator:     creatorAddr,
			Members:     normalized,
			PoolAmount:  poolAmount,
			CycleLength: cycleLength,
		}, now)
		if err != nil {
			return nil, err
		}
		id = circle.ID
		return NewCircleCreatedEvent(circle), nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Borrow opens a loan against collateralRef for the member whose turn it is.
// The collateral is appraised before the transaction starts; an oracle
// failure or timeout aborts the borrow without touching state.
func (e *Engine) Borrow(ctx context.Context, caller string, circleID uint64, amount *big.Int, collateralRef string, now int64) (*Loan, error) {
	addr, err := normalizeCaller(ActionBorrow, caller)
	if err != nil {
		return nil, err
	}
	entity := circleKey(circleID)
	if err := e.guard(ActionBorrow, entity); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, opError(ActionBorrow, entity, ErrValidation, "amount must be positive")
	}
	ref, err := NormalizeCollateralRef(collateralRef)
	if err != nil {
		return nil, opError(ActionBorrow, entity, ErrInvalidCollateral, "malformed domain %q", strings.TrimSpace(collateralRef))
	}
	if err := e.precheckTurn(circleID, addr, now); err != nil {
		return nil, err
	}

	valuation, err := e.appraise(ctx, ref)
	if err != nil {
		return nil, opError(ActionBorrow, entity, ErrInvalidCollateral, "oracle could not value %s: %v", ref, err)
	}

	var loan *Loan
	_, err = e.execute(ctx, ActionBorrow, entity, func(tx *txState) (*types.Event, error) {
		opened, market, err := e.loans(tx).Borrow(BorrowRequest{
			CircleID:   circleID,
			Caller:     addr,
			Amount:     amount,
			Collateral: valuation,
			Now:        now,
		})
		if err != nil {
			return nil, err
		}
		loan = opened
		return NewLoanCreatedEvent(opened, market), nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (e *Engine) precheckTurn(circleID uint64, caller string, now int64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	circle, err := e.registry(e.state).Get(ActionBorrow, circleID)
	if err != nil {
		return err
	}
	return authorizeTurn(circle, caller, now)
}

func (e *Engine) appraise(ctx context.Context, ref string) (Valuation, error) {
	e.mu.RLock()
	oracle := e.oracle
	e.mu.RUnlock()
	valCtx, cancel := context.WithTimeout(ctx, e.config.OracleTimeout())
	defer cancel()
	valuation, err := valuate(valCtx, oracle, ref)
	if err == nil {
		return valuation, nil
	}
	if errors.Is(valCtx.Err(), context.DeadlineExceeded) {
		return Valuation{}, fmt.Errorf("timed out after %s", e.config.OracleTimeout())
	}
	return Valuation{}, err
}

// Repay settles loanID in full and returns the closed loan; RepaidAmount holds
// principal plus interest accrued until now.
func (e *Engine) Repay(ctx context.Context, caller string, loanID uint64, now int64) (*Loan, error) {
	addr, err := normalizeCaller(ActionRepay, caller)
	if err != nil {
		return nil, err
	}
	var loan *Loan
	_, err = e.execute(ctx, ActionRepay, loanKey(loanID), func(tx *txState) (*types.Event, error) {
		res, err := e.loans(tx).Repay(loanID, addr, now)
		if err != nil {
			return nil, err
		}
		loan = res.Loan
		return NewLoanRepaidEvent(res), nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Liquidate closes an overdue loan. Any caller may liquidate; the collateral
// custodian, when configured, is notified after the state change commits.
func (e *Engine) Liquidate(ctx context.Context, caller string, loanID uint64, now int64) (*Loan, error) {
	addr, err := normalizeCaller(ActionLiquidate, caller)
	if err != nil {
		return nil, err
	}
	var loan *Loan
	_, err = e.execute(ctx, ActionLiquidate, loanKey(loanID), func(tx *txState) (*types.Event, error) {
		closed, market, err := e.loans(tx).Liquidate(loanID, addr, now)
		if err != nil {
			return nil, err
		}
		loan = closed
		return NewLoanLiquidatedEvent(closed, market), nil
	})
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	custodian := e.custodian
	logger := e.logger
	e.mu.RUnlock()
	if custodian != nil {
		if err := custodian.Seize(ctx, loan.Clone()); err != nil {
			logger.Warn("collateral custodian rejected liquidated loan", "loan", loan.ID, "collateral", loan.CollateralRef, "error", err)
		}
	}
	return loan, nil
}

// GetUserDeposits returns the current deposit balance of user.
func (e *Engine) GetUserDeposits(user string) (*big.Int, error) {
	addr, err := normalizeCaller("get_user_deposits", user)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger(e.state).Balance(addr)
}

// GetUser returns the lifetime totals of user. An address that never touched
// the pool reports zero totals.
func (e *Engine) GetUser(user string) (*User, error) {
	addr, err := normalizeCaller("get_user", user)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok, err := e.state.GetUser(addr)
	if err != nil {
		return nil, err
	}
	if !ok || u == nil {
		return newUser(addr), nil
	}
	return u, nil
}

// GetCircleInfo returns a snapshot of the circle.
func (e *Engine) GetCircleInfo(id uint64) (*Circle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry(e.state).Get("get_circle", id)
}

// GetLoanInfo returns a snapshot of the loan.
func (e *Engine) GetLoanInfo(id uint64) (*Loan, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loans(e.state).load("get_loan", id)
}

// LoansByBorrower lists every loan opened by user.
func (e *Engine) LoansByBorrower(user string) ([]*Loan, error) {
	addr, err := normalizeCaller("list_loans", user)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.LoansByBorrower(addr), nil
}

// ListLoans returns the whole loan book ordered by id.
func (e *Engine) ListLoans() []*Loan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Loans()
}

// CurrentBorrower returns the member holding circleID's turn at now.
func (e *Engine) CurrentBorrower(circleID uint64, now int64) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry(e.state).CurrentBorrower(circleID, now)
}

// LoanOwed quotes the principal and interest a repayment at now would settle.
func (e *Engine) LoanOwed(loanID uint64, now int64) (*big.Int, *big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	manager := e.loans(e.state)
	loan, err := manager.load("loan_owed", loanID)
	if err != nil {
		return nil, nil, err
	}
	if !loan.IsActive {
		return nil, nil, opError("loan_owed", loanKey(loanID), ErrAlreadyInactive, "loan closed at %d", loan.ClosedAt)
	}
	principal, interest := manager.Owed(loan, now)
	return principal, interest, nil
}

// GetUtilizationRate returns borrowed / supply as a percentage in [0, 100].
func (e *Engine) GetUtilizationRate() *big.Rat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	market, err := e.state.GetMarket()
	if err != nil {
		return new(big.Rat)
	}
	return e.model.Utilization(market.TotalBorrowed, market.TotalSupply)
}

// GetCurrentInterestRate returns the annual borrow rate as a percentage.
func (e *Engine) GetCurrentInterestRate() *big.Rat {
	return BpsToPercent(e.GetCurrentInterestRateBps())
}

// GetCurrentInterestRateBps returns the annual borrow rate in basis points.
func (e *Engine) GetCurrentInterestRateBps() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	market, err := e.state.GetMarket()
	if err != nil {
		return e.model.BaseRateBps
	}
	return e.model.MarketRateBps(market)
}

// Stats derives the protocol statistics from the current market.
func (e *Engine) Stats() ProtocolStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	market, err := e.state.GetMarket()
	if err != nil || market == nil {
		market = newMarket()
	}
	util := e.model.Utilization(market.TotalBorrowed, market.TotalSupply)
	rateBps := e.model.RateBps(util)
	return ProtocolStats{
		TotalSupply:         cloneBigInt(market.TotalSupply),
		TotalBorrowed:       cloneBigInt(market.TotalBorrowed),
		WrittenOff:          cloneBigInt(market.WrittenOff),
		Reserves:            cloneBigInt(market.Reserves),
		AvailableLiquidity:  availableLiquidity(market),
		UtilizationRate:     util,
		CurrentInterestRate: BpsToPercent(rateBps),
		CurrentRateBps:      rateBps,
		TotalCircles:        market.NextCircleID,
		TotalLoans:          market.NextLoanID,
		Sequence:            market.Sequence,
	}
}

// CheckInvariants verifies the conservation and utilisation invariants over
// the whole store.
func (e *Engine) CheckInvariants() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	market, err := e.state.GetMarket()
	if err != nil {
		return err
	}
	sum := big.NewInt(0)
	for _, user := range e.state.Users() {
		if user.Deposits.Sign() < 0 {
			return fmt.Errorf("user %s has negative balance %s", user.Address, user.Deposits)
		}
		sum.Add(sum, user.Deposits)
	}
	if sum.Cmp(market.TotalSupply) != 0 {
		return fmt.Errorf("total supply %s differs from sum of deposits %s", market.TotalSupply, sum)
	}
	committed := new(big.Int).Add(market.TotalBorrowed, market.WrittenOff)
	if committed.Cmp(market.TotalSupply) > 0 {
		return fmt.Errorf("borrowed %s plus written off %s exceeds supply %s", market.TotalBorrowed, market.WrittenOff, market.TotalSupply)
	}
	if rate := e.model.MarketRateBps(market); rate > e.model.MaxRateBps {
		return fmt.Errorf("rate %d bps exceeds cap %d bps", rate, e.model.MaxRateBps)
	}
	return nil
}
