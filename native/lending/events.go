package lending

import (
	"math/big"
	"strconv"
	"strings"

	"circlefi/core/types"
)

const (
	EventTypeDeposited      = "lending.deposited"
	EventTypeWithdrawn      = "lending.withdrawn"
	EventTypeCircleCreated  = "lending.circle_created"
	EventTypeLoanCreated    = "lending.loan_created"
	EventTypeLoanRepaid     = "lending.loan_repaid"
	EventTypeLoanLiquidated = "lending.loan_liquidated"
)

// AttrSequence is set on every committed event.
const AttrSequence = "seq"

type poolEvent struct {
	evt *types.Event
}

func (e poolEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e poolEvent) Event() *types.Event { return e.evt }

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatAmount(v *big.Int) string { return cloneBigInt(v).String() }

func newLedgerEvent(eventType, user string, amount *big.Int, balance *User, market *Market, now int64) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"user":        user,
		"amount":      formatAmount(amount),
		"balance":     formatAmount(balance.Deposits),
		"totalSupply": formatAmount(market.TotalSupply),
		"timestamp":   formatInt(now),
	}}
}

// NewDepositedEvent returns the canonical payload for a deposit.
func NewDepositedEvent(user string, amount *big.Int, balance *User, market *Market, now int64) *types.Event {
	return newLedgerEvent(EventTypeDeposited, user, amount, balance, market, now)
}

// NewWithdrawnEvent returns the canonical payload for a withdrawal.
func NewWithdrawnEvent(user string, amount *big.Int, balance *User, market *Market, now int64) *types.Event {
	return newLedgerEvent(EventTypeWithdrawn, user, amount, balance, market, now)
}

// NewCircleCreatedEvent returns the canonical payload for a new circle.
func NewCircleCreatedEvent(c *Circle) *types.Event {
	return &types.Event{Type: EventTypeCircleCreated, Attributes: map[string]string{
		"circleId":    formatUint(c.ID),
		"creator":     c.Creator,
		"members":     strings.Join(c.Members, ","),
		"poolAmount":  formatAmount(c.PoolAmount),
		"cycleLength": formatInt(c.CycleLength),
		"startTime":   formatInt(c.StartTime),
	}}
}

// NewLoanCreatedEvent returns the canonical payload for an originated loan.
func NewLoanCreatedEvent(l *Loan, market *Market) *types.Event {
	return &types.Event{Type: EventTypeLoanCreated, Attributes: map[string]string{
		"loanId":          formatUint(l.ID),
		"circleId":        formatUint(l.CircleID),
		"borrower":        l.Borrower,
		"amount":          formatAmount(l.Amount),
		"collateral":      l.CollateralRef,
		"collateralValue": formatAmount(l.CollateralValue),
		"rateBps":         formatUint(l.InterestRateBps),
		"startTime":       formatInt(l.StartTime),
		"dueTime":         formatInt(l.DueTime),
		"totalBorrowed":   formatAmount(market.TotalBorrowed),
		"totalSupply":     formatAmount(market.TotalSupply),
	}}
}

// NewLoanRepaidEvent returns the canonical payload for a repayment.
func NewLoanRepaidEvent(res *RepayResult) *types.Event {
	l := res.Loan
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: map[string]string{
		"loanId":        formatUint(l.ID),
		"circleId":      formatUint(l.CircleID),
		"borrower":      l.Borrower,
		"payer":         l.RepaidBy,
		"principal":     formatAmount(l.Amount),
		"interest":      formatAmount(res.Interest),
		"repaidAmount":  formatAmount(l.RepaidAmount),
		"timestamp":     formatInt(l.ClosedAt),
		"totalBorrowed": formatAmount(res.Market.TotalBorrowed),
	}}
}

// NewLoanLiquidatedEvent returns the canonical payload for a liquidation.
func NewLoanLiquidatedEvent(l *Loan, market *Market) *types.Event {
	return &types.Event{Type: EventTypeLoanLiquidated, Attributes: map[string]string{
		"loanId":        formatUint(l.ID),
		"circleId":      formatUint(l.CircleID),
		"borrower":      l.Borrower,
		"liquidator":    l.LiquidatedBy,
		"principal":     formatAmount(l.Amount),
		"timestamp":     formatInt(l.ClosedAt),
		"totalBorrowed": formatAmount(market.TotalBorrowed),
		"writtenOff":    formatAmount(market.WrittenOff),
	}}
}
