package lending

import (
	"math"
	"math/big"
)

// Market captures the pool-wide accounting state. Amounts are denominated in
// the smallest unit of the pooled asset.
type Market struct {
	// TotalSupply is the aggregate of all user deposit balances.
	TotalSupply *big.Int
	// TotalBorrowed is the outstanding principal of active loans.
	TotalBorrowed *big.Int
	// WrittenOff is principal of liquidated loans handed to the collateral
	// custodian. It is no longer lendable but still backs deposits.
	WrittenOff *big.Int
	// Reserves accumulates interest paid on repayment.
	Reserves *big.Int
	// NextCircleID and NextLoanID hold the last identifier issued.
	NextCircleID uint64
	NextLoanID   uint64
	// Sequence is the number of the last event committed.
	Sequence uint64
}

// User maintains the lifetime totals for an individual holder address.
type User struct {
	Address        string
	Deposits       *big.Int
	TotalDeposited *big.Int
	TotalWithdrawn *big.Int
	TotalBorrowed  *big.Int
	TotalRepaid    *big.Int
	ActiveLoans    uint64
}

// Circle is a fixed-membership rotating credit group.
type Circle struct {
	ID      uint64
	Creator string
	// Members lists the rotation order; the first member holds the first turn.
	Members    []string
	PoolAmount *big.Int
	// CycleLength is the length of one borrowing turn in seconds.
	CycleLength int64
	StartTime   int64
	IsActive    bool
	// TotalBorrowed is the cumulative principal ever lent through the circle.
	TotalBorrowed *big.Int
	// Outstanding is the principal of the circle's active loans.
	Outstanding *big.Int
}

// Loan is a single borrow against domain-name collateral.
type Loan struct {
	ID              uint64
	Borrower        string
	CircleID        uint64
	Amount          *big.Int
	CollateralRef   string
	CollateralValue *big.Int
	// InterestRateBps is the annual rate snapshotted at origination.
	InterestRateBps uint64
	StartTime       int64
	DueTime         int64
	IsActive        bool
	IsLiquidated    bool
	RepaidAmount    *big.Int
	RepaidBy        string
	LiquidatedBy    string
	ClosedAt        int64
}

// ProtocolStats is a derived view recomputed from the market on every read.
type ProtocolStats struct {
	TotalSupply         *big.Int
	TotalBorrowed       *big.Int
	WrittenOff          *big.Int
	Reserves            *big.Int
	AvailableLiquidity  *big.Int
	UtilizationRate     *big.Rat
	CurrentInterestRate *big.Rat
	CurrentRateBps      uint64
	TotalCircles        uint64
	TotalLoans          uint64
	Sequence            uint64
}

func newMarket() *Market {
	return &Market{
		TotalSupply:   big.NewInt(0),
		TotalBorrowed: big.NewInt(0),
		WrittenOff:    big.NewInt(0),
		Reserves:      big.NewInt(0),
	}
}

func newUser(addr string) *User {
	return &User{
		Address:        addr,
		Deposits:       big.NewInt(0),
		TotalDeposited: big.NewInt(0),
		TotalWithdrawn: big.NewInt(0),
		TotalBorrowed:  big.NewInt(0),
		TotalRepaid:    big.NewInt(0),
	}
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	return &Market{
		TotalSupply:   cloneBigInt(m.TotalSupply),
		TotalBorrowed: cloneBigInt(m.TotalBorrowed),
		WrittenOff:    cloneBigInt(m.WrittenOff),
		Reserves:      cloneBigInt(m.Reserves),
		NextCircleID:  m.NextCircleID,
		NextLoanID:    m.NextLoanID,
		Sequence:      m.Sequence,
	}
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	return &User{
		Address:        u.Address,
		Deposits:       cloneBigInt(u.Deposits),
		TotalDeposited: cloneBigInt(u.TotalDeposited),
		TotalWithdrawn: cloneBigInt(u.TotalWithdrawn),
		TotalBorrowed:  cloneBigInt(u.TotalBorrowed),
		TotalRepaid:    cloneBigInt(u.TotalRepaid),
		ActiveLoans:    u.ActiveLoans,
	}
}

// Clone returns a deep copy of the circle.
func (c *Circle) Clone() *Circle {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Members = append([]string(nil), c.Members...)
	clone.PoolAmount = cloneBigInt(c.PoolAmount)
	clone.TotalBorrowed = cloneBigInt(c.TotalBorrowed)
	clone.Outstanding = cloneBigInt(c.Outstanding)
	return &clone
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Amount = cloneBigInt(l.Amount)
	clone.CollateralValue = cloneBigInt(l.CollateralValue)
	clone.RepaidAmount = cloneBigInt(l.RepaidAmount)
	return &clone
}

// IsMember reports whether addr belongs to the circle.
func (c *Circle) IsMember(addr string) bool {
	return c.memberIndex(addr) >= 0
}

func (c *Circle) memberIndex(addr string) int {
	if c == nil {
		return -1
	}
	for i, member := range c.Members {
		if member == addr {
			return i
		}
	}
	return -1
}

// TurnIndex returns the rotation slot active at now. Turns advance with time
// only; repayments and liquidations do not move the rotation.
func (c *Circle) TurnIndex(now int64) int {
	if c == nil || len(c.Members) == 0 || c.CycleLength <= 0 || now <= c.StartTime {
		return 0
	}
	elapsed, ok := addSeconds(now, -c.StartTime)
	if !ok {
		elapsed = math.MaxInt64
	}
	return int((elapsed / c.CycleLength) % int64(len(c.Members)))
}

// CurrentBorrower returns the member holding the borrowing right at now.
func (c *Circle) CurrentBorrower(now int64) string {
	if c == nil || len(c.Members) == 0 {
		return ""
	}
	return c.Members[c.TurnIndex(now)]
}

// NextTurnAt returns the timestamp at which the current turn ends, saturating
// at math.MaxInt64.
func (c *Circle) NextTurnAt(now int64) int64 {
	if c == nil || c.CycleLength <= 0 {
		return 0
	}
	if now < c.StartTime {
		if next, ok := addSeconds(c.StartTime, c.CycleLength); ok {
			return next
		}
		return math.MaxInt64
	}
	elapsed, ok := addSeconds(now, -c.StartTime)
	if !ok {
		return math.MaxInt64
	}
	cycles := elapsed/c.CycleLength + 1
	if cycles > math.MaxInt64/c.CycleLength {
		return math.MaxInt64
	}
	next, ok := addSeconds(c.StartTime, cycles*c.CycleLength)
	if !ok {
		return math.MaxInt64
	}
	return next
}

// Overdue reports whether the loan is past its due time at now.
func (l *Loan) Overdue(now int64) bool {
	return l != nil && now > l.DueTime
}
