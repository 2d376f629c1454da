package lending

import (
	"math/big"
)

// LoanManager opens, repays and liquidates circle loans.
type LoanManager struct {
	state     engineState
	circles   *CircleRegistry
	model     InterestRateModel
	maxLTVBps uint64
}

// BorrowRequest carries the inputs of a borrow after the collateral has been
// appraised outside the transaction.
type BorrowRequest struct {
	CircleID   uint64
	Caller     string
	Amount     *big.Int
	Collateral Valuation
	Now        int64
}

// Borrow opens a loan for the caller when it holds the circle's current turn.
// The rate is priced on utilisation before the loan is added.
func (m *LoanManager) Borrow(req BorrowRequest) (*Loan, *Market, error) {
	if m == nil || m.state == nil || m.circles == nil {
		return nil, nil, errNilState
	}
	entity := circleKey(req.CircleID)
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, nil, opError(ActionBorrow, entity, ErrValidation, "amount must be positive")
	}
	circle, err := m.circles.Get(ActionBorrow, req.CircleID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeTurn(circle, req.Caller, req.Now); err != nil {
		return nil, nil, err
	}
	value := req.Collateral.Value
	if req.Collateral.CollateralRef == "" || value == nil || value.Sign() <= 0 {
		return nil, nil, opError(ActionBorrow, entity, ErrInvalidCollateral, "collateral %q unresolved", req.Collateral.CollateralRef)
	}
	if !withinLTV(req.Amount, value, m.maxLTVBps) {
		return nil, nil, opError(ActionBorrow, entity, ErrInsufficientCollateral,
			"amount %s exceeds %s allowed against %s valued %s", req.Amount, maxLoanForValue(value, m.maxLTVBps), req.Collateral.CollateralRef, value)
	}
	dueTime, ok := addSeconds(req.Now, circle.CycleLength)
	if !ok {
		return nil, nil, opError(ActionBorrow, entity, ErrValidation, "due time overflows: start %d, cycle %d", req.Now, circle.CycleLength)
	}
	market, err := m.state.GetMarket()
	if err != nil {
		return nil, nil, wrapOp(ActionBorrow, entity, err)
	}
	if free := availableLiquidity(market); free.Cmp(req.Amount) < 0 {
		return nil, nil, opError(ActionBorrow, entity, ErrInsufficientLiquidity, "requested %s, available %s", req.Amount, free)
	}

	rateBps := m.model.MarketRateBps(market)

	borrower, ok, err := m.state.GetUser(req.Caller)
	if err != nil {
		return nil, nil, wrapOp(ActionBorrow, entity, err)
	}
	if !ok || borrower == nil {
		borrower = newUser(req.Caller)
	}

	market.NextLoanID++
	loan := &Loan{
		ID:              market.NextLoanID,
		Borrower:        req.Caller,
		CircleID:        circle.ID,
		Amount:          new(big.Int).Set(req.Amount),
		CollateralRef:   req.Collateral.CollateralRef,
		CollateralValue: new(big.Int).Set(value),
		InterestRateBps: rateBps,
		StartTime:       req.Now,
		DueTime:         dueTime,
		IsActive:        true,
		RepaidAmount:    big.NewInt(0),
	}

	borrower.TotalBorrowed = new(big.Int).Add(borrower.TotalBorrowed, req.Amount)
	borrower.ActiveLoans++
	circle.TotalBorrowed = new(big.Int).Add(circle.TotalBorrowed, req.Amount)
	circle.Outstanding = new(big.Int).Add(circle.Outstanding, req.Amount)
	market.TotalBorrowed = new(big.Int).Add(market.TotalBorrowed, req.Amount)

	if err := m.persist(ActionBorrow, loan, borrower, circle, market); err != nil {
		return nil, nil, err
	}
	return loan, market, nil
}

// RepayResult describes a completed repayment.
type RepayResult struct {
	Loan     *Loan
	Interest *big.Int
	Market   *Market
}

// Repay settles an active loan in full: principal returns to lendable
// liquidity and interest accrues to the pool reserves.
func (m *LoanManager) Repay(loanID uint64, payer string, now int64) (*RepayResult, error) {
	if m == nil || m.state == nil || m.circles == nil {
		return nil, errNilState
	}
	loan, err := m.load(ActionRepay, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsActive {
		return nil, opError(ActionRepay, loanKey(loanID), ErrAlreadyInactive, "loan closed at %d", loan.ClosedAt)
	}
	principal, interest := m.Owed(loan, now)

	market, err := m.state.GetMarket()
	if err != nil {
		return nil, wrapOp(ActionRepay, loanKey(loanID), err)
	}
	circle, err := m.circles.Get(ActionRepay, loan.CircleID)
	if err != nil {
		return nil, err
	}
	borrower, ok, err := m.state.GetUser(loan.Borrower)
	if err != nil {
		return nil, wrapOp(ActionRepay, loanKey(loanID), err)
	}
	if !ok || borrower == nil {
		borrower = newUser(loan.Borrower)
	}

	owed := new(big.Int).Add(principal, interest)
	loan.IsActive = false
	loan.RepaidAmount = owed
	loan.RepaidBy = payer
	loan.ClosedAt = now

	if borrower.ActiveLoans > 0 {
		borrower.ActiveLoans--
	}
	borrower.TotalRepaid = new(big.Int).Add(borrower.TotalRepaid, owed)
	circle.Outstanding = subFloor(circle.Outstanding, principal)
	market.TotalBorrowed = subFloor(market.TotalBorrowed, principal)
	market.Reserves = new(big.Int).Add(market.Reserves, interest)

	if err := m.persist(ActionRepay, loan, borrower, circle, market); err != nil {
		return nil, err
	}
	return &RepayResult{Loan: loan, Interest: interest, Market: market}, nil
}

// Liquidate closes an overdue loan on behalf of any caller. The principal is
// written off and the collateral is left to the custodian.
func (m *LoanManager) Liquidate(loanID uint64, liquidator string, now int64) (*Loan, *Market, error) {
	if m == nil || m.state == nil || m.circles == nil {
		return nil, nil, errNilState
	}
	loan, err := m.load(ActionLiquidate, loanID)
	if err != nil {
		return nil, nil, err
	}
	entity := loanKey(loanID)
	if loan.IsLiquidated {
		return nil, nil, opError(ActionLiquidate, entity, ErrAlreadyLiquidated, "liquidated by %s at %d", loan.LiquidatedBy, loan.ClosedAt)
	}
	if !loan.IsActive {
		return nil, nil, opError(ActionLiquidate, entity, ErrAlreadyInactive, "loan repaid at %d", loan.ClosedAt)
	}
	if !loan.Overdue(now) {
		return nil, nil, opError(ActionLiquidate, entity, ErrNotOverdue, "due at %d, now %d", loan.DueTime, now)
	}

	market, err := m.state.GetMarket()
	if err != nil {
		return nil, nil, wrapOp(ActionLiquidate, entity, err)
	}
	circle, err := m.circles.Get(ActionLiquidate, loan.CircleID)
	if err != nil {
		return nil, nil, err
	}
	borrower, ok, err := m.state.GetUser(loan.Borrower)
	if err != nil {
		return nil, nil, wrapOp(ActionLiquidate, entity, err)
	}
	if !ok || borrower == nil {
		borrower = newUser(loan.Borrower)
	}

	loan.IsActive = false
	loan.IsLiquidated = true
	loan.LiquidatedBy = liquidator
	loan.ClosedAt = now

	if borrower.ActiveLoans > 0 {
		borrower.ActiveLoans--
	}
	circle.Outstanding = subFloor(circle.Outstanding, loan.Amount)
	market.TotalBorrowed = subFloor(market.TotalBorrowed, loan.Amount)
	market.WrittenOff = new(big.Int).Add(market.WrittenOff, loan.Amount)

	if err := m.persist(ActionLiquidate, loan, borrower, circle, market); err != nil {
		return nil, nil, err
	}
	return loan, market, nil
}

// Owed returns the principal and the interest accrued on loan up to now at
// the snapshotted rate.
func (m *LoanManager) Owed(loan *Loan, now int64) (*big.Int, *big.Int) {
	if loan == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	principal := cloneBigInt(loan.Amount)
	elapsed := now - loan.StartTime
	return principal, accruedInterest(principal, loan.InterestRateBps, elapsed)
}

func (m *LoanManager) load(op string, id uint64) (*Loan, error) {
	loan, ok, err := m.state.GetLoan(id)
	if err != nil {
		return nil, wrapOp(op, loanKey(id), err)
	}
	if !ok || loan == nil {
		return nil, opError(op, loanKey(id), ErrNotFound, "unknown loan")
	}
	return loan, nil
}

func (m *LoanManager) persist(op string, loan *Loan, borrower *User, circle *Circle, market *Market) error {
	entity := loanKey(loan.ID)
	if err := m.state.PutLoan(loan); err != nil {
		return wrapOp(op, entity, err)
	}
	if err := m.state.PutUser(borrower); err != nil {
		return wrapOp(op, entity, err)
	}
	if err := m.state.PutCircle(circle); err != nil {
		return wrapOp(op, entity, err)
	}
	if err := m.state.PutMarket(market); err != nil {
		return wrapOp(op, entity, err)
	}
	return nil
}

func subFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(cloneBigInt(a), cloneBigInt(b))
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}
