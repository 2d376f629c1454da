package lending

import "math/big"

// AccountLedger tracks per-user deposit balances and the pool supply. The
// supply always equals the sum of user balances.
type AccountLedger struct {
	state engineState
}

// Deposit credits amount to the user's balance and the pool supply.
func (l *AccountLedger) Deposit(addr string, amount *big.Int) (*User, *Market, error) {
	if l == nil || l.state == nil {
		return nil, nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, opError(ActionDeposit, addr, ErrValidation, "amount must be positive")
	}
	market, err := l.state.GetMarket()
	if err != nil {
		return nil, nil, wrapOp(ActionDeposit, addr, err)
	}
	user, err := l.ensureUser(addr)
	if err != nil {
		return nil, nil, wrapOp(ActionDeposit, addr, err)
	}

	user.Deposits = new(big.Int).Add(user.Deposits, amount)
	user.TotalDeposited = new(big.Int).Add(user.TotalDeposited, amount)
	market.TotalSupply = new(big.Int).Add(market.TotalSupply, amount)

	if err := l.state.PutUser(user); err != nil {
		return nil, nil, wrapOp(ActionDeposit, addr, err)
	}
	if err := l.state.PutMarket(market); err != nil {
		return nil, nil, wrapOp(ActionDeposit, addr, err)
	}
	return user, market, nil
}

// Withdraw debits amount from the user's balance and the pool supply. Funds
// that are lent out or written off cannot be withdrawn.
func (l *AccountLedger) Withdraw(addr string, amount *big.Int) (*User, *Market, error) {
	if l == nil || l.state == nil {
		return nil, nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, opError(ActionWithdraw, addr, ErrValidation, "amount must be positive")
	}
	user, ok, err := l.state.GetUser(addr)
	if err != nil {
		return nil, nil, wrapOp(ActionWithdraw, addr, err)
	}
	if !ok || user.Deposits.Cmp(amount) < 0 {
		balance := big.NewInt(0)
		if ok {
			balance = user.Deposits
		}
		return nil, nil, opError(ActionWithdraw, addr, ErrInsufficientBalance, "requested %s, balance %s", amount, balance)
	}
	market, err := l.state.GetMarket()
	if err != nil {
		return nil, nil, wrapOp(ActionWithdraw, addr, err)
	}
	if free := availableLiquidity(market); free.Cmp(amount) < 0 {
		return nil, nil, opError(ActionWithdraw, addr, ErrInsufficientLiquidity, "requested %s, available %s", amount, free)
	}

	user.Deposits = new(big.Int).Sub(user.Deposits, amount)
	user.TotalWithdrawn = new(big.Int).Add(user.TotalWithdrawn, amount)
	market.TotalSupply = new(big.Int).Sub(market.TotalSupply, amount)

	if err := l.state.PutUser(user); err != nil {
		return nil, nil, wrapOp(ActionWithdraw, addr, err)
	}
	if err := l.state.PutMarket(market); err != nil {
		return nil, nil, wrapOp(ActionWithdraw, addr, err)
	}
	return user, market, nil
}

// Balance returns the user's current deposit balance, zero for unknown users.
func (l *AccountLedger) Balance(addr string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	user, ok, err := l.state.GetUser(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return cloneBigInt(user.Deposits), nil
}

func (l *AccountLedger) ensureUser(addr string) (*User, error) {
	user, ok, err := l.state.GetUser(addr)
	if err != nil {
		return nil, err
	}
	if !ok || user == nil {
		return newUser(addr), nil
	}
	return user, nil
}
