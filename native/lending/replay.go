package lending

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"circlefi/core/types"
)

// Restore rebuilds state by re-executing a committed event stream in sequence
// order. It must run on an engine that has not processed any operation yet.
// Pause switches are ignored, and nothing is emitted or appended to the event
// log. Any divergence between the replayed outcome and the recorded payload
// aborts the restore.
func (e *Engine) Restore(evts []*types.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	for _, evt := range evts {
		if err := e.replayLocked(evt); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) replayLocked(evt *types.Event) error {
	if evt == nil {
		return fmt.Errorf("replay: nil event")
	}
	seq, ok := evt.Sequence()
	if !ok {
		return fmt.Errorf("replay %s: missing sequence", evt.Type)
	}
	tx := e.state.begin()
	market, err := tx.GetMarket()
	if err != nil {
		return err
	}
	if seq != market.Sequence+1 {
		return fmt.Errorf("%w: expected %d, got %d", errReplayOrder, market.Sequence+1, seq)
	}
	if err := e.replayEvent(tx, evt); err != nil {
		return fmt.Errorf("replay seq %d (%s): %w", seq, evt.Type, err)
	}
	market, err = tx.GetMarket()
	if err != nil {
		return err
	}
	market.Sequence = seq
	if err := tx.PutMarket(market); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (e *Engine) replayEvent(tx *txState, evt *types.Event) error {
	switch evt.Type {
	case EventTypeDeposited, EventTypeWithdrawn:
		amount, err := attrAmount(evt, "amount")
		if err != nil {
			return err
		}
		user := evt.Attr("user")
		ledger := e.ledger(tx)
		var u *User
		if evt.Type == EventTypeDeposited {
			u, _, err = ledger.Deposit(user, amount)
		} else {
			u, _, err = ledger.Withdraw(user, amount)
		}
		if err != nil {
			return err
		}
		return expectAttr(evt, "balance", u.Deposits.String())

	case EventTypeCircleCreated:
		pool, err := attrAmount(evt, "poolAmount")
		if err != nil {
			return err
		}
		cycle, err := attrInt(evt, "cycleLength")
		if err != nil {
			return err
		}
		start, err := attrInt(evt, "startTime")
		if err != nil {
			return err
		}
		var members []string
		if raw := evt.Attr("members"); raw != "" {
			members = strings.Split(raw, ",")
		}
		circle, err := e.registry(tx).Create(CircleParams{
			Creator:     evt.Attr("creator"),
			Members:     members,
			PoolAmount:  pool,
			CycleLength: cycle,
		}, start)
		if err != nil {
			return err
		}
		return expectAttr(evt, "circleId", formatUint(circle.ID))

	case EventTypeLoanCreated:
		circleID, err := attrUint(evt, "circleId")
		if err != nil {
			return err
		}
		amount, err := attrAmount(evt, "amount")
		if err != nil {
			return err
		}
		value, err := attrAmount(evt, "collateralValue")
		if err != nil {
			return err
		}
		start, err := attrInt(evt, "startTime")
		if err != nil {
			return err
		}
		loan, _, err := e.loans(tx).Borrow(BorrowRequest{
			CircleID:   circleID,
			Caller:     evt.Attr("borrower"),
			Amount:     amount,
			Collateral: Valuation{CollateralRef: evt.Attr("collateral"), Value: value},
			Now:        start,
		})
		if err != nil {
			return err
		}
		if err := expectAttr(evt, "loanId", formatUint(loan.ID)); err != nil {
			return err
		}
		return expectAttr(evt, "rateBps", formatUint(loan.InterestRateBps))

	case EventTypeLoanRepaid:
		loanID, err := attrUint(evt, "loanId")
		if err != nil {
			return err
		}
		at, err := attrInt(evt, "timestamp")
		if err != nil {
			return err
		}
		res, err := e.loans(tx).Repay(loanID, evt.Attr("payer"), at)
		if err != nil {
			return err
		}
		return expectAttr(evt, "repaidAmount", res.Loan.RepaidAmount.String())

	case EventTypeLoanLiquidated:
		loanID, err := attrUint(evt, "loanId")
		if err != nil {
			return err
		}
		at, err := attrInt(evt, "timestamp")
		if err != nil {
			return err
		}
		_, market, err := e.loans(tx).Liquidate(loanID, evt.Attr("liquidator"), at)
		if err != nil {
			return err
		}
		return expectAttr(evt, "writtenOff", market.WrittenOff.String())
	}
	return fmt.Errorf("unknown event type %q", evt.Type)
}

func expectAttr(evt *types.Event, key, got string) error {
	if want := evt.Attr(key); want != got {
		return fmt.Errorf("%s diverged: recorded %q, replayed %q", key, want, got)
	}
	return nil
}

func attrAmount(evt *types.Event, key string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(evt.Attr(key), 10)
	if !ok {
		return nil, fmt.Errorf("attribute %s: invalid amount %q", key, evt.Attr(key))
	}
	return v, nil
}

func attrInt(evt *types.Event, key string) (int64, error) {
	v, err := strconv.ParseInt(evt.Attr(key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", key, err)
	}
	return v, nil
}

func attrUint(evt *types.Event, key string) (uint64, error) {
	v, err := strconv.ParseUint(evt.Attr(key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", key, err)
	}
	return v, nil
}
