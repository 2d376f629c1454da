package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"circlefi/native/lending"
)

const maxBodyBytes = 1 << 16

type amountRequest struct {
	Amount string `json:"amount"`
}

type balanceResponse struct {
	User    string `json:"user"`
	Balance string `json:"balance"`
}

type createCircleRequest struct {
	Members     []string `json:"members"`
	PoolAmount  string   `json:"poolAmount"`
	CycleLength int64    `json:"cycleLength"`
}

type borrowRequest struct {
	CircleID   uint64 `json:"circleId"`
	Amount     string `json:"amount"`
	Collateral string `json:"collateral"`
}

type userView struct {
	Address        string     `json:"address"`
	Deposits       string     `json:"deposits"`
	TotalDeposited string     `json:"totalDeposited"`
	TotalWithdrawn string     `json:"totalWithdrawn"`
	TotalBorrowed  string     `json:"totalBorrowed"`
	TotalRepaid    string     `json:"totalRepaid"`
	ActiveLoans    uint64     `json:"activeLoans"`
	Loans          []loanView `json:"loans"`
}

type circleView struct {
	ID            uint64   `json:"id"`
	Creator       string   `json:"creator"`
	Members       []string `json:"members"`
	PoolAmount    string   `json:"poolAmount"`
	CycleLength   int64    `json:"cycleLength"`
	StartTime     int64    `json:"startTime"`
	IsActive      bool     `json:"isActive"`
	TotalBorrowed string   `json:"totalBorrowed"`
	Outstanding   string   `json:"outstanding"`
}

type loanView struct {
	ID              uint64 `json:"id"`
	Borrower        string `json:"borrower"`
	CircleID        uint64 `json:"circleId"`
	Amount          string `json:"amount"`
	Collateral      string `json:"collateral"`
	CollateralValue string `json:"collateralValue"`
	InterestRateBps uint64 `json:"interestRateBps"`
	StartTime       int64  `json:"startTime"`
	DueTime         int64  `json:"dueTime"`
	IsActive        bool   `json:"isActive"`
	IsLiquidated    bool   `json:"isLiquidated"`
	RepaidAmount    string `json:"repaidAmount"`
	RepaidBy        string `json:"repaidBy,omitempty"`
	LiquidatedBy    string `json:"liquidatedBy,omitempty"`
	ClosedAt        int64  `json:"closedAt,omitempty"`
}

type statsView struct {
	TotalSupply         string `json:"totalSupply"`
	TotalBorrowed       string `json:"totalBorrowed"`
	WrittenOff          string `json:"writtenOff"`
	Reserves            string `json:"reserves"`
	AvailableLiquidity  string `json:"availableLiquidity"`
	UtilizationRate     string `json:"utilizationRate"`
	CurrentInterestRate string `json:"currentInterestRate"`
	CurrentRateBps      uint64 `json:"currentRateBps"`
	TotalCircles        uint64 `json:"totalCircles"`
	TotalLoans          uint64 `json:"totalLoans"`
	Sequence            uint64 `json:"sequence"`
}

func newLoanView(l *lending.Loan) loanView {
	return loanView{
		ID:              l.ID,
		Borrower:        l.Borrower,
		CircleID:        l.CircleID,
		Amount:          l.Amount.String(),
		Collateral:      l.CollateralRef,
		CollateralValue: l.CollateralValue.String(),
		InterestRateBps: l.InterestRateBps,
		StartTime:       l.StartTime,
		DueTime:         l.DueTime,
		IsActive:        l.IsActive,
		IsLiquidated:    l.IsLiquidated,
		RepaidAmount:    l.RepaidAmount.String(),
		RepaidBy:        l.RepaidBy,
		LiquidatedBy:    l.LiquidatedBy,
		ClosedAt:        l.ClosedAt,
	}
}

func newCircleView(c *lending.Circle) circleView {
	return circleView{
		ID:            c.ID,
		Creator:       c.Creator,
		Members:       c.Members,
		PoolAmount:    c.PoolAmount.String(),
		CycleLength:   c.CycleLength,
		StartTime:     c.StartTime,
		IsActive:      c.IsActive,
		TotalBorrowed: c.TotalBorrowed.String(),
		Outstanding:   c.Outstanding.String(),
	}
}

// parseAmount accepts an unsigned 256-bit decimal.
func parseAmount(raw string) (*big.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", errBadRequest, raw, err)
	}
	return v.ToBig(), nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q", errBadRequest, raw)
	}
	return id, nil
}

// queryTime reads the optional "at" unix timestamp used by time dependent
// queries, defaulting to the server clock.
func (s *Server) queryTime(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("at"))
	if raw == "" {
		return s.now(), nil
	}
	at, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: at %q", errBadRequest, raw)
	}
	return at, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sequence": s.engine.Stats().Sequence})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleLedger(w, r, lending.ActionDeposit, s.engine.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleLedger(w, r, lending.ActionWithdraw, s.engine.Withdraw)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request, op string, apply func(ctx context.Context, user string, amount *big.Int, now int64) (*big.Int, error)) {
	balance, user, err := func() (*big.Int, string, error) {
		caller, err := callerFrom(r.Context())
		if err != nil {
			return nil, "", err
		}
		var req amountRequest
		if err := decode(r, &req); err != nil {
			return nil, "", err
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return nil, "", err
		}
		balance, err := apply(r.Context(), caller, amount, s.now())
		if err != nil {
			return nil, "", err
		}
		user, _ := lending.NormalizeAddress(caller)
		return balance, user, nil
	}()
	s.observe(op, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{User: user, Balance: balance.String()})
}

func (s *Server) handleCreateCircle(w http.ResponseWriter, r *http.Request) {
	circle, err := func() (*lending.Circle, error) {
		caller, err := callerFrom(r.Context())
		if err != nil {
			return nil, err
		}
		var req createCircleRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		pool, err := parseAmount(req.PoolAmount)
		if err != nil {
			return nil, err
		}
		id, err := s.engine.CreateCircle(r.Context(), caller, req.Members, pool, req.CycleLength, s.now())
		if err != nil {
			return nil, err
		}
		return s.engine.GetCircleInfo(id)
	}()
	s.observe(lending.ActionCreateCircle, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCircleView(circle))
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	loan, err := func() (*lending.Loan, error) {
		caller, err := callerFrom(r.Context())
		if err != nil {
			return nil, err
		}
		var req borrowRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return nil, err
		}
		return s.engine.Borrow(r.Context(), caller, req.CircleID, amount, req.Collateral, s.now())
	}()
	s.observe(lending.ActionBorrow, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanView(loan))
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.handleLoanClose(w, r, lending.ActionRepay, s.engine.Repay)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	s.handleLoanClose(w, r, lending.ActionLiquidate, s.engine.Liquidate)
}

func (s *Server) handleLoanClose(w http.ResponseWriter, r *http.Request, op string, apply func(ctx context.Context, caller string, loanID uint64, now int64) (*lending.Loan, error)) {
	loan, err := func() (*lending.Loan, error) {
		caller, err := callerFrom(r.Context())
		if err != nil {
			return nil, err
		}
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return apply(r.Context(), caller, id, s.now())
	}()
	s.observe(op, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	user, err := s.engine.GetUser(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	loans, err := s.engine.LoansByBorrower(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	view := userView{
		Address:        user.Address,
		Deposits:       user.Deposits.String(),
		TotalDeposited: user.TotalDeposited.String(),
		TotalWithdrawn: user.TotalWithdrawn.String(),
		TotalBorrowed:  user.TotalBorrowed.String(),
		TotalRepaid:    user.TotalRepaid.String(),
		ActiveLoans:    user.ActiveLoans,
		Loans:          make([]loanView, 0, len(loans)),
	}
	for _, loan := range loans {
		view.Loans = append(view.Loans, newLoanView(loan))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCircle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	circle, err := s.engine.GetCircleInfo(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCircleView(circle))
}

func (s *Server) handleCurrentBorrower(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	at, err := s.queryTime(r)
	if err != nil {
		writeError(w, err)
		return
	}
	circle, err := s.engine.GetCircleInfo(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"circleId":   id,
		"at":         at,
		"borrower":   circle.CurrentBorrower(at),
		"turn":       circle.TurnIndex(at),
		"turnEndsAt": circle.NextTurnAt(at),
	})
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	loan, err := s.engine.GetLoanInfo(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (s *Server) handleLoanOwed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	at, err := s.queryTime(r)
	if err != nil {
		writeError(w, err)
		return
	}
	principal, interest, err := s.engine.LoanOwed(id, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loanId":    id,
		"at":        at,
		"principal": principal.String(),
		"interest":  interest.String(),
		"total":     new(big.Int).Add(principal, interest).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.Stats()
	writeJSON(w, http.StatusOK, statsView{
		TotalSupply:         stats.TotalSupply.String(),
		TotalBorrowed:       stats.TotalBorrowed.String(),
		WrittenOff:          stats.WrittenOff.String(),
		Reserves:            stats.Reserves.String(),
		AvailableLiquidity:  stats.AvailableLiquidity.String(),
		UtilizationRate:     stats.UtilizationRate.FloatString(4),
		CurrentInterestRate: stats.CurrentInterestRate.FloatString(2),
		CurrentRateBps:      stats.CurrentRateBps,
		TotalCircles:        stats.TotalCircles,
		TotalLoans:          stats.TotalLoans,
		Sequence:            stats.Sequence,
	})
}
