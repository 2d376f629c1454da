package lending

import (
	"math/big"
	"strconv"
)

// CircleRegistry creates circles and answers rotation queries.
type CircleRegistry struct {
	state      engineState
	minMembers int
	maxMembers int
	maxCycle   int64
}

// CircleParams describes a circle to be created. Members must already be
// normalised addresses.
type CircleParams struct {
	Creator     string
	Members     []string
	PoolAmount  *big.Int
	CycleLength int64
}

// Create registers a new circle starting at now. Identifiers increase
// monotonically from 1 and the rotation follows the member order supplied.
func (r *CircleRegistry) Create(params CircleParams, now int64) (*Circle, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if err := r.validate(params); err != nil {
		return nil, err
	}
	market, err := r.state.GetMarket()
	if err != nil {
		return nil, wrapOp(ActionCreateCircle, "", err)
	}
	market.NextCircleID++
	circle := &Circle{
		ID:            market.NextCircleID,
		Creator:       params.Creator,
		Members:       append([]string(nil), params.Members...),
		PoolAmount:    new(big.Int).Set(params.PoolAmount),
		CycleLength:   params.CycleLength,
		StartTime:     now,
		IsActive:      true,
		TotalBorrowed: big.NewInt(0),
		Outstanding:   big.NewInt(0),
	}
	if err := r.state.PutCircle(circle); err != nil {
		return nil, wrapOp(ActionCreateCircle, circleKey(circle.ID), err)
	}
	if err := r.state.PutMarket(market); err != nil {
		return nil, wrapOp(ActionCreateCircle, circleKey(circle.ID), err)
	}
	return circle, nil
}

func (r *CircleRegistry) validate(params CircleParams) error {
	count := len(params.Members)
	minMembers, maxMembers := r.minMembers, r.maxMembers
	if minMembers == 0 {
		minMembers = defaultMinMembers
	}
	if maxMembers == 0 {
		maxMembers = defaultMaxMembers
	}
	if count < minMembers || count > maxMembers {
		return opError(ActionCreateCircle, "", ErrValidation, "circle needs %d to %d members, got %d", minMembers, maxMembers, count)
	}
	seen := make(map[string]struct{}, count)
	for _, member := range params.Members {
		if member == "" {
			return opError(ActionCreateCircle, "", ErrValidation, "empty member address")
		}
		if _, dup := seen[member]; dup {
			return opError(ActionCreateCircle, member, ErrValidation, "duplicate member")
		}
		seen[member] = struct{}{}
	}
	if params.PoolAmount == nil || params.PoolAmount.Sign() <= 0 {
		return opError(ActionCreateCircle, "", ErrValidation, "pool amount must be positive")
	}
	maxCycle := r.maxCycle
	if maxCycle == 0 {
		maxCycle = defaultMaxCycleLength
	}
	if params.CycleLength <= 0 || params.CycleLength > maxCycle {
		return opError(ActionCreateCircle, "", ErrValidation, "cycle length must be within (0, %d], got %d", maxCycle, params.CycleLength)
	}
	return nil
}

// Get loads a circle or fails with ErrNotFound.
func (r *CircleRegistry) Get(op string, id uint64) (*Circle, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	circle, ok, err := r.state.GetCircle(id)
	if err != nil {
		return nil, wrapOp(op, circleKey(id), err)
	}
	if !ok || circle == nil {
		return nil, opError(op, circleKey(id), ErrNotFound, "unknown circle")
	}
	return circle, nil
}

// CurrentBorrower returns the member whose turn it is at now.
func (r *CircleRegistry) CurrentBorrower(id uint64, now int64) (string, error) {
	circle, err := r.Get("current_borrower", id)
	if err != nil {
		return "", err
	}
	return circle.CurrentBorrower(now), nil
}

// IsMember reports whether addr belongs to circle id.
func (r *CircleRegistry) IsMember(id uint64, addr string) (bool, error) {
	circle, err := r.Get("is_member", id)
	if err != nil {
		return false, err
	}
	return circle.IsMember(addr), nil
}

// authorizeTurn enforces that caller is a member and holds the current turn.
func authorizeTurn(circle *Circle, caller string, now int64) error {
	entity := circleKey(circle.ID)
	if !circle.IsActive {
		return opError(ActionBorrow, entity, ErrValidation, "circle inactive")
	}
	if !circle.IsMember(caller) {
		return opError(ActionBorrow, entity, ErrAuthorization, "%s is not a member", caller)
	}
	if current := circle.CurrentBorrower(now); current != caller {
		return opError(ActionBorrow, entity, ErrAuthorization, "not your turn: turn %s belongs to %s until %s",
			strconv.Itoa(circle.TurnIndex(now)), current, strconv.FormatInt(circle.NextTurnAt(now), 10))
	}
	return nil
}
