package lending

import (
	"sort"
	"strconv"
	"sync"
)

// engineState is the store the ledger, registry and loan manager operate on.
// Get methods return copies; changes become visible only through Put.
type engineState interface {
	GetMarket() (*Market, error)
	PutMarket(market *Market) error
	GetUser(addr string) (*User, bool, error)
	PutUser(user *User) error
	GetCircle(id uint64) (*Circle, bool, error)
	PutCircle(circle *Circle) error
	GetLoan(id uint64) (*Loan, bool, error)
	PutLoan(loan *Loan) error
}

// MemoryState is the owned arena of users, circles and loans backing an
// engine. Mutations go through transactions obtained from begin.
type MemoryState struct {
	mu      sync.RWMutex
	market  *Market
	users   map[string]*User
	circles map[uint64]*Circle
	loans   map[uint64]*Loan
}

// NewMemoryState returns an empty store.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		market:  newMarket(),
		users:   make(map[string]*User),
		circles: make(map[uint64]*Circle),
		loans:   make(map[uint64]*Loan),
	}
}

func (s *MemoryState) GetMarket() (*Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market.Clone(), nil
}

func (s *MemoryState) PutMarket(market *Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market = market.Clone()
	return nil
}

func (s *MemoryState) GetUser(addr string) (*User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[addr]
	return user.Clone(), ok, nil
}

func (s *MemoryState) PutUser(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Address] = user.Clone()
	return nil
}

func (s *MemoryState) GetCircle(id uint64) (*Circle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	circle, ok := s.circles[id]
	return circle.Clone(), ok, nil
}

func (s *MemoryState) PutCircle(circle *Circle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circles[circle.ID] = circle.Clone()
	return nil
}

func (s *MemoryState) GetLoan(id uint64) (*Loan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loan, ok := s.loans[id]
	return loan.Clone(), ok, nil
}

func (s *MemoryState) PutLoan(loan *Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[loan.ID] = loan.Clone()
	return nil
}

// Users returns copies of every user ordered by address.
func (s *MemoryState) Users() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// LoansByBorrower returns copies of the borrower's loans ordered by id.
func (s *MemoryState) LoansByBorrower(addr string) []*Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Loan, 0)
	for _, loan := range s.loans {
		if loan.Borrower == addr {
			out = append(out, loan.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Loans returns copies of every loan ordered by id.
func (s *MemoryState) Loans() []*Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Loan, 0, len(s.loans))
	for _, loan := range s.loans {
		out = append(out, loan.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryState) begin() *txState {
	return &txState{
		parent:  s,
		users:   make(map[string]*User),
		circles: make(map[uint64]*Circle),
		loans:   make(map[uint64]*Loan),
	}
}

// txState buffers writes over a MemoryState. Nothing reaches the parent until
// commit, so a failed operation is discarded by dropping the txState.
type txState struct {
	parent  *MemoryState
	market  *Market
	users   map[string]*User
	circles map[uint64]*Circle
	loans   map[uint64]*Loan
}

func (t *txState) GetMarket() (*Market, error) {
	if t.market != nil {
		return t.market.Clone(), nil
	}
	return t.parent.GetMarket()
}

func (t *txState) PutMarket(market *Market) error {
	t.market = market.Clone()
	return nil
}

func (t *txState) GetUser(addr string) (*User, bool, error) {
	if user, ok := t.users[addr]; ok {
		return user.Clone(), true, nil
	}
	return t.parent.GetUser(addr)
}

func (t *txState) PutUser(user *User) error {
	t.users[user.Address] = user.Clone()
	return nil
}

func (t *txState) GetCircle(id uint64) (*Circle, bool, error) {
	if circle, ok := t.circles[id]; ok {
		return circle.Clone(), true, nil
	}
	return t.parent.GetCircle(id)
}

func (t *txState) PutCircle(circle *Circle) error {
	t.circles[circle.ID] = circle.Clone()
	return nil
}

func (t *txState) GetLoan(id uint64) (*Loan, bool, error) {
	if loan, ok := t.loans[id]; ok {
		return loan.Clone(), true, nil
	}
	return t.parent.GetLoan(id)
}

func (t *txState) PutLoan(loan *Loan) error {
	t.loans[loan.ID] = loan.Clone()
	return nil
}

func (t *txState) commit() {
	p := t.parent
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.market != nil {
		p.market = t.market
	}
	for addr, user := range t.users {
		p.users[addr] = user
	}
	for id, circle := range t.circles {
		p.circles[id] = circle
	}
	for id, loan := range t.loans {
		p.loans[id] = loan
	}
}

func circleKey(id uint64) string { return "circle " + strconv.FormatUint(id, 10) }

func loanKey(id uint64) string { return "loan " + strconv.FormatUint(id, 10) }
