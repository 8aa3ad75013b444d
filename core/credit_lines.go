package core

import (
	"fmt"
	"sync"
)

// creditLineKey is a directed (from, to) pair; at most one active line
// exists per ordered pair.
type creditLineKey struct {
	From, To AccountID
}

// CreditLine is a directional bilateral credit relationship: how much From
// may owe To before path-routed transfers and clearing refuse further
// exposure along this edge.
type CreditLine struct {
	From, To AccountID
	Limit    Decimal
	Used     Decimal // current amount From owes To along this specific edge
}

func (c CreditLine) remaining() Decimal { return c.Limit.Sub(c.Used) }

// CreditLineBook owns the bilateral credit-line graph used by path-routed
// transfers (as a feasibility filter, not an optimization target) and by
// circular clearing.
type CreditLineBook struct {
	mu    sync.Mutex
	lines map[creditLineKey]*CreditLine
}

func NewCreditLineBook() *CreditLineBook {
	return &CreditLineBook{lines: make(map[creditLineKey]*CreditLine)}
}

// Open establishes or re-opens a directed credit line from -> to with the
// given limit.
func (b *CreditLineBook) Open(from, to AccountID, limit Decimal) (*CreditLine, error) {
	if limit.IsNegative() {
		return nil, fmt.Errorf("%w: credit line limit must be non-negative", ErrInvalidInput)
	}
	if from == to {
		return nil, fmt.Errorf("%w: credit line endpoints must differ", ErrInvalidInput)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := creditLineKey{from, to}
	line, ok := b.lines[key]
	if !ok {
		line = &CreditLine{From: from, To: to, Limit: limit, Used: ZeroDecimal()}
		b.lines[key] = line
		return line, nil
	}
	line.Limit = limit
	return line, nil
}

// Close removes a directed credit line. Any outstanding usage is
// forfeited from the graph's perspective; callers should clear or settle
// before closing in a real deployment.
func (b *CreditLineBook) Close(from, to AccountID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lines, creditLineKey{from, to})
}

// Get returns a copy of the directed credit line, if one exists.
func (b *CreditLineBook) Get(from, to AccountID) (CreditLine, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lines[creditLineKey{from, to}]
	if !ok {
		return CreditLine{}, false
	}
	return *l, true
}

// RemainingCredit returns the unused capacity from -> to, or zero if no
// line exists.
func (b *CreditLineBook) RemainingCredit(from, to AccountID) Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lines[creditLineKey{from, to}]
	if !ok {
		return ZeroDecimal()
	}
	return l.remaining()
}

// Neighbors returns every account to which `from` holds a directed credit
// line, used by path transfer's breadth-first search.
func (b *CreditLineBook) Neighbors(from AccountID) []AccountID {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []AccountID
	for k := range b.lines {
		if k.From == from {
			out = append(out, k.To)
		}
	}
	return out
}

// reserve increases Used on the from->to edge by amount, failing if it
// would exceed Limit. Caller must already hold no other lock on this book.
func (b *CreditLineBook) reserve(from, to AccountID, amount Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lines[creditLineKey{from, to}]
	if !ok {
		return fmt.Errorf("%w: no credit line %s -> %s", ErrPathNotFound, from, to)
	}
	if l.remaining().Cmp(amount) < 0 {
		return ErrCreditLimitExceeded
	}
	l.Used = l.Used.Add(amount)
	return nil
}

// release reduces Used on the from->to edge by amount, clamped at zero;
// used to roll back a partially-applied path transfer.
func (b *CreditLineBook) release(from, to AccountID, amount Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lines[creditLineKey{from, to}]
	if !ok {
		return
	}
	l.Used = l.Used.Sub(amount)
	if l.Used.IsNegative() {
		l.Used = ZeroDecimal()
	}
}

// Snapshot returns every credit line, for persistence.
func (b *CreditLineBook) Snapshot() []CreditLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CreditLine, 0, len(b.lines))
	for _, l := range b.lines {
		out = append(out, *l)
	}
	return out
}

// Restore replaces the book's contents, used when replaying a snapshot.
func (b *CreditLineBook) Restore(lines []CreditLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = make(map[creditLineKey]*CreditLine, len(lines))
	for i := range lines {
		l := lines[i]
		b.lines[creditLineKey{l.From, l.To}] = &l
	}
}

// edges returns a snapshot of every (from, to, used) edge with nonzero
// usage, the graph circular clearing walks for cycles.
func (b *CreditLineBook) edges() []CreditLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []CreditLine
	for _, l := range b.lines {
		if l.Used.IsPositive() {
			out = append(out, *l)
		}
	}
	return out
}
