package core

import (
	"fmt"
	"sync"
)

// AccountID identifies a ledger account.
type AccountID string

// AccountStatus tracks the Created → active → (optionally) closed lifecycle.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountClosed AccountStatus = "closed"
)

// Account holds a mutual-credit balance: a signed decimal that may go
// negative down to -CreditLimit, never further.
type Account struct {
	ID          AccountID
	DID         DID
	Federation  string
	Denom       string
	Balance     Decimal
	CreditLimit Decimal // non-negative
	Status      AccountStatus
	CreatedAt   int64
}

// AccountBook owns every account record. The book's own mutex guards only
// the directory (the accounts map and each account's lock entry); balance
// mutations are guarded by a per-account mutex so that two transfers
// touching disjoint accounts never block each other, while a transfer that
// touches a shared account always serializes through that account's lock,
// taken in lexicographic id order.
type AccountBook struct {
	mu       sync.Mutex
	accounts map[AccountID]*Account
	locks    map[AccountID]*sync.Mutex
}

func NewAccountBook() *AccountBook {
	return &AccountBook{
		accounts: make(map[AccountID]*Account),
		locks:    make(map[AccountID]*sync.Mutex),
	}
}

// Open creates a new active account with a zero starting balance.
func (b *AccountBook) Open(id AccountID, did DID, federation, denom string, creditLimit Decimal) (*Account, error) {
	if creditLimit.IsNegative() {
		return nil, fmt.Errorf("%w: credit limit must be non-negative", ErrInvalidInput)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.accounts[id]; exists {
		return nil, fmt.Errorf("%w: account %s already exists", ErrConflict, id)
	}
	a := &Account{
		ID: id, DID: did, Federation: federation, Denom: denom,
		Balance: ZeroDecimal(), CreditLimit: creditLimit,
		Status: AccountActive, CreatedAt: now(),
	}
	b.accounts[id] = a
	b.locks[id] = &sync.Mutex{}
	return a, nil
}

// Close marks an account closed; it rejects further transfers but its
// history remains.
func (b *AccountBook) Close(id AccountID) error {
	lock, err := b.accountLock(id)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()
	b.mu.Lock()
	a, ok := b.accounts[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	a.Status = AccountClosed
	return nil
}

// Get returns a copy of the account record.
func (b *AccountBook) Get(id AccountID) (Account, bool) {
	lock, err := b.accountLock(id)
	if err != nil {
		return Account{}, false
	}
	lock.Lock()
	defer lock.Unlock()
	b.mu.Lock()
	a, ok := b.accounts[id]
	b.mu.Unlock()
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Snapshot returns every account, for persistence. It locks the full
// directory rather than each account individually, since it must observe a
// single consistent cut across every account anyway.
func (b *AccountBook) Snapshot() []Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Account, 0, len(b.accounts))
	for _, a := range b.accounts {
		out = append(out, *a)
	}
	return out
}

// Restore replaces the book's contents, used when replaying a snapshot.
func (b *AccountBook) Restore(accounts []Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts = make(map[AccountID]*Account, len(accounts))
	b.locks = make(map[AccountID]*sync.Mutex, len(accounts))
	for i := range accounts {
		a := accounts[i]
		b.accounts[a.ID] = &a
		b.locks[a.ID] = &sync.Mutex{}
	}
}

// accountLock returns the per-account mutex for id, or ErrNotFound if no
// such account has been opened. Looking the lock itself up under the
// directory mutex keeps lock-map access race-free without forcing every
// balance read through book-wide serialization.
func (b *AccountBook) accountLock(id AccountID) (*sync.Mutex, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.locks[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	return lock, nil
}

// withPair acquires both accounts' locks in lexicographic id order, never
// the reverse, so two transfers moving value in opposite directions
// between the same pair of accounts cannot deadlock.
// A self-transfer (from == to) takes the single lock once.
func (b *AccountBook) withPair(from, to AccountID, fn func(fromAcc, toAcc *Account) error) error {
	fromLock, err := b.accountLock(from)
	if err != nil {
		return err
	}
	if from == to {
		fromLock.Lock()
		defer fromLock.Unlock()
		b.mu.Lock()
		a := b.accounts[from]
		b.mu.Unlock()
		return fn(a, a)
	}
	toLock, err := b.accountLock(to)
	if err != nil {
		return err
	}

	firstLock, secondLock := fromLock, toLock
	if to < from {
		firstLock, secondLock = secondLock, firstLock
	}
	firstLock.Lock()
	defer firstLock.Unlock()
	secondLock.Lock()
	defer secondLock.Unlock()

	b.mu.Lock()
	fromAcc, ok := b.accounts[from]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: account %s", ErrNotFound, from)
	}
	toAcc, ok := b.accounts[to]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, to)
	}
	return fn(fromAcc, toAcc)
}
