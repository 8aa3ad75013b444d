package core

import (
	"fmt"

	"github.com/google/uuid"
)

// TransactionStatus tracks a transfer's lifecycle.
type TransactionStatus string

const (
	TxPending  TransactionStatus = "pending"
	TxApplied  TransactionStatus = "applied"
	TxRejected TransactionStatus = "rejected"
)

// Transaction is a recorded ledger transfer, direct or path-routed.
type Transaction struct {
	ID        string            `json:"id"`
	From      AccountID         `json:"from"`
	To        AccountID         `json:"to"`
	Amount    Decimal           `json:"amount"`
	Memo      string            `json:"memo"`
	Status    TransactionStatus `json:"status"`
	CreatedAt int64             `json:"created_at"`
	Path      []AccountID       `json:"path,omitempty"`
}

func newTransactionID() string { return uuid.NewString() }

// Transfer is the direct-transfer path:
// validate, lock both accounts in lexicographic order, check the source
// account's credit limit, apply atomically, release. The invariant
// `Σ balances` is unchanged by construction since every application both
// debits and credits exactly `amount`.
func (l *Ledger) Transfer(from, to AccountID, amount Decimal, memo string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: transfer amount must be positive", ErrInvalidInput)
	}
	tx := &Transaction{
		ID: newTransactionID(), From: from, To: to, Amount: amount, Memo: memo,
		Status: TxPending, CreatedAt: now(),
	}
	if err := l.applyTransfer(tx, true); err != nil {
		return nil, err
	}
	return tx, nil
}

// applyTransfer performs the locked balance mutation. When record is true
// the applied transaction is appended to the WAL and the in-memory log;
// record is false during WAL replay, where the mutation must repeat
// exactly but must not re-append itself.
func (l *Ledger) applyTransfer(tx *Transaction, record bool) error {
	err := l.accounts.withPair(tx.From, tx.To, func(fromAcc, toAcc *Account) error {
		if fromAcc.Status != AccountActive || toAcc.Status != AccountActive {
			return fmt.Errorf("%w: account closed", ErrInvalidInput)
		}
		floor := fromAcc.CreditLimit.Neg()
		projected := fromAcc.Balance.Sub(tx.Amount)
		if projected.Cmp(floor) < 0 {
			return ErrCreditLimitExceeded
		}
		fromAcc.Balance = projected
		toAcc.Balance = toAcc.Balance.Add(tx.Amount)
		return nil
	})
	if err != nil {
		tx.Status = TxRejected
		l.log.WithField("from", tx.From).WithField("to", tx.To).WithError(err).Warn("transfer rejected")
		return err
	}
	tx.Status = TxApplied
	if record {
		if err := l.appendWAL(walTransaction, tx); err != nil {
			return err
		}
	}
	l.txMu.Lock()
	l.txs = append(l.txs, tx)
	l.txMu.Unlock()
	l.log.WithField("id", tx.ID).WithField("from", tx.From).WithField("to", tx.To).Info("transfer applied")
	return nil
}

// Transactions returns every recorded transaction, newest last.
func (l *Ledger) Transactions() []Transaction {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	out := make([]Transaction, len(l.txs))
	for i, tx := range l.txs {
		out[i] = *tx
	}
	return out
}
