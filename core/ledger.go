package core

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// walEntry is one write-ahead-log record: a flat log of
// account/credit-line/transaction events, replayed in order on open.
type walEntry struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

const (
	walAccountOpen    = "account_open"
	walCreditLineOpen = "credit_line_open"
	walTransaction    = "transaction"
)

type walAccountOpenData struct {
	ID          AccountID `json:"id"`
	DID         DID       `json:"did"`
	Federation  string    `json:"federation"`
	Denom       string    `json:"denom"`
	CreditLimit Decimal   `json:"credit_limit"`
}

type walCreditLineOpenData struct {
	From  AccountID `json:"from"`
	To    AccountID `json:"to"`
	Limit Decimal   `json:"limit"`
}

// LedgerConfig is defined in config.go; this file implements the engine it configures.

// Ledger is the Mutual-Credit Ledger Core's top-level handle, owning the
// account book, the bilateral credit-line graph, the
// confidential-transaction commitment ledger, and on-disk persistence.
type Ledger struct {
	cfg          LedgerConfig
	accounts     *AccountBook
	creditLines  *CreditLineBook
	confidential *ConfidentialLedger

	walMu            sync.Mutex
	walFile          *os.File
	snapshotInterval time.Duration
	lastSnapshot     time.Time

	txMu sync.Mutex
	txs  []*Transaction

	log *logrus.Logger
}

// OpenLedger creates or resumes a ledger rooted at cfg.DataDir, replaying
// `ledger.wal` over the last `ledger.snap`.
func OpenLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: mkdir ledger data dir: %v", ErrInternal, err)
	}
	l := &Ledger{
		cfg:          cfg,
		accounts:     NewAccountBook(),
		creditLines:  NewCreditLineBook(),
		confidential: NewConfidentialLedger(),
		log:          logrus.StandardLogger(),
	}
	if cfg.SnapshotInterval > 0 {
		l.snapshotInterval = cfg.SnapshotInterval
	} else {
		l.snapshotInterval = time.Hour
	}

	if err := l.loadSnapshot(); err != nil {
		return nil, err
	}

	walPath := filepath.Join(cfg.DataDir, "ledger.wal")
	wal, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open ledger wal: %v", ErrInternal, err)
	}
	l.walFile = wal

	scanner := bufio.NewScanner(wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e walEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			wal.Close()
			return nil, fmt.Errorf("%w: ledger wal unmarshal: %v", ErrInternal, err)
		}
		if err := l.replay(&e); err != nil {
			wal.Close()
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		wal.Close()
		return nil, fmt.Errorf("%w: ledger wal scan: %v", ErrInternal, err)
	}
	l.lastSnapshot = time.Now()
	return l, nil
}

func (l *Ledger) replay(e *walEntry) error {
	switch e.Kind {
	case walAccountOpen:
		var d walAccountOpenData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return fmt.Errorf("%w: decode account_open: %v", ErrInternal, err)
		}
		if _, err := l.accounts.Open(d.ID, d.DID, d.Federation, d.Denom, d.CreditLimit); err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
		return nil
	case walCreditLineOpen:
		var d walCreditLineOpenData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return fmt.Errorf("%w: decode credit_line_open: %v", ErrInternal, err)
		}
		_, err := l.creditLines.Open(d.From, d.To, d.Limit)
		return err
	case walTransaction:
		var tx Transaction
		if err := json.Unmarshal(e.Data, &tx); err != nil {
			return fmt.Errorf("%w: decode transaction: %v", ErrInternal, err)
		}
		if len(tx.Path) > 1 {
			for i := 0; i < len(tx.Path)-1; i++ {
				if err := l.creditLines.reserve(tx.Path[i], tx.Path[i+1], tx.Amount); err != nil {
					return err
				}
			}
			l.txs = append(l.txs, &tx)
			return nil
		}
		return l.applyTransfer(&tx, false)
	default:
		return fmt.Errorf("%w: unknown wal entry kind %q", ErrInternal, e.Kind)
	}
}

func (l *Ledger) appendWAL(kind string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: marshal wal entry: %v", ErrInternal, err)
	}
	entry, err := json.Marshal(walEntry{Kind: kind, Data: raw})
	if err != nil {
		return fmt.Errorf("%w: marshal wal envelope: %v", ErrInternal, err)
	}
	l.walMu.Lock()
	defer l.walMu.Unlock()
	if _, err := l.walFile.Write(append(entry, '\n')); err != nil {
		return fmt.Errorf("%w: write ledger wal: %v", ErrInternal, err)
	}
	return nil
}

// ledgerSnapshot is the full-state JSON document written by Snapshot and
// read back by loadSnapshot.
type ledgerSnapshot struct {
	Accounts    []Account    `json:"accounts"`
	CreditLines []CreditLine `json:"credit_lines"`
}

func (l *Ledger) snapshotPath() string { return filepath.Join(l.cfg.DataDir, "ledger.snap") }

func (l *Ledger) loadSnapshot() error {
	data, err := os.ReadFile(l.snapshotPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read ledger snapshot: %v", ErrInternal, err)
	}
	var snap ledgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: decode ledger snapshot: %v", ErrInternal, err)
	}
	l.accounts.Restore(snap.Accounts)
	l.creditLines.Restore(snap.CreditLines)
	return nil
}

// Snapshot writes full ledger state to disk and truncates the WAL.
func (l *Ledger) Snapshot() error {
	snap := ledgerSnapshot{Accounts: l.accounts.Snapshot(), CreditLines: l.creditLines.Snapshot()}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal ledger snapshot: %v", ErrInternal, err)
	}
	if err := os.WriteFile(l.snapshotPath(), data, 0o640); err != nil {
		return fmt.Errorf("%w: write ledger snapshot: %v", ErrInternal, err)
	}
	l.walMu.Lock()
	defer l.walMu.Unlock()
	if err := l.walFile.Close(); err != nil {
		return fmt.Errorf("%w: close ledger wal for truncation: %v", ErrInternal, err)
	}
	wal, err := os.Create(filepath.Join(l.cfg.DataDir, "ledger.wal"))
	if err != nil {
		return fmt.Errorf("%w: recreate ledger wal: %v", ErrInternal, err)
	}
	l.walFile = wal
	l.lastSnapshot = time.Now()
	l.log.Info("ledger snapshot saved, wal truncated")
	return nil
}

// MaybeSnapshot snapshots if the configured interval has elapsed; intended
// to be called from the node's periodic maintenance loop.
func (l *Ledger) MaybeSnapshot() {
	if time.Since(l.lastSnapshot) >= l.snapshotInterval {
		if err := l.Snapshot(); err != nil {
			l.log.WithError(err).Warn("ledger snapshot failed")
		}
	}
}

// Archive gzips the current snapshot into archiveDir so pruned history
// stays recoverable.
func (l *Ledger) Archive(archiveDir string) error {
	if archiveDir == "" {
		return nil
	}
	if err := os.MkdirAll(archiveDir, 0o750); err != nil {
		return fmt.Errorf("%w: mkdir ledger archive dir: %v", ErrInternal, err)
	}
	data, err := os.ReadFile(l.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read ledger snapshot for archive: %v", ErrInternal, err)
	}
	path := filepath.Join(archiveDir, fmt.Sprintf("ledger-%d.snap.gz", now()))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create ledger archive: %v", ErrInternal, err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("%w: write ledger archive: %v", ErrInternal, err)
	}
	return nil
}

// OpenAccount creates a new account and durably records the event.
func (l *Ledger) OpenAccount(id AccountID, did DID, federation, denom string, creditLimit Decimal) (*Account, error) {
	a, err := l.accounts.Open(id, did, federation, denom, creditLimit)
	if err != nil {
		return nil, err
	}
	if err := l.appendWAL(walAccountOpen, walAccountOpenData{ID: id, DID: did, Federation: federation, Denom: denom, CreditLimit: creditLimit}); err != nil {
		return nil, err
	}
	l.log.WithField("account", id).Info("account opened")
	return a, nil
}

// OpenCreditLine establishes a directed credit line and durably records it.
func (l *Ledger) OpenCreditLine(from, to AccountID, limit Decimal) (*CreditLine, error) {
	cl, err := l.creditLines.Open(from, to, limit)
	if err != nil {
		return nil, err
	}
	if err := l.appendWAL(walCreditLineOpen, walCreditLineOpenData{From: from, To: to, Limit: limit}); err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("credit line opened")
	return cl, nil
}

// Account returns a copy of an account record.
func (l *Ledger) Account(id AccountID) (Account, bool) { return l.accounts.Get(id) }

// CreditLine returns a copy of a directed credit line.
func (l *Ledger) CreditLine(from, to AccountID) (CreditLine, bool) {
	return l.creditLines.Get(from, to)
}

// Close flushes a final snapshot and closes the WAL file.
func (l *Ledger) Close() error {
	if err := l.Snapshot(); err != nil {
		return err
	}
	l.walMu.Lock()
	defer l.walMu.Unlock()
	return l.walFile.Close()
}
