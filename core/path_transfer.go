package core

import "fmt"

// FindPath is the path-transfer search: breadth-first
// over the bilateral credit-line graph, bounded by maxHops, using each
// hop's remaining credit purely as a feasibility filter rather than an
// optimization target.
func (l *Ledger) FindPath(from, to AccountID, amount Decimal, maxHops int) ([]AccountID, error) {
	if from == to {
		return nil, fmt.Errorf("%w: path endpoints must differ", ErrInvalidInput)
	}
	type frame struct {
		node AccountID
		path []AccountID
	}
	visited := map[AccountID]bool{from: true}
	queue := []frame{{node: from, path: []AccountID{from}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path)-1 >= maxHops {
			continue
		}
		for _, next := range l.creditLines.Neighbors(cur.node) {
			if visited[next] {
				continue
			}
			if l.creditLines.RemainingCredit(cur.node, next).Cmp(amount) < 0 {
				continue
			}
			path := append(append([]AccountID{}, cur.path...), next)
			if next == to {
				return path, nil
			}
			visited[next] = true
			queue = append(queue, frame{node: next, path: path})
		}
	}
	return nil, fmt.Errorf("%w: no route from %s to %s within %d hops", ErrPathNotFound, from, to, maxHops)
}

// PathTransfer routes amount from -> to through an intermediate chain when
// no sufficient direct credit line exists, applying every hop atomically:
// either the entire chain succeeds or none of it does.
func (l *Ledger) PathTransfer(from, to AccountID, amount Decimal, memo string, maxHops int) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: transfer amount must be positive", ErrInvalidInput)
	}
	path, err := l.FindPath(from, to, amount, maxHops)
	if err != nil {
		return nil, err
	}

	reserved := make([]int, 0, len(path)-1)
	for i := 0; i < len(path)-1; i++ {
		if err := l.creditLines.reserve(path[i], path[i+1], amount); err != nil {
			for _, j := range reserved {
				l.creditLines.release(path[j], path[j+1], amount)
			}
			return nil, err
		}
		reserved = append(reserved, i)
	}

	tx := &Transaction{
		ID: newTransactionID(), From: from, To: to, Amount: amount, Memo: memo,
		Status: TxPending, CreatedAt: now(), Path: path,
	}
	if err := l.appendWAL(walTransaction, tx); err != nil {
		for _, j := range reserved {
			l.creditLines.release(path[j], path[j+1], amount)
		}
		return nil, err
	}
	tx.Status = TxApplied
	l.txMu.Lock()
	l.txs = append(l.txs, tx)
	l.txMu.Unlock()
	l.log.WithField("id", tx.ID).WithField("hops", len(path)-1).Info("path transfer applied")
	return tx, nil
}
