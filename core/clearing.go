package core

// ClearingResult reports one reduced cycle.
type ClearingResult struct {
	Cycle  []AccountID
	Amount Decimal
}

// Clear runs circular clearing: repeatedly finds a
// cycle of bilateral debt in the credit-line graph and nets it down by the
// cycle's minimum edge amount. Clearing never touches an Account's
// Balance — only CreditLine.Used, the bilateral exposure the cycle is
// built from — so it cannot violate any credit limit (it can only reduce
// usage) and cannot move any ledger balance.
func (l *Ledger) Clear() []ClearingResult {
	var results []ClearingResult
	for {
		cycle, amount, ok := l.findDebtCycle()
		if !ok {
			return results
		}
		for i := 0; i < len(cycle)-1; i++ {
			l.creditLines.release(cycle[i], cycle[i+1], amount)
		}
		results = append(results, ClearingResult{Cycle: cycle, Amount: amount})
		l.log.WithField("hops", len(cycle)-1).WithField("amount", amount.String()).Info("clearing cycle netted")
	}
}

// findDebtCycle runs a depth-first search over edges with nonzero usage
// looking for any directed cycle, returning the cycle (closed, first ==
// last) and its minimum edge amount.
func (l *Ledger) findDebtCycle() ([]AccountID, Decimal, bool) {
	edges := l.creditLines.edges()
	adj := make(map[AccountID][]CreditLine)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e)
	}

	visited := make(map[AccountID]int) // 0 unvisited, 1 in-stack, 2 done
	var stack []AccountID

	var dfs func(node AccountID) ([]AccountID, Decimal, bool)
	dfs = func(node AccountID) ([]AccountID, Decimal, bool) {
		visited[node] = 1
		stack = append(stack, node)
		for _, e := range adj[node] {
			switch visited[e.To] {
			case 0:
				// The cycle minimum is fully computed at the back-edge;
				// lead-in edges on the DFS path are not part of the cycle
				// and must not fold into it.
				if cycle, amt, ok := dfs(e.To); ok {
					return cycle, amt, true
				}
			case 1:
				// Found a back-edge into the stack: extract the cycle.
				start := -1
				for i, n := range stack {
					if n == e.To {
						start = i
						break
					}
				}
				cycle := append(append([]AccountID{}, stack[start:]...), e.To)
				min := e.Used
				for i := 0; i < len(cycle)-1; i++ {
					if line, ok := l.creditLines.Get(cycle[i], cycle[i+1]); ok {
						min = min.Min(line.Used)
					}
				}
				return cycle, min, true
			}
		}
		stack = stack[:len(stack)-1]
		visited[node] = 2
		return nil, ZeroDecimal(), false
	}

	for node := range adj {
		if visited[node] == 0 {
			if cycle, amt, ok := dfs(node); ok {
				return cycle, amt, true
			}
		}
	}
	return nil, ZeroDecimal(), false
}
