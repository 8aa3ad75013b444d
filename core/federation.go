package core

import (
	"context"
	"fmt"
	"sync"
)

// FederationAgreement is the shared record two federations establish
// before either will forward a peer's requests through this node's
// gateway.
type FederationAgreement struct {
	LocalFederation string
	PeerFederation  string
	MaxTransfer     Decimal // ledger transfers above this are refused
	SharedPrefix    string  // object key prefix the peer may read
}

// Gateway is a federation gateway: it
// authenticates a peer federation against an established agreement, then
// forwards only the constrained subset of operations the agreement and
// both federations' own Access-Control/Quota policies allow — reads on
// shared objects, and ledger transfers within the agreed limit.
type Gateway struct {
	mu         sync.RWMutex
	agreements map[string]FederationAgreement // keyed by PeerFederation

	storage *Storage
	ledger  *Ledger
}

// NewGateway wires a federation gateway against the Storage and Ledger
// cores it forwards constrained requests into.
func NewGateway(storage *Storage, ledger *Ledger) *Gateway {
	return &Gateway{agreements: make(map[string]FederationAgreement), storage: storage, ledger: ledger}
}

// Establish records (or replaces) the agreement with a peer federation.
func (g *Gateway) Establish(a FederationAgreement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agreements[a.PeerFederation] = a
}

func (g *Gateway) agreementWith(peerFederation string) (FederationAgreement, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.agreements[peerFederation]
	return a, ok
}

// ForwardRead implements the gateway's constrained read path: a caller
// from peerFederation may read a shared object if an agreement exists and
// key falls under its SharedPrefix, subject to local Storage's own
// access-rule/quota evaluation for that caller.
func (g *Gateway) ForwardRead(ctx context.Context, peerFederation string, caller DID, federation, key string) ([]byte, *ObjectVersion, error) {
	agreement, ok := g.agreementWith(peerFederation)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no federation agreement with %s", ErrUnauthorized, peerFederation)
	}
	if !hasPrefix(key, agreement.SharedPrefix) {
		return nil, nil, fmt.Errorf("%w: %s is outside the shared prefix for %s", ErrUnauthorized, key, peerFederation)
	}
	return g.storage.Get(ctx, federation, key, caller, "", nil)
}

// ForwardTransfer implements the gateway's constrained ledger path: a
// cross-federation transfer is forwarded only if it does not exceed the
// agreement's MaxTransfer.
func (g *Gateway) ForwardTransfer(peerFederation string, from, to AccountID, amount Decimal, memo string) (*Transaction, error) {
	agreement, ok := g.agreementWith(peerFederation)
	if !ok {
		return nil, fmt.Errorf("%w: no federation agreement with %s", ErrUnauthorized, peerFederation)
	}
	if amount.Cmp(agreement.MaxTransfer) > 0 {
		return nil, fmt.Errorf("%w: transfer exceeds agreed cross-federation limit with %s", ErrCreditLimitExceeded, peerFederation)
	}
	return g.ledger.Transfer(from, to, amount, memo)
}

func hasPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	if len(key) < len(prefix) {
		return false
	}
	return key[:len(prefix)] == prefix
}
