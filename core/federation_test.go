package core

import (
	"context"
	"testing"
	"time"
)

func newTestGateway(t *testing.T) (*Gateway, *Ledger, *IdentityManager, *PolicyBook) {
	t.Helper()
	storage, identity, _, policies := newTestStorage(t)
	ledger := newTestLedger(t)
	return NewGateway(storage, ledger), ledger, identity, policies
}

// TestGatewayForwardTransferWithinAgreedLimit covers the gateway's
// constrained ledger path: transfers at or under the agreement's limit forward,
// anything above is refused before touching the ledger.
func TestGatewayForwardTransferWithinAgreedLimit(t *testing.T) {
	gw, ledger, _, _ := newTestGateway(t)
	ledger.OpenAccount("a", DID("did:icn:coopA:a"), "fedA", "USD", NewDecimalFromInt64(100))
	ledger.OpenAccount("b", DID("did:icn:coopB:b"), "fedB", "USD", NewDecimalFromInt64(100))

	gw.Establish(FederationAgreement{
		LocalFederation: "fedA", PeerFederation: "fedB",
		MaxTransfer: NewDecimalFromInt64(50),
	})

	if _, err := gw.ForwardTransfer("fedB", "a", "b", NewDecimalFromInt64(40), "cross"); err != nil {
		t.Fatalf("ForwardTransfer within limit: %v", err)
	}
	if _, err := gw.ForwardTransfer("fedB", "a", "b", NewDecimalFromInt64(60), "cross"); err == nil {
		t.Fatal("expected refusal above the agreed cross-federation limit")
	}
	a, _ := ledger.Account("a")
	if a.Balance.Cmp(NewDecimalFromInt64(-40)) != 0 {
		t.Fatalf("a.Balance = %s, want -40 (refused transfer must not apply)", a.Balance)
	}
}

func TestGatewayRefusesUnknownFederation(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)
	if _, err := gw.ForwardTransfer("fedX", "a", "b", NewDecimalFromInt64(1), ""); err == nil {
		t.Fatal("expected Unauthorized with no federation agreement")
	}
}

// TestGatewayForwardReadHonorsSharedPrefix covers the read path: only keys
// under the agreement's shared prefix are reachable, and the local
// federation's own access rules still apply to the caller.
func TestGatewayForwardReadHonorsSharedPrefix(t *testing.T) {
	gw, _, identity, policies := newTestGateway(t)
	ctx := context.Background()

	key, _ := GenerateEd25519KeyPair()
	caller, _, err := identity.CreateDID(ctx, "coopB", "reader", key, nil, nil, nil)
	if err != nil {
		t.Fatalf("CreateDID: %v", err)
	}
	policies.ApplyAccessControl("fedA", []AccessRule{
		{PathPattern: "shared*", Permissions: []Permission{PermRead, PermWrite}},
	})
	if _, err := gw.storage.Put(ctx, "fedA", "shared-report", []byte("ok"), caller, false, nil); err != nil {
		t.Fatalf("seed object: %v", err)
	}

	gw.Establish(FederationAgreement{
		LocalFederation: "fedA", PeerFederation: "fedB",
		MaxTransfer: ZeroDecimal(), SharedPrefix: "shared",
	})

	data, _, err := gw.ForwardRead(ctx, "fedB", caller, "fedA", "shared-report")
	if err != nil {
		t.Fatalf("ForwardRead: %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("data = %q, want ok", data)
	}

	if _, _, err := gw.ForwardRead(ctx, "fedB", caller, "fedA", "private-doc"); err == nil {
		t.Fatal("expected refusal outside the shared prefix")
	}
}

// TestRelayReserveEnforcesCircuitCap: a server-role relay admits circuits
// up to its cap, then returns RelayFull.
func TestRelayReserveEnforcesCircuitCap(t *testing.T) {
	m := NewRelayManager(RelayServer, 2, time.Minute)
	if _, err := m.Reserve("c1", "p1"); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}
	if _, err := m.Reserve("c2", "p2"); err != nil {
		t.Fatalf("second Reserve: %v", err)
	}
	if _, err := m.Reserve("c3", "p3"); err != ErrRelayFull {
		t.Fatalf("err = %v, want ErrRelayFull", err)
	}
	active := m.ActiveCircuits()
	if len(active) != 2 {
		t.Fatalf("active circuits = %d, want 2", len(active))
	}
	m.Close(active[0].ID)
	if _, err := m.Reserve("c3", "p3"); err != nil {
		t.Fatalf("Reserve after Close: %v", err)
	}
}
