package core

import (
	"context"
	"testing"
	"time"
)

// TestOverlayIPv6Deterministic: the overlay
// address is a pure function of the DID and the configured /64 prefix.
func TestOverlayIPv6Deterministic(t *testing.T) {
	did := DID("did:icn:coopA:alice")
	a, err := OverlayIPv6(did, "fd00:1::/64")
	if err != nil {
		t.Fatalf("OverlayIPv6: %v", err)
	}
	b, err := OverlayIPv6(did, "fd00:1::/64")
	if err != nil {
		t.Fatalf("OverlayIPv6: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("derivation is not deterministic: %s vs %s", a, b)
	}
	other, err := OverlayIPv6(DID("did:icn:coopA:bob"), "fd00:1::/64")
	if err != nil {
		t.Fatalf("OverlayIPv6: %v", err)
	}
	if a.Equal(other) {
		t.Fatal("distinct DIDs derived the same overlay address")
	}
}

func TestOverlayIPv6RejectsNonSlash64Prefix(t *testing.T) {
	if _, err := OverlayIPv6(DID("did:icn:coopA:alice"), "fd00:1::/48"); err == nil {
		t.Fatal("expected rejection of a non-/64 prefix")
	}
	if _, err := OverlayIPv6(DID("did:icn:coopA:alice"), "not-a-prefix"); err == nil {
		t.Fatal("expected rejection of a malformed prefix")
	}
}

// TestTunnelConfigureFromServiceEndpoint walks the three configuration steps:
// resolve the peer DID, read its tunnel service endpoint, add the table
// entry with the enumerated key and /128 allowed-ip.
func TestTunnelConfigureFromServiceEndpoint(t *testing.T) {
	im := newTestIdentityManager(t)
	ctx := context.Background()

	peerKP, err := GenerateTunnelKeyPair()
	if err != nil {
		t.Fatalf("GenerateTunnelKeyPair: %v", err)
	}
	peerTunnels := NewTunnelManager(peerKP, "fd00:1::/64", time.Hour)
	endpoint, err := peerTunnels.ServiceEndpointValue(DID("did:icn:coopA:peer"))
	if err != nil {
		t.Fatalf("ServiceEndpointValue: %v", err)
	}

	authKey, _ := GenerateEd25519KeyPair()
	peerDID, _, err := im.CreateDID(ctx, "coopA", "peer", authKey, nil, nil, []ServiceEndpoint{
		{ID: "#tunnel", Type: TunnelServiceType, Endpoint: endpoint},
	})
	if err != nil {
		t.Fatalf("CreateDID: %v", err)
	}

	selfKP, _ := GenerateTunnelKeyPair()
	tm := NewTunnelManager(selfKP, "fd00:1::/64", time.Hour)
	tun, err := tm.Configure(ctx, im, peerDID)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if tun.PeerPublicKey != peerKP.Public {
		t.Fatal("configured tunnel does not carry the peer's published public key")
	}
	want, _ := OverlayIPv6(peerDID, "fd00:1::/64")
	if !tun.PeerOverlayIPv6.Equal(want) {
		t.Fatalf("tunnel overlay address = %s, want %s", tun.PeerOverlayIPv6, want)
	}
	if tun.allowedIP() != want.String()+"/128" {
		t.Fatalf("allowed-ip = %s, want %s/128", tun.allowedIP(), want)
	}
}

func TestTunnelConfigureFailsWithoutEndpoint(t *testing.T) {
	im := newTestIdentityManager(t)
	ctx := context.Background()
	authKey, _ := GenerateEd25519KeyPair()
	peerDID, _, err := im.CreateDID(ctx, "coopA", "bare", authKey, nil, nil, nil)
	if err != nil {
		t.Fatalf("CreateDID: %v", err)
	}
	selfKP, _ := GenerateTunnelKeyPair()
	tm := NewTunnelManager(selfKP, "fd00:1::/64", time.Hour)
	if _, err := tm.Configure(ctx, im, peerDID); err == nil {
		t.Fatal("expected NotFound for a peer with no tunnel service endpoint")
	}
}

func TestReapIdleRemovesStaleTunnels(t *testing.T) {
	selfKP, _ := GenerateTunnelKeyPair()
	tm := NewTunnelManager(selfKP, "fd00:1::/64", time.Second)
	ip, _ := OverlayIPv6(DID("did:icn:coopA:peer"), "fd00:1::/64")
	tm.peers[DID("did:icn:coopA:peer")] = &Tunnel{
		PeerDID: DID("did:icn:coopA:peer"), PeerOverlayIPv6: ip,
		LastHandshake: now() - 10,
	}
	removed := tm.ReapIdle()
	if len(removed) != 1 {
		t.Fatalf("reaped %d tunnels, want 1", len(removed))
	}
	if _, ok := tm.Get(DID("did:icn:coopA:peer")); ok {
		t.Fatal("idle tunnel still present after reap")
	}
}
