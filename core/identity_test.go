package core

import (
	"context"
	"testing"
	"time"
)

func newTestIdentityManager(t *testing.T) *IdentityManager {
	t.Helper()
	im, _ := newTestIdentityManagerAt(t, t.TempDir())
	return im
}

func newTestIdentityManagerAt(t *testing.T, dir string) (*IdentityManager, *DIDStore) {
	t.Helper()
	store, err := NewDIDStore(dir, 64, time.Minute)
	if err != nil {
		t.Fatalf("NewDIDStore: %v", err)
	}
	dht := NewKademlia(NodeID("test-node"))
	return NewIdentityManager(IdentityConfig{FallbackEnabled: true}, store, dht, newMemFallback()), store
}

func TestBuildDIDGrammar(t *testing.T) {
	cases := []struct {
		coop, entity string
		wantErr      bool
	}{
		{"coopA", "alice", false},
		{"coop_A", "alice-1", false},
		{"1coop", "alice", true},
		{"coopA", "", true},
		{"coop A", "alice", true},
	}
	for _, c := range cases {
		_, err := BuildDID(c.coop, c.entity)
		if (err != nil) != c.wantErr {
			t.Errorf("BuildDID(%q,%q) err=%v wantErr=%v", c.coop, c.entity, err, c.wantErr)
		}
	}
}

func TestCreateAndResolveDID(t *testing.T) {
	dir := t.TempDir()
	im, store := newTestIdentityManagerAt(t, dir)
	ctx := context.Background()

	key, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair: %v", err)
	}
	did, doc, err := im.CreateDID(ctx, "coopA", "alice", key, nil, nil, nil)
	if err != nil {
		t.Fatalf("CreateDID: %v", err)
	}
	if doc.ID != did {
		t.Fatalf("doc.ID = %q, want %q", doc.ID, did)
	}

	// Publish warms the cache, so an immediate resolution hits layer one.
	resolved, source, err := im.Resolve(ctx, did)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.ID != did {
		t.Fatalf("resolved.ID = %q, want %q", resolved.ID, did)
	}
	if source != SourceCache {
		t.Fatalf("source = %q, want Cache", source)
	}

	// A reopened store over the same directory starts with a cold cache and
	// must fall through to the persistent layer.
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	im2, _ := newTestIdentityManagerAt(t, dir)
	_, source2, err := im2.Resolve(ctx, did)
	if err != nil {
		t.Fatalf("Resolve after reopen: %v", err)
	}
	if source2 != SourceLocal {
		t.Fatalf("source after reopen = %q, want Local", source2)
	}

	if _, _, err := im.CreateDID(ctx, "coopA", "alice", key, nil, nil, nil); err == nil {
		t.Fatal("expected Conflict creating duplicate did")
	}
}

func TestResolveUnknownDID(t *testing.T) {
	im := newTestIdentityManager(t)
	_, _, err := im.Resolve(context.Background(), DID("did:icn:coopA:ghost"))
	if err == nil {
		t.Fatal("expected NotFound")
	}
}

func TestUpdateDIDRequiresController(t *testing.T) {
	im := newTestIdentityManager(t)
	ctx := context.Background()
	key, _ := GenerateEd25519KeyPair()
	did, doc, err := im.CreateDID(ctx, "coopA", "alice", key, nil, nil, nil)
	if err != nil {
		t.Fatalf("CreateDID: %v", err)
	}

	agreementKey, _ := GenerateEd25519KeyPair()
	updated := *doc
	updated.VerificationMethods = append(updated.VerificationMethods, VerificationMethod{
		ID: "#keys-2", Type: agreementKey.Type, PublicKey: agreementKey.Public,
	})
	updated.KeyAgreement = []string{"#keys-2"}

	if _, err := im.Update(ctx, DID("did:icn:coopA:mallory"), &updated); err == nil {
		t.Fatal("expected Unauthorized for non-controller update")
	}

	result, err := im.Update(ctx, did, &updated)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if result.Version != doc.Version+1 {
		t.Fatalf("version = %d, want %d", result.Version, doc.Version+1)
	}

	resolved, _, err := im.Resolve(ctx, did)
	if err != nil {
		t.Fatalf("Resolve after update: %v", err)
	}
	if len(resolved.KeyAgreement) != 1 {
		t.Fatalf("expected key agreement method to persist")
	}
}

func TestUpdateRejectsRemovingAllAuthMethods(t *testing.T) {
	im := newTestIdentityManager(t)
	ctx := context.Background()
	key, _ := GenerateEd25519KeyPair()
	did, doc, err := im.CreateDID(ctx, "coopA", "alice", key, nil, nil, nil)
	if err != nil {
		t.Fatalf("CreateDID: %v", err)
	}
	stripped := *doc
	stripped.Authentication = nil
	if _, err := im.Update(ctx, did, &stripped); err == nil {
		t.Fatal("expected rejection of update removing all authentication methods")
	}
}
