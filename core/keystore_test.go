package core

import (
	"bytes"
	"testing"
)

func TestLoadOrCreateNodeKeyIsStableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrCreateNodeKey(dir, "node-auth.key")
	if err != nil {
		t.Fatalf("first LoadOrCreateNodeKey: %v", err)
	}
	second, err := LoadOrCreateNodeKey(dir, "node-auth.key")
	if err != nil {
		t.Fatalf("second LoadOrCreateNodeKey: %v", err)
	}
	if !bytes.Equal(first.Public, second.Public) || !bytes.Equal(first.Private, second.Private) {
		t.Fatal("reloaded key differs from the generated one")
	}
	if first.Type != KeyTypeEd25519 {
		t.Fatalf("key type = %q, want %q", first.Type, KeyTypeEd25519)
	}

	other, err := LoadOrCreateNodeKey(t.TempDir(), "node-auth.key")
	if err != nil {
		t.Fatalf("LoadOrCreateNodeKey in fresh dir: %v", err)
	}
	if bytes.Equal(first.Private, other.Private) {
		t.Fatal("fresh data dir must generate a distinct key")
	}
}
