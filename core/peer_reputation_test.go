package core

import (
	"testing"
	"time"

	"icn-node/internal/testutil"
)

func TestReputationEventDeltasAndClamp(t *testing.T) {
	cfg := DefaultReputationConfig()
	table := NewPeerTable(cfg)

	p := table.Record("p1", EventConnectionEstablished)
	if p.Score != 10 {
		t.Fatalf("score after ConnectionEstablished = %d, want 10", p.Score)
	}
	p = table.Record("p1", EventVerifiedMessage)
	if p.Score != 25 {
		t.Fatalf("score after VerifiedMessage = %d, want 25", p.Score)
	}
	p = table.Record("p1", EventMessageFailure)
	if p.Score != 15 {
		t.Fatalf("score after MessageFailure = %d, want 15", p.Score)
	}
}

// TestBanThresholdBlocksOutboundAttempts:
// banned(p) ⇒ no outbound connection attempt to p succeeds. Six
// InvalidMessage events (-20 each, -120 in total) from a fresh peer cross
// the default ban threshold of -100.
func TestBanThresholdBlocksOutboundAttempts(t *testing.T) {
	table := NewPeerTable(DefaultReputationConfig())
	for i := 0; i < 6; i++ {
		table.Record("bad-peer", EventInvalidMessage)
	}
	if !table.IsBanned("bad-peer") {
		t.Fatal("expected bad-peer banned after repeated InvalidMessage events")
	}
}

func TestExplicitBanPersistsUntilUnban(t *testing.T) {
	table := NewPeerTable(DefaultReputationConfig())
	table.Record("p1", EventConnectionEstablished)
	table.Record("p1", EventExplicitBan)
	if !table.IsBanned("p1") {
		t.Fatal("expected p1 banned after ExplicitBan")
	}
	table.Record("p1", EventConnectionEstablished) // positive events alone never lift an explicit ban
	if !table.IsBanned("p1") {
		t.Fatal("explicit ban must persist across subsequent positive events")
	}
	table.Unban("p1")
	// score (-80) is already above BanThreshold (-100), so clearing the
	// explicit flag alone lifts the ban.
	if table.IsBanned("p1") {
		t.Fatal("expected p1 unbanned once the explicit flag is cleared and score is above threshold")
	}
}

func TestScoreClampedToConfiguredBounds(t *testing.T) {
	cfg := DefaultReputationConfig()
	cfg.Min, cfg.Max = -50, 50
	table := NewPeerTable(cfg)
	for i := 0; i < 10; i++ {
		table.Record("p1", EventConnectionEstablished)
	}
	if score := table.Score("p1"); score != 50 {
		t.Fatalf("clamped score = %d, want 50", score)
	}
}

// TestCheckpointRoundTrip persists the reputation table to disk and
// restores it into a fresh table.
func TestCheckpointRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()
	dir, err := sb.Dir("peers")
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}

	cfg := DefaultReputationConfig()
	cfg.CheckpointDir = dir
	table := NewPeerTable(cfg)
	table.Record("p1", EventConnectionEstablished)
	table.Record("p2", EventExplicitBan)
	if err := table.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	restored := NewPeerTable(cfg)
	if err := restored.LoadCheckpoint(); err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if score := restored.Score("p1"); score != 10 {
		t.Fatalf("restored p1 score = %d, want 10", score)
	}
	if !restored.IsBanned("p2") {
		t.Fatal("explicit ban must survive a checkpoint round trip")
	}
}

func TestForgetRemovesStalePeers(t *testing.T) {
	table := NewPeerTable(DefaultReputationConfig())
	table.Record("p1", EventConnectionEstablished)
	table.Forget(-time.Hour) // negative TTL: cutoff is in the future, every peer looks stale
	if _, ok := table.Get("p1"); ok {
		t.Fatal("expected p1 forgotten")
	}
}
