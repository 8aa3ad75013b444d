package core

import "testing"

// TestReputationBasedOrdering: with ReputationBased mode, a message from a
// high-reputation peer dequeues before one from a low-reputation peer
// enqueued at the same instant.
func TestReputationBasedOrdering(t *testing.T) {
	reputation := NewPeerTable(DefaultReputationConfig())
	for i := 0; i < 8; i++ {
		reputation.Record("p1", EventConnectionEstablished) // +10 each, reaches 80
	}
	reputation.Record("p2", EventMessageFailure) // score -10

	s := NewScheduler(SchedulerReputationBased, 10, 1, 50, reputation)
	s.Enqueue(InboundMessage{Type: MsgGossip, Sender: "p2"})
	s.Enqueue(InboundMessage{Type: MsgGossip, Sender: "p1"})

	first, ok := s.TryDequeue()
	if !ok || first.Sender != "p1" {
		t.Fatalf("first dequeue sender = %q, want p1", first.Sender)
	}
	second, ok := s.TryDequeue()
	if !ok || second.Sender != "p2" {
		t.Fatalf("second dequeue sender = %q, want p2", second.Sender)
	}
}

// TestQueueOverflowDropsLowestAndPenalizes: with the queue exactly at
// capacity the next insert drops the lowest-priority message and charges
// its sender the QueueOverflow reputation decrement.
func TestQueueOverflowDropsLowestAndPenalizes(t *testing.T) {
	reputation := NewPeerTable(DefaultReputationConfig())
	var droppedSender NodeID
	s := NewScheduler(SchedulerTypeBased, 2, 1, 50, reputation)
	s.OnOverflow(func(sender NodeID) {
		droppedSender = sender
		reputation.Record(sender, EventQueueOverflow)
	})

	s.Enqueue(InboundMessage{Type: MsgGossip, Sender: "low"})    // weight 20
	s.Enqueue(InboundMessage{Type: MsgLedgerTx, Sender: "high"}) // weight 70
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	s.Enqueue(InboundMessage{Type: MsgHello, Sender: "mid"}) // weight 50, triggers eviction of "low"

	if droppedSender != "low" {
		t.Fatalf("dropped sender = %q, want low", droppedSender)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() after overflow = %d, want 2", s.Len())
	}
	if score := reputation.Score("low"); score != -10 {
		t.Fatalf("low's score after overflow = %d, want -10", score)
	}
}

// TestFIFOPreservesInsertionOrder covers the FIFO scheduling mode.
func TestFIFOPreservesInsertionOrder(t *testing.T) {
	s := NewScheduler(SchedulerFIFO, 10, 0, 50, nil)
	s.Enqueue(InboundMessage{Type: MsgGossip, Sender: "a"})
	s.Enqueue(InboundMessage{Type: MsgLedgerTx, Sender: "b"})
	s.Enqueue(InboundMessage{Type: MsgGossip, Sender: "c"})

	for _, want := range []NodeID{"a", "b", "c"} {
		msg, ok := s.TryDequeue()
		if !ok || msg.Sender != want {
			t.Fatalf("dequeue = %q, want %q", msg.Sender, want)
		}
	}
}

// TestAntiStarvationServesStaleClass ensures a low-weight class queued
// behind a steady stream of higher-weight traffic is still served within
// the configured window.
func TestAntiStarvationServesStaleClass(t *testing.T) {
	s := NewScheduler(SchedulerTypeBased, 1000, 1, 3, nil)
	s.Enqueue(InboundMessage{Type: MsgGossip, Sender: "stuck"}) // weight 20, low
	for i := 0; i < 10; i++ {
		s.Enqueue(InboundMessage{Type: MsgLedgerTx, Sender: "busy"}) // weight 70, high
	}

	servedGossip := false
	for i := 0; i < 4 && !servedGossip; i++ {
		msg, ok := s.TryDequeue()
		if !ok {
			t.Fatal("unexpected empty queue")
		}
		if msg.Type == MsgGossip {
			servedGossip = true
		}
	}
	if !servedGossip {
		t.Fatal("gossip class was not served within the anti-starvation window")
	}
}
