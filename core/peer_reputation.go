package core

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ReputationEvent enumerates the peer scoring events.
type ReputationEvent string

const (
	EventConnectionEstablished ReputationEvent = "ConnectionEstablished"
	EventConnectionLost        ReputationEvent = "ConnectionLost"
	EventMessageSuccess        ReputationEvent = "MessageSuccess"
	EventMessageFailure        ReputationEvent = "MessageFailure"
	EventInvalidMessage        ReputationEvent = "InvalidMessage"
	EventVerifiedMessage       ReputationEvent = "VerifiedMessage"
	EventDiscoveryHelp         ReputationEvent = "DiscoveryHelp"
	EventFastResponse          ReputationEvent = "FastResponse"
	EventSlowResponse          ReputationEvent = "SlowResponse"
	EventExplicitBan           ReputationEvent = "ExplicitBan"
	EventQueueOverflow         ReputationEvent = "QueueOverflow"
)

// defaultDeltas are the default per-event score adjustments.
var defaultDeltas = map[ReputationEvent]int{
	EventConnectionEstablished: 10,
	EventConnectionLost:        -5,
	EventMessageSuccess:        5,
	EventMessageFailure:        -10,
	EventInvalidMessage:        -20,
	EventVerifiedMessage:       15,
	EventDiscoveryHelp:         5,
	EventFastResponse:          1,
	EventSlowResponse:          -2,
	EventExplicitBan:           -100,
	EventQueueOverflow:         -10,
}

// ReputationConfig tunes bounds, decay, and the ban threshold.
type ReputationConfig struct {
	Min           int
	Max           int
	BanThreshold  int
	DecayFactor   float64 // score *= (1 - DecayFactor) every DecayInterval
	DecayInterval time.Duration
	FastMs        int64
	SlowMs        int64
	Deltas        map[ReputationEvent]int // overrides defaultDeltas per key present
	CheckpointDir string
}

// DefaultReputationConfig returns the stock bounds, decay, and ban
// threshold.
func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{
		Min: -1000, Max: 1000, BanThreshold: -100,
		DecayFactor: 0.05, DecayInterval: time.Hour,
		FastMs: 200, SlowMs: 2000,
	}
}

func (c ReputationConfig) delta(ev ReputationEvent) int {
	if d, ok := c.Deltas[ev]; ok {
		return d
	}
	return defaultDeltas[ev]
}

// Peer is a known remote node in the overlay.
type Peer struct {
	ID          NodeID   `json:"id"`
	Addresses   []string `json:"addresses"`
	Score       int      `json:"score"`
	Banned      bool     `json:"banned"`
	ExplicitBan bool     `json:"explicit_ban"`
	LastSeen    int64    `json:"last_seen"`
}

// PeerTable owns all peer records and applies
// reputation events under a single lock, matching the fixed lock-domain
// order Reputation → Names → Identity → Storage → Ledger.
type PeerTable struct {
	mu       sync.RWMutex
	cfg      ReputationConfig
	peers    map[NodeID]*Peer
	limiters map[NodeID]*rate.Limiter
	log      *logrus.Logger
}

func NewPeerTable(cfg ReputationConfig) *PeerTable {
	return &PeerTable{
		cfg:      cfg,
		peers:    make(map[NodeID]*Peer),
		limiters: make(map[NodeID]*rate.Limiter),
		log:      logrus.StandardLogger(),
	}
}

// defaultInboundRate bounds how fast one peer may push messages into the
// scheduler before the table itself starts shedding them, independent of
// and ahead of the scheduler's own capacity-based eviction: the queue
// discipline governs ordering once admitted, this governs admission.
const defaultInboundRate = 200 // messages/sec, burst 2x

// Allow reports whether a message from id may be admitted right now,
// under a per-peer token bucket. Peers seen for the first time get a
// fresh bucket lazily.
func (t *PeerTable) Allow(id NodeID) bool {
	t.mu.Lock()
	lim, ok := t.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(defaultInboundRate), defaultInboundRate*2)
		t.limiters[id] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}

func (t *PeerTable) getOrCreate(id NodeID) *Peer {
	p, ok := t.peers[id]
	if !ok {
		p = &Peer{ID: id, Score: 0, LastSeen: now()}
		t.peers[id] = p
	}
	return p
}

func (t *PeerTable) clamp(score int) int {
	if score < t.cfg.Min {
		return t.cfg.Min
	}
	if score > t.cfg.Max {
		return t.cfg.Max
	}
	return score
}

// Record applies a reputation event to peer id, clamping to [Min,Max] and
// updating the banned flag per the invariant `banned ⇔ score ≤
// ban_threshold ∨ explicit`.
func (t *PeerTable) Record(id NodeID, ev ReputationEvent) *Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.getOrCreate(id)
	p.Score = t.clamp(p.Score + t.cfg.delta(ev))
	p.LastSeen = now()
	if ev == EventExplicitBan {
		p.ExplicitBan = true
	}
	p.Banned = p.ExplicitBan || p.Score <= t.cfg.BanThreshold
	return p
}

// RecordLatency applies FastResponse/SlowResponse based on elapsed duration
// against the configured thresholds.
func (t *PeerTable) RecordLatency(id NodeID, elapsed time.Duration) *Peer {
	ms := elapsed.Milliseconds()
	if ms < t.cfg.FastMs {
		return t.Record(id, EventFastResponse)
	}
	if ms > t.cfg.SlowMs {
		return t.Record(id, EventSlowResponse)
	}
	t.mu.Lock()
	p := t.getOrCreate(id)
	p.LastSeen = now()
	t.mu.Unlock()
	return p
}

// Unban clears the explicit-ban flag and re-evaluates the banned state.
func (t *PeerTable) Unban(id NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return
	}
	p.ExplicitBan = false
	p.Banned = p.Score <= t.cfg.BanThreshold
}

// IsBanned reports whether outbound connection attempts to id must fail
// with ErrBanned.
func (t *PeerTable) IsBanned(id NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return ok && p.Banned
}

// Get returns a copy of the peer record, if known.
func (t *PeerTable) Get(id NodeID) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Score returns the current clamped score for id, or 0 if unknown.
func (t *PeerTable) Score(id NodeID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.peers[id]; ok {
		return p.Score
	}
	return 0
}

// AddAddress records a known address for a peer, used by name/DHT discovery.
func (t *PeerTable) AddAddress(id NodeID, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.getOrCreate(id)
	for _, a := range p.Addresses {
		if a == addr {
			return
		}
	}
	p.Addresses = append(p.Addresses, addr)
}

// Decay applies the configured decay factor to every peer's score, pulling
// it toward zero. Intended to be
// invoked by a periodic ticker at cfg.DecayInterval.
func (t *PeerTable) Decay() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.peers {
		p.Score = int(float64(p.Score) * (1 - t.cfg.DecayFactor))
		p.Banned = p.ExplicitBan || p.Score <= t.cfg.BanThreshold
	}
}

// Forget removes peers unseen for longer than ttl, unless explicitly
// banned; explicit bans persist until explicit unban.
func (t *PeerTable) Forget(ttl time.Duration) {
	cutoff := now() - int64(ttl.Seconds())
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.peers {
		if !p.ExplicitBan && p.LastSeen < cutoff {
			delete(t.peers, id)
		}
	}
}

// Snapshot returns a copy of every known peer, for checkpointing or tests.
func (t *PeerTable) Snapshot() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// Checkpoint persists the reputation table to disk as JSON.
func (t *PeerTable) Checkpoint() error {
	if t.cfg.CheckpointDir == "" {
		return nil
	}
	if err := os.MkdirAll(t.cfg.CheckpointDir, 0o750); err != nil {
		return fmt.Errorf("%w: mkdir reputation checkpoint dir: %v", ErrInternal, err)
	}
	data, err := json.Marshal(t.Snapshot())
	if err != nil {
		return fmt.Errorf("%w: marshal reputation snapshot: %v", ErrInternal, err)
	}
	path := t.cfg.CheckpointDir + "/peers.json"
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("%w: write reputation checkpoint: %v", ErrInternal, err)
	}
	return nil
}

// LoadCheckpoint restores the peer table from a prior Checkpoint.
func (t *PeerTable) LoadCheckpoint() error {
	if t.cfg.CheckpointDir == "" {
		return nil
	}
	path := t.cfg.CheckpointDir + "/peers.json"
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read reputation checkpoint: %v", ErrInternal, err)
	}
	var peers []Peer
	if err := json.Unmarshal(data, &peers); err != nil {
		return fmt.Errorf("%w: decode reputation checkpoint: %v", ErrInternal, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range peers {
		p := peers[i]
		t.peers[p.ID] = &p
	}
	return nil
}
