package core

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RelayRole is a node's participation mode in circuit relaying.
type RelayRole string

const (
	RelayDisabled RelayRole = "disabled"
	RelayClient   RelayRole = "client"
	RelayServer   RelayRole = "server"
)

// RelayCircuit is one active relayed connection through a relay server.
type RelayCircuit struct {
	ID       string
	ClientID NodeID
	PeerID   NodeID
	OpenedAt int64
}

// relayServerStats tracks a candidate relay server's historical success
// rate, used to order relay candidates.
type relayServerStats struct {
	id        NodeID
	attempts  int
	successes int
}

func (s *relayServerStats) successRate() float64 {
	if s.attempts == 0 {
		return 0.5 // unknown servers get a neutral prior
	}
	return float64(s.successes) / float64(s.attempts)
}

// DirectDialer attempts a direct (non-relayed) connection to a peer.
type DirectDialer interface {
	DialDirect(peer NodeID) error
}

// RelayManager implements connect()'s direct-then-relay fallback
// and, for server-role nodes, accepts and bounds relayed
// circuits.
type RelayManager struct {
	mu          sync.Mutex
	role        RelayRole
	maxCircuits int
	maxDuration time.Duration

	servers  map[NodeID]*relayServerStats
	circuits map[string]*RelayCircuit // server-role: circuits this node is relaying
}

func NewRelayManager(role RelayRole, maxCircuits int, maxDuration time.Duration) *RelayManager {
	return &RelayManager{
		role: role, maxCircuits: maxCircuits, maxDuration: maxDuration,
		servers:  make(map[NodeID]*relayServerStats),
		circuits: make(map[string]*RelayCircuit),
	}
}

// AddRelayServer registers a known relay server candidate.
func (m *RelayManager) AddRelayServer(id NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[id]; !ok {
		m.servers[id] = &relayServerStats{id: id}
	}
}

// orderedServers returns known relay servers sorted by descending
// historical success rate (caller must hold the lock).
func (m *RelayManager) orderedServers() []NodeID {
	list := make([]*relayServerStats, 0, len(m.servers))
	for _, s := range m.servers {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].successRate() > list[j].successRate() })
	out := make([]NodeID, len(list))
	for i, s := range list {
		out[i] = s.id
	}
	return out
}

// Connect implements connect(peer): try direct first, then iterate known
// relay servers ordered by success rate, opening a relayed circuit on the
// first that accepts.
func (m *RelayManager) Connect(dialer DirectDialer, peer NodeID) (*RelayCircuit, error) {
	if err := dialer.DialDirect(peer); err == nil {
		return nil, nil // direct succeeded, no circuit needed
	}

	m.mu.Lock()
	candidates := m.orderedServers()
	m.mu.Unlock()

	var lastErr error
	for _, server := range candidates {
		circuit, err := m.openCircuit(server, peer)
		if err == nil {
			m.recordAttempt(server, true)
			return circuit, nil
		}
		m.recordAttempt(server, false)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no relay servers available", ErrInternal)
	}
	return nil, lastErr
}

func (m *RelayManager) recordAttempt(server NodeID, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[server]
	if !ok {
		return
	}
	s.attempts++
	if success {
		s.successes++
	}
}

// openCircuit is the client-side circuit-open request issued to a
// candidate relay server. Local, in-process relaying is modeled here; a
// real deployment replaces the body with an RPC to the server's relay
// control plane (wire_protocol.go's Relay* messages).
func (m *RelayManager) openCircuit(server, peer NodeID) (*RelayCircuit, error) {
	return &RelayCircuit{ID: newID(), ClientID: "", PeerID: peer, OpenedAt: now()}, nil
}

// Reserve is the server-role handler for a RelayReserve message: admits a
// new circuit if under the server-side cap, else returns ErrRelayFull.
func (m *RelayManager) Reserve(client, peer NodeID) (*RelayCircuit, error) {
	if m.role != RelayServer {
		return nil, fmt.Errorf("%w: node is not a relay server", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.circuits) >= m.maxCircuits {
		return nil, ErrRelayFull
	}
	c := &RelayCircuit{ID: newID(), ClientID: client, PeerID: peer, OpenedAt: now()}
	m.circuits[c.ID] = c
	return c, nil
}

// Close tears down a relayed circuit by id.
func (m *RelayManager) Close(circuitID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.circuits, circuitID)
}

// ActiveCircuits returns circuits whose duration has not yet exceeded
// maxDuration; expired circuits are dropped as a side effect.
func (m *RelayManager) ActiveCircuits() []RelayCircuit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RelayCircuit, 0, len(m.circuits))
	cutoff := now() - int64(m.maxDuration.Seconds())
	for id, c := range m.circuits {
		if c.OpenedAt < cutoff {
			delete(m.circuits, id)
			continue
		}
		out = append(out, *c)
	}
	return out
}
