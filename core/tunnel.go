package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/curve25519"
)

// TunnelKeyPair is a WireGuard-style tunnel keypair (Curve25519). NewNode
// generates a fresh one every time the node starts; it is not persisted,
// so the tunnel key a node publishes changes across restarts.
type TunnelKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateTunnelKeyPair creates a fresh X25519 keypair for tunnel
// configuration, distinct from the DID verification-method keys.
func GenerateTunnelKeyPair() (TunnelKeyPair, error) {
	var kp TunnelKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return kp, fmt.Errorf("%w: generate tunnel key: %v", ErrInternal, err)
	}
	// clamp per RFC 7748
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return kp, fmt.Errorf("%w: derive tunnel public key: %v", ErrInternal, err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// OverlayIPv6 deterministically derives a node's overlay address from its
// primary DID by hashing the DID string and substituting the low 64 bits
// into the configured /64 prefix.
// prefix must be a /64 in the form "fd00:1234::/64"; malformed prefixes
// fail closed rather than silently deriving a wrong address.
func OverlayIPv6(did DID, prefix string) (net.IP, error) {
	_, network, err := net.ParseCIDR(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: parse tunnel prefix %q: %v", ErrInvalidInput, prefix, err)
	}
	ones, bits := network.Mask.Size()
	if bits != 128 || ones != 64 {
		return nil, fmt.Errorf("%w: tunnel prefix must be a /64 IPv6 network", ErrInvalidInput)
	}
	digest := sha256Sum([]byte(did))
	ip := make(net.IP, net.IPv6len)
	copy(ip, network.IP.To16())
	copy(ip[8:], digest[:8])
	return ip, nil
}

// Tunnel is one configured peer tunnel entry.
type Tunnel struct {
	PeerDID         DID
	PeerPublicKey   [32]byte
	PeerOverlayIPv6 net.IP
	LastHandshake   int64
}

func (t *Tunnel) allowedIP() string { return t.PeerOverlayIPv6.String() + "/128" }

// TunnelManager holds the node's tunnel identity and its
// per-peer configuration table. Entries are unidirectional
// configuration: actual key exchange is delegated to the configured
// secure-transport handshake (libp2p's noise/TLS security stack here).
type TunnelManager struct {
	mu      sync.RWMutex
	self    TunnelKeyPair
	prefix  string
	idleTTL time.Duration
	peers   map[DID]*Tunnel
}

func NewTunnelManager(self TunnelKeyPair, prefix string, idleTTL time.Duration) *TunnelManager {
	return &TunnelManager{self: self, prefix: prefix, idleTTL: idleTTL, peers: make(map[DID]*Tunnel)}
}

// SelfOverlayIPv6 returns this node's own overlay address.
func (tm *TunnelManager) SelfOverlayIPv6(selfDID DID) (net.IP, error) {
	return OverlayIPv6(selfDID, tm.prefix)
}

// ServiceEndpointValue renders the tunnel public key as the value
// published in the node's DID Document service endpoint.
func (tm *TunnelManager) ServiceEndpointValue(selfDID DID) (string, error) {
	ip, err := tm.SelfOverlayIPv6(selfDID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("tunnel:%x@%s", tm.self.Public, ip.String()), nil
}

const TunnelServiceType = "IcnOverlayTunnel"

// Configure sets up the table entry for reaching a peer DID: resolve,
// read its tunnel service endpoint, add the entry with
// allowed-ip = peer_ipv6/128.
func (tm *TunnelManager) Configure(ctx context.Context, identity *IdentityManager, peerDID DID) (*Tunnel, error) {
	doc, _, err := identity.Resolve(ctx, peerDID)
	if err != nil {
		return nil, err
	}
	var endpoint *ServiceEndpoint
	for i := range doc.Services {
		if doc.Services[i].Type == TunnelServiceType {
			endpoint = &doc.Services[i]
			break
		}
	}
	if endpoint == nil {
		return nil, fmt.Errorf("%w: peer %s has no tunnel service endpoint", ErrNotFound, peerDID)
	}
	pubKey, ip, err := parseTunnelEndpoint(endpoint.Endpoint)
	if err != nil {
		return nil, err
	}
	t := &Tunnel{PeerDID: peerDID, PeerPublicKey: pubKey, PeerOverlayIPv6: ip, LastHandshake: now()}
	tm.mu.Lock()
	tm.peers[peerDID] = t
	tm.mu.Unlock()
	return t, nil
}

func parseTunnelEndpoint(value string) ([32]byte, net.IP, error) {
	var pub [32]byte
	const prefix = "tunnel:"
	if len(value) <= len(prefix) {
		return pub, nil, fmt.Errorf("%w: malformed tunnel endpoint", ErrInvalidInput)
	}
	rest := value[len(prefix):]
	at := -1
	for i, c := range rest {
		if c == '@' {
			at = i
			break
		}
	}
	if at < 0 {
		return pub, nil, fmt.Errorf("%w: malformed tunnel endpoint", ErrInvalidInput)
	}
	keyHex, ipStr := rest[:at], rest[at+1:]
	if len(keyHex) != 64 {
		return pub, nil, fmt.Errorf("%w: malformed tunnel public key", ErrInvalidInput)
	}
	decoded, err := hex.DecodeString(keyHex)
	if err != nil {
		return pub, nil, fmt.Errorf("%w: decode tunnel public key: %v", ErrInvalidInput, err)
	}
	copy(pub[:], decoded)
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return pub, nil, fmt.Errorf("%w: malformed tunnel overlay address", ErrInvalidInput)
	}
	return pub, ip, nil
}

// Touch refreshes a tunnel's last-handshake timestamp, keeping it alive.
func (tm *TunnelManager) Touch(peerDID DID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if t, ok := tm.peers[peerDID]; ok {
		t.LastHandshake = now()
	}
}

// Get returns the configured tunnel for a peer, if any.
func (tm *TunnelManager) Get(peerDID DID) (*Tunnel, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.peers[peerDID]
	return t, ok
}

// ReapIdle removes tunnels idle beyond idleTTL.
func (tm *TunnelManager) ReapIdle() []DID {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	cutoff := now() - int64(tm.idleTTL.Seconds())
	var removed []DID
	for did, t := range tm.peers {
		if t.LastHandshake < cutoff {
			delete(tm.peers, did)
			removed = append(removed, did)
		}
	}
	return removed
}
