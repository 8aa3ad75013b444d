package core

import (
	"math/big"
	"sort"
	"sync"
)

// Kademlia is a minimal in-memory Kademlia-style distributed table. It
// backs DID resolution (`did:<did>` keys) and name resolution
// (`name:<service>.<coop>` keys), storing arbitrary record types behind
// the shared `DHT` interface (common_structs.go) consumed by both
// Identity and Transport.
type Kademlia struct {
	id      NodeID
	buckets [160][]NodeID
	store   map[[20]byte][]byte
	mu      sync.RWMutex
}

func hash160(data []byte) [20]byte {
	sum := sha256Sum(data)
	var h [20]byte
	copy(h[:], sum[:20])
	return h
}

// NewKademlia creates a new Kademlia instance bound to the given node ID.
func NewKademlia(id NodeID) *Kademlia {
	return &Kademlia{id: id, store: make(map[[20]byte][]byte)}
}

// AddPeer inserts a peer into the appropriate distance bucket.
func (k *Kademlia) AddPeer(id NodeID) {
	if id == k.id {
		return
	}
	idx := k.bucketIndex(id)
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range k.buckets[idx] {
		if p == id {
			return
		}
	}
	k.buckets[idx] = append(k.buckets[idx], id)
}

// Put stores value under key, satisfying the DHT interface.
func (k *Kademlia) Put(key string, value []byte) {
	hash := hash160([]byte(key))
	k.mu.Lock()
	k.store[hash] = append([]byte(nil), value...)
	k.mu.Unlock()
}

// Get retrieves a value by key, satisfying the DHT interface. DHT reads are
// eventually consistent: callers treat a hit as advisory until
// the record's own expiration, not the DHT's.
func (k *Kademlia) Get(key string) ([]byte, bool) {
	hash := hash160([]byte(key))
	k.mu.RLock()
	val, ok := k.store[hash]
	k.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return append([]byte(nil), val...), true
}

// Delete removes a key, satisfying the DHT interface.
func (k *Kademlia) Delete(key string) {
	hash := hash160([]byte(key))
	k.mu.Lock()
	delete(k.store, hash)
	k.mu.Unlock()
}

// Nearest returns up to count peer IDs with XOR distance closest to target.
func (k *Kademlia) Nearest(target NodeID, count int) []NodeID {
	idx := k.bucketIndex(target)
	k.mu.RLock()
	defer k.mu.RUnlock()
	peers := make([]NodeID, 0, count)
	for i := idx; i < len(k.buckets) && len(peers) < count; i++ {
		peers = append(peers, k.buckets[i]...)
	}
	sort.Slice(peers, func(i, j int) bool {
		return k.distance(peers[i], target).Cmp(k.distance(peers[j], target)) < 0
	})
	if len(peers) > count {
		peers = peers[:count]
	}
	return peers
}

func (k *Kademlia) bucketIndex(id NodeID) int {
	diff := k.xor(id)
	bn := new(big.Int).SetBytes(diff[:])
	if bn.Sign() == 0 {
		return 159
	}
	return 159 - bn.BitLen() + 1
}

func (k *Kademlia) xor(id NodeID) [20]byte {
	a := hash160([]byte(k.id))
	b := hash160([]byte(id))
	var diff [20]byte
	for i := range diff {
		diff[i] = a[i] ^ b[i]
	}
	return diff
}

func (k *Kademlia) distance(a, b NodeID) *big.Int {
	ha := hash160([]byte(a))
	hb := hash160([]byte(b))
	var diff [20]byte
	for i := range diff {
		diff[i] = ha[i] ^ hb[i]
	}
	return new(big.Int).SetBytes(diff[:])
}

var _ DHT = (*Kademlia)(nil)
