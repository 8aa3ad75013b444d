package core

import (
	"crypto/sha256"
	"time"
)

// common_structs.go centralises type definitions shared across the four
// cores; all four live in this single package, but keeping cross-cutting
// structs in one file keeps each concern's own file self-contained.

// DID is a decentralized identifier of the form did:icn:<coop>:<entity>.
type DID string

// NodeID identifies a peer: the hex-encoded hash of its long-term public key.
type NodeID string

// now returns the current Unix second count. Centralised so every core
// stamps records the same way; it reads the package-level nowFunc.
var nowFunc = func() int64 { return time.Now().Unix() }

func now() int64 { return nowFunc() }

// SourceTag marks which layer of a resolution chain answered a lookup.
type SourceTag string

const (
	SourceCache    SourceTag = "Cache"
	SourceLocal    SourceTag = "Local"
	SourceDHT      SourceTag = "DHT"
	SourceFallback SourceTag = "Fallback"
)

// Fallback is the opaque authoritative-record oracle Identity and
// Transport consult as the last resolution layer. The core treats it as a
// black box: get/put on byte blobs keyed by string, no consensus
// semantics implied.
type Fallback interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// DHT is the shared distributed record store backing DID resolution,
// name resolution, and relay-server advertisement. The Kademlia type in
// core/dht.go implements it.
type DHT interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte)
	Delete(key string)
}

// memFallback is an in-process Fallback used by tests and single-node
// deployments that have no external authoritative-record chain wired in.
type memFallback struct {
	data map[string][]byte
}

func newMemFallback() *memFallback { return &memFallback{data: make(map[string][]byte)} }

func (m *memFallback) Get(key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memFallback) Put(key string, value []byte) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// sha256Sum is a small convenience wrapper used wherever a fixed-size
// digest is needed (signing, content addressing, overlay IPv6 derivation).
func sha256Sum(data []byte) [32]byte { return sha256.Sum256(data) }
