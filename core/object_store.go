package core

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// diskEntry is one cached blob on disk, tracked for LRU eviction.
type diskEntry struct {
	key  string
	path string
	size int64
	at   time.Time
}

const defaultCacheEntries = 10_000

// diskLRU is an on-disk, size-bounded cache in front of a content-addressed
// object store.
type diskLRU struct {
	mu    sync.Mutex
	dir   string
	max   int
	index map[string]*diskEntry
	order []*diskEntry
}

func newDiskLRU(dir string, maxEntries int) (*diskLRU, error) {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: mkdir object cache dir: %v", ErrInternal, err)
	}
	return &diskLRU{dir: dir, max: maxEntries, index: make(map[string]*diskEntry)}, nil
}

func (l *diskLRU) put(key string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ent, ok := l.index[key]; ok {
		ent.at = time.Now()
		return nil
	}
	if len(l.index) >= l.max && len(l.order) > 0 {
		victim := 0
		for i, e := range l.order {
			if e.at.Before(l.order[victim].at) {
				victim = i
			}
		}
		oldest := l.order[victim]
		_ = os.Remove(oldest.path)
		delete(l.index, oldest.key)
		l.order = append(l.order[:victim], l.order[victim+1:]...)
	}
	// Logical keys carry federation/key/version separators; the on-disk
	// name is the key's content hash so the cache directory stays flat.
	p := filepath.Join(l.dir, contentHash([]byte(key)))
	if err := os.WriteFile(p, data, 0o640); err != nil {
		return fmt.Errorf("%w: write object cache entry: %v", ErrInternal, err)
	}
	ent := &diskEntry{key: key, path: p, size: int64(len(data)), at: time.Now()}
	l.index[key] = ent
	l.order = append(l.order, ent)
	return nil
}

func (l *diskLRU) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ent, ok := l.index[key]
	if !ok {
		return nil, false
	}
	ent.at = time.Now()
	b, err := os.ReadFile(ent.path)
	if err != nil {
		return nil, false
	}
	return b, true
}

// ObjectVersion is one entry in a storage object's version chain.
type ObjectVersion struct {
	ID        string
	Author    DID
	CreatedAt int64
	Size      int64
	Encrypted bool
}

// storedObject is the server-side record for one (federation, key): its
// full version chain. The bytes of each version are kept in the disk
// cache, not here.
type storedObject struct {
	mu       sync.Mutex
	Versions []ObjectVersion
}

// ObjectStore is the Governance-Controlled Storage Core's content-addressed
// versioned object store. Encryption and quota are enforced by
// collaborators (`encryption.go`, `storage_quota.go` over
// `storage_policy.go`) that Put/Get invoke before touching disk; access
// rules (`access_rules.go`) are evaluated by the Storage facade instead.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject // "federation/key" -> object
	cache   *diskLRU

	policies *PolicyBook
	enc      *FederationEncryptor

	log *zap.SugaredLogger
}

func objectKey(federation, key string) string { return federation + "/" + key }

// NewObjectStore wires an object store with its policy and encryption
// collaborators. Access-rule evaluation happens in the Storage facade,
// not here.
func NewObjectStore(cacheDir string, cacheBytes int64, policies *PolicyBook, enc *FederationEncryptor) (*ObjectStore, error) {
	maxEntries := int(cacheBytes / (64 * 1024))
	cache, err := newDiskLRU(cacheDir, maxEntries)
	if err != nil {
		return nil, err
	}
	logger, _ := zap.NewProduction()
	return &ObjectStore{
		objects:  make(map[string]*storedObject),
		cache:    cache,
		policies: policies,
		enc:      enc,
		log:      logger.Sugar(),
	}, nil
}

// Put appends a new version: enforce quota, encrypt if requested or
// policy-required, write through the disk cache. Access-rule evaluation
// happens in the Storage facade before this is invoked.
func (s *ObjectStore) Put(federation, key string, data []byte, author DID, encrypt bool) (*ObjectVersion, error) {
	if err := s.checkQuotas(federation, author, int64(len(data))); err != nil {
		return nil, err
	}

	required := encrypt || s.policies.EncryptionRequired(federation, key)
	payload := data
	if required {
		ct, err := s.enc.Encrypt(federation, data)
		if err != nil {
			return nil, err
		}
		payload = ct
	}

	id := uuid.NewString()
	version := ObjectVersion{ID: id, Author: author, CreatedAt: now(), Size: int64(len(data)), Encrypted: required}

	ok := objectKey(federation, key)
	s.mu.Lock()
	obj, exists := s.objects[ok]
	if !exists {
		obj = &storedObject{}
		s.objects[ok] = obj
	}
	s.mu.Unlock()

	obj.mu.Lock()
	obj.Versions = append(obj.Versions, version)
	obj.mu.Unlock()

	if err := s.cache.put(ok+"/"+id, payload); err != nil {
		return nil, err
	}
	s.log.Infow("object stored", "federation", federation, "key", key, "version", id, "encrypted", required)
	return &version, nil
}

// Get returns the latest or a specified version's bytes, decrypting if
// the stored version is encrypted.
func (s *ObjectStore) Get(federation, key string, version string) ([]byte, *ObjectVersion, error) {
	ok := objectKey(federation, key)
	s.mu.RLock()
	obj, exists := s.objects[ok]
	s.mu.RUnlock()
	if !exists {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrNotFound, federation, key)
	}

	obj.mu.Lock()
	var chosen *ObjectVersion
	if version == "" {
		if len(obj.Versions) > 0 {
			v := obj.Versions[len(obj.Versions)-1]
			chosen = &v
		}
	} else {
		for _, v := range obj.Versions {
			if v.ID == version {
				cp := v
				chosen = &cp
				break
			}
		}
	}
	obj.mu.Unlock()
	if chosen == nil {
		return nil, nil, fmt.Errorf("%w: version %s of %s/%s", ErrNotFound, version, federation, key)
	}

	payload, ok2 := s.cache.get(ok + "/" + chosen.ID)
	if !ok2 {
		return nil, nil, fmt.Errorf("%w: object payload %s/%s@%s", ErrNotFound, federation, key, chosen.ID)
	}
	if chosen.Encrypted {
		plain, err := s.enc.Decrypt(federation, payload)
		if err != nil {
			return nil, nil, err
		}
		return plain, chosen, nil
	}
	return payload, chosen, nil
}

// RawVersion returns a version's stored bytes exactly as they sit in the
// cache — ciphertext for encrypted versions — for replication to peers.
func (s *ObjectStore) RawVersion(federation, key, versionID string) ([]byte, error) {
	payload, ok := s.cache.get(objectKey(federation, key) + "/" + versionID)
	if !ok {
		return nil, fmt.Errorf("%w: object payload %s/%s@%s", ErrNotFound, federation, key, versionID)
	}
	return payload, nil
}

// IngestReplica appends a version received from a peer, bytes untouched.
// A version id already present is a no-op so replicas converge instead of
// duplicating.
func (s *ObjectStore) IngestReplica(federation, key string, version ObjectVersion, payload []byte) error {
	ok := objectKey(federation, key)
	s.mu.Lock()
	obj, exists := s.objects[ok]
	if !exists {
		obj = &storedObject{}
		s.objects[ok] = obj
	}
	s.mu.Unlock()

	obj.mu.Lock()
	for _, v := range obj.Versions {
		if v.ID == version.ID {
			obj.mu.Unlock()
			return nil
		}
	}
	obj.Versions = append(obj.Versions, version)
	obj.mu.Unlock()

	if err := s.cache.put(ok+"/"+version.ID, payload); err != nil {
		return err
	}
	s.log.Infow("replica ingested", "federation", federation, "key", key, "version", version.ID)
	return nil
}

// History returns the version chain for a key.
func (s *ObjectStore) History(federation, key string) ([]ObjectVersion, error) {
	s.mu.RLock()
	obj, exists := s.objects[objectKey(federation, key)]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, federation, key)
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	out := make([]ObjectVersion, len(obj.Versions))
	copy(out, obj.Versions)
	return out, nil
}

// List returns every key in federation whose name matches prefix,
// irrespective of caller permission; the Storage facade filters by the
// caller's granted read permission before returning.
func (s *ObjectStore) List(federation, prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	want := federation + "/" + prefix
	for k := range s.objects {
		if len(k) >= len(want) && k[:len(want)] == want {
			out = append(out, k[len(federation)+1:])
		}
	}
	return out
}

// Delete drops a key and its version chain; the Storage facade checks
// write permission before calling this.
func (s *ObjectStore) Delete(federation, key string) error {
	ok := objectKey(federation, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[ok]; !exists {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, federation, key)
	}
	delete(s.objects, ok)
	return nil
}

// contentHash flattens arbitrary bytes into a fixed-width hex digest, used
// both for cache file names and content addressing.
func contentHash(data []byte) string {
	sum := sha256Sum(data)
	return hex.EncodeToString(sum[:])
}
