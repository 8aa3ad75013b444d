package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// didRecord is one append-only line in dids.jsonl: a full document
// snapshot, tagged with its version so the log doubles as version
// history.
type didRecord struct {
	Doc DIDDocument `json:"doc"`
}

// DIDStore is the local persistent layer for DID Documents: an
// append-only JSON-lines log replayed on open, the same WAL-replay shape
// the ledger uses, plus a TTL-bounded LRU cache for hot lookups.
type DIDStore struct {
	mu       sync.RWMutex
	dataDir  string
	logFile  *os.File
	latest   map[DID]*DIDDocument
	versions map[DID]map[uint64]*DIDDocument
	cache    *lru.LRU[DID, *DIDDocument]
	log      *logrus.Logger
}

// NewDIDStore opens (creating if absent) the DID store rooted at dataDir.
func NewDIDStore(dataDir string, cacheSize int, cacheTTL time.Duration) (*DIDStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: mkdir did store: %v", ErrInternal, err)
	}
	path := filepath.Join(dataDir, "dids.jsonl")
	s := &DIDStore{
		dataDir:  dataDir,
		latest:   make(map[DID]*DIDDocument),
		versions: make(map[DID]map[uint64]*DIDDocument),
		cache:    lru.NewLRU[DID, *DIDDocument](cacheSize, nil, cacheTTL),
		log:      logrus.StandardLogger(),
	}
	if err := s.replay(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: open did log: %v", ErrInternal, err)
	}
	s.logFile = f
	return s, nil
}

func (s *DIDStore) replay(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: open did log: %v", ErrInternal, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var rec didRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%w: corrupt did log line: %v", ErrInternal, err)
		}
		doc := rec.Doc
		s.index(&doc)
	}
	return sc.Err()
}

func (s *DIDStore) index(doc *DIDDocument) {
	d := *doc
	s.latest[d.ID] = &d
	if s.versions[d.ID] == nil {
		s.versions[d.ID] = make(map[uint64]*DIDDocument)
	}
	vcopy := d
	s.versions[d.ID][d.Version] = &vcopy
}

// Put appends a new version of doc to the log and updates in-memory state.
func (s *DIDStore) Put(doc *DIDDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(didRecord{Doc: *doc})
	if err != nil {
		return fmt.Errorf("%w: marshal did document: %v", ErrInternal, err)
	}
	if _, err := s.logFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: append did log: %v", ErrInternal, err)
	}
	if err := s.logFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync did log: %v", ErrInternal, err)
	}
	s.index(doc)
	s.cache.Add(doc.ID, doc)
	s.log.WithField("did", doc.ID).WithField("version", doc.Version).Info("did document persisted")
	return nil
}

// Cached returns a document from the TTL-bounded LRU alone, never touching
// the persistent index; the resolution chain's first layer.
func (s *DIDStore) Cached(did DID) (*DIDDocument, bool) {
	return s.cache.Get(did)
}

// Get returns the latest known document for did, consulting the cache
// first.
func (s *DIDStore) Get(did DID) (*DIDDocument, bool) {
	if doc, ok := s.cache.Get(did); ok {
		return doc, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.latest[did]
	if ok {
		s.cache.Add(did, doc)
	}
	return doc, ok
}

// GetVersion returns a specific historical version of a document.
func (s *DIDStore) GetVersion(did DID, version uint64) (*DIDDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.versions[did]
	if !ok {
		return nil, false
	}
	doc, ok := vs[version]
	return doc, ok
}

// Close flushes and closes the underlying log file.
func (s *DIDStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return nil
	}
	return s.logFile.Close()
}
