package core

import (
	"context"
	"fmt"
)

// Storage is the Governance-Controlled Storage Core's public facade: it
// wraps ObjectStore with the access-rule evaluation that must run before
// any operation touches an object.
type Storage struct {
	objects    *ObjectStore
	access     *AccessRuleBook
	replicator *Replicator
}

// NewStorage assembles the Storage facade from its collaborators.
func NewStorage(objects *ObjectStore, access *AccessRuleBook) *Storage {
	return &Storage{objects: objects, access: access}
}

// SetReplicator attaches cross-node replication; nil leaves every write
// local-only.
func (s *Storage) SetReplicator(r *Replicator) { s.replicator = r }

// Put stores a new object version, checking write permission first.
// Replication to peers is best-effort: the local write stands even when
// the broadcast fails; the failure is logged and that version is not
// sent again.
func (s *Storage) Put(ctx context.Context, federation, key string, data []byte, author DID, encrypt bool, presented *VerifiableCredential) (*ObjectVersion, error) {
	if err := s.access.Evaluate(ctx, author, federation, key, PermWrite, presented); err != nil {
		return nil, err
	}
	version, err := s.objects.Put(federation, key, data, author, encrypt)
	if err != nil {
		return nil, err
	}
	if s.replicator != nil {
		if rerr := s.replicator.Replicate(federation, key, version); rerr != nil {
			s.replicator.log.WithError(rerr).Warn("replication deferred")
		}
	}
	return version, nil
}

// Get returns an object version, checking read permission first.
func (s *Storage) Get(ctx context.Context, federation, key string, caller DID, version string, presented *VerifiableCredential) ([]byte, *ObjectVersion, error) {
	if err := s.access.Evaluate(ctx, caller, federation, key, PermRead, presented); err != nil {
		return nil, nil, err
	}
	return s.objects.Get(federation, key, version)
}

// List returns only the keys the caller has at
// least read permission on are returned.
func (s *Storage) List(ctx context.Context, federation, prefix string, caller DID, presented *VerifiableCredential) []string {
	all := s.objects.List(federation, prefix)
	var visible []string
	for _, key := range all {
		if err := s.access.Evaluate(ctx, caller, federation, key, PermRead, presented); err == nil {
			visible = append(visible, key)
		}
	}
	return visible
}

// History returns a key's version chain, checking read permission.
func (s *Storage) History(ctx context.Context, federation, key string, caller DID, presented *VerifiableCredential) ([]ObjectVersion, error) {
	if err := s.access.Evaluate(ctx, caller, federation, key, PermRead, presented); err != nil {
		return nil, err
	}
	return s.objects.History(federation, key)
}

// Delete removes a key, checking write permission;
// retention policy constrains version pruning separately via Retention,
// not full-key deletion.
func (s *Storage) Delete(ctx context.Context, federation, key string, caller DID, presented *VerifiableCredential) error {
	if err := s.access.Evaluate(ctx, caller, federation, key, PermWrite, presented); err != nil {
		return err
	}
	if err := s.objects.Delete(federation, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", federation, key, err)
	}
	return nil
}
