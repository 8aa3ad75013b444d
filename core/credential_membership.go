package core

import (
	"context"
	"fmt"
	"sync"
)

// MemberMapping is the DID → local member id side table consumed by the
// Storage Core's access-rule language: a role table keyed by DID, held in
// memory and persisted by the caller if needed.
type MemberMapping struct {
	mu      sync.RWMutex
	members map[DID]string
	admins  map[DID]bool
}

func NewMemberMapping() *MemberMapping {
	return &MemberMapping{members: make(map[DID]string), admins: make(map[DID]bool)}
}

// GrantAdmin marks a DID as a governance-approved admin, allowed to set
// any member's mapping regardless of controllership.
func (m *MemberMapping) GrantAdmin(did DID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[did] = true
}

// Set assigns target's local member id. Only an authenticated controller
// of target, or a governance-approved admin, may do this.
func (m *MemberMapping) Set(ctx context.Context, caller DID, identity *IdentityManager, target DID, memberID string) error {
	m.mu.RLock()
	isAdmin := m.admins[caller]
	m.mu.RUnlock()
	if !isAdmin {
		doc, err := identity.GetMember(ctx, target)
		if err != nil {
			return err
		}
		if !doc.isController(caller) {
			return fmt.Errorf("%w: %s may not set member mapping for %s", ErrUnauthorized, caller, target)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[target] = memberID
	return nil
}

// Get returns the local member id bound to did, if any.
func (m *MemberMapping) Get(did DID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.members[did]
	return id, ok
}
