package core

import (
	"fmt"
	"path"
	"sync"
)

// PolicyKind enumerates the six governance-settable policy kinds.
type PolicyKind string

const (
	PolicyFederationQuota     PolicyKind = "FederationQuota"
	PolicyMemberQuota         PolicyKind = "MemberQuota"
	PolicyAccessControl       PolicyKind = "AccessControl"
	PolicyRetention           PolicyKind = "Retention"
	PolicyEncryptionAlgorithm PolicyKind = "EncryptionAlgorithms"
	PolicyReplication         PolicyKind = "Replication"
)

// FederationQuotaPolicy bounds total storage usage for a federation.
type FederationQuotaPolicy struct {
	MaxBytes    int64
	MaxFiles    int
	MaxFileSize int64
}

// MemberQuotaPolicy bounds one member's usage within a federation.
type MemberQuotaPolicy struct {
	MemberID    string
	MaxBytes    int64
	MaxFiles    int
	MaxFileSize int64
}

// RetentionRule governs how many versions of keys matching PathPattern are
// kept and for how long.
type RetentionRule struct {
	PathPattern string
	MaxAgeSecs  int64 // 0 means unbounded
	MinVersions int
	MaxVersions int // 0 means unbounded
}

// EncryptionAlgorithmsPolicy names which algorithms are permitted and
// which key patterns require encryption unconditionally.
type EncryptionAlgorithmsPolicy struct {
	Allowed             []string
	RequiredForPatterns []string
	Default             string
}

// ReplicationPattern overrides the default replica count for keys
// matching Pattern.
type ReplicationPattern struct {
	Pattern  string
	Replicas int
}

// ReplicationPolicy sets default and per-pattern replica counts.
type ReplicationPolicy struct {
	DefaultReplicas int
	MinReplicas     int
	Patterns        []ReplicationPattern
}

// federationPolicies holds, per kind, the single currently-active policy
// payload for one federation.
type federationPolicies struct {
	federationQuota *FederationQuotaPolicy
	memberQuotas    []MemberQuotaPolicy
	accessRules     []AccessRule
	retention       []RetentionRule
	encryption      *EncryptionAlgorithmsPolicy
	replication     *ReplicationPolicy
}

// PolicyBook tracks the active policy set per federation and answers the
// quota/encryption/access-rule questions the rest of the Storage Core
// needs, implementing the "at most one active per kind" rule by simply
// overwriting the relevant field on each Apply call.
type PolicyBook struct {
	mu    sync.RWMutex
	byFed map[string]*federationPolicies
}

func NewPolicyBook() *PolicyBook {
	return &PolicyBook{byFed: make(map[string]*federationPolicies)}
}

func (b *PolicyBook) fed(federation string) *federationPolicies {
	fp, ok := b.byFed[federation]
	if !ok {
		fp = &federationPolicies{}
		b.byFed[federation] = fp
	}
	return fp
}

func (b *PolicyBook) ApplyFederationQuota(federation string, p FederationQuotaPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fed(federation).federationQuota = &p
}

func (b *PolicyBook) ApplyMemberQuotas(federation string, ps []MemberQuotaPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fed(federation).memberQuotas = ps
}

func (b *PolicyBook) ApplyAccessControl(federation string, rules []AccessRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fed(federation).accessRules = rules
}

func (b *PolicyBook) ApplyRetention(federation string, rules []RetentionRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fed(federation).retention = rules
}

func (b *PolicyBook) ApplyEncryptionAlgorithms(federation string, p EncryptionAlgorithmsPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fed(federation).encryption = &p
}

func (b *PolicyBook) ApplyReplication(federation string, p ReplicationPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fed(federation).replication = &p
}

// FederationQuota returns the active federation-wide quota, if any.
func (b *PolicyBook) FederationQuota(federation string) (FederationQuotaPolicy, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fp, ok := b.byFed[federation]
	if !ok || fp.federationQuota == nil {
		return FederationQuotaPolicy{}, false
	}
	return *fp.federationQuota, true
}

// MemberQuota returns the active per-member quota for memberID, if any.
func (b *PolicyBook) MemberQuota(federation, memberID string) (MemberQuotaPolicy, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fp, ok := b.byFed[federation]
	if !ok {
		return MemberQuotaPolicy{}, false
	}
	for _, q := range fp.memberQuotas {
		if q.MemberID == memberID {
			return q, true
		}
	}
	return MemberQuotaPolicy{}, false
}

// AccessRules returns the active access-control rule set for a federation.
func (b *PolicyBook) AccessRules(federation string) []AccessRule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fp, ok := b.byFed[federation]
	if !ok {
		return nil
	}
	out := make([]AccessRule, len(fp.accessRules))
	copy(out, fp.accessRules)
	return out
}

// RetentionRules returns the active retention rules for a federation.
func (b *PolicyBook) RetentionRules(federation string) []RetentionRule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fp, ok := b.byFed[federation]
	if !ok {
		return nil
	}
	out := make([]RetentionRule, len(fp.retention))
	copy(out, fp.retention)
	return out
}

// EncryptionRequired reports whether key must be encrypted under the
// federation's EncryptionAlgorithms policy, independent of the caller's
// own encrypted? request.
func (b *PolicyBook) EncryptionRequired(federation, key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fp, ok := b.byFed[federation]
	if !ok || fp.encryption == nil {
		return false
	}
	for _, pat := range fp.encryption.RequiredForPatterns {
		if ok, _ := path.Match(pat, key); ok {
			return true
		}
	}
	return false
}

// ReplicasFor returns the replica count a key should target, applying the
// first matching pattern override or the policy default.
func (b *PolicyBook) ReplicasFor(federation, key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fp, ok := b.byFed[federation]
	if !ok || fp.replication == nil {
		return 1
	}
	for _, p := range fp.replication.Patterns {
		if ok, _ := path.Match(p.Pattern, key); ok {
			return p.Replicas
		}
	}
	return fp.replication.DefaultReplicas
}

// applyPolicy dispatches an approved storage-policy proposal's payload to
// the right PolicyBook setter; governance calls this on the Approved →
// Executed transition.
func (b *PolicyBook) applyPolicy(federation string, kind PolicyKind, payload any) error {
	switch kind {
	case PolicyFederationQuota:
		p, ok := payload.(FederationQuotaPolicy)
		if !ok {
			return fmt.Errorf("%w: policy payload type mismatch for %s", ErrInvalidInput, kind)
		}
		b.ApplyFederationQuota(federation, p)
	case PolicyMemberQuota:
		p, ok := payload.([]MemberQuotaPolicy)
		if !ok {
			return fmt.Errorf("%w: policy payload type mismatch for %s", ErrInvalidInput, kind)
		}
		b.ApplyMemberQuotas(federation, p)
	case PolicyAccessControl:
		p, ok := payload.([]AccessRule)
		if !ok {
			return fmt.Errorf("%w: policy payload type mismatch for %s", ErrInvalidInput, kind)
		}
		b.ApplyAccessControl(federation, p)
	case PolicyRetention:
		p, ok := payload.([]RetentionRule)
		if !ok {
			return fmt.Errorf("%w: policy payload type mismatch for %s", ErrInvalidInput, kind)
		}
		b.ApplyRetention(federation, p)
	case PolicyEncryptionAlgorithm:
		p, ok := payload.(EncryptionAlgorithmsPolicy)
		if !ok {
			return fmt.Errorf("%w: policy payload type mismatch for %s", ErrInvalidInput, kind)
		}
		b.ApplyEncryptionAlgorithms(federation, p)
	case PolicyReplication:
		p, ok := payload.(ReplicationPolicy)
		if !ok {
			return fmt.Errorf("%w: policy payload type mismatch for %s", ErrInvalidInput, kind)
		}
		b.ApplyReplication(federation, p)
	default:
		return fmt.Errorf("%w: unknown policy kind %q", ErrInvalidInput, kind)
	}
	return nil
}
