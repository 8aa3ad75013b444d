package core

import (
	"context"
	"fmt"
	"path"
)

// Permission is one of the three operation classes access-rule
// evaluation grants.
type Permission string

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermGrant Permission = "grant"
)

// AccessRule is one entry of an AccessControl policy: it matches a key
// against PathPattern and a presented credential against RequiredTypes and
// RequiredAttributes, granting Permissions on a match.
type AccessRule struct {
	PathPattern        string
	RequiredTypes      []string
	RequiredAttributes map[string]string
	Permissions        []Permission
}

func (r AccessRule) grants(p Permission) bool {
	for _, g := range r.Permissions {
		if g == p {
			return true
		}
	}
	return false
}

func (r AccessRule) matchesKey(key string) bool {
	ok, err := path.Match(r.PathPattern, key)
	return err == nil && ok
}

func (r AccessRule) matchesCredential(vc *VerifiableCredential) bool {
	if len(r.RequiredTypes) == 0 {
		return true
	}
	if vc == nil {
		return false
	}
	hasType := false
	for _, want := range r.RequiredTypes {
		for _, have := range vc.Types {
			if want == have {
				hasType = true
				break
			}
		}
	}
	if !hasType {
		return false
	}
	for attr, want := range r.RequiredAttributes {
		if vc.Subject.Claims[attr] != want {
			return false
		}
	}
	return true
}

// AccessRuleBook evaluates access-rule requests per federation, backed by
// the PolicyBook's active AccessControl policy.
type AccessRuleBook struct {
	policies *PolicyBook
	identity *IdentityManager
	creds    *CredentialVerifier
}

func NewAccessRuleBook(policies *PolicyBook, identity *IdentityManager, creds *CredentialVerifier) *AccessRuleBook {
	return &AccessRuleBook{policies: policies, identity: identity, creds: creds}
}

// Evaluate runs the access-rule evaluation for caller D attempting op on
// (federation, key). presented may be nil when
// the caller offers no credential — rules with no RequiredTypes still
// match in that case (public rules), but any rule with RequiredTypes set
// will not.
func (b *AccessRuleBook) Evaluate(ctx context.Context, caller DID, federation, key string, op Permission, presented *VerifiableCredential) error {
	if _, _, err := b.identity.Resolve(ctx, caller); err != nil {
		return fmt.Errorf("%w: cannot authenticate %s: %v", ErrUnauthorized, caller, err)
	}
	if presented != nil {
		ok, err := b.creds.Verify(ctx, presented)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: presented credential failed verification", ErrCredentialInvalid)
		}
	}

	rules := b.policies.AccessRules(federation)
	var granted []Permission
	for _, rule := range rules {
		if !rule.matchesKey(key) {
			continue
		}
		if !rule.matchesCredential(presented) {
			continue
		}
		granted = append(granted, rule.Permissions...)
	}
	for _, g := range granted {
		if g == op {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks %s on %s/%s", ErrUnauthorized, caller, op, federation, key)
}
