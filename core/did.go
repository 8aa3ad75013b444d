package core

import (
	"fmt"
	"regexp"
)

var idComponentRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidateIDComponent checks a single coop-id or entity-id segment against
// the id grammar [A-Za-z][A-Za-z0-9_-]*.
func ValidateIDComponent(s string) error {
	if !idComponentRe.MatchString(s) {
		return fmt.Errorf("%w: invalid id component %q", ErrInvalidInput, s)
	}
	return nil
}

// BuildDID constructs did:icn:<coop>:<entity>, validating both components.
func BuildDID(coop, entity string) (DID, error) {
	if err := ValidateIDComponent(coop); err != nil {
		return "", err
	}
	if err := ValidateIDComponent(entity); err != nil {
		return "", err
	}
	return DID(fmt.Sprintf("did:icn:%s:%s", coop, entity)), nil
}

var didRe = regexp.MustCompile(`^did:icn:([A-Za-z][A-Za-z0-9_-]*):([A-Za-z][A-Za-z0-9_-]*)$`)

// ParseDID splits a DID into its cooperative and entity segments.
func ParseDID(did DID) (coop, entity string, err error) {
	m := didRe.FindStringSubmatch(string(did))
	if m == nil {
		return "", "", fmt.Errorf("%w: malformed did %q", ErrInvalidInput, did)
	}
	return m[1], m[2], nil
}

// Cooperative returns the coop segment of a DID, or "" if malformed.
func (d DID) Cooperative() string {
	coop, _, err := ParseDID(d)
	if err != nil {
		return ""
	}
	return coop
}
