package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// CredentialSubject is the DID a credential makes claims about.
type CredentialSubject struct {
	DID    DID               `json:"did"`
	Claims map[string]string `json:"claims"`
}

// Proof references the verification method that signed a credential or
// document body.
type Proof struct {
	VerificationMethod string `json:"verification_method"`
	Signature          []byte `json:"signature"`
}

// VerifiableCredential is a signed attestation about a subject DID.
type VerifiableCredential struct {
	ID             string            `json:"id"`
	Types          []string          `json:"types"`
	Issuer         DID               `json:"issuer"`
	IssuanceDate   int64             `json:"issuance_date"`
	ExpirationDate int64             `json:"expiration_date,omitempty"`
	Subject        CredentialSubject `json:"subject"`
	Proof          Proof             `json:"proof"`
}

// canonicalBytes renders the credential body (everything but Proof) with
// sorted map keys and no whitespace so issuance and verification sign the
// exact same bytes. encoding/json already
// sorts map keys; struct field order is fixed by declaration order, which
// together gives a deterministic encoding without a bespoke canonical-JSON
// library (none appears anywhere in the retrieval pack).
func canonicalBytes(vc *VerifiableCredential) ([]byte, error) {
	body := struct {
		ID             string            `json:"id"`
		Types          []string          `json:"types"`
		Issuer         DID               `json:"issuer"`
		IssuanceDate   int64             `json:"issuance_date"`
		ExpirationDate int64             `json:"expiration_date,omitempty"`
		Subject        CredentialSubject `json:"subject"`
	}{vc.ID, append([]string(nil), vc.Types...), vc.Issuer, vc.IssuanceDate, vc.ExpirationDate, vc.Subject}
	sort.Strings(body.Types)
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize credential: %v", ErrInternal, err)
	}
	return b, nil
}

// RevocationList tracks revoked credential ids locally, mirrored to the
// fallback oracle when enabled.
type RevocationList struct {
	mu       sync.RWMutex
	revoked  map[string]bool
	fallback Fallback
}

func NewRevocationList(fallback Fallback) *RevocationList {
	return &RevocationList{revoked: make(map[string]bool), fallback: fallback}
}

func (r *RevocationList) Revoke(ctx context.Context, credID string) error {
	r.mu.Lock()
	r.revoked[credID] = true
	r.mu.Unlock()
	if r.fallback != nil {
		return r.fallback.Put("credentials/revoked/"+credID, []byte{1})
	}
	return nil
}

func (r *RevocationList) IsRevoked(ctx context.Context, credID string) (bool, error) {
	r.mu.RLock()
	if r.revoked[credID] {
		r.mu.RUnlock()
		return true, nil
	}
	r.mu.RUnlock()
	if r.fallback != nil {
		if _, ok, err := r.fallback.Get("credentials/revoked/" + credID); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

// CredentialIssuer issues verifiable credentials signed by an issuer DID's
// assertion key.
type CredentialIssuer struct {
	identity *IdentityManager
	log      *logrus.Logger
}

func NewCredentialIssuer(identity *IdentityManager) *CredentialIssuer {
	return &CredentialIssuer{identity: identity, log: logrus.StandardLogger()}
}

// Issue mints a credential, signing the canonicalized body with the
// issuer's key at assertionKeyID using issuerKey.
func (ci *CredentialIssuer) Issue(ctx context.Context, issuer DID, assertionKeyID string, issuerKey KeyPair, subject DID, claims map[string]string, types []string, expiresAt *int64) (*VerifiableCredential, error) {
	doc, _, err := ci.identity.Resolve(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if _, ok := doc.methodByID(assertionKeyID); !ok {
		return nil, fmt.Errorf("%w: unknown assertion method %q", ErrInvalidInput, assertionKeyID)
	}
	allTypes := append([]string{"VerifiableCredential"}, types...)
	vc := &VerifiableCredential{
		ID:           newID(),
		Types:        allTypes,
		Issuer:       issuer,
		IssuanceDate: now(),
		Subject:      CredentialSubject{DID: subject, Claims: claims},
	}
	if expiresAt != nil {
		if *expiresAt <= vc.IssuanceDate {
			return nil, fmt.Errorf("%w: expiration must be after issuance", ErrInvalidInput)
		}
		vc.ExpirationDate = *expiresAt
	}
	body, err := canonicalBytes(vc)
	if err != nil {
		return nil, err
	}
	sig, err := Sign(issuerKey, body)
	if err != nil {
		return nil, err
	}
	vc.Proof = Proof{VerificationMethod: assertionKeyID, Signature: sig}
	ci.log.WithField("credential", vc.ID).WithField("issuer", issuer).Info("credential issued")
	return vc, nil
}

// CredentialVerifier checks proof validity, expiration, and revocation.
type CredentialVerifier struct {
	identity   *IdentityManager
	revocation *RevocationList
}

func NewCredentialVerifier(identity *IdentityManager, revocation *RevocationList) *CredentialVerifier {
	return &CredentialVerifier{identity: identity, revocation: revocation}
}

// Verify checks a credential's expiration, issuer proof, and revocation
// status, in that order.
func (cv *CredentialVerifier) Verify(ctx context.Context, vc *VerifiableCredential) (bool, error) {
	if vc.ExpirationDate != 0 && now() >= vc.ExpirationDate {
		return false, fmt.Errorf("%w: credential expired", ErrCredentialInvalid)
	}
	doc, _, err := cv.identity.Resolve(ctx, vc.Issuer)
	if err != nil {
		return false, fmt.Errorf("%w: cannot resolve issuer: %v", ErrCredentialInvalid, err)
	}
	method, ok := doc.methodByID(vc.Proof.VerificationMethod)
	if !ok {
		return false, fmt.Errorf("%w: unknown verification method", ErrCredentialInvalid)
	}
	body, err := canonicalBytes(vc)
	if err != nil {
		return false, err
	}
	if !verifySignature(method.Type, method.PublicKey, body, vc.Proof.Signature) {
		return false, fmt.Errorf("%w: bad proof signature", ErrCredentialInvalid)
	}
	if cv.revocation != nil {
		revoked, err := cv.revocation.IsRevoked(ctx, vc.ID)
		if err != nil {
			return false, err
		}
		if revoked {
			return false, fmt.Errorf("%w: credential revoked", ErrCredentialInvalid)
		}
	}
	return true, nil
}
