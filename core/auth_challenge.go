package core

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Challenge is the verifier-issued nonce a prover must sign to
// authenticate.
type Challenge struct {
	ID        string
	DID       DID
	Nonce     []byte
	IssuedAt  int64
	ExpiresAt int64
}

// AuthToken binds a successfully authenticated DID to the credentials it
// presented, for the lifetime of a session.
type AuthToken struct {
	DID         DID
	Credentials []string
	IssuedAt    int64
	ExpiresAt   int64
}

// ChallengeVerifier issues and verifies authentication challenges. It
// tracks consumed challenge ids to reject replay (ReasonChallengeReused).
type ChallengeVerifier struct {
	identity *IdentityManager

	mu       sync.Mutex
	consumed map[string]bool
	tokenTTL time.Duration
}

// NewChallengeVerifier constructs a verifier bound to an identity manager.
func NewChallengeVerifier(identity *IdentityManager, tokenTTL time.Duration) *ChallengeVerifier {
	return &ChallengeVerifier{identity: identity, consumed: make(map[string]bool), tokenTTL: tokenTTL}
}

// NewChallenge issues a fresh challenge for did with a >=128-bit nonce.
func NewChallenge(did DID, ttl time.Duration) (*Challenge, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", ErrInternal, err)
	}
	issued := now()
	return &Challenge{
		ID:        newID(),
		DID:       did,
		Nonce:     nonce,
		IssuedAt:  issued,
		ExpiresAt: issued + int64(ttl.Seconds()),
	}, nil
}

// CanonicalMessage is the exact byte string a prover must sign:
// did || ':' || nonce || ':' || issued_at.
func CanonicalMessage(c *Challenge) []byte {
	msg := fmt.Sprintf("%s:%x:%d", c.DID, c.Nonce, c.IssuedAt)
	return []byte(msg)
}

// VerifyResponse is the verifier side of the challenge/response protocol:
// expiry and replay checks, DID resolution, method lookup, signature
// verification.
func (cv *ChallengeVerifier) VerifyResponse(ctx context.Context, c *Challenge, keyID string, sig []byte, presentedCredentials []string) (*AuthToken, error) {
	cv.mu.Lock()
	if now() > c.ExpiresAt {
		cv.mu.Unlock()
		return nil, newAuthError(ReasonChallengeExpired)
	}
	if cv.consumed[c.ID] {
		cv.mu.Unlock()
		return nil, newAuthError(ReasonChallengeReused)
	}
	cv.consumed[c.ID] = true
	cv.mu.Unlock()

	doc, _, err := cv.identity.Resolve(ctx, c.DID)
	if err != nil {
		return nil, newAuthError(ReasonUnknownKey)
	}
	method, ok := doc.methodByID(keyID)
	if !ok {
		return nil, newAuthError(ReasonUnknownKey)
	}
	isAuthRef := false
	for _, ref := range doc.Authentication {
		if ref == keyID {
			isAuthRef = true
			break
		}
	}
	if !isAuthRef {
		return nil, newAuthError(ReasonUnknownKey)
	}

	msg := CanonicalMessage(c)
	if !verifySignature(method.Type, method.PublicKey, msg, sig) {
		return nil, newAuthError(ReasonBadSignature)
	}

	issued := now()
	return &AuthToken{
		DID:         c.DID,
		Credentials: presentedCredentials,
		IssuedAt:    issued,
		ExpiresAt:   issued + int64(cv.tokenTTL.Seconds()),
	}, nil
}

// verifySignature dispatches to the signature scheme matching the
// verification method's declared key type.
func verifySignature(keyType string, pub, msg, sig []byte) bool {
	switch keyType {
	case KeyTypeEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
	case KeyTypeSecp256k1:
		pk, err := secp256k1.ParsePubKey(pub)
		if err != nil {
			return false
		}
		parsed, err := ecdsa.ParseDERSignature(sig)
		if err != nil {
			return false
		}
		digest := sha256Sum(msg)
		return parsed.Verify(digest[:], pk)
	default:
		return false
	}
}

// Sign produces a signature over msg with the given keypair, used by test
// helpers and the prover side of the protocol.
func Sign(kp KeyPair, msg []byte) ([]byte, error) {
	switch kp.Type {
	case KeyTypeEd25519:
		return ed25519.Sign(ed25519.PrivateKey(kp.Private), msg), nil
	case KeyTypeSecp256k1:
		priv := secp256k1.PrivKeyFromBytes(kp.Private)
		digest := sha256Sum(msg)
		sig := ecdsa.Sign(priv, digest[:])
		return sig.Serialize(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %q", ErrInvalidInput, kp.Type)
	}
}

// GenerateSecp256k1KeyPair creates a keypair for verification methods that
// declare Secp256k1VerificationKey.
func GenerateSecp256k1KeyPair() (KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: generate secp256k1 keypair: %v", ErrInternal, err)
	}
	return KeyPair{
		Type:    KeyTypeSecp256k1,
		Public:  priv.PubKey().SerializeCompressed(),
		Private: priv.Serialize(),
	}, nil
}
