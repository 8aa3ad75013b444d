package core

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// FederationEncryptor provides the symmetric authenticated encryption
// backing at-rest object storage: one key per federation.
// Each federation gets its own key, generated on first use (or installed
// with SetKey) and held only in memory; keys are not persisted, so a new
// encryptor starts with none.
type FederationEncryptor struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func NewFederationEncryptor() *FederationEncryptor {
	return &FederationEncryptor{keys: make(map[string][]byte)}
}

func (e *FederationEncryptor) keyFor(federation string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if k, ok := e.keys[federation]; ok {
		return k, nil
	}
	k := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return nil, fmt.Errorf("%w: generate federation key: %v", ErrInternal, err)
	}
	e.keys[federation] = k
	return k, nil
}

// SetKey installs an externally-provisioned federation key, e.g. one
// distributed out of band by federation governance.
func (e *FederationEncryptor) SetKey(federation string, key []byte) error {
	if len(key) != chacha20poly1305.KeySize {
		return fmt.Errorf("%w: federation key must be %d bytes", ErrInvalidInput, chacha20poly1305.KeySize)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys[federation] = append([]byte(nil), key...)
	return nil
}

// Encrypt seals plaintext under the federation's key, prefixing the
// nonce so Decrypt is self-contained.
func (e *FederationEncryptor) Encrypt(federation string, plaintext []byte) ([]byte, error) {
	key, err := e.keyFor(federation)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: init aead: %v", ErrInternal, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", ErrInternal, err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (e *FederationEncryptor) Decrypt(federation string, ciphertext []byte) ([]byte, error) {
	key, err := e.keyFor(federation)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: init aead: %v", ErrInternal, err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrInvalidInput)
	}
	nonce, ct := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt payload: %v", ErrInvalidInput, err)
	}
	return plain, nil
}
