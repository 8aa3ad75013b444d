package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// storedKey is the on-disk form of a verification-method keypair, kept
// under keys/<name> in the identity data directory.
type storedKey struct {
	Type    string `json:"type"`
	Public  []byte `json:"public"`
	Private []byte `json:"private"`
}

// LoadOrCreateNodeKey returns the node's long-term authentication keypair,
// generating and persisting a fresh Ed25519 pair on first start. The key
// file is written with owner-only permissions; callers that need
// at-rest encryption of key material wrap the data dir in an encrypted
// volume.
func LoadOrCreateNodeKey(dataDir, name string) (KeyPair, error) {
	dir := filepath.Join(dataDir, "keys")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return KeyPair{}, fmt.Errorf("%w: mkdir key dir: %v", ErrInternal, err)
	}
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	if err == nil {
		var sk storedKey
		if err := json.Unmarshal(data, &sk); err != nil {
			return KeyPair{}, fmt.Errorf("%w: corrupt key file %s: %v", ErrInternal, path, err)
		}
		return KeyPair{Type: sk.Type, Public: sk.Public, Private: sk.Private}, nil
	}
	if !os.IsNotExist(err) {
		return KeyPair{}, fmt.Errorf("%w: read key file %s: %v", ErrInternal, path, err)
	}

	kp, err := GenerateEd25519KeyPair()
	if err != nil {
		return KeyPair{}, err
	}
	data, err = json.Marshal(storedKey{Type: kp.Type, Public: kp.Public, Private: kp.Private})
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: marshal key file: %v", ErrInternal, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return KeyPair{}, fmt.Errorf("%w: write key file %s: %v", ErrInternal, path, err)
	}
	return kp, nil
}
