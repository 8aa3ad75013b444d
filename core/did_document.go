package core

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// VerificationMethod key types supported by a DID Document.
const (
	KeyTypeEd25519   = "Ed25519VerificationKey2020"
	KeyTypeSecp256k1 = "Secp256k1VerificationKey2019"
)

// VerificationMethod binds a key to a fragment id on a DID Document.
type VerificationMethod struct {
	ID        string `json:"id"` // e.g. "#keys-1"
	Type      string `json:"type"`
	PublicKey []byte `json:"public_key"`
}

// ServiceEndpoint advertises a capability (e.g. the overlay tunnel) at a
// DID Document.
type ServiceEndpoint struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
}

// DIDDocument is the resolvable record describing a DID's controllers,
// keys, and services. Version history is retained; each successful Update
// increments Version and is stored alongside prior versions.
type DIDDocument struct {
	ID                  DID                  `json:"id"`
	Controllers         []DID                `json:"controllers"`
	VerificationMethods []VerificationMethod `json:"verification_methods"`
	Authentication      []string             `json:"authentication"`
	AssertionMethod     []string             `json:"assertion_method"`
	KeyAgreement        []string             `json:"key_agreement"`
	Services            []ServiceEndpoint    `json:"services"`
	Version             uint64               `json:"version"`
	Created             int64                `json:"created"`
	Updated             int64                `json:"updated"`
}

// methodByID finds a verification method by its fragment id.
func (d *DIDDocument) methodByID(id string) (*VerificationMethod, bool) {
	for i := range d.VerificationMethods {
		if d.VerificationMethods[i].ID == id {
			return &d.VerificationMethods[i], true
		}
	}
	return nil, false
}

// hasAuthenticationMethod reports whether at least one authentication
// reference resolves to a listed verification method.
func (d *DIDDocument) hasAuthenticationMethod() bool {
	for _, ref := range d.Authentication {
		if _, ok := d.methodByID(ref); ok {
			return true
		}
	}
	return false
}

// validate checks the DID Document invariants: id set, every
// reference resolves, at least one authentication method.
func (d *DIDDocument) validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: document missing id", ErrInvalidInput)
	}
	for _, ref := range append(append(append([]string{}, d.Authentication...), d.AssertionMethod...), d.KeyAgreement...) {
		if _, ok := d.methodByID(ref); !ok {
			return fmt.Errorf("%w: dangling verification method reference %q", ErrInvalidInput, ref)
		}
	}
	if !d.hasAuthenticationMethod() {
		return fmt.Errorf("%w: document has no authentication method", ErrInvalidInput)
	}
	return nil
}

// KeyPair is a generated signing keypair for a verification method.
type KeyPair struct {
	Type    string
	Public  []byte
	Private []byte
}

// GenerateEd25519KeyPair creates a fresh Ed25519 keypair for a new
// verification method.
func GenerateEd25519KeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: generate ed25519 keypair: %v", ErrInternal, err)
	}
	return KeyPair{Type: KeyTypeEd25519, Public: []byte(pub), Private: []byte(priv)}, nil
}

// NewDIDDocument builds the initial document for a freshly minted DID: one
// authentication method (#keys-1) and, if keyAgreement is non-nil, a
// second method (#keys-2) referenced only from KeyAgreement.
func NewDIDDocument(id DID, controllers []DID, authKey KeyPair, keyAgreementKey *KeyPair, services []ServiceEndpoint) (*DIDDocument, error) {
	doc := &DIDDocument{
		ID:          id,
		Controllers: controllers,
		VerificationMethods: []VerificationMethod{
			{ID: "#keys-1", Type: authKey.Type, PublicKey: authKey.Public},
		},
		Authentication:  []string{"#keys-1"},
		AssertionMethod: []string{"#keys-1"},
		Services:        services,
		Version:         1,
		Created:         now(),
		Updated:         now(),
	}
	if len(controllers) == 0 {
		doc.Controllers = []DID{id}
	}
	if keyAgreementKey != nil {
		doc.VerificationMethods = append(doc.VerificationMethods, VerificationMethod{
			ID: "#keys-2", Type: keyAgreementKey.Type, PublicKey: keyAgreementKey.Public,
		})
		doc.KeyAgreement = []string{"#keys-2"}
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// isController reports whether did appears in the document's controller set.
func (d *DIDDocument) isController(did DID) bool {
	for _, c := range d.Controllers {
		if c == did {
			return true
		}
	}
	return false
}

func newID() string { return uuid.NewString() }

// encodeDoc/decodeDoc serialize a document for DHT/fallback transport.
func encodeDoc(doc *DIDDocument) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode did document: %v", ErrInternal, err)
	}
	return b, nil
}

func decodeDoc(raw []byte) (*DIDDocument, error) {
	var doc DIDDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode did document: %v", ErrInternal, err)
	}
	return &doc, nil
}
