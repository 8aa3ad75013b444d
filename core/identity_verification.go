package core

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// IdentityManager mints and resolves DIDs. It is constructed once per node
// and passed explicitly to every collaborator that needs it; there is no
// package-level singleton.
type IdentityManager struct {
	store    *DIDStore
	dht      DHT
	fallback Fallback
	cfg      IdentityConfig
	log      *logrus.Logger
}

// NewIdentityManager assembles an IdentityManager from its collaborators.
func NewIdentityManager(cfg IdentityConfig, store *DIDStore, dht DHT, fallback Fallback) *IdentityManager {
	if fallback == nil {
		fallback = newMemFallback()
	}
	return &IdentityManager{store: store, dht: dht, fallback: fallback, cfg: cfg, log: logrus.StandardLogger()}
}

// CreateDID mints a new DID and its initial document. Fails Conflict if a document already exists locally.
func (im *IdentityManager) CreateDID(ctx context.Context, coop, entity string, authKey KeyPair, keyAgreementKey *KeyPair, controllers []DID, services []ServiceEndpoint) (DID, *DIDDocument, error) {
	did, err := BuildDID(coop, entity)
	if err != nil {
		return "", nil, err
	}
	if _, ok := im.store.Get(did); ok {
		return "", nil, fmt.Errorf("%w: did %s already exists", ErrConflict, did)
	}
	doc, err := NewDIDDocument(did, controllers, authKey, keyAgreementKey, services)
	if err != nil {
		return "", nil, err
	}
	if err := im.publish(ctx, doc); err != nil {
		return "", nil, err
	}
	im.log.WithField("did", did).Info("did created")
	return did, doc, nil
}

// publish writes the document to local storage, the DHT, and (if enabled)
// the fallback oracle.
func (im *IdentityManager) publish(ctx context.Context, doc *DIDDocument) error {
	if err := im.store.Put(doc); err != nil {
		return err
	}
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	if im.dht != nil {
		im.dht.Put(didDHTKey(doc.ID), raw)
	}
	if im.cfg.FallbackEnabled && im.fallback != nil {
		if err := im.fallback.Put(didDHTKey(doc.ID), raw); err != nil {
			im.log.WithError(err).Warn("fallback publish failed")
		}
	}
	return nil
}

func didDHTKey(did DID) string { return "did:" + string(did) }

// Resolve looks up a DID following the fixed chain cache → local store →
// DHT → fallback. Returns NotFound only
// when every layer misses.
func (im *IdentityManager) Resolve(ctx context.Context, did DID) (*DIDDocument, SourceTag, error) {
	if doc, ok := im.store.Cached(did); ok {
		return doc, SourceCache, nil
	}
	if doc, ok := im.store.Get(did); ok {
		return doc, SourceLocal, nil
	}
	if im.dht != nil {
		if raw, ok := im.dht.Get(didDHTKey(did)); ok {
			doc, err := decodeDoc(raw)
			if err == nil {
				_ = im.store.Put(doc)
				return doc, SourceDHT, nil
			}
		}
	}
	if im.cfg.FallbackEnabled && im.fallback != nil {
		if raw, ok, err := im.fallback.Get(didDHTKey(did)); err == nil && ok {
			doc, err := decodeDoc(raw)
			if err == nil {
				_ = im.store.Put(doc)
				if im.dht != nil {
					im.dht.Put(didDHTKey(did), raw)
				}
				return doc, SourceFallback, nil
			}
		}
	}
	return nil, "", fmt.Errorf("%w: did %s", ErrNotFound, did)
}

// Update applies a controller-authored change to a DID Document. callerDID must be a controller of the existing document; the
// new document must keep the same id and retain at least one
// authentication method.
func (im *IdentityManager) Update(ctx context.Context, callerDID DID, newDoc *DIDDocument) (*DIDDocument, error) {
	current, ok := im.store.Get(newDoc.ID)
	if !ok {
		return nil, fmt.Errorf("%w: did %s", ErrNotFound, newDoc.ID)
	}
	if !current.isController(callerDID) {
		return nil, fmt.Errorf("%w: %s is not a controller of %s", ErrUnauthorized, callerDID, newDoc.ID)
	}
	if newDoc.ID != current.ID {
		return nil, fmt.Errorf("%w: update must preserve document id", ErrInvalidInput)
	}
	if !newDoc.hasAuthenticationMethod() {
		return nil, fmt.Errorf("%w: update would remove all authentication methods", ErrInvalidInput)
	}
	updated := *newDoc
	updated.Version = current.Version + 1
	updated.Created = current.Created
	updated.Updated = now()
	if err := updated.validate(); err != nil {
		return nil, err
	}
	if err := im.publish(ctx, &updated); err != nil {
		return nil, err
	}
	im.log.WithField("did", updated.ID).WithField("version", updated.Version).Info("did document updated")
	return &updated, nil
}

// GetMember resolves a DID's verification methods, used by Storage's
// credential-attribute evaluation and the Transport peer-id check.
func (im *IdentityManager) GetMember(ctx context.Context, did DID) (*DIDDocument, error) {
	doc, _, err := im.Resolve(ctx, did)
	return doc, err
}
