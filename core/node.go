package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ICNNode is the top-level handle assembling all four cores in dependency
// order: Identity first since Transport's
// peer authentication and Ledger's account-owner liveness checks both
// depend on it, then Transport, then Ledger and Storage which both call
// back into Identity and Transport per the inter-core contracts. Named
// distinctly from network.go's `Node` (the Overlay Transport Core's own
// libp2p handle), which this type owns one of as `Transport`.
type ICNNode struct {
	Identity   *IdentityManager
	Transport  *Node
	Ledger     *Ledger
	Storage    *Storage
	Gateway    *Gateway
	Governance *GovernanceBook

	selfDID DID
	log     *logrus.Logger
}

// NewICNNode assembles the four cores in fixed order, wiring each core's
// declared inter-core dependency rather than letting cores reach for
// globals.
func NewICNNode(ctx context.Context, cfg NodeConfig, authKey KeyPair, keyAgreementKey *KeyPair) (*ICNNode, error) {
	didStore, err := NewDIDStore(cfg.Identity.DataDir, cfg.Identity.CacheSize, cfg.Identity.CacheTTL)
	if err != nil {
		return nil, err
	}
	// Identity resolution needs a DHT before Transport exists to create its
	// own; a small standalone Kademlia bootstraps that chicken-and-egg
	// ordering and is superseded once Transport's own DHT joins the mesh.
	bootstrapDHT := NewKademlia(NodeID(cfg.Entity))
	identity := NewIdentityManager(cfg.Identity, didStore, bootstrapDHT, nil)

	selfDID, _, err := identity.CreateDID(ctx, cfg.Cooperative, cfg.Entity, authKey, keyAgreementKey, nil, nil)
	if errors.Is(err, ErrConflict) {
		// Restart of an existing node: the DID and its document are already
		// in the local store.
		selfDID, err = BuildDID(cfg.Cooperative, cfg.Entity)
	}
	if err != nil {
		return nil, fmt.Errorf("create node identity: %w", err)
	}

	transport, err := NewNode(cfg.Transport, selfDID, identity)
	if err != nil {
		return nil, fmt.Errorf("assemble transport core: %w", err)
	}
	if err := publishTunnelEndpoint(ctx, identity, transport, selfDID); err != nil {
		return nil, fmt.Errorf("publish tunnel endpoint: %w", err)
	}

	ledger, err := OpenLedger(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open ledger core: %w", err)
	}

	policies := NewPolicyBook()
	enc := NewFederationEncryptor()
	objectStore, err := NewObjectStore(cfg.Storage.DataDir, cfg.Storage.DiskCacheBytes, policies, enc)
	if err != nil {
		return nil, fmt.Errorf("assemble storage core: %w", err)
	}
	revocation := NewRevocationList(nil)
	credVerifier := NewCredentialVerifier(identity, revocation)
	accessRules := NewAccessRuleBook(policies, identity, credVerifier)
	storage := NewStorage(objectStore, accessRules)
	replicator := NewReplicator(transport, objectStore, policies)
	storage.SetReplicator(replicator)
	if err := replicator.Serve(); err != nil {
		return nil, fmt.Errorf("start replication listener: %w", err)
	}

	governance := NewGovernanceBook(policies, func(string) int { return 1 })
	gateway := NewGateway(storage, ledger)

	n := &ICNNode{
		Identity:   identity,
		Transport:  transport,
		Ledger:     ledger,
		Storage:    storage,
		Gateway:    gateway,
		Governance: governance,
		selfDID:    selfDID,
		log:        logrus.StandardLogger(),
	}
	n.log.WithField("did", selfDID).Info("node assembled")
	return n, nil
}

// publishTunnelEndpoint writes (or refreshes) the node's tunnel service
// endpoint on its own DID Document so peers can derive the tunnel table
// entry for it.
func publishTunnelEndpoint(ctx context.Context, identity *IdentityManager, transport *Node, selfDID DID) error {
	value, err := transport.Tunnels.ServiceEndpointValue(selfDID)
	if err != nil {
		return err
	}
	doc, _, err := identity.Resolve(ctx, selfDID)
	if err != nil {
		return err
	}
	updated := *doc
	updated.Services = nil
	for _, s := range doc.Services {
		if s.Type != TunnelServiceType {
			updated.Services = append(updated.Services, s)
		}
	}
	updated.Services = append(updated.Services, ServiceEndpoint{
		ID: "#tunnel", Type: TunnelServiceType, Endpoint: value,
	})
	_, err = identity.Update(ctx, selfDID, &updated)
	return err
}

// Run blocks until ctx is cancelled, driving the periodic work that spans
// cores — circular clearing and ledger snapshots on the configured
// interval — alongside the Transport core's own maintenance loop.
func (n *ICNNode) Run(ctx context.Context) {
	interval := n.Ledger.cfg.ClearingInterval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cleared := n.Ledger.Clear(); len(cleared) > 0 {
					n.log.WithField("cycles", len(cleared)).Info("periodic clearing netted cycles")
				}
				n.Ledger.MaybeSnapshot()
			}
		}
	}()
	n.Transport.ListenAndServe()
}

// Close shuts down every core in reverse dependency order.
func (n *ICNNode) Close() error {
	if err := n.Ledger.Close(); err != nil {
		return err
	}
	if err := n.Transport.Close(); err != nil {
		return err
	}
	return n.Identity.store.Close()
}
