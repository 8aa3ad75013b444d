package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"icn-node/pkg/wire"
)

// Node is the Overlay Transport Core's assembled runtime: a libp2p host for
// the data plane, GossipSub for the Gossip message type, mDNS for local
// discovery, plus the reputation table, priority scheduler, DHT, relay
// manager, and tunnel manager the overlay layers on top.
type Node struct {
	host      libp2pHost
	pubsub    *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.Mutex
	subLock   sync.Mutex

	cfg  TransportConfig
	self NodeID

	Reputation *PeerTable
	Scheduler  *Scheduler
	DHT        *Kademlia
	Relay      *RelayManager
	Tunnels    *TunnelManager
	Names      *NameResolver
	nat        *NATManager

	identity *IdentityManager

	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Logger
}

// libp2pHost is the subset of host.Host this package depends on; narrowed
// to ease testing without a real libp2p stack.
type libp2pHost interface {
	ID() peer.ID
	Connect(ctx context.Context, pi peer.AddrInfo) error
	Close() error
}

// NewNode constructs and bootstraps an overlay transport node bound to
// selfDID's identity. A fresh tunnel keypair is generated on every call
// (it is not persisted), and the DID's tunnel service endpoint is expected to already be published by
// the caller via identity.Update (node.go's assembly wires this).
func NewNode(cfg TransportConfig, selfDID DID, identity *IdentityManager) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	listenAddr := "/ip4/0.0.0.0/tcp/4001"
	if len(cfg.ListenAddrs) > 0 && cfg.ListenAddrs[0] != "" {
		listenAddr = cfg.ListenAddrs[0]
	}
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: create libp2p host: %v", ErrInternal, err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("%w: create gossipsub: %v", ErrInternal, err)
	}

	repCfg := cfg.ReputationConfig
	if repCfg.Max == 0 && repCfg.Min == 0 {
		repCfg = DefaultReputationConfig()
	}
	reputation := NewPeerTable(repCfg)
	_ = reputation.LoadCheckpoint()

	tunnelKP, err := GenerateTunnelKeyPair()
	if err != nil {
		h.Close()
		cancel()
		return nil, err
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		cfg:    cfg,
		self:   NodeID(h.ID().String()),

		Reputation: reputation,
		Scheduler:  NewScheduler(cfg.SchedulerMode, cfg.QueueCapacity, 1, 50, reputation),
		DHT:        NewKademlia(NodeID(h.ID().String())),
		Relay:      NewRelayManager(cfg.RelayRole, cfg.MaxCircuitsPerServer, cfg.MaxCircuitDuration),
		Tunnels:    NewTunnelManager(tunnelKP, cfg.TunnelPrefix, 30*time.Minute),
		identity:   identity,

		ctx: ctx, cancel: cancel,
		log: logrus.StandardLogger(),
	}
	n.Names = NewNameResolver(1024, n.DHT, nil, true)
	n.Scheduler.OnOverflow(func(sender NodeID) { n.Reputation.Record(sender, EventQueueOverflow) })

	if natMgr, err := NewNATManager(n.log); err == nil {
		if port, err := tcpPortFromMultiaddr(listenAddr); err == nil {
			if err := natMgr.MapTunnelPort(port); err != nil {
				n.log.Warnf("nat map failed: %v", err)
			}
		}
		n.nat = natMgr
	} else {
		n.log.Warnf("nat discovery failed: %v", err)
	}

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		n.log.Warnf("dial seed: %v", err)
	}

	// mDNS discovery automatically registers n as a notifee.
	mdns.NewMdnsService(h, "icn-overlay", n)

	return n, nil
}

// HandlePeerFound implements mdns.Notifee: connect to discovered peers
// not already known, skipping banned peers.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	id := NodeID(info.ID.String())
	if n.Reputation.IsBanned(id) {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		n.log.Warnf("mdns connect %s: %v", id, err)
		return
	}
	n.Reputation.Record(id, EventConnectionEstablished)
	n.DHT.AddPeer(id)
}

var _ mdns.Notifee = (*Node)(nil)

// DialSeed connects to bootstrap peers, refusing banned ones.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		id := NodeID(pi.ID.String())
		if n.Reputation.IsBanned(id) {
			errs = append(errs, fmt.Sprintf("%s: %v", addr, ErrBanned))
			continue
		}
		dctx, cancel := context.WithTimeout(n.ctx, n.cfg.dialTimeoutOrDefault())
		err = n.host.Connect(dctx, *pi)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.Reputation.Record(id, EventConnectionEstablished)
		n.DHT.AddPeer(id)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Connect attempts a direct dial first and falls back to relayed
// circuits, refusing banned peers outright.
func (n *Node) Connect(peerID NodeID, addr string) error {
	if n.Reputation.IsBanned(peerID) {
		return ErrBanned
	}
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	dialer := directDialerFunc(func(NodeID) error {
		dctx, cancel := context.WithTimeout(n.ctx, n.cfg.dialTimeoutOrDefault())
		defer cancel()
		return n.host.Connect(dctx, *pi)
	})
	circuit, err := n.Relay.Connect(dialer, peerID)
	if err != nil {
		n.Reputation.Record(peerID, EventConnectionLost)
		return err
	}
	if circuit != nil {
		n.log.WithField("circuit", circuit.ID).Info("connected via relay")
	}
	n.Reputation.Record(peerID, EventConnectionEstablished)
	n.DHT.AddPeer(peerID)
	return nil
}

type directDialerFunc func(NodeID) error

func (f directDialerFunc) DialDirect(id NodeID) error { return f(id) }

// AuthenticatePeer gates higher-layer traffic: before any is accepted
// over a transport connection, the two endpoints complete a
// DID-authentication exchange, and the verifier additionally asserts
// that the authenticated DID's published tunnel service endpoint resolves
// to the same transport peer identifier the connection arrived on.
// Mismatch fails closed with ErrPeerIDMismatch rather than silently
// trusting the transport-layer identity.
func (n *Node) AuthenticatePeer(ctx context.Context, verifier *ChallengeVerifier, transportPeerID NodeID, c *Challenge, keyID string, sig []byte, presentedCredentials []string) (*AuthToken, error) {
	tok, err := verifier.VerifyResponse(ctx, c, keyID, sig, presentedCredentials)
	if err != nil {
		return nil, err
	}
	tunnel, err := n.Tunnels.Configure(ctx, n.identity, c.DID)
	if err != nil {
		return nil, err
	}
	expectedID := tunnelPeerID(tunnel)
	if expectedID != "" && expectedID != transportPeerID {
		n.Reputation.Record(transportPeerID, EventInvalidMessage)
		return nil, fmt.Errorf("%w: did %s tunnel endpoint does not match transport peer %s", ErrPeerIDMismatch, c.DID, transportPeerID)
	}
	n.Reputation.Record(transportPeerID, EventVerifiedMessage)
	return tok, nil
}

// tunnelPeerID derives the transport peer identifier a tunnel entry should
// correspond to. The overlay IPv6 address is deterministically derived
// from the DID (tunnel.go's OverlayIPv6), so its full string form serves
// as the expected peer identity for nodes that publish no separate peer-id claim.
func tunnelPeerID(t *Tunnel) NodeID {
	if t == nil || t.PeerOverlayIPv6 == nil {
		return ""
	}
	return NodeID(t.PeerOverlayIPv6.String())
}

// Admit decodes a raw wire frame received from sender and, if the sender
// is neither banned nor over its per-peer rate limit, enqueues it on the
// priority scheduler for dispatch. Rate-limiting happens ahead of
// scheduling, so a peer flooding the connection is shed before it
// can even contend for queue priority.
func (n *Node) Admit(wf *wire.Frame) error {
	sender := NodeID(wf.SenderID)
	if n.Reputation.IsBanned(sender) {
		return ErrBanned
	}
	if !n.Reputation.Allow(sender) {
		n.Reputation.Record(sender, EventQueueOverflow)
		return fmt.Errorf("%w: %s exceeded inbound rate", ErrQueueOverflow, sender)
	}
	f, err := DecodeFrame(wf)
	if err != nil {
		n.Reputation.Record(sender, EventInvalidMessage)
		return err
	}
	n.Scheduler.Enqueue(InboundMessage{Type: f.Type, Sender: sender, Frame: f})
	return nil
}

// Broadcast publishes data on a GossipSub topic, lazily joining it.
func (n *Node) Broadcast(topic string, data []byte) error {
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return fmt.Errorf("%w: join topic %s: %v", ErrInternal, topic, err)
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()
	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("%w: publish topic %s: %v", ErrInternal, topic, err)
	}
	return nil
}

// PubsubMessage is a received Gossip message.
type PubsubMessage struct {
	From  NodeID
	Topic string
	Data  []byte
}

// Subscribe returns a channel of messages received on topic.
func (n *Node) Subscribe(topic string) (<-chan PubsubMessage, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		var err error
		sub, err = n.pubsub.Subscribe(topic)
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("%w: subscribe topic %s: %v", ErrInternal, topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()
	out := make(chan PubsubMessage)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			select {
			case out <- PubsubMessage{From: NodeID(msg.GetFrom().String()), Topic: topic, Data: msg.Data}:
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListenAndServe blocks until the node's context is cancelled, running
// periodic maintenance (reputation decay/checkpoint, tunnel reaping).
func (n *Node) ListenAndServe() {
	decayTicker := time.NewTicker(n.cfg.ReputationConfig.decayOrDefault())
	defer decayTicker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			n.log.Info("overlay transport node shutting down")
			return
		case <-decayTicker.C:
			n.Reputation.Decay()
			_ = n.Reputation.Checkpoint()
			n.Tunnels.ReapIdle()
			if n.nat != nil && n.nat.NeedsRenewal() {
				if err := n.nat.Renew(); err != nil {
					n.log.Warnf("nat lease renewal failed: %v", err)
				}
			}
		}
	}
}

func (c ReputationConfig) decayOrDefault() time.Duration {
	if c.DecayInterval <= 0 {
		return time.Hour
	}
	return c.DecayInterval
}

func (c TransportConfig) dialTimeoutOrDefault() time.Duration {
	if c.DialTimeout <= 0 {
		return 30 * time.Second
	}
	return c.DialTimeout
}

// Peers returns the currently known peer set.
func (n *Node) Peers() []Peer { return n.Reputation.Snapshot() }

// Close drains in-flight work and tears down the host.
func (n *Node) Close() error {
	n.cancel()
	_ = n.Reputation.Checkpoint()
	if n.nat != nil {
		_ = n.nat.ReleaseTunnelPort()
	}
	return n.host.Close()
}
