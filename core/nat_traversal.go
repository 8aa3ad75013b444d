package core

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/sirupsen/logrus"
)

// natLeaseDuration is the mapping lifetime requested from the gateway.
// Renew must be called again before it elapses or the mapping silently
// expires on the gateway side.
const natLeaseDuration = time.Hour

// natMapping records one externally-visible port mapping this node holds,
// so Renew and NeedsRenewal can reason about it without re-querying the gateway.
type natMapping struct {
	port     int
	openedAt int64
}

func (m natMapping) expiresAt() int64 { return m.openedAt + int64(natLeaseDuration.Seconds()) }

// NATManager opens an externally reachable path to this node's overlay
// listener via NAT-PMP or UPnP IGD, so peers outside the local NAT can dial
// it directly instead of every connection falling back to circuit relay.
// It is deliberately independent of TunnelManager: the overlay IPv6
// in a tunnel entry identifies a peer inside the virtual overlay, while the
// address this manager exposes is the real transport-layer address a dialer
// connects to first.
type NATManager struct {
	mu  sync.Mutex
	log *logrus.Logger

	externalIP net.IP
	pmp        *natpmp.Client
	upnp       *internetgateway1.WANIPConnection1

	mapping *natMapping
}

// NewNATManager probes the local gateway for NAT-PMP support first (cheaper,
// one UDP round trip) and falls back to UPnP IGDv1 discovery, matching the
// ladder overlay stacks conventionally use for this probe.
func NewNATManager(log *logrus.Logger) (*NATManager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &NATManager{log: log}

	if ip, client, err := discoverNATPMP(); err == nil {
		m.externalIP, m.pmp = ip, client
	} else {
		m.log.WithError(err).Debug("nat-pmp discovery unavailable, trying upnp")
	}

	if m.externalIP == nil {
		ip, client, err := discoverUPnP()
		if err != nil {
			return nil, fmt.Errorf("%w: no NAT gateway reachable via nat-pmp or upnp: %v", ErrNotFound, err)
		}
		m.externalIP, m.upnp = ip, client
	}
	return m, nil
}

func discoverNATPMP() (net.IP, *natpmp.Client, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, nil, err
	}
	client := natpmp.NewClient(gw)
	res, err := client.GetExternalAddress()
	if err != nil {
		return nil, nil, err
	}
	ip := res.ExternalIPAddress
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]), client, nil
}

func discoverUPnP() (net.IP, *internetgateway1.WANIPConnection1, error) {
	clients, _, err := internetgateway1.NewWANIPConnection1Clients()
	if err != nil {
		return nil, nil, err
	}
	if len(clients) == 0 {
		return nil, nil, fmt.Errorf("%w: no UPnP WANIPConnection1 device found", ErrNotFound)
	}
	client := clients[0]
	ipStr, err := client.GetExternalIPAddress()
	if err != nil {
		return nil, nil, err
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, nil, fmt.Errorf("%w: gateway returned unparseable external address %q", ErrInternal, ipStr)
	}
	return ip, client, nil
}

// ExternalAddress returns this node's externally visible address, for
// publishing a direct-dial hint alongside the DID's tunnel service
// endpoint so peers can attempt a NAT-mapped connection ahead of relay.
func (m *NATManager) ExternalAddress() net.IP {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.externalIP
}

// MapTunnelPort opens an external mapping onto port, the local TCP port the
// overlay transport's libp2p host is listening on.
// NAT-PMP is tried first when available since it carries its own lease TTL
// acknowledgement; UPnP is the fallback.
func (m *NATManager) MapTunnelPort(port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", port, port, int(natLeaseDuration.Seconds())); err == nil {
			m.mapping = &natMapping{port: port, openedAt: now()}
			m.log.WithField("port", port).Info("nat-pmp mapping opened")
			return nil
		}
	}
	if m.upnp != nil {
		local, err := gateway.DiscoverInterface()
		if err != nil {
			return fmt.Errorf("%w: discover gateway-facing interface: %v", ErrInternal, err)
		}
		desc := "icn-overlay-tunnel"
		leaseSeconds := uint32(natLeaseDuration.Seconds())
		if err := m.upnp.AddPortMapping("", uint16(port), "TCP", uint16(port), local.String(), true, desc, leaseSeconds); err == nil {
			m.mapping = &natMapping{port: port, openedAt: now()}
			m.log.WithField("port", port).Info("upnp mapping opened")
			return nil
		}
	}
	return fmt.Errorf("%w: no gateway accepted a mapping for port %d", ErrInternal, port)
}

// NeedsRenewal reports whether the current mapping's lease is within one
// renewal window of expiring, or there is no mapping at all.
func (m *NATManager) NeedsRenewal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapping == nil {
		return true
	}
	return now() >= m.mapping.expiresAt()-int64(natLeaseDuration.Seconds()/4)
}

// Renew re-requests the existing mapping's lease, keeping this node
// externally reachable across the gateway's lease TTL without a caller
// having to track expiry directly (mirrors TunnelManager.Touch's
// keep-alive shape for a different resource).
func (m *NATManager) Renew() error {
	m.mu.Lock()
	mapping := m.mapping
	m.mu.Unlock()
	if mapping == nil {
		return fmt.Errorf("%w: no active nat mapping to renew", ErrInvalidInput)
	}
	return m.MapTunnelPort(mapping.port)
}

// ReleaseTunnelPort removes the active mapping, if any, so the external
// port frees up immediately on a clean shutdown rather than waiting out the
// gateway's lease TTL.
func (m *NATManager) ReleaseTunnelPort() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapping == nil {
		return nil
	}
	port := m.mapping.port
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", port, port, 0); err != nil {
			return fmt.Errorf("%w: release nat-pmp mapping: %v", ErrInternal, err)
		}
	} else if m.upnp != nil {
		if err := m.upnp.DeletePortMapping("", uint16(port), "TCP"); err != nil {
			return fmt.Errorf("%w: release upnp mapping: %v", ErrInternal, err)
		}
	}
	m.mapping = nil
	return nil
}

// tcpPortFromMultiaddr extracts the TCP port from a libp2p-style
// multiaddress ("/ip4/0.0.0.0/tcp/4001") so the caller can hand NAT
// mapping the same port the host actually bound.
func tcpPortFromMultiaddr(addr string) (int, error) {
	parts := strings.Split(addr, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "tcp" {
			return strconv.Atoi(parts[i+1])
		}
	}
	return 0, fmt.Errorf("%w: no tcp component in multiaddr %q", ErrInvalidInput, addr)
}
