package core

import "time"

// IdentityConfig configures the Identity & Credential Core. Populated by
// the CLI collaborator; core never reads environment variables.
type IdentityConfig struct {
	DataDir         string
	CacheSize       int
	CacheTTL        time.Duration
	FallbackEnabled bool
}

// TransportConfig configures the Overlay Transport Core.
type TransportConfig struct {
	DataDir              string
	ListenAddrs          []string
	BootstrapPeers       []string
	TunnelPrefix         string // /64 IPv6 prefix, e.g. "fd00:1234::/64"
	RelayRole            RelayRole
	MaxCircuitsPerServer int
	MaxCircuitDuration   time.Duration
	QueueCapacity        int
	SchedulerMode        SchedulerMode
	ReputationConfig     ReputationConfig
	DialTimeout          time.Duration
	NameResolveTimeout   time.Duration
	AuthChallengeTimeout time.Duration
}

// LedgerConfig configures the Mutual-Credit Ledger Core.
type LedgerConfig struct {
	DataDir          string
	SnapshotInterval time.Duration
	ClearingInterval time.Duration
	MaxPathHops      int
	RangeProofBits   int
}

// StorageConfig configures the Governance-Controlled Storage Core.
type StorageConfig struct {
	DataDir         string
	DiskCacheBytes  int64
	RetentionPeriod time.Duration
}

// NodeConfig aggregates the four core configs plus identity for the node
// being constructed.
type NodeConfig struct {
	Cooperative string
	Entity      string
	Identity    IdentityConfig
	Transport   TransportConfig
	Ledger      LedgerConfig
	Storage     StorageConfig
}
