package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// nameRe validates `<service>.<coop>.icn` using the shared id grammar for
// the first two labels.
var nameRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)\.([A-Za-z][A-Za-z0-9_-]*)\.icn$`)

// ParseName splits a name into its service and cooperative segments.
func ParseName(name string) (service, coop string, err error) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return "", "", fmt.Errorf("%w: malformed name %q", ErrInvalidInput, name)
	}
	return m[1], m[2], nil
}

// NameAddress is one transport address a name record advertises.
type NameAddress struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Port      int    `json:"port,omitempty"`
	Transport string `json:"transport,omitempty"`
	Priority  int    `json:"priority"`
}

// NameRecord binds a service name to a DID plus its known addresses.
type NameRecord struct {
	Name      string        `json:"name"`
	DID       DID           `json:"did"`
	Addresses []NameAddress `json:"addresses"`
	ExpiresAt int64         `json:"expires_at"`
	Source    SourceTag     `json:"source"`
}

func (r *NameRecord) expired() bool { return now() >= r.ExpiresAt }

// NameResolver implements the resolution chain local cache → DHT →
// authoritative fallback, rejecting any record whose
// bound DID's cooperative segment doesn't match the name.
type NameResolver struct {
	cache     *lru.LRU[string, *NameRecord]
	dht       DHT
	fallback  Fallback
	fbEnabled bool
}

func NewNameResolver(cacheSize int, dht DHT, fallback Fallback, fallbackEnabled bool) *NameResolver {
	if fallback == nil {
		fallback = newMemFallback()
	}
	return &NameResolver{
		cache:     lru.NewLRU[string, *NameRecord](cacheSize, nil, 0), // per-entry TTL handled manually via ExpiresAt
		dht:       dht,
		fallback:  fallback,
		fbEnabled: fallbackEnabled,
	}
}

func nameDHTKey(name string) string { return "name:" + name }

// Register publishes a name record to the DHT (and fallback, if enabled).
func (r *NameResolver) Register(rec *NameRecord) error {
	service, coop, err := ParseName(rec.Name)
	if err != nil {
		return err
	}
	_ = service
	if rec.DID.Cooperative() != coop {
		return fmt.Errorf("%w: name coop %q does not match bound did %q", ErrInvalidInput, coop, rec.DID)
	}
	raw, err := encodeName(rec)
	if err != nil {
		return err
	}
	r.cache.Add(rec.Name, rec)
	if r.dht != nil {
		r.dht.Put(nameDHTKey(rec.Name), raw)
	}
	if r.fbEnabled {
		if err := r.fallback.Put(nameDHTKey(rec.Name), raw); err != nil {
			return fmt.Errorf("%w: fallback publish: %v", ErrInternal, err)
		}
	}
	return nil
}

// Resolve runs the three-layer lookup. A cache/DHT/fallback hit
// whose record has expired is treated as a miss and the chain continues.
// On a DHT or fallback hit, earlier layers are repopulated with the
// record's original expiration, not a fresh one.
func (r *NameResolver) Resolve(name string) (*NameRecord, error) {
	_, coop, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	if rec, ok := r.cache.Get(name); ok && !rec.expired() {
		rec.Source = SourceCache
		return rec, nil
	}
	if r.dht != nil {
		if raw, ok := r.dht.Get(nameDHTKey(name)); ok {
			rec, err := decodeName(raw)
			if err == nil && !rec.expired() && rec.DID.Cooperative() == coop {
				rec.Source = SourceDHT
				r.cache.Add(name, rec)
				return rec, nil
			}
		}
	}
	if r.fbEnabled {
		if raw, ok, err := r.fallback.Get(nameDHTKey(name)); err == nil && ok {
			rec, err := decodeName(raw)
			if err == nil && !rec.expired() && rec.DID.Cooperative() == coop {
				rec.Source = SourceFallback
				r.cache.Add(name, rec)
				if r.dht != nil {
					r.dht.Put(nameDHTKey(name), raw)
				}
				return rec, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: name %s", ErrNotFound, name)
}

func encodeName(rec *NameRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode name record: %v", ErrInternal, err)
	}
	return b, nil
}

func decodeName(raw []byte) (*NameRecord, error) {
	var rec NameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode name record: %v", ErrInternal, err)
	}
	return &rec, nil
}

// NewNameExpiry is a convenience for registering records with a relative
// TTL, matching how DID records are stamped elsewhere in the core.
func NewNameExpiry(ttl time.Duration) int64 { return now() + int64(ttl.Seconds()) }
