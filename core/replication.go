package core

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ReplicationTopic is the gossip topic object replicas travel on.
const ReplicationTopic = "icn/storage/replicate"

// Replicator pushes newly written object versions to federation peers and
// ingests replicas they push back, honoring the active Replication policy:
// keys whose replica target is 1 stay local and are never broadcast.
type Replicator struct {
	node     *Node
	objects  *ObjectStore
	policies *PolicyBook
	log      *logrus.Logger
}

func NewReplicator(node *Node, objects *ObjectStore, policies *PolicyBook) *Replicator {
	return &Replicator{node: node, objects: objects, policies: policies, log: logrus.StandardLogger()}
}

// Replicate broadcasts one stored version's ciphertext if the federation's
// Replication policy asks for more than one copy. The payload carries
// ciphertext (or plaintext for unencrypted objects) exactly as stored;
// receiving nodes never re-encrypt.
func (r *Replicator) Replicate(federation, key string, version *ObjectVersion) error {
	if r.policies.ReplicasFor(federation, key) <= 1 {
		return nil
	}
	payload, err := r.objects.RawVersion(federation, key, version.ID)
	if err != nil {
		return err
	}
	msg := StorageReplicatePayload{
		Federation: federation, Key: key, VersionID: version.ID, Ciphertext: payload,
	}
	body, err := json.Marshal(struct {
		StorageReplicatePayload
		Author    DID   `json:"author"`
		CreatedAt int64 `json:"created_at"`
		Size      int64 `json:"size"`
		Encrypted bool  `json:"encrypted"`
	}{msg, version.Author, version.CreatedAt, version.Size, version.Encrypted})
	if err != nil {
		return fmt.Errorf("%w: marshal replica: %v", ErrInternal, err)
	}
	if err := r.node.Broadcast(ReplicationTopic, body); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"federation": federation, "key": key, "version": version.ID}).Info("replica broadcast")
	return nil
}

// replicaEnvelope mirrors the broadcast body for ingestion.
type replicaEnvelope struct {
	StorageReplicatePayload
	Author    DID   `json:"author"`
	CreatedAt int64 `json:"created_at"`
	Size      int64 `json:"size"`
	Encrypted bool  `json:"encrypted"`
}

// Ingest applies one received replica: the version is appended exactly as
// sent, ciphertext untouched.
func (r *Replicator) Ingest(raw []byte) error {
	var env replicaEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode replica: %v", ErrInvalidInput, err)
	}
	version := ObjectVersion{
		ID: env.VersionID, Author: env.Author, CreatedAt: env.CreatedAt,
		Size: env.Size, Encrypted: env.Encrypted,
	}
	return r.objects.IngestReplica(env.Federation, env.Key, version, env.Ciphertext)
}

// Serve subscribes to the replication topic and consumes it on its own
// goroutine until the subscription channel closes; it returns as soon as
// the subscription is in place.
func (r *Replicator) Serve() error {
	ch, err := r.node.Subscribe(ReplicationTopic)
	if err != nil {
		return err
	}
	go func() {
		for msg := range ch {
			if err := r.Ingest(msg.Data); err != nil {
				r.log.WithError(err).Warn("replica rejected")
				r.node.Reputation.Record(msg.From, EventInvalidMessage)
				continue
			}
			r.node.Reputation.Record(msg.From, EventMessageSuccess)
		}
	}()
	return nil
}
