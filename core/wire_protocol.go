package core

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"icn-node/pkg/wire"
)

// MessageType enumerates the minimal wire message set.
type MessageType byte

const (
	MsgHello MessageType = iota + 1
	MsgAuthChallenge
	MsgAuthResponse
	MsgGossip
	MsgDhtPut
	MsgDhtGet
	MsgDhtResult
	MsgRelayReserve
	MsgRelayConnect
	MsgRelayData
	MsgRelayClose
	MsgLedgerTx
	MsgStorageReplicate
)

func (t MessageType) String() string {
	switch t {
	case MsgHello:
		return "Hello"
	case MsgAuthChallenge:
		return "AuthChallenge"
	case MsgAuthResponse:
		return "AuthResponse"
	case MsgGossip:
		return "Gossip"
	case MsgDhtPut:
		return "DhtPut"
	case MsgDhtGet:
		return "DhtGet"
	case MsgDhtResult:
		return "DhtResult"
	case MsgRelayReserve:
		return "RelayReserve"
	case MsgRelayConnect:
		return "RelayConnect"
	case MsgRelayData:
		return "RelayData"
	case MsgRelayClose:
		return "RelayClose"
	case MsgLedgerTx:
		return "LedgerTx"
	case MsgStorageReplicate:
		return "StorageReplicate"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(t))
	}
}

// Frame is the core-level view of a decoded wire.Frame: typed message kind
// plus the sender NodeID in place of raw bytes.
type Frame struct {
	Type      MessageType
	Sender    NodeID
	Nonce     []byte
	Payload   []byte
	Signature []byte
}

// HelloPayload is the Hello message body.
type HelloPayload struct {
	PeerID            NodeID   `json:"peer_id"`
	ProtocolVersions  []int    `json:"protocol_versions"`
	SupportedFeatures []string `json:"supported_features"`
}

// AuthChallengePayload is the AuthChallenge message body.
type AuthChallengePayload struct {
	ChallengeID string `json:"challenge_id"`
	DID         DID    `json:"did"`
	Nonce       []byte `json:"nonce"`
	ExpiresAt   int64  `json:"expires_at"`
}

// AuthResponsePayload is the AuthResponse message body.
type AuthResponsePayload struct {
	ChallengeID string   `json:"challenge_id"`
	KeyID       string   `json:"key_id"`
	Signature   []byte   `json:"signature"`
	Credentials []string `json:"credentials,omitempty"`
}

// GossipPayload is the Gossip message body.
type GossipPayload struct {
	Topic string `json:"topic"`
	Body  []byte `json:"body"`
}

// DhtPayload covers DhtPut/DhtGet/DhtResult.
type DhtPayload struct {
	Key    string `json:"key"`
	Value  []byte `json:"value,omitempty"`
	Result []byte `json:"result,omitempty"`
	Found  bool   `json:"found,omitempty"`
}

// RelayPayload covers all Relay* circuit messages.
type RelayPayload struct {
	CircuitID string `json:"circuit_id"`
	Payload   []byte `json:"payload,omitempty"`
}

// LedgerTxPayload announces a transaction across the overlay.
type LedgerTxPayload struct {
	TransactionID string `json:"transaction_id"`
	Record        []byte `json:"record"`
}

// StorageReplicatePayload carries a replicated object version.
type StorageReplicatePayload struct {
	Federation string `json:"federation"`
	Key        string `json:"key"`
	VersionID  string `json:"version_id"`
	Ciphertext []byte `json:"ciphertext"`
}

// EncodeFrame marshals a typed payload and wraps it in a signed wire
// frame. signFn signs the concatenation of type||nonce||payload; pass nil
// to leave Signature empty (e.g. for not-yet-authenticated Hello frames).
func EncodeFrame(msgType MessageType, sender NodeID, payload any, signFn func([]byte) ([]byte, error)) (*wire.Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %s payload: %v", ErrInvalidInput, msgType, err)
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: frame nonce: %v", ErrInternal, err)
	}
	f := &wire.Frame{
		Version:  wire.CurrentVersion,
		Type:     byte(msgType),
		SenderID: []byte(sender),
		Nonce:    nonce,
		Payload:  body,
	}
	if signFn != nil {
		sig, err := signFn(append(append([]byte{f.Type}, nonce...), body...))
		if err != nil {
			return nil, err
		}
		f.Signature = sig
	}
	return f, nil
}

// DecodeFrame converts a wire.Frame into the core Frame view, rejecting
// unknown message types (the version byte is already checked by
// wire.Decode/ReadFrame).
func DecodeFrame(wf *wire.Frame) (*Frame, error) {
	t := MessageType(wf.Type)
	switch t {
	case MsgHello, MsgAuthChallenge, MsgAuthResponse, MsgGossip, MsgDhtPut, MsgDhtGet,
		MsgDhtResult, MsgRelayReserve, MsgRelayConnect, MsgRelayData, MsgRelayClose,
		MsgLedgerTx, MsgStorageReplicate:
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrInvalidInput, wf.Type)
	}
	return &Frame{
		Type: t, Sender: NodeID(wf.SenderID), Nonce: wf.Nonce,
		Payload: wf.Payload, Signature: wf.Signature,
	}, nil
}
