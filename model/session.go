package model

import (
	"crypto/ed25519"
	"time"
)

// SessionState is the lifecycle stage of a SessionIdentity (spec §4.3/§4.4).
type SessionState int

const (
	// SessionStateNone is a freshly created identity with no ratchet state
	// yet; the root key is agreed on its first outbound or inbound message.
	SessionStateNone SessionState = iota
	// SessionStateActive has a usable sending and/or receiving ratchet.
	SessionStateActive
	// SessionStateStale is kept only for historical decrypt of messages
	// that arrive after the peer device has been superseded.
	SessionStateStale
)

func (s SessionState) String() string {
	switch s {
	case SessionStateNone:
		return "none"
	case SessionStateActive:
		return "active"
	case SessionStateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// SkippedMessageKey is a buffered message key the ratchet produced but has
// not yet consumed, keyed by the chain's public key and message index.
type SkippedMessageKey struct {
	ChainPublicKey []byte
	MessageIndex   uint32
	MessageKey     []byte
}

// RatchetState is the versioned, serializable Double Ratchet state for one
// peer device (spec §4.4, §9).
type RatchetState struct {
	Version int

	RootKey []byte

	DHSelfPrivateKey []byte
	DHSelfPublicKey  []byte
	DHRemotePublicKey []byte

	SendingChainKey   []byte
	ReceivingChainKey []byte

	SendMessageNumber    uint32
	ReceiveMessageNumber uint32
	PreviousChainLength  uint32

	SkippedKeys []SkippedMessageKey
}

// SessionIdentity is the per-peer-device ratchet session cached locally
// (spec §3, §4.3).
type SessionIdentity struct {
	SessionContextID  int64
	SecretName        string
	DeviceID          string
	LongTermPublicKey []byte
	SigningPublicKey  ed25519.PublicKey
	PQKemPublicKey    []byte
	// PQKemOneTimeKeyID identifies which entry of the peer's published
	// one-time ML-KEM inventory PQKemPublicKey is, so the peer can select
	// the matching private key on decapsulation. Nil means PQKemPublicKey
	// is the peer's long-lived reserve key (finalPQKemPublicKey).
	PQKemOneTimeKeyID *uint32
	OneTimePublicKey  []byte // optional, consumed on first use
	IsMasterDevice    bool
	State             SessionState
	Ratchet           RatchetState
	DeviceName        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SessionContext is the root, password-vault-sealed blob describing this
// installation's own identity and device keys (spec §3, §4.6). DatabaseKey
// rides inside this vault-sealed blob rather than being derived from the
// password, preserving the two-key separation: a password change re-seals
// this blob without touching the key that encrypts every other entity.
type SessionContext struct {
	SecretName  string
	DeviceID    string
	Keys        DeviceKeys
	DatabaseKey []byte
	CreatedAt   time.Time
}
