package model

import "time"

// SignedRatchetMessage is the wire envelope for every outbound ciphertext
// (spec §4.4). The signature covers Ciphertext and is made with the
// sender's current signing key; it is verified before any decrypt attempt.
type SignedRatchetMessage struct {
	Ciphertext []byte
	Signature  []byte
	// KemCiphertext carries the ML-KEM encapsulation on the first message
	// of a session; empty on steady-state messages.
	KemCiphertext []byte
	// EphemeralPublicKey is the sender's X25519 ephemeral public used in
	// DH3 during sender initialization; empty on steady-state messages.
	EphemeralPublicKey []byte
	// PQKemOneTimeKeyID identifies the recipient's one-time ML-KEM key
	// KemCiphertext was encapsulated against; nil means the reserve
	// finalPQKemPrivateKey was used instead. Only meaningful alongside
	// KemCiphertext on the first message of a session.
	PQKemOneTimeKeyID *uint32
	// ChainPublicKey is the current DH ratchet public key carried in
	// every header so the recipient can detect a DH ratchet step.
	ChainPublicKey []byte
	MessageNumber       uint32
	PreviousChainLength uint32
}

// OutboundTaskMessage is the payload of a writeMessage job (spec §4.5).
type OutboundTaskMessage struct {
	Message           CryptoMessage
	RecipientIdentity SessionIdentity
	LocalID           string
	SharedID          string
}

// InboundTaskMessage is the payload of a streamMessage job (spec §4.5).
type InboundTaskMessage struct {
	SignedMessage    SignedRatchetMessage
	SenderSecretName string
	SenderDeviceID   string
	SharedMessageID  string
}

// TaskKind distinguishes the two JobModel task variants.
type TaskKind int

const (
	TaskWriteMessage TaskKind = iota
	TaskStreamMessage
)

// TaskType is the tagged variant a JobModel carries (spec §3, §4.5).
type TaskType struct {
	Kind           TaskKind
	WriteMessage   OutboundTaskMessage
	StreamMessage  InboundTaskMessage
}

// JobModel is a durable queued unit of cryptographic work (spec §3).
type JobModel struct {
	ID              string
	SequenceID      int64
	Task            TaskType
	IsBackgroundTask bool
	ScheduledAt     time.Time
	Attempts        int
	DelayedUntil    *time.Time
}

// Viable reports whether this job is eligible to run right now given a
// network-viability signal and the current time (spec §4.5 step 1-2).
func (j *JobModel) Viable(now time.Time, networkViable bool) bool {
	if !networkViable {
		return false
	}
	if j.DelayedUntil != nil && j.DelayedUntil.After(now) {
		return false
	}
	return true
}
