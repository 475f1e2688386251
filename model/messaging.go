package model

import "time"

// DeliveryState tracks an outbound or inbound message's progress (spec §3).
type DeliveryState int

const (
	DeliveryStateSending DeliveryState = iota
	DeliveryStateSent
	DeliveryStateReceived
	DeliveryStateDelivered
	DeliveryStateRead
	DeliveryStateFailed
)

// MessageFlags are the pass-through semantic tags the orchestrator keys on
// (spec §4.8). The core never interprets their payload meaning, only
// whether a flag routes the message to nudgeLocal handling.
type MessageFlags struct {
	CommunicationSynchronization bool
	FriendshipStateRequest       bool
	DeliveryStateChange          bool
	EditMessage                  bool
	ContactCreated               bool
}

// NudgeLocal reports whether any flag set here means "do not persist a
// local message copy for this send" (spec §4.8).
func (f MessageFlags) NudgeLocal() bool {
	return f.CommunicationSynchronization || f.FriendshipStateRequest ||
		f.DeliveryStateChange || f.EditMessage || f.ContactCreated
}

// CryptoMessage is the plaintext payload the core ratchets. Its body is
// opaque to the core beyond the routing fields.
type CryptoMessage struct {
	MessageType  string
	MessageFlags MessageFlags
	Body         []byte
	SenderSecretName string
	SenderDeviceID   string
	SentAt           time.Time
}

// EncryptedMessage is a stored message row (spec §3). Props is the
// plaintext-under-database-key payload; the store only ever sees it
// encrypted.
type EncryptedMessage struct {
	ID               string
	CommunicationID  string
	SessionContextID int64
	SharedID         string
	SequenceNumber   int64
	Message          CryptoMessage
	SenderSecretName string
	SendDate         time.Time
	DeliveryState    DeliveryState
}

// CommunicationType is the tagged variant spec §3 describes for
// BaseCommunication.
type CommunicationType int

const (
	CommunicationPersonalMessage CommunicationType = iota
	CommunicationNickname
	CommunicationChannel
	CommunicationBroadcast
)

// BaseCommunication is a conversation record (spec §3).
type BaseCommunication struct {
	ID               string
	MessageCount     int64
	Members          map[string]struct{}
	Metadata         []byte
	BlockedMembers   map[string]struct{}
	CommunicationType CommunicationType
	// Name carries the nickname or channel name when CommunicationType is
	// CommunicationNickname or CommunicationChannel; unused otherwise.
	Name     string
	SharedID string
}

// ContactModel is a remote user record (spec §3).
type ContactModel struct {
	ID            string
	SecretName    string
	Configuration UserConfiguration
	Metadata      []byte
}
