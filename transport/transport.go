// Package transport declares the network collaborator the session core
// consumes (spec §6). The core never owns a concrete implementation; it is
// handed one by the embedder, the way the teacher's Session is handed a
// net.Conn and never dials one itself.
package transport

import (
	"context"

	"github.com/veilcore/sessioncore/model"
)

// KeyFlavor distinguishes the two one-time key inventories the core
// reconciles independently (spec §4.2).
type KeyFlavor int

const (
	KeyFlavorCurve KeyFlavor = iota
	KeyFlavorKyber
)

// SendOptions carries the routing metadata that accompanies a
// SignedRatchetMessage over the wire (spec §6).
type SendOptions struct {
	SecretName              string
	DeviceID                string
	PushType                string
	SharedMessageIdentifier string
	MessageType             string
	MessageFlags            model.MessageFlags
	Recipient               string
}

// OneTimeKeyPair is the result of fetchOneTimeKeys: either side may be
// absent (spec §4.3 step 4).
type OneTimeKeyPair struct {
	Curve *model.SignedOneTimeKey
	Kyber *model.SignedOneTimeKey
}

// Transport is the network capability the core relies on for bundle
// exchange and message delivery. All methods are suspension points (spec
// §5); implementations must be safe for concurrent use.
type Transport interface {
	SendMessage(ctx context.Context, msg model.SignedRatchetMessage, opts SendOptions) error

	// FindConfiguration fetches a peer's public bundle. found is false
	// when the peer does not exist server-side (the registration path),
	// distinct from a transport error.
	FindConfiguration(ctx context.Context, secretName string) (cfg model.UserConfiguration, found bool, err error)

	PublishUserConfiguration(ctx context.Context, cfg model.UserConfiguration, recipientDeviceID string) error

	FetchOneTimeKeys(ctx context.Context, secretName, deviceID string) (OneTimeKeyPair, error)
	FetchOneTimeKeyIdentities(ctx context.Context, secretName, deviceID string, flavor KeyFlavor) ([]uint32, error)

	UpdateOneTimeKeys(ctx context.Context, secretName, deviceID string, keys []model.SignedOneTimeKey) error
	UpdateOneTimePQKemKeys(ctx context.Context, secretName, deviceID string, keys []model.SignedOneTimeKey) error
	BatchDeleteOneTimeKeys(ctx context.Context, secretName, deviceID string, flavor KeyFlavor) error

	RotateLongTermKeys(ctx context.Context, secretName, deviceID string, pskData []byte, signedDevice model.SignedDeviceConfiguration) error

	NotifyIdentityCreation(ctx context.Context, secretName string, keys model.SessionIdentity) error
}
