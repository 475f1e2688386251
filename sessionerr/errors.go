// Package sessionerr holds the flat error taxonomy shared by every
// component of the session core (spec §7). Each error is a sentinel;
// callers compare with errors.Is, never on a message substring. Components
// wrap these with fmt.Errorf("%w: ...") to add context, the way the
// teacher wraps storage.ErrNotFound and omemo.ErrNoSession.
package sessionerr

import "errors"

// State errors.
var (
	ErrSessionNotInitialized  = errors.New("sessioncore: session not initialized")
	ErrDatabaseNotInitialized = errors.New("sessioncore: database not initialized")
	ErrTransportNotInitialized = errors.New("sessioncore: transport not initialized")
	ErrReceiverDelegateNotSet = errors.New("sessioncore: receiver delegate not set")
)

// Credential errors.
var (
	ErrInvalidPassword = errors.New("sessioncore: invalid password")
	ErrAppPasswordError = errors.New("sessioncore: app password error")
	ErrSaltError        = errors.New("sessioncore: salt error")
)

// Identity errors.
var (
	ErrInvalidSecretName          = errors.New("sessioncore: invalid secret name")
	ErrInvalidDeviceIdentity      = errors.New("sessioncore: invalid device identity")
	ErrMissingSessionIdentity     = errors.New("sessioncore: missing session identity")
	ErrUserExists                 = errors.New("sessioncore: user already exists")
	ErrUserNotFound                = errors.New("sessioncore: user not found")
	ErrCannotFindUserConfiguration = errors.New("sessioncore: cannot find user configuration")
)

// Key-material errors.
var (
	ErrCannotFindOneTimeKey    = errors.New("sessioncore: cannot find one-time key")
	ErrDrainedKeys             = errors.New("sessioncore: drained keys")
	ErrLongTermKeyRotationFailed = errors.New("sessioncore: long-term key rotation failed")
	ErrOneTimeKeyUploadFailed  = errors.New("sessioncore: one-time key upload failed")
	ErrOneTimeKeyDeletionFailed = errors.New("sessioncore: one-time key deletion failed")
	ErrInvalidKeyID            = errors.New("sessioncore: invalid key id")
)

// Cryptographic errors.
var (
	ErrInvalidSignature      = errors.New("sessioncore: invalid signature")
	ErrMissingSignature      = errors.New("sessioncore: missing signature")
	ErrSessionEncryptionError = errors.New("sessioncore: session encryption error")
	ErrSessionDecryptionError = errors.New("sessioncore: session decryption error")
)

// Data errors.
var (
	ErrConfigurationError    = errors.New("sessioncore: configuration error")
	ErrCannotFindCommunication = errors.New("sessioncore: cannot find communication")
	ErrCannotFindContact     = errors.New("sessioncore: cannot find contact")
	ErrPropsError            = errors.New("sessioncore: props error")
	ErrMissingMessage        = errors.New("sessioncore: missing message")
	ErrMissingMetadata       = errors.New("sessioncore: missing metadata")
	ErrInvalidDocument       = errors.New("sessioncore: invalid document")
)

// Liveness errors.
var (
	ErrConnectionIsNonViable = errors.New("sessioncore: connection is non-viable")
)

// Policy errors.
var (
	ErrAccessDenied     = errors.New("sessioncore: access denied")
	ErrUserIsBlocked    = errors.New("sessioncore: user is blocked")
	ErrMissingAuthInfo  = errors.New("sessioncore: missing auth info")
)
