// Package cache implements the two-tier cache layer (spec §4.7): a
// write-through in-memory cache in front of an externally supplied
// persistent Store. The package also declares the Store collaborator
// contract itself (spec §6), grounded on the teacher's storage.Storage
// composite-interface pattern but retyped against this spec's §3 entities.
package cache

import "context"

// Store is the persistent-store collaborator (spec §6). It exposes
// row-level CRUD for each §3 entity plus the password-salt primitives.
// Storage is opaque bytes; integrity and cache coherence are the Cache's
// responsibility, not the Store's.
type Store interface {
	SessionContextStore
	SessionIdentityStore
	EncryptedMessageStore
	BaseCommunicationStore
	ContactStore
	JobStore
	SaltStore

	// Init prepares the backing store (schema creation, connection
	// warmup). Close releases any held resources.
	Init(ctx context.Context) error
	Close() error
}

// SessionContextStore persists the single root SessionContext ciphertext
// blob for this installation.
type SessionContextStore interface {
	FetchSessionContext(ctx context.Context) ([]byte, bool, error)
	PutSessionContext(ctx context.Context, ciphertext []byte) error
}

// SessionIdentityStore persists SessionIdentity rows (encrypted under the
// database key by the caller before reaching here).
type SessionIdentityStore interface {
	CreateSessionIdentity(ctx context.Context, key string, encrypted []byte) error
	FetchSessionIdentity(ctx context.Context, key string) ([]byte, bool, error)
	FetchAllSessionIdentities(ctx context.Context) (map[string][]byte, error)
	UpdateSessionIdentity(ctx context.Context, key string, encrypted []byte) error
	DeleteSessionIdentity(ctx context.Context, key string) error
}

// EncryptedMessageStore persists message rows.
type EncryptedMessageStore interface {
	CreateMessage(ctx context.Context, id, sharedID string, encrypted []byte) error
	FetchMessage(ctx context.Context, id string) ([]byte, bool, error)
	FetchMessageBySharedID(ctx context.Context, sharedID string) ([]byte, bool, error)
	FetchAllMessages(ctx context.Context) (map[string][]byte, error)
	UpdateMessage(ctx context.Context, id string, encrypted []byte) error
	DeleteMessage(ctx context.Context, id string) error
}

// BaseCommunicationStore persists conversation records.
type BaseCommunicationStore interface {
	CreateCommunication(ctx context.Context, id string, encrypted []byte) error
	FetchAllCommunications(ctx context.Context) (map[string][]byte, error)
	UpdateCommunication(ctx context.Context, id string, encrypted []byte) error
	DeleteCommunication(ctx context.Context, id string) error
}

// ContactStore persists remote-user contact records.
type ContactStore interface {
	CreateContact(ctx context.Context, secretName string, encrypted []byte) error
	FetchAllContacts(ctx context.Context) (map[string][]byte, error)
	UpdateContact(ctx context.Context, secretName string, encrypted []byte) error
	DeleteContact(ctx context.Context, secretName string) error
}

// JobStore persists the durable job queue's rows.
type JobStore interface {
	CreateJob(ctx context.Context, id string, encrypted []byte) error
	FetchAllJobs(ctx context.Context) (map[string][]byte, error)
	DeleteJob(ctx context.Context, id string) error
}

// SaltStore persists the per-installation password-derivation salt,
// keyed by the password bytes so the correct password always recovers the
// same salt (spec §4.6).
type SaltStore interface {
	FetchLocalDeviceSalt(ctx context.Context, keyData []byte) ([]byte, bool, error)
	PutLocalDeviceSalt(ctx context.Context, keyData, salt []byte) error
	DeleteLocalDeviceSalt(ctx context.Context, keyData []byte) error
}
