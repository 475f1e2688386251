package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/veilcore/sessioncore/sessionerr"
)

// SynchronizerFunc is invoked whenever the root session-context ciphertext
// is written to the store, so the owning session can decrypt and mirror
// the new context in memory (spec §4.7).
type SynchronizerFunc func(ctx context.Context, ciphertext []byte) error

// Cache is the two-tier cache layer: a write-through in-memory cache in
// front of the externally supplied Store. It is safe for concurrent use;
// every operation is serialized under a single mutex the way the
// teacher's memory.Store serializes all its maps under one sync.RWMutex.
type Cache struct {
	store Store

	mu sync.Mutex

	sessionContext []byte
	identities     map[string][]byte
	messages       map[string][]byte
	messagesByShared map[string]string // sharedId -> id
	communications map[string][]byte
	contacts       map[string][]byte
	jobs           map[string][]byte

	synchronizer SynchronizerFunc
}

// New builds a Cache over the given Store. The in-memory tier starts
// empty; callers should invoke RefreshCache to lazily populate primary
// lists, or rely on per-entity FetchAll populating lazily on first use.
func New(store Store) *Cache {
	return &Cache{
		store:            store,
		identities:       make(map[string][]byte),
		messages:         make(map[string][]byte),
		messagesByShared: make(map[string]string),
		communications:   make(map[string][]byte),
		contacts:         make(map[string][]byte),
		jobs:             make(map[string][]byte),
	}
}

// SetSynchronizer installs the hook fired on every session-context write.
func (c *Cache) SetSynchronizer(fn SynchronizerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synchronizer = fn
}

// PutSessionContext writes the root ciphertext to the store then mirrors
// it in memory, firing the synchronizer hook (spec §4.7).
func (c *Cache) PutSessionContext(ctx context.Context, ciphertext []byte) error {
	if err := c.store.PutSessionContext(ctx, ciphertext); err != nil {
		return fmt.Errorf("cache: put session context: %w", err)
	}

	c.mu.Lock()
	c.sessionContext = ciphertext
	sync := c.synchronizer
	c.mu.Unlock()

	if sync != nil {
		if err := sync(ctx, ciphertext); err != nil {
			return fmt.Errorf("cache: synchronize session context: %w", err)
		}
	}
	return nil
}

// FetchSessionContext returns the cached ciphertext, loading from the
// store on first use.
func (c *Cache) FetchSessionContext(ctx context.Context) ([]byte, bool, error) {
	c.mu.Lock()
	if c.sessionContext != nil {
		defer c.mu.Unlock()
		return c.sessionContext, true, nil
	}
	c.mu.Unlock()

	blob, found, err := c.store.FetchSessionContext(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("cache: fetch session context: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	c.mu.Lock()
	c.sessionContext = blob
	c.mu.Unlock()
	return blob, true, nil
}

// CreateSessionIdentity writes to the store then to memory (spec §4.7).
func (c *Cache) CreateSessionIdentity(ctx context.Context, key string, encrypted []byte) error {
	if err := c.store.CreateSessionIdentity(ctx, key, encrypted); err != nil {
		return fmt.Errorf("cache: create session identity: %w", err)
	}
	c.mu.Lock()
	c.identities[key] = encrypted
	c.mu.Unlock()
	return nil
}

// FetchAllSessionIdentities lazily populates memory from the store.
func (c *Cache) FetchAllSessionIdentities(ctx context.Context) (map[string][]byte, error) {
	c.mu.Lock()
	if len(c.identities) > 0 {
		snapshot := cloneMap(c.identities)
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	all, err := c.store.FetchAllSessionIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: fetch all session identities: %w", err)
	}

	c.mu.Lock()
	for k, v := range all {
		c.identities[k] = v
	}
	snapshot := cloneMap(c.identities)
	c.mu.Unlock()
	return snapshot, nil
}

// UpdateSessionIdentity requires presence in memory; otherwise it fails
// with missingSessionIdentity (spec §4.7).
func (c *Cache) UpdateSessionIdentity(ctx context.Context, key string, encrypted []byte) error {
	c.mu.Lock()
	_, ok := c.identities[key]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("cache: update session identity %q: %w", key, sessionerr.ErrMissingSessionIdentity)
	}

	if err := c.store.UpdateSessionIdentity(ctx, key, encrypted); err != nil {
		return fmt.Errorf("cache: update session identity: %w", err)
	}
	c.mu.Lock()
	c.identities[key] = encrypted
	c.mu.Unlock()
	return nil
}

// DeleteSessionIdentity removes the identity from both tiers.
func (c *Cache) DeleteSessionIdentity(ctx context.Context, key string) error {
	if err := c.store.DeleteSessionIdentity(ctx, key); err != nil {
		return fmt.Errorf("cache: delete session identity: %w", err)
	}
	c.mu.Lock()
	delete(c.identities, key)
	c.mu.Unlock()
	return nil
}

// CreateMessage writes to the store then to memory, indexing by sharedId
// so FetchMessageBySharedID can hit the cache.
func (c *Cache) CreateMessage(ctx context.Context, id, sharedID string, encrypted []byte) error {
	if err := c.store.CreateMessage(ctx, id, sharedID, encrypted); err != nil {
		return fmt.Errorf("cache: create message: %w", err)
	}
	c.mu.Lock()
	c.messages[id] = encrypted
	if sharedID != "" {
		c.messagesByShared[sharedID] = id
	}
	c.mu.Unlock()
	return nil
}

// FetchMessage falls back to the store on a cache miss (spec §4.7).
func (c *Cache) FetchMessage(ctx context.Context, id string) ([]byte, bool, error) {
	c.mu.Lock()
	if v, ok := c.messages[id]; ok {
		c.mu.Unlock()
		return v, true, nil
	}
	c.mu.Unlock()

	blob, found, err := c.store.FetchMessage(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("cache: fetch message: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	c.mu.Lock()
	c.messages[id] = blob
	c.mu.Unlock()
	return blob, true, nil
}

// FetchMessageBySharedID falls back to the store on a cache miss.
func (c *Cache) FetchMessageBySharedID(ctx context.Context, sharedID string) ([]byte, bool, error) {
	c.mu.Lock()
	if id, ok := c.messagesByShared[sharedID]; ok {
		blob := c.messages[id]
		c.mu.Unlock()
		return blob, true, nil
	}
	c.mu.Unlock()

	blob, found, err := c.store.FetchMessageBySharedID(ctx, sharedID)
	if err != nil {
		return nil, false, fmt.Errorf("cache: fetch message by shared id: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return blob, true, nil
}

// UpdateMessage requires presence in memory; otherwise missingMessage.
func (c *Cache) UpdateMessage(ctx context.Context, id string, encrypted []byte) error {
	c.mu.Lock()
	_, ok := c.messages[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("cache: update message %q: %w", id, sessionerr.ErrMissingMessage)
	}

	if err := c.store.UpdateMessage(ctx, id, encrypted); err != nil {
		return fmt.Errorf("cache: update message: %w", err)
	}
	c.mu.Lock()
	c.messages[id] = encrypted
	c.mu.Unlock()
	return nil
}

// DeleteMessage removes the message from both tiers.
func (c *Cache) DeleteMessage(ctx context.Context, id string) error {
	if err := c.store.DeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("cache: delete message: %w", err)
	}
	c.mu.Lock()
	delete(c.messages, id)
	for shared, mid := range c.messagesByShared {
		if mid == id {
			delete(c.messagesByShared, shared)
		}
	}
	c.mu.Unlock()
	return nil
}

// CreateCommunication writes to the store then to memory.
func (c *Cache) CreateCommunication(ctx context.Context, id string, encrypted []byte) error {
	if err := c.store.CreateCommunication(ctx, id, encrypted); err != nil {
		return fmt.Errorf("cache: create communication: %w", err)
	}
	c.mu.Lock()
	c.communications[id] = encrypted
	c.mu.Unlock()
	return nil
}

// FetchAllCommunications lazily populates memory from the store.
func (c *Cache) FetchAllCommunications(ctx context.Context) (map[string][]byte, error) {
	c.mu.Lock()
	if len(c.communications) > 0 {
		snapshot := cloneMap(c.communications)
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	all, err := c.store.FetchAllCommunications(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: fetch all communications: %w", err)
	}
	c.mu.Lock()
	for k, v := range all {
		c.communications[k] = v
	}
	snapshot := cloneMap(c.communications)
	c.mu.Unlock()
	return snapshot, nil
}

// UpdateCommunication requires presence in memory; otherwise cannotFindCommunication.
func (c *Cache) UpdateCommunication(ctx context.Context, id string, encrypted []byte) error {
	c.mu.Lock()
	_, ok := c.communications[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("cache: update communication %q: %w", id, sessionerr.ErrCannotFindCommunication)
	}

	if err := c.store.UpdateCommunication(ctx, id, encrypted); err != nil {
		return fmt.Errorf("cache: update communication: %w", err)
	}
	c.mu.Lock()
	c.communications[id] = encrypted
	c.mu.Unlock()
	return nil
}

// DeleteCommunication removes the communication from both tiers.
func (c *Cache) DeleteCommunication(ctx context.Context, id string) error {
	if err := c.store.DeleteCommunication(ctx, id); err != nil {
		return fmt.Errorf("cache: delete communication: %w", err)
	}
	c.mu.Lock()
	delete(c.communications, id)
	c.mu.Unlock()
	return nil
}

// CreateContact writes to the store then to memory.
func (c *Cache) CreateContact(ctx context.Context, secretName string, encrypted []byte) error {
	if err := c.store.CreateContact(ctx, secretName, encrypted); err != nil {
		return fmt.Errorf("cache: create contact: %w", err)
	}
	c.mu.Lock()
	c.contacts[secretName] = encrypted
	c.mu.Unlock()
	return nil
}

// FetchAllContacts lazily populates memory from the store.
func (c *Cache) FetchAllContacts(ctx context.Context) (map[string][]byte, error) {
	c.mu.Lock()
	if len(c.contacts) > 0 {
		snapshot := cloneMap(c.contacts)
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	all, err := c.store.FetchAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: fetch all contacts: %w", err)
	}
	c.mu.Lock()
	for k, v := range all {
		c.contacts[k] = v
	}
	snapshot := cloneMap(c.contacts)
	c.mu.Unlock()
	return snapshot, nil
}

// UpdateContact requires presence in memory; otherwise cannotFindContact.
func (c *Cache) UpdateContact(ctx context.Context, secretName string, encrypted []byte) error {
	c.mu.Lock()
	_, ok := c.contacts[secretName]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("cache: update contact %q: %w", secretName, sessionerr.ErrCannotFindContact)
	}

	if err := c.store.UpdateContact(ctx, secretName, encrypted); err != nil {
		return fmt.Errorf("cache: update contact: %w", err)
	}
	c.mu.Lock()
	c.contacts[secretName] = encrypted
	c.mu.Unlock()
	return nil
}

// DeleteContact removes the contact from both tiers.
func (c *Cache) DeleteContact(ctx context.Context, secretName string) error {
	if err := c.store.DeleteContact(ctx, secretName); err != nil {
		return fmt.Errorf("cache: delete contact: %w", err)
	}
	c.mu.Lock()
	delete(c.contacts, secretName)
	c.mu.Unlock()
	return nil
}

// CreateJob writes to the store then to memory.
func (c *Cache) CreateJob(ctx context.Context, id string, encrypted []byte) error {
	if err := c.store.CreateJob(ctx, id, encrypted); err != nil {
		return fmt.Errorf("cache: create job: %w", err)
	}
	c.mu.Lock()
	c.jobs[id] = encrypted
	c.mu.Unlock()
	return nil
}

// FetchAllJobs re-reads every job from the store on each call, whatever
// memory already holds, and copies the rows into memory; on process start
// this rehydrates the durable deque (spec §9).
func (c *Cache) FetchAllJobs(ctx context.Context) (map[string][]byte, error) {
	all, err := c.store.FetchAllJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: fetch all jobs: %w", err)
	}
	c.mu.Lock()
	for k, v := range all {
		c.jobs[k] = v
	}
	snapshot := cloneMap(c.jobs)
	c.mu.Unlock()
	return snapshot, nil
}

// DeleteJob removes the job from both tiers.
func (c *Cache) DeleteJob(ctx context.Context, id string) error {
	if err := c.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("cache: delete job: %w", err)
	}
	c.mu.Lock()
	delete(c.jobs, id)
	c.mu.Unlock()
	return nil
}

// FetchLocalDeviceSalt mints a salt on first use for this password and
// persists it, matching spec §4.6's "cache mints the salt if absent."
func (c *Cache) FetchLocalDeviceSalt(ctx context.Context, keyData []byte, mint func() ([]byte, error)) ([]byte, error) {
	salt, found, err := c.store.FetchLocalDeviceSalt(ctx, keyData)
	if err != nil {
		return nil, fmt.Errorf("cache: fetch local device salt: %w", err)
	}
	if found {
		return salt, nil
	}

	salt, err = mint()
	if err != nil {
		return nil, fmt.Errorf("cache: mint local device salt: %w", sessionerr.ErrSaltError)
	}
	if err := c.store.PutLocalDeviceSalt(ctx, keyData, salt); err != nil {
		return nil, fmt.Errorf("cache: put local device salt: %w", err)
	}
	return salt, nil
}

// DeleteLocalDeviceSalt drops the stored salt, used on password change.
func (c *Cache) DeleteLocalDeviceSalt(ctx context.Context, keyData []byte) error {
	if err := c.store.DeleteLocalDeviceSalt(ctx, keyData); err != nil {
		return fmt.Errorf("cache: delete local device salt: %w", err)
	}
	return nil
}

// ClearCache wipes memory only (spec §4.7).
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionContext = nil
	c.identities = make(map[string][]byte)
	c.messages = make(map[string][]byte)
	c.messagesByShared = make(map[string]string)
	c.communications = make(map[string][]byte)
	c.contacts = make(map[string][]byte)
	c.jobs = make(map[string][]byte)
}

// RefreshCache reloads all primary entity lists from the store (spec §4.7).
func (c *Cache) RefreshCache(ctx context.Context) error {
	c.ClearCache()
	if _, err := c.FetchAllSessionIdentities(ctx); err != nil {
		return err
	}
	if _, err := c.FetchAllCommunications(ctx); err != nil {
		return err
	}
	if _, err := c.FetchAllContacts(ctx); err != nil {
		return err
	}
	if _, err := c.FetchAllJobs(ctx); err != nil {
		return err
	}
	return nil
}

func cloneMap(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
