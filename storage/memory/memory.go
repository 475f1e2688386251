// Package memory provides an in-memory cache.Store implementation, useful
// for tests and for embedders that don't need data to survive a restart.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/veilcore/sessioncore/cache"
)

// Store is an in-memory implementation of cache.Store. The zero value is
// not usable; construct with New. All maps are created eagerly so every
// method works correctly even if Init is never called, the way the
// teacher's memory.Store tolerates calls before Init.
type Store struct {
	mu sync.Mutex

	sessionContext []byte
	identities     map[string][]byte
	messages       map[string][]byte
	messagesShared map[string]string
	communications map[string][]byte
	contacts       map[string][]byte
	jobs           map[string][]byte
	salts          map[string][]byte
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		identities:     make(map[string][]byte),
		messages:       make(map[string][]byte),
		messagesShared: make(map[string]string),
		communications: make(map[string][]byte),
		contacts:       make(map[string][]byte),
		jobs:           make(map[string][]byte),
		salts:          make(map[string][]byte),
	}
}

func (s *Store) Init(_ context.Context) error { return nil }
func (s *Store) Close() error                 { return nil }

func (s *Store) FetchSessionContext(_ context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionContext == nil {
		return nil, false, nil
	}
	return s.sessionContext, true, nil
}

func (s *Store) PutSessionContext(_ context.Context, ciphertext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionContext = ciphertext
	return nil
}

func (s *Store) CreateSessionIdentity(_ context.Context, key string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[key] = encrypted
	return nil
}

func (s *Store) FetchSessionIdentity(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.identities[key]
	return v, ok, nil
}

func (s *Store) FetchAllSessionIdentities(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.identities), nil
}

func (s *Store) UpdateSessionIdentity(_ context.Context, key string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[key] = encrypted
	return nil
}

func (s *Store) DeleteSessionIdentity(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.identities, key)
	return nil
}

func (s *Store) CreateMessage(_ context.Context, id, sharedID string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id] = encrypted
	if sharedID != "" {
		s.messagesShared[sharedID] = id
	}
	return nil
}

func (s *Store) FetchMessage(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.messages[id]
	return v, ok, nil
}

func (s *Store) FetchMessageBySharedID(_ context.Context, sharedID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.messagesShared[sharedID]
	if !ok {
		return nil, false, nil
	}
	v, ok := s.messages[id]
	return v, ok, nil
}

func (s *Store) FetchAllMessages(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.messages), nil
}

func (s *Store) UpdateMessage(_ context.Context, id string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id] = encrypted
	return nil
}

func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	for shared, mid := range s.messagesShared {
		if mid == id {
			delete(s.messagesShared, shared)
		}
	}
	return nil
}

func (s *Store) CreateCommunication(_ context.Context, id string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communications[id] = encrypted
	return nil
}

func (s *Store) FetchAllCommunications(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.communications), nil
}

func (s *Store) UpdateCommunication(_ context.Context, id string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communications[id] = encrypted
	return nil
}

func (s *Store) DeleteCommunication(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.communications, id)
	return nil
}

func (s *Store) CreateContact(_ context.Context, secretName string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[secretName] = encrypted
	return nil
}

func (s *Store) FetchAllContacts(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.contacts), nil
}

func (s *Store) UpdateContact(_ context.Context, secretName string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[secretName] = encrypted
	return nil
}

func (s *Store) DeleteContact(_ context.Context, secretName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, secretName)
	return nil
}

func (s *Store) CreateJob(_ context.Context, id string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = encrypted
	return nil
}

func (s *Store) FetchAllJobs(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.jobs), nil
}

func (s *Store) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func saltKey(keyData []byte) string {
	sum := sha256.Sum256(keyData)
	return hex.EncodeToString(sum[:])
}

func (s *Store) FetchLocalDeviceSalt(_ context.Context, keyData []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.salts[saltKey(keyData)]
	return v, ok, nil
}

func (s *Store) PutLocalDeviceSalt(_ context.Context, keyData, salt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salts[saltKey(keyData)] = salt
	return nil
}

func (s *Store) DeleteLocalDeviceSalt(_ context.Context, keyData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.salts, saltKey(keyData))
	return nil
}

func cloneMap(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ cache.Store = (*Store)(nil)
