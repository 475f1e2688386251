// Package redis provides a Redis backing store for the session core's
// cache layer.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/veilcore/sessioncore/cache"

	"github.com/redis/go-redis/v9"
)

func saltKey(keyData []byte) string {
	sum := sha256.Sum256(keyData)
	return hex.EncodeToString(sum[:])
}

const keyPrefix = "sessioncore:"

// Store implements cache.Store using Redis. Each entity is a plain key;
// "all rows of a bucket" is backed by a set of ids alongside the values so
// FetchAll* can enumerate without a KEYS scan.
type Store struct {
	rdb *redis.Client
}

// New creates a Redis-backed store. Callers must call Init before use.
func New(opts *redis.Options) *Store {
	return &Store{rdb: redis.NewClient(opts)}
}

func (s *Store) Init(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
func (s *Store) Close() error                   { return s.rdb.Close() }

func bucketKey(bucket string) string            { return keyPrefix + bucket }
func rowKey(bucket, id string) string           { return keyPrefix + bucket + ":" + id }
func bucketSetKey(bucket string) string         { return keyPrefix + bucket + ":ids" }

func (s *Store) put(ctx context.Context, bucket, id string, value []byte) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, rowKey(bucket, id), value, 0)
	pipe.SAdd(ctx, bucketSetKey(bucket), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) get(ctx context.Context, bucket, id string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, rowKey(bucket, id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) getAll(ctx context.Context, bucket string) (map[string][]byte, error) {
	ids, err := s.rdb.SMembers(ctx, bucketSetKey(bucket)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(ids))
	for _, id := range ids {
		v, found, err := s.get(ctx, bucket, id)
		if err != nil {
			return nil, err
		}
		if found {
			out[id] = v
		}
	}
	return out, nil
}

func (s *Store) del(ctx context.Context, bucket, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, rowKey(bucket, id))
	pipe.SRem(ctx, bucketSetKey(bucket), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) FetchSessionContext(ctx context.Context) ([]byte, bool, error) {
	return s.get(ctx, "session_context", "root")
}

func (s *Store) PutSessionContext(ctx context.Context, ciphertext []byte) error {
	return s.put(ctx, "session_context", "root", ciphertext)
}

func (s *Store) CreateSessionIdentity(ctx context.Context, key string, encrypted []byte) error {
	return s.put(ctx, "session_identity", key, encrypted)
}

func (s *Store) FetchSessionIdentity(ctx context.Context, key string) ([]byte, bool, error) {
	return s.get(ctx, "session_identity", key)
}

func (s *Store) FetchAllSessionIdentities(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, "session_identity")
}

func (s *Store) UpdateSessionIdentity(ctx context.Context, key string, encrypted []byte) error {
	return s.put(ctx, "session_identity", key, encrypted)
}

func (s *Store) DeleteSessionIdentity(ctx context.Context, key string) error {
	return s.del(ctx, "session_identity", key)
}

func (s *Store) CreateMessage(ctx context.Context, id, sharedID string, encrypted []byte) error {
	if err := s.put(ctx, "message", id, encrypted); err != nil {
		return err
	}
	if sharedID == "" {
		return nil
	}
	return s.rdb.Set(ctx, keyPrefix+"message_shared:"+sharedID, id, 0).Err()
}

func (s *Store) FetchMessage(ctx context.Context, id string) ([]byte, bool, error) {
	return s.get(ctx, "message", id)
}

func (s *Store) FetchMessageBySharedID(ctx context.Context, sharedID string) ([]byte, bool, error) {
	id, err := s.rdb.Get(ctx, keyPrefix+"message_shared:"+sharedID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s.get(ctx, "message", id)
}

func (s *Store) FetchAllMessages(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, "message")
}

func (s *Store) UpdateMessage(ctx context.Context, id string, encrypted []byte) error {
	return s.put(ctx, "message", id, encrypted)
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.del(ctx, "message", id)
}

func (s *Store) CreateCommunication(ctx context.Context, id string, encrypted []byte) error {
	return s.put(ctx, "communication", id, encrypted)
}

func (s *Store) FetchAllCommunications(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, "communication")
}

func (s *Store) UpdateCommunication(ctx context.Context, id string, encrypted []byte) error {
	return s.put(ctx, "communication", id, encrypted)
}

func (s *Store) DeleteCommunication(ctx context.Context, id string) error {
	return s.del(ctx, "communication", id)
}

func (s *Store) CreateContact(ctx context.Context, secretName string, encrypted []byte) error {
	return s.put(ctx, "contact", secretName, encrypted)
}

func (s *Store) FetchAllContacts(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, "contact")
}

func (s *Store) UpdateContact(ctx context.Context, secretName string, encrypted []byte) error {
	return s.put(ctx, "contact", secretName, encrypted)
}

func (s *Store) DeleteContact(ctx context.Context, secretName string) error {
	return s.del(ctx, "contact", secretName)
}

func (s *Store) CreateJob(ctx context.Context, id string, encrypted []byte) error {
	return s.put(ctx, "job", id, encrypted)
}

func (s *Store) FetchAllJobs(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, "job")
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.del(ctx, "job", id)
}

func (s *Store) FetchLocalDeviceSalt(ctx context.Context, keyData []byte) ([]byte, bool, error) {
	return s.get(ctx, "salt", saltKey(keyData))
}

func (s *Store) PutLocalDeviceSalt(ctx context.Context, keyData, salt []byte) error {
	return s.put(ctx, "salt", saltKey(keyData), salt)
}

func (s *Store) DeleteLocalDeviceSalt(ctx context.Context, keyData []byte) error {
	return s.del(ctx, "salt", saltKey(keyData))
}

var _ cache.Store = (*Store)(nil)
