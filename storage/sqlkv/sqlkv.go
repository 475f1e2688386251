// Package sqlkv implements cache.Store over any database/sql driver using
// a single opaque-bytes-keyed-by-id table, grounded on the teacher's
// storage/sql generic-dialect Store but simplified to match this spec's
// "no schema beyond opaque bytes keyed by id" contract (spec §6).
package sqlkv

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/veilcore/sessioncore/cache"
)

// Dialect isolates the handful of syntax differences between SQL backends
// (placeholder style, table creation statements, upsert suffix).
type Dialect interface {
	Name() string
	Placeholder(n int) string
	CreateTableStatements() []string
	UpsertSuffix() string
}

const (
	bucketSessionContext  = "session_context"
	bucketSessionIdentity = "session_identity"
	bucketMessage         = "message"
	bucketMessageShared   = "message_shared"
	bucketCommunication   = "communication"
	bucketContact         = "contact"
	bucketJob             = "job"
	bucketSalt            = "salt"

	sessionContextRowID = "root"
)

// Store is a database/sql-backed cache.Store implementation shared by the
// sqlite, postgres and mysql adapters.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an already-open *sql.DB. Callers must call Init before use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range s.dialect.CreateTableStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlkv: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) put(ctx context.Context, bucket, id string, value []byte) error {
	q := fmt.Sprintf(
		"INSERT INTO kv (bucket, id, value) VALUES (%s, %s, %s) %s",
		s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3), s.dialect.UpsertSuffix(),
	)
	_, err := s.db.ExecContext(ctx, q, bucket, id, value)
	return err
}

func (s *Store) get(ctx context.Context, bucket, id string) ([]byte, bool, error) {
	q := fmt.Sprintf("SELECT value FROM kv WHERE bucket = %s AND id = %s", s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	var value []byte
	err := s.db.QueryRowContext(ctx, q, bucket, id).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) getAll(ctx context.Context, bucket string) (map[string][]byte, error) {
	q := fmt.Sprintf("SELECT id, value FROM kv WHERE bucket = %s", s.dialect.Placeholder(1))
	rows, err := s.db.QueryContext(ctx, q, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var value []byte
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		out[id] = value
	}
	return out, rows.Err()
}

func (s *Store) del(ctx context.Context, bucket, id string) error {
	q := fmt.Sprintf("DELETE FROM kv WHERE bucket = %s AND id = %s", s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	_, err := s.db.ExecContext(ctx, q, bucket, id)
	return err
}

func (s *Store) FetchSessionContext(ctx context.Context) ([]byte, bool, error) {
	return s.get(ctx, bucketSessionContext, sessionContextRowID)
}

func (s *Store) PutSessionContext(ctx context.Context, ciphertext []byte) error {
	return s.put(ctx, bucketSessionContext, sessionContextRowID, ciphertext)
}

func (s *Store) CreateSessionIdentity(ctx context.Context, key string, encrypted []byte) error {
	return s.put(ctx, bucketSessionIdentity, key, encrypted)
}

func (s *Store) FetchSessionIdentity(ctx context.Context, key string) ([]byte, bool, error) {
	return s.get(ctx, bucketSessionIdentity, key)
}

func (s *Store) FetchAllSessionIdentities(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, bucketSessionIdentity)
}

func (s *Store) UpdateSessionIdentity(ctx context.Context, key string, encrypted []byte) error {
	return s.put(ctx, bucketSessionIdentity, key, encrypted)
}

func (s *Store) DeleteSessionIdentity(ctx context.Context, key string) error {
	return s.del(ctx, bucketSessionIdentity, key)
}

func (s *Store) CreateMessage(ctx context.Context, id, sharedID string, encrypted []byte) error {
	if err := s.put(ctx, bucketMessage, id, encrypted); err != nil {
		return err
	}
	if sharedID == "" {
		return nil
	}
	return s.put(ctx, bucketMessageShared, sharedID, []byte(id))
}

func (s *Store) FetchMessage(ctx context.Context, id string) ([]byte, bool, error) {
	return s.get(ctx, bucketMessage, id)
}

func (s *Store) FetchMessageBySharedID(ctx context.Context, sharedID string) ([]byte, bool, error) {
	idBytes, found, err := s.get(ctx, bucketMessageShared, sharedID)
	if err != nil || !found {
		return nil, found, err
	}
	return s.get(ctx, bucketMessage, string(idBytes))
}

func (s *Store) FetchAllMessages(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, bucketMessage)
}

func (s *Store) UpdateMessage(ctx context.Context, id string, encrypted []byte) error {
	return s.put(ctx, bucketMessage, id, encrypted)
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.del(ctx, bucketMessage, id)
}

func (s *Store) CreateCommunication(ctx context.Context, id string, encrypted []byte) error {
	return s.put(ctx, bucketCommunication, id, encrypted)
}

func (s *Store) FetchAllCommunications(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, bucketCommunication)
}

func (s *Store) UpdateCommunication(ctx context.Context, id string, encrypted []byte) error {
	return s.put(ctx, bucketCommunication, id, encrypted)
}

func (s *Store) DeleteCommunication(ctx context.Context, id string) error {
	return s.del(ctx, bucketCommunication, id)
}

func (s *Store) CreateContact(ctx context.Context, secretName string, encrypted []byte) error {
	return s.put(ctx, bucketContact, secretName, encrypted)
}

func (s *Store) FetchAllContacts(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, bucketContact)
}

func (s *Store) UpdateContact(ctx context.Context, secretName string, encrypted []byte) error {
	return s.put(ctx, bucketContact, secretName, encrypted)
}

func (s *Store) DeleteContact(ctx context.Context, secretName string) error {
	return s.del(ctx, bucketContact, secretName)
}

func (s *Store) CreateJob(ctx context.Context, id string, encrypted []byte) error {
	return s.put(ctx, bucketJob, id, encrypted)
}

func (s *Store) FetchAllJobs(ctx context.Context) (map[string][]byte, error) {
	return s.getAll(ctx, bucketJob)
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.del(ctx, bucketJob, id)
}

func saltKey(keyData []byte) string {
	sum := sha256.Sum256(keyData)
	return hex.EncodeToString(sum[:])
}

func (s *Store) FetchLocalDeviceSalt(ctx context.Context, keyData []byte) ([]byte, bool, error) {
	return s.get(ctx, bucketSalt, saltKey(keyData))
}

func (s *Store) PutLocalDeviceSalt(ctx context.Context, keyData, salt []byte) error {
	return s.put(ctx, bucketSalt, saltKey(keyData), salt)
}

func (s *Store) DeleteLocalDeviceSalt(ctx context.Context, keyData []byte) error {
	return s.del(ctx, bucketSalt, saltKey(keyData))
}

var _ cache.Store = (*Store)(nil)
