// Package mongodb provides a MongoDB backing store for the session core's
// cache layer.
package mongodb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/veilcore/sessioncore/cache"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const collectionName = "kv"

type row struct {
	Bucket string `bson:"bucket"`
	ID     string `bson:"id"`
	Value  []byte `bson:"value"`
}

// Store implements cache.Store using a single collection of (bucket, id,
// value) documents, keeping the same opaque-bytes shape the spec imposes
// on every backend (spec §6).
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// New connects to uri and selects database. Callers must call Init before
// use.
func New(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	return &Store{client: client, coll: client.Database(database).Collection(collectionName)}, nil
}

func (s *Store) Init(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bucket", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongodb: create index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Store) put(ctx context.Context, bucket, id string, value []byte) error {
	filter := bson.D{{Key: "bucket", Value: bucket}, {Key: "id", Value: id}}
	update := bson.D{{Key: "$set", Value: row{Bucket: bucket, ID: id, Value: value}}}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (s *Store) get(ctx context.Context, bucket, id string) ([]byte, bool, error) {
	var r row
	err := s.coll.FindOne(ctx, bson.D{{Key: "bucket", Value: bucket}, {Key: "id", Value: id}}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.Value, true, nil
}

func (s *Store) getAll(ctx context.Context, bucket string) (map[string][]byte, error) {
	cur, err := s.coll.Find(ctx, bson.D{{Key: "bucket", Value: bucket}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string][]byte)
	for cur.Next(ctx) {
		var r row
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out[r.ID] = r.Value
	}
	return out, cur.Err()
}

func (s *Store) del(ctx context.Context, bucket, id string) error {
	_, err := s.coll.DeleteOne(ctx, bson.D{{Key: "bucket", Value: bucket}, {Key: "id", Value: id}})
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
	return s.put(ctx, "message_shared", sharedID, []byte(id))
}

func (s *Store) FetchMessage(ctx context.Context, id string) ([]byte, bool, error) {
	return s.get(ctx, "message", id)
}

func (s *Store) FetchMessageBySharedID(ctx context.Context, sharedID string) ([]byte, bool, error) {
	idBytes, found, err := s.get(ctx, "message_shared", sharedID)
	if err != nil || !found {
		return nil, found, err
	}
	return s.get(ctx, "message", string(idBytes))
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

func saltKey(keyData []byte) string {
	sum := sha256.Sum256(keyData)
	return hex.EncodeToString(sum[:])
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
