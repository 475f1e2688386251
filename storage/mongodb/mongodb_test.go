//go:build integration

package mongodb_test

import (
	"context"
	"os"
	"testing"

	"github.com/veilcore/sessioncore/storage/mongodb"
)

func TestMongoDBStoreRoundtrip(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	db := os.Getenv("MONGO_DB")
	if uri == "" || db == "" {
		t.Skip("MONGO_URI or MONGO_DB not set; skipping integration test")
	}

	ctx := context.Background()
	store, err := mongodb.New(uri, db)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}

	if err := store.PutSessionContext(ctx, []byte("ciphertext")); err != nil {
		t.Fatal(err)
	}
	blob, found, err := store.FetchSessionContext(ctx)
	if err != nil || !found || string(blob) != "ciphertext" {
		t.Fatalf("FetchSessionContext = %q, %v, %v", blob, found, err)
	}
}
