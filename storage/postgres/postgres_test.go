//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/veilcore/sessioncore/storage/postgres"
)

func TestPostgresStoreRoundtrip(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set; skipping integration test")
	}

	ctx := context.Background()
	store, err := postgres.New(dsn)
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
