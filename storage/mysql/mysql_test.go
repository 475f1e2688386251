//go:build integration

package mysql_test

import (
	"context"
	"os"
	"testing"

	"github.com/veilcore/sessioncore/storage/mysql"
)

func TestMySQLStoreRoundtrip(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set; skipping integration test")
	}

	ctx := context.Background()
	store, err := mysql.New(dsn)
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
