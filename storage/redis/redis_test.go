//go:build integration

package redis_test

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/veilcore/sessioncore/storage/redis"
)

func TestRedisStoreRoundtrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}

	ctx := context.Background()
	store := redis.New(&goredis.Options{Addr: addr})
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
