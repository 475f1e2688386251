package sqlite_test

import (
	"context"
	"testing"

	"github.com/veilcore/sessioncore/storage/sqlite"
)

func TestSQLiteStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
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
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(blob) != "ciphertext" {
		t.Fatalf("FetchSessionContext = %q, %v, want ciphertext, true", blob, found)
	}

	if err := store.CreateMessage(ctx, "msg1", "shared1", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	byID, found, err := store.FetchMessage(ctx, "msg1")
	if err != nil || !found || string(byID) != "hello" {
		t.Fatalf("FetchMessage = %q, %v, %v", byID, found, err)
	}
	byShared, found, err := store.FetchMessageBySharedID(ctx, "shared1")
	if err != nil || !found || string(byShared) != "hello" {
		t.Fatalf("FetchMessageBySharedID = %q, %v, %v", byShared, found, err)
	}

	if err := store.DeleteMessage(ctx, "msg1"); err != nil {
		t.Fatal(err)
	}
	if _, found, err := store.FetchMessage(ctx, "msg1"); err != nil || found {
		t.Fatalf("expected message deleted, found=%v err=%v", found, err)
	}
}

func TestSQLiteStoreSaltMinting(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}

	pw := []byte("correct horse battery staple")
	if _, found, err := store.FetchLocalDeviceSalt(ctx, pw); err != nil || found {
		t.Fatalf("expected no salt yet, found=%v err=%v", found, err)
	}
	if err := store.PutLocalDeviceSalt(ctx, pw, []byte("salt-bytes")); err != nil {
		t.Fatal(err)
	}
	salt, found, err := store.FetchLocalDeviceSalt(ctx, pw)
	if err != nil || !found || string(salt) != "salt-bytes" {
		t.Fatalf("FetchLocalDeviceSalt = %q, %v, %v", salt, found, err)
	}
}
