package memory_test

import (
	"context"
	"testing"

	"github.com/veilcore/sessioncore/storage/memory"
)

func TestMemoryStoreSessionContextRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	if _, found, err := s.FetchSessionContext(ctx); err != nil || found {
		t.Fatalf("expected no session context yet, found=%v err=%v", found, err)
	}
	if err := s.PutSessionContext(ctx, []byte("ciphertext")); err != nil {
		t.Fatal(err)
	}
	blob, found, err := s.FetchSessionContext(ctx)
	if err != nil || !found || string(blob) != "ciphertext" {
		t.Fatalf("FetchSessionContext = %q, %v, %v", blob, found, err)
	}
}

func TestMemoryStoreMessageBySharedID(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	if err := s.CreateMessage(ctx, "msg1", "shared1", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	blob, found, err := s.FetchMessageBySharedID(ctx, "shared1")
	if err != nil || !found || string(blob) != "hello" {
		t.Fatalf("FetchMessageBySharedID = %q, %v, %v", blob, found, err)
	}

	if err := s.DeleteMessage(ctx, "msg1"); err != nil {
		t.Fatal(err)
	}
	if _, found, err := s.FetchMessageBySharedID(ctx, "shared1"); err != nil || found {
		t.Fatalf("expected shared-id index cleared after delete, found=%v err=%v", found, err)
	}
}

func TestMemoryStoreSaltIsKeyedByPassword(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	pw1 := []byte("password one")
	pw2 := []byte("password two")

	if err := s.PutLocalDeviceSalt(ctx, pw1, []byte("salt1")); err != nil {
		t.Fatal(err)
	}
	if _, found, err := s.FetchLocalDeviceSalt(ctx, pw2); err != nil || found {
		t.Fatalf("expected no salt for a different password, found=%v err=%v", found, err)
	}
	salt, found, err := s.FetchLocalDeviceSalt(ctx, pw1)
	if err != nil || !found || string(salt) != "salt1" {
		t.Fatalf("FetchLocalDeviceSalt = %q, %v, %v", salt, found, err)
	}
}

func TestMemoryStoreFetchAllIsASnapshot(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	if err := s.CreateContact(ctx, "bob", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	all, err := s.FetchAllContacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	all["bob"] = []byte("tampered")

	again, err := s.FetchAllContacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(again["bob"]) != "v1" {
		t.Fatal("FetchAllContacts must return a snapshot, not a live map reference")
	}
}
