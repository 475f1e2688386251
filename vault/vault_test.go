package vault_test

import (
	"context"
	"testing"

	"github.com/veilcore/sessioncore/cache"
	"github.com/veilcore/sessioncore/storage/memory"
	"github.com/veilcore/sessioncore/vault"
)

func newVault() *vault.Vault {
	c := cache.New(memory.New())
	return vault.New(c)
}

func TestVaultSealOpenRoundtrip(t *testing.T) {
	ctx := context.Background()
	v := newVault()
	password := []byte("p@ss1")
	plaintext := []byte("session context bytes")

	ciphertext, err := v.Seal(ctx, password, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	opened, err := v.Open(ctx, password, ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("Open = %q, want %q", opened, plaintext)
	}

	if _, err := v.Open(ctx, []byte("wrong password"), ciphertext); err == nil {
		t.Fatal("expected Open to fail under a different password")
	}
}

func TestVaultVerifyPassword(t *testing.T) {
	ctx := context.Background()
	v := newVault()
	ciphertext, err := v.Seal(ctx, []byte("p@ss1"), []byte("data"))
	if err != nil {
		t.Fatal(err)
	}

	if !v.VerifyPassword(ctx, []byte("p@ss1"), ciphertext) {
		t.Error("VerifyPassword should succeed for the minting password")
	}
	if v.VerifyPassword(ctx, []byte("p@ss2"), ciphertext) {
		t.Error("VerifyPassword should fail for a different password")
	}
}

func TestVaultChangePassword(t *testing.T) {
	ctx := context.Background()
	v := newVault()
	ciphertext, err := v.Seal(ctx, []byte("p@ss1"), []byte("data"))
	if err != nil {
		t.Fatal(err)
	}

	newCiphertext, err := v.ChangePassword(ctx, []byte("p@ss1"), []byte("p@ss2"), ciphertext)
	if err != nil {
		t.Fatal(err)
	}

	if !v.VerifyPassword(ctx, []byte("p@ss2"), newCiphertext) {
		t.Error("VerifyPassword(p@ss2) should succeed after change")
	}
	if v.VerifyPassword(ctx, []byte("p@ss1"), newCiphertext) {
		t.Error("VerifyPassword(p@ss1) should fail after change")
	}
}
