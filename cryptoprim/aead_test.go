package cryptoprim

import (
	"bytes"
	"testing"
)

func TestAEADRoundtrip(t *testing.T) {
	key, err := RandomSymmetricKey()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("hello session core")
	blob, err := AEADEncrypt(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	if len(blob) <= len(plaintext) {
		t.Error("ciphertext should be longer than plaintext (nonce + tag)")
	}

	decrypted, err := AEADDecrypt(key, blob)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestAEADInvalidKeyLength(t *testing.T) {
	if _, err := AEADEncrypt([]byte{1, 2, 3}, []byte("x")); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := AEADDecrypt([]byte{1, 2, 3}, make([]byte, 40)); err == nil {
		t.Error("expected error for short key")
	}
}

func TestAEADTamper(t *testing.T) {
	key, err := RandomSymmetricKey()
	if err != nil {
		t.Fatal(err)
	}
	blob, err := AEADEncrypt(key, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	blob[len(blob)-1] ^= 0xFF
	if _, err := AEADDecrypt(key, blob); err == nil {
		t.Error("expected tamper detection")
	}
}

func TestAEADEmptyPlaintext(t *testing.T) {
	key, err := RandomSymmetricKey()
	if err != nil {
		t.Fatal(err)
	}
	blob, err := AEADEncrypt(key, nil)
	if err != nil {
		t.Fatal(err)
	}
	plaintext, err := AEADDecrypt(key, blob)
	if err != nil {
		t.Fatal(err)
	}
	if len(plaintext) != 0 {
		t.Errorf("plaintext length = %d, want 0", len(plaintext))
	}
}
