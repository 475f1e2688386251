package cryptoprim

import (
	"bytes"
	"testing"
)

func TestSigningRoundtrip(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("device bundle")
	sig := Sign(kp.PrivateKey, msg)
	if !Verify(kp.PublicKey, msg, sig) {
		t.Error("signature should verify under the matching public key")
	}
	if Verify(kp.PublicKey, []byte("tampered"), sig) {
		t.Error("signature must not verify over a different message")
	}
}

func TestX25519Agreement(t *testing.T) {
	a, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}

	secretA, err := X25519(a.PrivateKey, b.PublicKeyBytes())
	if err != nil {
		t.Fatal(err)
	}
	secretB, err := X25519(b.PrivateKey, a.PublicKeyBytes())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(secretA, secretB) {
		t.Error("X25519 DH must agree from both sides")
	}
}

func TestPQKemEncapsulateDecapsulate(t *testing.T) {
	pub, priv, err := GeneratePQKemKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	ct, ss1, err := PQKemEncapsulate(pub)
	if err != nil {
		t.Fatal(err)
	}
	ss2, err := PQKemDecapsulate(priv, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ss1, ss2) {
		t.Error("encapsulated and decapsulated shared secrets must match")
	}
}

func TestPQKemMarshalRoundtrip(t *testing.T) {
	pub, priv, err := GeneratePQKemKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	pubBytes, err := pub.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	privBytes, err := priv.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	pub2, err := ParsePQKemPublicKey(pubBytes)
	if err != nil {
		t.Fatal(err)
	}
	priv2, err := ParsePQKemPrivateKey(privBytes)
	if err != nil {
		t.Fatal(err)
	}

	ct, ss1, err := PQKemEncapsulate(pub2)
	if err != nil {
		t.Fatal(err)
	}
	ss2, err := PQKemDecapsulate(priv2, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ss1, ss2) {
		t.Error("shared secret must match after marshal/unmarshal roundtrip")
	}
}
