package ratchet

import (
	"bytes"
	"testing"

	"github.com/veilcore/sessioncore/cryptoprim"
)

type party struct {
	signing   *cryptoprim.SigningKeyPair
	longTerm  *cryptoprim.X25519KeyPair
	oneTime   *cryptoprim.X25519KeyPair
	pqPub     *cryptoprim.PQKemPublicKey
	pqPriv    *cryptoprim.PQKemPrivateKey
}

func newParty(t *testing.T) party {
	t.Helper()
	signing, err := cryptoprim.GenerateSigningKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	longTerm, err := cryptoprim.GenerateX25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	oneTime, err := cryptoprim.GenerateX25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pqPub, pqPriv, err := cryptoprim.GeneratePQKemKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return party{signing: signing, longTerm: longTerm, oneTime: oneTime, pqPub: pqPub, pqPriv: pqPriv}
}

// TestSenderRecipientInitAgreeOnRootKey checks that the two sides' raw X3DH
// agreement (before either has DH-ratcheted) lands on the same key: the
// recipient's root key is left at that value until its first Decrypt, while
// the sender immediately ratchets past it, so the two are compared via a
// live handshake rather than by field equality.
func TestSenderRecipientInitAgreeOnRootKey(t *testing.T) {
	sender := newParty(t)
	recipient := newParty(t)

	recipientPQPub, err := recipient.pqPub.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	bundle := RecipientBundle{
		LongTermPublicKey: recipient.longTerm.PublicKeyBytes(),
		OneTimePublicKey:  recipient.oneTime.PublicKeyBytes(),
		PQKemPublicKey:    recipientPQPub,
	}

	senderState, kemCiphertext, ephemeralPublic, err := SenderInit(sender.longTerm.PrivateKey.Bytes(), "peer-secret", bundle)
	if err != nil {
		t.Fatalf("SenderInit: %v", err)
	}

	recipientState, err := RecipientInit(
		recipient.longTerm.PrivateKey.Bytes(),
		"peer-secret",
		sender.longTerm.PublicKeyBytes(),
		ephemeralPublic,
		kemCiphertext,
		recipient.pqPriv,
		recipient.oneTime.PrivateKey.Bytes(),
	)
	if err != nil {
		t.Fatalf("RecipientInit: %v", err)
	}

	msg, err := Encrypt(senderState, sender.signing.PrivateKey, []byte("agree"), kemCiphertext, ephemeralPublic, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := Decrypt(recipientState, sender.signing.PublicKey, msg)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != "agree" {
		t.Fatalf("roundtrip mismatch: got %q", got)
	}
}

func TestEncryptDecryptFirstMessage(t *testing.T) {
	sender := newParty(t)
	recipient := newParty(t)

	recipientPQPub, err := recipient.pqPub.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	bundle := RecipientBundle{
		LongTermPublicKey: recipient.longTerm.PublicKeyBytes(),
		OneTimePublicKey:  recipient.oneTime.PublicKeyBytes(),
		PQKemPublicKey:    recipientPQPub,
	}

	senderState, kemCiphertext, ephemeralPublic, err := SenderInit(sender.longTerm.PrivateKey.Bytes(), "peer-secret", bundle)
	if err != nil {
		t.Fatalf("SenderInit: %v", err)
	}
	recipientState, err := RecipientInit(
		recipient.longTerm.PrivateKey.Bytes(),
		"peer-secret",
		sender.longTerm.PublicKeyBytes(),
		ephemeralPublic,
		kemCiphertext,
		recipient.pqPriv,
		recipient.oneTime.PrivateKey.Bytes(),
	)
	if err != nil {
		t.Fatalf("RecipientInit: %v", err)
	}

	plaintext := []byte("hello, recipient")
	msg, err := Encrypt(senderState, sender.signing.PrivateKey, plaintext, kemCiphertext, ephemeralPublic, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt(recipientState, sender.signing.PublicKey, msg)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestSteadyStateChainAdvancesWithDistinctKeys(t *testing.T) {
	sender := newParty(t)
	recipient := newParty(t)

	recipientPQPub, err := recipient.pqPub.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	bundle := RecipientBundle{
		LongTermPublicKey: recipient.longTerm.PublicKeyBytes(),
		OneTimePublicKey:  recipient.oneTime.PublicKeyBytes(),
		PQKemPublicKey:    recipientPQPub,
	}

	senderState, kemCiphertext, ephemeralPublic, err := SenderInit(sender.longTerm.PrivateKey.Bytes(), "peer-secret", bundle)
	if err != nil {
		t.Fatalf("SenderInit: %v", err)
	}
	recipientState, err := RecipientInit(
		recipient.longTerm.PrivateKey.Bytes(),
		"peer-secret",
		sender.longTerm.PublicKeyBytes(),
		ephemeralPublic,
		kemCiphertext,
		recipient.pqPriv,
		recipient.oneTime.PrivateKey.Bytes(),
	)
	if err != nil {
		t.Fatalf("RecipientInit: %v", err)
	}

	msg1, err := Encrypt(senderState, sender.signing.PrivateKey, []byte("first"), kemCiphertext, ephemeralPublic, nil)
	if err != nil {
		t.Fatalf("Encrypt msg1: %v", err)
	}
	msg2, err := Encrypt(senderState, sender.signing.PrivateKey, []byte("second"), nil, nil, nil)
	if err != nil {
		t.Fatalf("Encrypt msg2: %v", err)
	}
	if bytes.Equal(msg1.Ciphertext, msg2.Ciphertext) {
		t.Fatal("successive messages must use distinct message keys")
	}

	got1, err := Decrypt(recipientState, sender.signing.PublicKey, msg1)
	if err != nil {
		t.Fatalf("Decrypt msg1: %v", err)
	}
	if string(got1) != "first" {
		t.Fatalf("msg1 = %q, want %q", got1, "first")
	}

	got2, err := Decrypt(recipientState, sender.signing.PublicKey, msg2)
	if err != nil {
		t.Fatalf("Decrypt msg2: %v", err)
	}
	if string(got2) != "second" {
		t.Fatalf("msg2 = %q, want %q", got2, "second")
	}
}

func TestOutOfOrderDeliveryDecryptsViaSkippedKeyBuffer(t *testing.T) {
	sender := newParty(t)
	recipient := newParty(t)

	recipientPQPub, err := recipient.pqPub.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	bundle := RecipientBundle{
		LongTermPublicKey: recipient.longTerm.PublicKeyBytes(),
		OneTimePublicKey:  recipient.oneTime.PublicKeyBytes(),
		PQKemPublicKey:    recipientPQPub,
	}

	senderState, kemCiphertext, ephemeralPublic, err := SenderInit(sender.longTerm.PrivateKey.Bytes(), "peer-secret", bundle)
	if err != nil {
		t.Fatalf("SenderInit: %v", err)
	}
	recipientState, err := RecipientInit(
		recipient.longTerm.PrivateKey.Bytes(),
		"peer-secret",
		sender.longTerm.PublicKeyBytes(),
		ephemeralPublic,
		kemCiphertext,
		recipient.pqPriv,
		recipient.oneTime.PrivateKey.Bytes(),
	)
	if err != nil {
		t.Fatalf("RecipientInit: %v", err)
	}

	msg1, err := Encrypt(senderState, sender.signing.PrivateKey, []byte("one"), kemCiphertext, ephemeralPublic, nil)
	if err != nil {
		t.Fatalf("Encrypt msg1: %v", err)
	}
	msg2, err := Encrypt(senderState, sender.signing.PrivateKey, []byte("two"), nil, nil, nil)
	if err != nil {
		t.Fatalf("Encrypt msg2: %v", err)
	}
	msg3, err := Encrypt(senderState, sender.signing.PrivateKey, []byte("three"), nil, nil, nil)
	if err != nil {
		t.Fatalf("Encrypt msg3: %v", err)
	}

	got3, err := Decrypt(recipientState, sender.signing.PublicKey, msg3)
	if err != nil {
		t.Fatalf("Decrypt msg3 (out of order): %v", err)
	}
	if string(got3) != "three" {
		t.Fatalf("msg3 = %q, want %q", got3, "three")
	}
	if len(recipientState.SkippedKeys) != 2 {
		t.Fatalf("expected 2 buffered skipped keys, got %d", len(recipientState.SkippedKeys))
	}

	got1, err := Decrypt(recipientState, sender.signing.PublicKey, msg1)
	if err != nil {
		t.Fatalf("Decrypt msg1 (buffered): %v", err)
	}
	if string(got1) != "one" {
		t.Fatalf("msg1 = %q, want %q", got1, "one")
	}

	got2, err := Decrypt(recipientState, sender.signing.PublicKey, msg2)
	if err != nil {
		t.Fatalf("Decrypt msg2 (buffered): %v", err)
	}
	if string(got2) != "two" {
		t.Fatalf("msg2 = %q, want %q", got2, "two")
	}

	if len(recipientState.SkippedKeys) != 0 {
		t.Fatalf("expected buffered keys to be consumed, got %d remaining", len(recipientState.SkippedKeys))
	}
}

func TestDecryptRejectsTamperedSignatureAndLeavesStateUnchanged(t *testing.T) {
	sender := newParty(t)
	recipient := newParty(t)

	recipientPQPub, err := recipient.pqPub.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	bundle := RecipientBundle{
		LongTermPublicKey: recipient.longTerm.PublicKeyBytes(),
		OneTimePublicKey:  recipient.oneTime.PublicKeyBytes(),
		PQKemPublicKey:    recipientPQPub,
	}

	senderState, kemCiphertext, ephemeralPublic, err := SenderInit(sender.longTerm.PrivateKey.Bytes(), "peer-secret", bundle)
	if err != nil {
		t.Fatalf("SenderInit: %v", err)
	}
	recipientState, err := RecipientInit(
		recipient.longTerm.PrivateKey.Bytes(),
		"peer-secret",
		sender.longTerm.PublicKeyBytes(),
		ephemeralPublic,
		kemCiphertext,
		recipient.pqPriv,
		recipient.oneTime.PrivateKey.Bytes(),
	)
	if err != nil {
		t.Fatalf("RecipientInit: %v", err)
	}

	msg, err := Encrypt(senderState, sender.signing.PrivateKey, []byte("tampered?"), kemCiphertext, ephemeralPublic, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	msg.Signature[0] ^= 0xFF

	recvCount := recipientState.ReceiveMessageNumber
	remotePublic := recipientState.DHRemotePublicKey

	if _, err := Decrypt(recipientState, sender.signing.PublicKey, msg); err == nil {
		t.Fatal("expected tampered signature to fail verification")
	}

	if recipientState.ReceiveMessageNumber != recvCount {
		t.Fatal("ratchet state must not advance on signature failure")
	}
	if !bytes.Equal(recipientState.DHRemotePublicKey, remotePublic) {
		t.Fatal("ratchet state must not ratchet on signature failure")
	}
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	sender := newParty(t)
	recipient := newParty(t)

	recipientPQPub, err := recipient.pqPub.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	bundle := RecipientBundle{
		LongTermPublicKey: recipient.longTerm.PublicKeyBytes(),
		OneTimePublicKey:  recipient.oneTime.PublicKeyBytes(),
		PQKemPublicKey:    recipientPQPub,
	}

	senderState, _, _, err := SenderInit(sender.longTerm.PrivateKey.Bytes(), "peer-secret", bundle)
	if err != nil {
		t.Fatalf("SenderInit: %v", err)
	}

	data, err := Marshal(senderState)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	restored, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !bytes.Equal(senderState.RootKey, restored.RootKey) {
		t.Fatal("root key mismatch after roundtrip")
	}
	if !bytes.Equal(senderState.DHSelfPrivateKey, restored.DHSelfPrivateKey) {
		t.Fatal("dh self private key mismatch after roundtrip")
	}
	if restored.Version != StateVersion {
		t.Fatalf("version = %d, want %d", restored.Version, StateVersion)
	}
}
