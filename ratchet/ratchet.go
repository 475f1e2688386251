// Package ratchet implements the Double Ratchet engine bootstrapped by a
// hybrid X3DH+PQKEM handshake (spec §4.4). All state mutations are
// expected to run on the caller's serial executor (spec §5); this package
// itself is not concurrency-safe by design — callers serialize access
// per (peer, device).
package ratchet

import (
	"fmt"

	"github.com/veilcore/sessioncore/cryptoprim"
	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/sessionerr"
)

// StateVersion is the version byte prefix for serialized ratchet state
// (spec §9 "keep the state serialization format versioned").
const StateVersion = 1

const rootKeyInfo = "X3DHTemporaryReplacement"

// maxSkippedKeys bounds how many out-of-order message keys are buffered
// (spec §4.4 "implementation-chosen bound"). Buffered keys are never
// discarded; a message that would need more fails to decrypt.
const maxSkippedKeys = 1000

// RecipientBundle is the public material the sender needs from the
// recipient's SessionIdentity to bootstrap a session (spec §4.4).
type RecipientBundle struct {
	LongTermPublicKey []byte
	OneTimePublicKey  []byte // optional
	PQKemPublicKey    []byte
}

// SenderInit derives the initial root key via extended Triple-DH plus an
// ML-KEM encapsulation and seeds the sending chain (spec §4.4 "Sender
// initialization").
func SenderInit(senderLongTermPriv []byte, peerSecretName string, recipient RecipientBundle) (*model.RatchetState, []byte, []byte, error) {
	senderLongTerm, err := cryptoprim.ParseX25519PrivateKey(senderLongTermPriv)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ratchet: parse sender long-term key: %w", sessionerr.ErrSessionEncryptionError)
	}

	ephemeral, err := cryptoprim.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ratchet: generate ephemeral key: %w", sessionerr.ErrSessionEncryptionError)
	}

	dh1, err := cryptoprim.X25519(senderLongTerm, recipient.LongTermPublicKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ratchet: DH1: %w", sessionerr.ErrSessionEncryptionError)
	}

	var dh2 []byte
	if len(recipient.OneTimePublicKey) > 0 {
		dh2, err = cryptoprim.X25519(senderLongTerm, recipient.OneTimePublicKey)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("ratchet: DH2: %w", sessionerr.ErrSessionEncryptionError)
		}
	}

	dh3, err := cryptoprim.X25519(ephemeral.PrivateKey, recipient.LongTermPublicKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ratchet: DH3: %w", sessionerr.ErrSessionEncryptionError)
	}

	pqPub, err := cryptoprim.ParsePQKemPublicKey(recipient.PQKemPublicKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ratchet: parse recipient pqkem public: %w", sessionerr.ErrSessionEncryptionError)
	}
	kemCiphertext, kemSharedSecret, err := cryptoprim.PQKemEncapsulate(pqPub)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ratchet: pqkem encapsulate: %w", sessionerr.ErrSessionEncryptionError)
	}

	rootKey, err := deriveRootKey(peerSecretName, dh1, dh2, dh3, kemSharedSecret)
	if err != nil {
		return nil, nil, nil, err
	}

	// The sender's own Double Ratchet key pair for this session is the
	// same ephemeral used for DH3, not a freshly generated one: its
	// public is what the recipient's first dhRatchetStep will agree
	// against, so reusing it is what lets the two sides land on the same
	// initial sending chain key without an extra round trip.
	newRootKey, chainKey, err := ratchetKDF(rootKey, dh3)
	if err != nil {
		return nil, nil, nil, err
	}

	state := &model.RatchetState{
		Version:           StateVersion,
		RootKey:           newRootKey,
		DHSelfPrivateKey:  ephemeral.PrivateKey.Bytes(),
		DHSelfPublicKey:   ephemeral.PublicKeyBytes(),
		DHRemotePublicKey: recipient.LongTermPublicKey,
		SendingChainKey:   chainKey,
	}

	return state, kemCiphertext, ephemeral.PublicKeyBytes(), nil
}

// RecipientInit mirrors SenderInit for the recipient side, extracting the
// sender's ephemeral public and kem ciphertext from the inbound header
// (spec §4.4 "Recipient initialization").
func RecipientInit(recipientLongTermPriv []byte, peerSecretName string, senderLongTermPublic, senderEphemeralPublic, kemCiphertext []byte, pqPriv *cryptoprim.PQKemPrivateKey, oneTimePriv []byte) (*model.RatchetState, error) {
	recipientLongTerm, err := cryptoprim.ParseX25519PrivateKey(recipientLongTermPriv)
	if err != nil {
		return nil, fmt.Errorf("ratchet: parse recipient long-term key: %w", sessionerr.ErrSessionDecryptionError)
	}

	dh1, err := cryptoprim.X25519(recipientLongTerm, senderLongTermPublic)
	if err != nil {
		return nil, fmt.Errorf("ratchet: DH1: %w", sessionerr.ErrSessionDecryptionError)
	}

	var dh2 []byte
	if len(oneTimePriv) > 0 {
		oneTime, err := cryptoprim.ParseX25519PrivateKey(oneTimePriv)
		if err != nil {
			return nil, fmt.Errorf("ratchet: parse one-time key: %w", sessionerr.ErrSessionDecryptionError)
		}
		dh2, err = cryptoprim.X25519(oneTime, senderLongTermPublic)
		if err != nil {
			return nil, fmt.Errorf("ratchet: DH2: %w", sessionerr.ErrSessionDecryptionError)
		}
	}

	dh3, err := cryptoprim.X25519(recipientLongTerm, senderEphemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("ratchet: DH3: %w", sessionerr.ErrSessionDecryptionError)
	}

	kemSharedSecret, err := cryptoprim.PQKemDecapsulate(pqPriv, kemCiphertext)
	if err != nil {
		return nil, fmt.Errorf("ratchet: pqkem decapsulate: %w", sessionerr.ErrSessionDecryptionError)
	}

	rootKey, err := deriveRootKey(peerSecretName, dh1, dh2, dh3, kemSharedSecret)
	if err != nil {
		return nil, err
	}

	// DHRemotePublicKey and ReceivingChainKey are intentionally left
	// unset: the recipient's own long-term key pair stands in as its
	// initial DHSelf, exactly like the sender's ephemeral, but the
	// matching ratchet step only happens once the first envelope's
	// ChainPublicKey is known, inside Decrypt's dhRatchetStep call. That
	// step derives the same chain key from rootKey and X25519(DHSelf,
	// senderEphemeralPublic) as SenderInit derived from rootKey and dh3
	// above -- the two are the same DH computation from either side.
	return &model.RatchetState{
		Version:          StateVersion,
		RootKey:          rootKey,
		DHSelfPrivateKey: recipientLongTermPriv,
		DHSelfPublicKey:  recipientLongTerm.PublicKey().Bytes(),
	}, nil
}

func deriveRootKey(peerSecretName string, dh1, dh2, dh3, kemSharedSecret []byte) ([]byte, error) {
	salt := cryptoprim.SHA512Sum([]byte(peerSecretName))
	ikm := append([]byte{}, dh1...)
	if len(dh2) > 0 {
		ikm = append(ikm, dh2...)
	}
	ikm = append(ikm, dh3...)
	ikm = append(ikm, kemSharedSecret...)

	rootKey, err := cryptoprim.HKDFSHA512(salt, ikm, []byte(rootKeyInfo), cryptoprim.SymmetricKeySize)
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive root key: %w", sessionerr.ErrSessionEncryptionError)
	}
	return rootKey, nil
}

// ratchetKDF is the Double Ratchet's KDF_RK: a DH ratchet turn derives a
// replacement root key and a fresh chain key from the current root key
// and a new DH output in a single HKDF expansion, split in half (spec
// §4.4 "a header triggers a DH ratchet on key change").
func ratchetKDF(rootKey, dhOut []byte) (newRootKey, chainKey []byte, err error) {
	out, err := cryptoprim.HKDFSHA512(rootKey, dhOut, []byte(rootKeyInfo), 2*cryptoprim.SymmetricKeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("ratchet: derive ratchet step keys: %w", sessionerr.ErrSessionEncryptionError)
	}
	return out[:cryptoprim.SymmetricKeySize], out[cryptoprim.SymmetricKeySize:], nil
}
