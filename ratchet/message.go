package ratchet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/veilcore/sessioncore/cryptoprim"
	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/sessionerr"
)

// Encrypt advances the sending chain and produces a signed envelope for
// plaintext (spec §4.4 "Steady-state", "Signature envelope"). kemCiphertext,
// ephemeralPublic, and pqKemOneTimeKeyID should only be set on the very
// first message of a session; pass nil on subsequent calls.
func Encrypt(state *model.RatchetState, signingKey ed25519.PrivateKey, plaintext, kemCiphertext, ephemeralPublic []byte, pqKemOneTimeKeyID *uint32) (model.SignedRatchetMessage, error) {
	messageKey, nextChain := cryptoprim.ChainKDF(state.SendingChainKey)
	state.SendingChainKey = nextChain

	ciphertext, err := cryptoprim.AEADEncrypt(messageKey, plaintext)
	if err != nil {
		return model.SignedRatchetMessage{}, fmt.Errorf("ratchet: encrypt message: %w", sessionerr.ErrSessionEncryptionError)
	}

	msg := model.SignedRatchetMessage{
		Ciphertext:          ciphertext,
		KemCiphertext:       kemCiphertext,
		EphemeralPublicKey:  ephemeralPublic,
		PQKemOneTimeKeyID:   pqKemOneTimeKeyID,
		ChainPublicKey:      state.DHSelfPublicKey,
		MessageNumber:       state.SendMessageNumber,
		PreviousChainLength: state.PreviousChainLength,
	}
	msg.Signature = cryptoprim.Sign(signingKey, ciphertext)

	state.SendMessageNumber++
	return msg, nil
}

// Decrypt verifies the envelope's signature, advances or DH-ratchets the
// receiving chain as needed, and decrypts the plaintext (spec §4.4
// "Steady-state", "Signature envelope"). A signature mismatch or MAC
// failure is fatal for this message only; state is left unchanged.
func Decrypt(state *model.RatchetState, senderSigningKey ed25519.PublicKey, msg model.SignedRatchetMessage) ([]byte, error) {
	if len(msg.Signature) == 0 {
		return nil, fmt.Errorf("ratchet: decrypt message: %w", sessionerr.ErrMissingSignature)
	}
	if !cryptoprim.Verify(senderSigningKey, msg.Ciphertext, msg.Signature) {
		return nil, fmt.Errorf("ratchet: decrypt message: %w", sessionerr.ErrInvalidSignature)
	}

	// All steps run on a copy that replaces *state only once the
	// plaintext has been recovered.
	work := *state
	work.SkippedKeys = append([]model.SkippedMessageKey(nil), state.SkippedKeys...)

	if key, ok := takeSkippedKey(&work, msg.ChainPublicKey, msg.MessageNumber); ok {
		plaintext, err := cryptoprim.AEADDecrypt(key, msg.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("ratchet: decrypt buffered message: %w", sessionerr.ErrSessionDecryptionError)
		}
		*state = work
		return plaintext, nil
	}

	if len(work.DHRemotePublicKey) == 0 || string(work.DHRemotePublicKey) != string(msg.ChainPublicKey) {
		if err := dhRatchetStep(&work, msg.ChainPublicKey); err != nil {
			return nil, err
		}
	}

	if err := bufferSkippedKeys(&work, msg.MessageNumber); err != nil {
		return nil, err
	}

	messageKey, nextChain := cryptoprim.ChainKDF(work.ReceivingChainKey)
	work.ReceivingChainKey = nextChain
	work.ReceiveMessageNumber++

	plaintext, err := cryptoprim.AEADDecrypt(messageKey, msg.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decrypt message: %w", sessionerr.ErrSessionDecryptionError)
	}
	*state = work
	return plaintext, nil
}

// dhRatchetStep performs a DH ratchet when the incoming header carries a
// new chain public key (spec §4.4 "a header triggers a DH ratchet on key
// change"). Like the reference two-stage ratchet, turning over the
// receiving chain against the peer's new public key is immediately
// followed by generating a fresh DHSelf key pair and re-seeding the
// sending chain against that same peer public key, so the send direction
// also turns over on every receive instead of only the receive direction.
func dhRatchetStep(state *model.RatchetState, newRemotePublic []byte) error {
	selfPriv, err := cryptoprim.ParseX25519PrivateKey(state.DHSelfPrivateKey)
	if err != nil {
		return fmt.Errorf("ratchet: parse dh self key: %w", sessionerr.ErrSessionDecryptionError)
	}
	recvSecret, err := cryptoprim.X25519(selfPriv, newRemotePublic)
	if err != nil {
		return fmt.Errorf("ratchet: dh ratchet agreement: %w", sessionerr.ErrSessionDecryptionError)
	}
	rootAfterRecv, receivingChainKey, err := ratchetKDF(state.RootKey, recvSecret)
	if err != nil {
		return err
	}

	state.PreviousChainLength = state.SendMessageNumber
	state.DHRemotePublicKey = newRemotePublic
	state.ReceivingChainKey = receivingChainKey
	state.RootKey = rootAfterRecv
	state.ReceiveMessageNumber = 0

	newSelf, err := cryptoprim.GenerateX25519KeyPair()
	if err != nil {
		return fmt.Errorf("ratchet: generate dh ratchet key: %w", sessionerr.ErrSessionDecryptionError)
	}
	sendSecret, err := cryptoprim.X25519(newSelf.PrivateKey, newRemotePublic)
	if err != nil {
		return fmt.Errorf("ratchet: dh ratchet agreement: %w", sessionerr.ErrSessionDecryptionError)
	}
	rootAfterSend, sendingChainKey, err := ratchetKDF(state.RootKey, sendSecret)
	if err != nil {
		return err
	}

	state.RootKey = rootAfterSend
	state.DHSelfPrivateKey = newSelf.PrivateKey.Bytes()
	state.DHSelfPublicKey = newSelf.PublicKeyBytes()
	state.SendingChainKey = sendingChainKey
	state.SendMessageNumber = 0
	return nil
}

func takeSkippedKey(state *model.RatchetState, chainPublic []byte, messageNumber uint32) ([]byte, bool) {
	for i, k := range state.SkippedKeys {
		if string(k.ChainPublicKey) == string(chainPublic) && k.MessageIndex == messageNumber {
			state.SkippedKeys = append(state.SkippedKeys[:i], state.SkippedKeys[i+1:]...)
			return k.MessageKey, true
		}
	}
	return nil, false
}

// bufferSkippedKeys advances the receiving chain from its current
// position up to messageNumber, buffering each intermediate message key
// so a later out-of-order message can still decrypt (spec §4.4
// "out-of-order delivery within the bound must decrypt").
func bufferSkippedKeys(state *model.RatchetState, messageNumber uint32) error {
	for state.ReceiveMessageNumber < messageNumber {
		if len(state.SkippedKeys) >= maxSkippedKeys {
			return fmt.Errorf("ratchet: skipped key buffer exhausted: %w", sessionerr.ErrSessionDecryptionError)
		}
		messageKey, nextChain := cryptoprim.ChainKDF(state.ReceivingChainKey)
		state.SkippedKeys = append(state.SkippedKeys, model.SkippedMessageKey{
			ChainPublicKey: state.DHRemotePublicKey,
			MessageIndex:   state.ReceiveMessageNumber,
			MessageKey:     messageKey,
		})
		state.ReceivingChainKey = nextChain
		state.ReceiveMessageNumber++
	}
	return nil
}
