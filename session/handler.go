package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/veilcore/sessioncore/cryptoprim"
	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/orchestration"
	"github.com/veilcore/sessioncore/ratchet"
	"github.com/veilcore/sessioncore/sessionerr"
	"github.com/veilcore/sessioncore/sessionid"
	"github.com/veilcore/sessioncore/transport"
)

// deviceKeys is the live, mutable view of this installation's own key
// material, shared by pointer between the session and its job handler.
// The handler holds only this narrow slice rather than a back-reference
// to the session itself, so the object graph never cycles back through
// the job queue (the queue does not own the session, it is handed just
// enough to do its work).
type deviceKeys struct {
	mu         sync.Mutex
	keys       model.DeviceKeys
	secretName string
	deviceID   string
}

func (k *deviceKeys) snapshot() (model.DeviceKeys, string, string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys, k.secretName, k.deviceID
}

func (k *deviceKeys) set(keys model.DeviceKeys, secretName, deviceID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys, k.secretName, k.deviceID = keys, secretName, deviceID
}

func (k *deviceKeys) update(fn func(*model.DeviceKeys)) model.DeviceKeys {
	k.mu.Lock()
	defer k.mu.Unlock()
	fn(&k.keys)
	return k.keys
}

// cryptoHandler implements jobqueue.Handler (spec §4.5 step 3): the single
// serial executor where ratchet bootstrap and steady-state encrypt/decrypt
// actually run.
type cryptoHandler struct {
	keys         *deviceKeys
	identities   *sessionid.Cache
	orchestrator *orchestration.Orchestrator
	tr           transport.Transport
}

func (h *cryptoHandler) HandleWriteMessage(ctx context.Context, task model.OutboundTaskMessage) error {
	keys, _, _ := h.keys.snapshot()

	target := task.RecipientIdentity
	if current, found, err := h.identities.Get(ctx, target.SecretName, target.DeviceID); err != nil {
		return fmt.Errorf("session: reload target identity: %w", err)
	} else if found {
		target = current
	}

	var kemCiphertext, ephemeralPublic []byte
	if target.State == model.SessionStateNone {
		state, kemCT, ephPub, err := ratchet.SenderInit(keys.LongTermPrivateKey, target.SecretName, ratchet.RecipientBundle{
			LongTermPublicKey: target.LongTermPublicKey,
			OneTimePublicKey:  target.OneTimePublicKey,
			PQKemPublicKey:    target.PQKemPublicKey,
		})
		if err != nil {
			return err
		}
		target.Ratchet = *state
		target.State = model.SessionStateActive
		target.OneTimePublicKey = nil
		kemCiphertext, ephemeralPublic = kemCT, ephPub
	}

	plaintext, err := json.Marshal(task.Message)
	if err != nil {
		return fmt.Errorf("session: encode outbound message: %w", sessionerr.ErrPropsError)
	}

	pqKemOneTimeKeyID := target.PQKemOneTimeKeyID
	target.PQKemOneTimeKeyID = nil

	envelope, err := ratchet.Encrypt(&target.Ratchet, keys.SigningPrivateKey, plaintext, kemCiphertext, ephemeralPublic, pqKemOneTimeKeyID)
	if err != nil {
		return err
	}

	if err := h.identities.Put(ctx, target); err != nil {
		return fmt.Errorf("session: persist ratchet state: %w", err)
	}

	return h.tr.SendMessage(ctx, envelope, transport.SendOptions{
		SecretName:              target.SecretName,
		DeviceID:                target.DeviceID,
		SharedMessageIdentifier: task.SharedID,
		MessageType:             task.Message.MessageType,
		MessageFlags:            task.Message.MessageFlags,
	})
}

func (h *cryptoHandler) HandleStreamMessage(ctx context.Context, task model.InboundTaskMessage) error {
	keys, mySecretName, myDeviceID := h.keys.snapshot()

	current, found, err := h.identities.Get(ctx, task.SenderSecretName, task.SenderDeviceID)
	if err != nil {
		return fmt.Errorf("session: load sender identity: %w", err)
	}
	if !found {
		refreshed, err := h.identities.Refresh(ctx, task.SenderSecretName, mySecretName, myDeviceID)
		if err != nil {
			return err
		}
		for _, si := range refreshed {
			if si.SecretName == task.SenderSecretName && si.DeviceID == task.SenderDeviceID {
				current, found = si, true
				break
			}
		}
	}
	if !found {
		return fmt.Errorf("session: locate sender identity %s/%s: %w", task.SenderSecretName, task.SenderDeviceID, sessionerr.ErrMissingSessionIdentity)
	}

	if current.State == model.SessionStateNone {
		// The wire envelope omits a matching X25519 one-time identifier
		// (spec §4.4 "if identified" is conditional), so that half always
		// falls back to the long-term key alone. The PQKEM half is
		// identified: the sender may have encapsulated against one of our
		// published one-time ML-KEM keys rather than the long-lived
		// reserve, and decapsulating with the wrong private key produces a
		// shared secret that silently disagrees with the sender's.
		pqPrivBytes := keys.FinalPQKemPrivateKey
		if task.SignedMessage.PQKemOneTimeKeyID != nil {
			pqPrivBytes = nil
			wantID := *task.SignedMessage.PQKemOneTimeKeyID
			for _, k := range keys.PQKemOneTimePrivateKeys {
				if k.ID == wantID {
					pqPrivBytes = k.PrivateKey
					break
				}
			}
			if pqPrivBytes == nil {
				return fmt.Errorf("session: locate one-time pqkem key %d: %w", wantID, sessionerr.ErrCannotFindOneTimeKey)
			}
		}
		pqPriv, err := cryptoprim.ParsePQKemPrivateKey(pqPrivBytes)
		if err != nil {
			return fmt.Errorf("session: parse pqkem key: %w", sessionerr.ErrSessionDecryptionError)
		}
		state, err := ratchet.RecipientInit(keys.LongTermPrivateKey, mySecretName, current.LongTermPublicKey, task.SignedMessage.EphemeralPublicKey, task.SignedMessage.KemCiphertext, pqPriv, nil)
		if err != nil {
			return err
		}
		current.Ratchet = *state
		current.State = model.SessionStateActive
	}

	plaintext, err := ratchet.Decrypt(&current.Ratchet, current.SigningPublicKey, task.SignedMessage)
	if err != nil {
		return err
	}

	var msg model.CryptoMessage
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		return fmt.Errorf("session: decode inbound message: %w", sessionerr.ErrPropsError)
	}

	if err := h.identities.Put(ctx, current); err != nil {
		return fmt.Errorf("session: persist ratchet state: %w", err)
	}

	return h.orchestrator.Deliver(ctx, msg, task.SenderSecretName, task.SenderDeviceID, task.SharedMessageID)
}
