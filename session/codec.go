package session

import (
	"encoding/json"
	"fmt"

	"github.com/veilcore/sessioncore/cryptoprim"
	"github.com/veilcore/sessioncore/model"
)

// sealJSON/openJSON give every row-level codec the same shape: JSON-encode
// the value, then AEAD-seal it under the installation's database key (spec
// §4.6 "K_db ... encrypts every other entity's props"). Storage only ever
// sees the resulting opaque bytes.
func sealJSON(key []byte, v any) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("session: encode row: %w", err)
	}
	ciphertext, err := cryptoprim.AEADEncrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("session: seal row: %w", err)
	}
	return ciphertext, nil
}

func openJSON(key, blob []byte, out any) error {
	plaintext, err := cryptoprim.AEADDecrypt(key, blob)
	if err != nil {
		return fmt.Errorf("session: open row: %w", err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("session: decode row: %w", err)
	}
	return nil
}

// identityCodec implements sessionid.Codec.
type identityCodec struct{ key []byte }

func (c identityCodec) Seal(si model.SessionIdentity) ([]byte, error) { return sealJSON(c.key, si) }
func (c identityCodec) Open(blob []byte) (model.SessionIdentity, error) {
	var si model.SessionIdentity
	err := openJSON(c.key, blob, &si)
	return si, err
}

// jobCodec implements jobqueue.Codec.
type jobCodec struct{ key []byte }

func (c jobCodec) Seal(job model.JobModel) ([]byte, error) { return sealJSON(c.key, job) }
func (c jobCodec) Open(blob []byte) (model.JobModel, error) {
	var job model.JobModel
	err := openJSON(c.key, blob, &job)
	return job, err
}

// communicationCodec implements orchestration.CommunicationCodec.
type communicationCodec struct{ key []byte }

func (c communicationCodec) Seal(comm model.BaseCommunication) ([]byte, error) {
	return sealJSON(c.key, comm)
}
func (c communicationCodec) Open(blob []byte) (model.BaseCommunication, error) {
	var comm model.BaseCommunication
	err := openJSON(c.key, blob, &comm)
	return comm, err
}

// messageCodec implements orchestration.MessageCodec.
type messageCodec struct{ key []byte }

func (c messageCodec) Seal(msg model.EncryptedMessage) ([]byte, error) { return sealJSON(c.key, msg) }
func (c messageCodec) Open(blob []byte) (model.EncryptedMessage, error) {
	var msg model.EncryptedMessage
	err := openJSON(c.key, blob, &msg)
	return msg, err
}

// contactCodec seals ContactModel rows (spec §3). It is not wired into
// any Session operation; only its own test constructs one.
type contactCodec struct{ key []byte }

func (c contactCodec) Seal(contact model.ContactModel) ([]byte, error) {
	return sealJSON(c.key, contact)
}
func (c contactCodec) Open(blob []byte) (model.ContactModel, error) {
	var contact model.ContactModel
	err := openJSON(c.key, blob, &contact)
	return contact, err
}
