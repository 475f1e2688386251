package ratchet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/sessionerr"
)

// Marshal serializes state with a leading version byte (spec §9 "keep the
// state serialization format versioned").
func Marshal(state *model.RatchetState) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(StateVersion))

	writeBytes(&buf, state.RootKey)
	writeBytes(&buf, state.DHSelfPrivateKey)
	writeBytes(&buf, state.DHSelfPublicKey)
	writeBytes(&buf, state.DHRemotePublicKey)
	writeBytes(&buf, state.SendingChainKey)
	writeBytes(&buf, state.ReceivingChainKey)
	writeUint32(&buf, state.SendMessageNumber)
	writeUint32(&buf, state.ReceiveMessageNumber)
	writeUint32(&buf, state.PreviousChainLength)

	writeUint32(&buf, uint32(len(state.SkippedKeys)))
	for _, k := range state.SkippedKeys {
		writeBytes(&buf, k.ChainPublicKey)
		writeUint32(&buf, k.MessageIndex)
		writeBytes(&buf, k.MessageKey)
	}

	return buf.Bytes(), nil
}

// Unmarshal reverses Marshal, rejecting any version other than
// StateVersion (spec §9).
func Unmarshal(data []byte) (*model.RatchetState, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("ratchet: read state version: %w", sessionerr.ErrSessionDecryptionError)
	}
	if version != byte(StateVersion) {
		return nil, fmt.Errorf("ratchet: unsupported state version %d: %w", version, sessionerr.ErrSessionDecryptionError)
	}

	state := &model.RatchetState{Version: int(version)}

	fields := []*[]byte{
		&state.RootKey,
		&state.DHSelfPrivateKey,
		&state.DHSelfPublicKey,
		&state.DHRemotePublicKey,
		&state.SendingChainKey,
		&state.ReceivingChainKey,
	}
	for _, f := range fields {
		*f, err = readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("ratchet: read state field: %w", sessionerr.ErrSessionDecryptionError)
		}
	}

	state.SendMessageNumber, err = readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("ratchet: read send message number: %w", sessionerr.ErrSessionDecryptionError)
	}
	state.ReceiveMessageNumber, err = readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("ratchet: read receive message number: %w", sessionerr.ErrSessionDecryptionError)
	}
	state.PreviousChainLength, err = readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("ratchet: read previous chain length: %w", sessionerr.ErrSessionDecryptionError)
	}

	skippedCount, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("ratchet: read skipped key count: %w", sessionerr.ErrSessionDecryptionError)
	}
	state.SkippedKeys = make([]model.SkippedMessageKey, 0, skippedCount)
	for i := uint32(0); i < skippedCount; i++ {
		chainPublic, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("ratchet: read skipped key chain public: %w", sessionerr.ErrSessionDecryptionError)
		}
		index, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("ratchet: read skipped key index: %w", sessionerr.ErrSessionDecryptionError)
		}
		messageKey, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("ratchet: read skipped key material: %w", sessionerr.ErrSessionDecryptionError)
		}
		state.SkippedKeys = append(state.SkippedKeys, model.SkippedMessageKey{
			ChainPublicKey: chainPublic,
			MessageIndex:   index,
			MessageKey:     messageKey,
		})
	}

	return state, nil
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	data := make([]byte, n)
	if _, err := r.Read(data); err != nil {
		return nil, err
	}
	return data, nil
}
