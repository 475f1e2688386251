// Package identity implements the identity and bundle manager (spec
// §4.2): generating a fresh device bundle, extending it with sibling
// devices, verifying received bundles, and rotating long-term and
// one-time keys.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"

	"github.com/veilcore/sessioncore/cryptoprim"
	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/sessionerr"
)

const (
	oneTimeKeyBatchSize = 100
	hmacDataSize        = 32
)

// GeneratedBundle is the output of a fresh bundle generation: the
// device's private material plus the signed public configuration it
// published (spec §4.2 steps 1-8).
type GeneratedBundle struct {
	Keys       model.DeviceKeys
	DeviceConfig model.SignedDeviceConfiguration
	SignedOneTimeCurveKeys []model.SignedOneTimeKey
	SignedOneTimeKyberKeys []model.SignedOneTimeKey
}

// GenerateBundle produces a fresh CryptographicBundle for a new device,
// minting a new signing key for the account (spec §4.2 "Bundle
// generation").
func GenerateBundle(deviceName string, isMasterDevice bool) (*GeneratedBundle, error) {
	signing, err := cryptoprim.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}
	return generateBundle(signing.PrivateKey, signing.PublicKey, deviceName, isMasterDevice)
}

func generateBundle(signingPrivate ed25519.PrivateKey, signingPublic ed25519.PublicKey, deviceName string, isMasterDevice bool) (*GeneratedBundle, error) {
	longTerm, err := cryptoprim.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate long-term key: %w", err)
	}

	finalPQPub, finalPQPriv, err := cryptoprim.GeneratePQKemKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate reserve pqkem key: %w", err)
	}
	finalPQPrivBytes, err := finalPQPriv.Bytes()
	if err != nil {
		return nil, fmt.Errorf("identity: marshal reserve pqkem key: %w", err)
	}
	finalPQPubBytes, err := finalPQPub.Bytes()
	if err != nil {
		return nil, fmt.Errorf("identity: marshal reserve pqkem public: %w", err)
	}

	deviceID := uuid.NewString()

	oneTimeCurve, signedCurve, err := generateOneTimeCurveKeys(signingPrivate, deviceID, oneTimeKeyBatchSize)
	if err != nil {
		return nil, err
	}

	oneTimeKyber, signedKyber, err := generateOneTimePQKemKeys(signingPrivate, deviceID, oneTimeKeyBatchSize)
	if err != nil {
		return nil, err
	}

	hmacData := make([]byte, hmacDataSize)
	if _, err := rand.Read(hmacData); err != nil {
		return nil, fmt.Errorf("identity: generate hmac data: %w", err)
	}

	config := model.UserDeviceConfiguration{
		DeviceID:            deviceID,
		SigningPublicKey:    signingPublic,
		LongTermPublicKey:   longTerm.PublicKeyBytes(),
		FinalPQKemPublicKey: finalPQPubBytes,
		DeviceName:          deviceName,
		HMACData:            hmacData,
		IsMasterDevice:      isMasterDevice,
	}

	signedConfig := model.SignedDeviceConfiguration{
		Config:    config,
		Signature: cryptoprim.Sign(signingPrivate, encodeDeviceConfig(config)),
	}

	return &GeneratedBundle{
		Keys: model.DeviceKeys{
			SigningPrivateKey:       signingPrivate,
			LongTermPrivateKey:      longTerm.PrivateKey.Bytes(),
			OneTimePrivateKeys:      oneTimeCurve,
			PQKemOneTimePrivateKeys: oneTimeKyber,
			FinalPQKemPrivateKey:    finalPQPrivBytes,
		},
		DeviceConfig:           signedConfig,
		SignedOneTimeCurveKeys: signedCurve,
		SignedOneTimeKyberKeys: signedKyber,
	}, nil
}

// generateOneTimeCurveKeys produces n fresh X25519 one-time keypairs, each
// tagged with a fresh id and signed together with deviceID.
func generateOneTimeCurveKeys(signingKey ed25519.PrivateKey, deviceID string, n int) ([]model.OneTimeX25519Key, []model.SignedOneTimeKey, error) {
	priv := make([]model.OneTimeX25519Key, 0, n)
	signed := make([]model.SignedOneTimeKey, 0, n)
	for i := 0; i < n; i++ {
		kp, err := cryptoprim.GenerateX25519KeyPair()
		if err != nil {
			return nil, nil, fmt.Errorf("identity: generate one-time curve key: %w", err)
		}
		id := newKeyID()
		pub := kp.PublicKeyBytes()
		priv = append(priv, model.OneTimeX25519Key{ID: id, PrivateKey: kp.PrivateKey.Bytes()})
		signed = append(signed, model.SignedOneTimeKey{
			ID:        id,
			DeviceID:  deviceID,
			PublicKey: pub,
			Signature: cryptoprim.Sign(signingKey, encodeOneTimeKey(id, deviceID, pub)),
		})
	}
	return priv, signed, nil
}

// generateOneTimePQKemKeys produces n fresh ML-KEM-1024 one-time keypairs.
func generateOneTimePQKemKeys(signingKey ed25519.PrivateKey, deviceID string, n int) ([]model.OneTimePQKemKey, []model.SignedOneTimeKey, error) {
	priv := make([]model.OneTimePQKemKey, 0, n)
	signed := make([]model.SignedOneTimeKey, 0, n)
	for i := 0; i < n; i++ {
		pub, sk, err := cryptoprim.GeneratePQKemKeyPair()
		if err != nil {
			return nil, nil, fmt.Errorf("identity: generate one-time pqkem key: %w", err)
		}
		skBytes, err := sk.Bytes()
		if err != nil {
			return nil, nil, fmt.Errorf("identity: marshal one-time pqkem key: %w", err)
		}
		pubBytes, err := pub.Bytes()
		if err != nil {
			return nil, nil, fmt.Errorf("identity: marshal one-time pqkem public: %w", err)
		}
		id := newKeyID()
		priv = append(priv, model.OneTimePQKemKey{ID: id, PrivateKey: skBytes})
		signed = append(signed, model.SignedOneTimeKey{
			ID:        id,
			DeviceID:  deviceID,
			PublicKey: pubBytes,
			Signature: cryptoprim.Sign(signingKey, encodeOneTimeKey(id, deviceID, pubBytes)),
		})
	}
	return priv, signed, nil
}

var keyIDCounter uint32

// newKeyID draws a fresh unique one-time-key id. Ids only need to be
// unique within one device's own inventory, so a process-local counter
// salted with random bits is sufficient.
func newKeyID() uint32 {
	var buf [4]byte
	rand.Read(buf[:])
	keyIDCounter++
	return keyIDCounter<<16 ^ (uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]))
}

func encodeDeviceConfig(c model.UserDeviceConfiguration) []byte {
	buf := append([]byte{}, c.SigningPublicKey...)
	buf = append(buf, c.LongTermPublicKey...)
	buf = append(buf, c.FinalPQKemPublicKey...)
	buf = append(buf, []byte(c.DeviceID)...)
	return buf
}

func encodeOneTimeKey(id uint32, deviceID string, pub []byte) []byte {
	buf := []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	buf = append(buf, []byte(deviceID)...)
	buf = append(buf, pub...)
	return buf
}

// ExtendBundle produces a new sibling device's bundle for an existing
// account, reusing the account's existing signing key rather than
// minting a new one, so the new device's config and one-time keys verify
// under the same signingPublicKey as every other device on the account
// (spec §4.2 "extend an existing bundle with additional child devices").
func ExtendBundle(signingKey ed25519.PrivateKey, deviceName string) (*GeneratedBundle, error) {
	signingPublic, ok := signingKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: extend bundle: invalid signing key")
	}
	return generateBundle(signingKey, signingPublic, deviceName, false)
}

// SignDeviceConfiguration signs config under the account's shared signing
// key, used by the device-linking flow to finalize a candidate device's
// configuration once the operator approves it (the candidate cannot sign
// its own entry, since it does not hold the shared signing private key
// until after approval).
func SignDeviceConfiguration(signingKey ed25519.PrivateKey, config model.UserDeviceConfiguration) model.SignedDeviceConfiguration {
	config.SigningPublicKey = signingKey.Public().(ed25519.PublicKey)
	return model.SignedDeviceConfiguration{
		Config:    config,
		Signature: cryptoprim.Sign(signingKey, encodeDeviceConfig(config)),
	}
}

// VerifyUserConfiguration enforces the verification contract of spec
// §4.2: every signed device and one-time key must verify under the
// configuration's own signing public key.
func VerifyUserConfiguration(cfg model.UserConfiguration) error {
	for _, d := range cfg.SignedDevices {
		if !cryptoprim.Verify(cfg.SigningPublicKey, encodeDeviceConfig(d.Config), d.Signature) {
			return fmt.Errorf("identity: verify device %q: %w", d.Config.DeviceID, sessionerr.ErrInvalidSignature)
		}
	}
	for _, k := range cfg.SignedOneTimePublicKeys {
		if !cryptoprim.Verify(cfg.SigningPublicKey, encodeOneTimeKey(k.ID, k.DeviceID, k.PublicKey), k.Signature) {
			return fmt.Errorf("identity: verify one-time curve key %d: %w", k.ID, sessionerr.ErrInvalidSignature)
		}
	}
	for _, k := range cfg.SignedPQKemOneTimePublicKeys {
		if !cryptoprim.Verify(cfg.SigningPublicKey, encodeOneTimeKey(k.ID, k.DeviceID, k.PublicKey), k.Signature) {
			return fmt.Errorf("identity: verify one-time kyber key %d: %w", k.ID, sessionerr.ErrInvalidSignature)
		}
	}
	return nil
}

// VerifyOwnConfiguration additionally checks that the configuration's
// signing public key matches the locally held signing private key (spec
// §4.2 clause iii).
func VerifyOwnConfiguration(cfg model.UserConfiguration, localSigningKey ed25519.PrivateKey) error {
	if err := VerifyUserConfiguration(cfg); err != nil {
		return err
	}
	localPublic := localSigningKey.Public().(ed25519.PublicKey)
	if !localPublic.Equal(cfg.SigningPublicKey) {
		return fmt.Errorf("identity: own signing key mismatch: %w", sessionerr.ErrInvalidSignature)
	}
	return nil
}
