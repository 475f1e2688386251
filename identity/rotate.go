package identity

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/veilcore/sessioncore/cryptoprim"
	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/sessionerr"
	"github.com/veilcore/sessioncore/transport"
)

// generateReservePQKem generates a fresh reserve ML-KEM-1024 keypair and
// returns its marshaled public and private bytes.
func generateReservePQKem() (pub, priv []byte, err error) {
	pubKey, privKey, err := cryptoprim.GeneratePQKemKeyPair()
	if err != nil {
		return nil, nil, err
	}
	pubBytes, err := pubKey.Bytes()
	if err != nil {
		return nil, nil, err
	}
	privBytes, err := privKey.Bytes()
	if err != nil {
		return nil, nil, err
	}
	return pubBytes, privBytes, nil
}

// ScheduledRotationInterval is how long a reserve ML-KEM key is kept
// before the scheduled rotation trigger fires (spec §4.2 "Scheduled").
const ScheduledRotationInterval = 7 * 24 * time.Hour

// NeedsScheduledRotation reports whether rotateKeysDate is due (spec §4.2
// trigger 1, and the idempotence law of spec §8: "no-op if now <
// rotateKeysDate").
func NeedsScheduledRotation(rotateKeysDate, now time.Time) bool {
	return !now.Before(rotateKeysDate)
}

// RotatePQKem regenerates the reserve ML-KEM key and republishes the
// owning device entry, re-signed under the same signing key (spec §4.2
// "Scheduled"). Every call mints and publishes a new reserve key;
// session.RunScheduledMaintenance calls it only when
// NeedsScheduledRotation reports that rotation is due.
func RotatePQKem(ctx context.Context, tr transport.Transport, secretName, deviceID string, signingKey ed25519.PrivateKey, current model.UserDeviceConfiguration) (newPriv []byte, newConfig model.SignedDeviceConfiguration, err error) {
	pub, priv, err := generateReservePQKem()
	if err != nil {
		return nil, model.SignedDeviceConfiguration{}, err
	}

	updated := current
	updated.FinalPQKemPublicKey = pub

	signed := model.SignedDeviceConfiguration{
		Config:    updated,
		Signature: cryptoprim.Sign(signingKey, encodeDeviceConfig(updated)),
	}

	if err := tr.PublishUserConfiguration(ctx, model.UserConfiguration{
		SigningPublicKey: signingKey.Public().(ed25519.PublicKey),
		SignedDevices:    []model.SignedDeviceConfiguration{signed},
	}, deviceID); err != nil {
		return nil, model.SignedDeviceConfiguration{}, fmt.Errorf("identity: publish rotated pqkem: %w", sessionerr.ErrLongTermKeyRotationFailed)
	}

	return priv, signed, nil
}

// RotateOnCompromise regenerates every long-term key (signing, X25519,
// reserve ML-KEM), re-signs ownDeviceID's entry under the new signing
// key, and publishes it (spec §4.2 "Compromise"). The caller is
// responsible for setting the rotatingKeys gate before invoking this and
// clearing it after (spec §5).
func RotateOnCompromise(ctx context.Context, tr transport.Transport, secretName, ownDeviceID string, cfg model.UserConfiguration, oldSigningKey ed25519.PrivateKey) (model.DeviceKeys, model.SignedDeviceConfiguration, error) {
	oldPublic := oldSigningKey.Public().(ed25519.PublicKey)
	if !oldPublic.Equal(cfg.SigningPublicKey) {
		return model.DeviceKeys{}, model.SignedDeviceConfiguration{}, fmt.Errorf("identity: verify prior own entry: %w", sessionerr.ErrInvalidSignature)
	}
	if err := VerifyUserConfiguration(cfg); err != nil {
		return model.DeviceKeys{}, model.SignedDeviceConfiguration{}, err
	}

	ownConfig, found := cfg.DeviceConfigByID(ownDeviceID)
	if !found {
		return model.DeviceKeys{}, model.SignedDeviceConfiguration{}, fmt.Errorf("identity: locate own device entry: %w", sessionerr.ErrInvalidDeviceIdentity)
	}
	deviceConfig := ownConfig.Config

	newSigning, err := cryptoprim.GenerateSigningKeyPair()
	if err != nil {
		return model.DeviceKeys{}, model.SignedDeviceConfiguration{}, fmt.Errorf("identity: generate new signing key: %w", sessionerr.ErrLongTermKeyRotationFailed)
	}
	newLongTerm, err := cryptoprim.GenerateX25519KeyPair()
	if err != nil {
		return model.DeviceKeys{}, model.SignedDeviceConfiguration{}, fmt.Errorf("identity: generate new long-term key: %w", sessionerr.ErrLongTermKeyRotationFailed)
	}
	newReservePub, newReservePriv, err := generateReservePQKem()
	if err != nil {
		return model.DeviceKeys{}, model.SignedDeviceConfiguration{}, fmt.Errorf("identity: generate new reserve pqkem key: %w", sessionerr.ErrLongTermKeyRotationFailed)
	}

	deviceConfig.SigningPublicKey = newSigning.PublicKey
	deviceConfig.LongTermPublicKey = newLongTerm.PublicKeyBytes()
	deviceConfig.FinalPQKemPublicKey = newReservePub

	signed := model.SignedDeviceConfiguration{
		Config:    deviceConfig,
		Signature: cryptoprim.Sign(newSigning.PrivateKey, encodeDeviceConfig(deviceConfig)),
	}

	if err := tr.PublishUserConfiguration(ctx, model.UserConfiguration{
		SigningPublicKey: newSigning.PublicKey,
		SignedDevices:    []model.SignedDeviceConfiguration{signed},
	}, ownDeviceID); err != nil {
		return model.DeviceKeys{}, model.SignedDeviceConfiguration{}, fmt.Errorf("identity: publish rotated bundle: %w", sessionerr.ErrLongTermKeyRotationFailed)
	}

	return model.DeviceKeys{
		SigningPrivateKey:   newSigning.PrivateKey,
		LongTermPrivateKey:  newLongTerm.PrivateKey.Bytes(),
		FinalPQKemPrivateKey: newReservePriv,
		RotateKeysDate:      time.Now().Add(ScheduledRotationInterval),
	}, signed, nil
}
