package model

import (
	"crypto/ed25519"
	"time"
)

// OneTimeX25519Key is one entry of a device's X25519 one-time private-key
// inventory.
type OneTimeX25519Key struct {
	ID         uint32
	PrivateKey []byte // 32-byte X25519 scalar
}

// OneTimePQKemKey is one entry of a device's ML-KEM-1024 one-time
// private-key inventory.
type OneTimePQKemKey struct {
	ID         uint32
	PrivateKey []byte // ML-KEM-1024 private key, marshaled
}

// DeviceKeys is the device's private material (spec §3). It is the
// sensitive payload sealed inside the SessionContext root blob.
type DeviceKeys struct {
	SigningPrivateKey      ed25519.PrivateKey
	LongTermPrivateKey     []byte // 32-byte X25519 scalar
	OneTimePrivateKeys     []OneTimeX25519Key
	PQKemOneTimePrivateKeys []OneTimePQKemKey
	FinalPQKemPrivateKey   []byte // ML-KEM-1024 private key, marshaled
	RotateKeysDate         time.Time
}

// UserDeviceConfiguration is a device's public handle (spec §3).
type UserDeviceConfiguration struct {
	DeviceID           string
	SigningPublicKey   ed25519.PublicKey
	LongTermPublicKey  []byte // 32-byte X25519
	FinalPQKemPublicKey []byte // ML-KEM-1024 public key, marshaled
	DeviceName         string
	HMACData           []byte // 32-byte random tag
	IsMasterDevice     bool
}

// SignedDeviceConfiguration pairs a device configuration with the
// signature the owning user's signing key made over it.
type SignedDeviceConfiguration struct {
	Config    UserDeviceConfiguration
	Signature []byte
}

// SignedOneTimeKey is a one-time public key (either curve or kyber flavor)
// signed together with the deviceId it belongs to.
type SignedOneTimeKey struct {
	ID        uint32
	DeviceID  string
	PublicKey []byte
	Signature []byte
}

// UserConfiguration is the published bundle for a user (spec §3).
type UserConfiguration struct {
	SigningPublicKey           ed25519.PublicKey
	SignedDevices              []SignedDeviceConfiguration
	SignedOneTimePublicKeys    []SignedOneTimeKey
	SignedPQKemOneTimePublicKeys []SignedOneTimeKey
}

// DeviceConfigByID returns the signed device entry with the given id, or
// false if absent.
func (c *UserConfiguration) DeviceConfigByID(deviceID string) (SignedDeviceConfiguration, bool) {
	for _, d := range c.SignedDevices {
		if d.Config.DeviceID == deviceID {
			return d, true
		}
	}
	return SignedDeviceConfiguration{}, false
}
