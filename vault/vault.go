// Package vault implements the session context vault (spec §4.6):
// password-derived encryption of the single root SessionContext blob, with
// two-key separation from the random database key that encrypts every
// other entity.
package vault

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/veilcore/sessioncore/cryptoprim"
	"github.com/veilcore/sessioncore/sessionerr"
)

const saltSize = 32

// SaltSource is the subset of the cache the vault needs to mint and fetch
// the per-installation password salt (spec §4.6).
type SaltSource interface {
	FetchLocalDeviceSalt(ctx context.Context, keyData []byte, mint func() ([]byte, error)) ([]byte, error)
	DeleteLocalDeviceSalt(ctx context.Context, keyData []byte) error
}

// Vault derives K_app from the caller's password and the installation
// salt, and seals/opens the root SessionContext blob under it.
type Vault struct {
	salts SaltSource
}

// New builds a Vault over the given salt source.
func New(salts SaltSource) *Vault {
	return &Vault{salts: salts}
}

func mintSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// deriveAppKey derives K_app for the given password, minting a salt on
// first use (spec §4.6).
func (v *Vault) deriveAppKey(ctx context.Context, password []byte) ([]byte, error) {
	salt, err := v.salts.FetchLocalDeviceSalt(ctx, password, mintSalt)
	if err != nil {
		return nil, fmt.Errorf("vault: fetch salt: %w", sessionerr.ErrSaltError)
	}
	return cryptoprim.PasswordKDF(password, salt), nil
}

// Seal encrypts the encoded SessionContext under K_app derived from
// password.
func (v *Vault) Seal(ctx context.Context, password, encodedContext []byte) ([]byte, error) {
	key, err := v.deriveAppKey(ctx, password)
	if err != nil {
		return nil, err
	}
	ciphertext, err := cryptoprim.AEADEncrypt(key, encodedContext)
	if err != nil {
		return nil, fmt.Errorf("vault: seal context: %w", sessionerr.ErrAppPasswordError)
	}
	return ciphertext, nil
}

// Open decrypts the root blob under K_app derived from password. A
// failure to open means an invalid password (spec §8 invariant 1).
func (v *Vault) Open(ctx context.Context, password, ciphertext []byte) ([]byte, error) {
	key, err := v.deriveAppKey(ctx, password)
	if err != nil {
		return nil, err
	}
	plaintext, err := cryptoprim.AEADDecrypt(key, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: open context: %w", sessionerr.ErrInvalidPassword)
	}
	return plaintext, nil
}

// VerifyPassword attempts to open ciphertext under a trial password.
// Success does not replace any cached credential; that is the caller's
// responsibility (spec §4.6).
func (v *Vault) VerifyPassword(ctx context.Context, trialPassword, ciphertext []byte) bool {
	_, err := v.Open(ctx, trialPassword, ciphertext)
	return err == nil
}

// ChangePassword decrypts ciphertext under oldPassword, mints a fresh
// salt for newPassword, and re-encrypts under the new K_app (spec §4.6).
// It does not mutate databaseEncryptionKey or any other entity's
// encryption.
func (v *Vault) ChangePassword(ctx context.Context, oldPassword, newPassword, ciphertext []byte) ([]byte, error) {
	plaintext, err := v.Open(ctx, oldPassword, ciphertext)
	if err != nil {
		return nil, err
	}

	if err := v.salts.DeleteLocalDeviceSalt(ctx, oldPassword); err != nil {
		return nil, fmt.Errorf("vault: drop old salt: %w", err)
	}

	newKey, err := v.deriveAppKey(ctx, newPassword)
	if err != nil {
		return nil, err
	}
	newCiphertext, err := cryptoprim.AEADEncrypt(newKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("vault: reseal context: %w", sessionerr.ErrAppPasswordError)
	}
	return newCiphertext, nil
}

// NewDatabaseKey mints the random K_db used to encrypt every non-root
// entity (spec §4.6).
func NewDatabaseKey() ([]byte, error) {
	return cryptoprim.RandomSymmetricKey()
}
