package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
)

const (
	SymmetricKeySize = 32 // AES-256
	nonceSize        = 12 // GCM standard nonce
	TagSize          = 16 // GCM auth tag
)

// AEADEncrypt encrypts plaintext under a 256-bit key with AES-256-GCM.
// The returned blob is nonce || ciphertext || tag, so the nonce travels
// implicitly with the ciphertext as spec §4.1 requires.
func AEADEncrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, errOp("aeadEncrypt")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errOp("aeadEncrypt")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errOp("aeadEncrypt")
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errOp("aeadEncrypt")
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// AEADDecrypt decrypts a blob produced by AEADEncrypt.
func AEADDecrypt(key, blob []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, errOp("aeadDecrypt")
	}
	if len(blob) < nonceSize+TagSize {
		return nil, errOp("aeadDecrypt")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errOp("aeadDecrypt")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errOp("aeadDecrypt")
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errOp("aeadDecrypt")
	}
	return plaintext, nil
}

// RandomSymmetricKey generates a fresh random 256-bit symmetric key, used
// for databaseEncryptionKey (vault.NewDatabaseKey).
func RandomSymmetricKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errOp("randomSymmetricKey")
	}
	return key, nil
}
