package cryptoprim

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// HKDFSHA512 derives length bytes of key material from salt, ikm and info
// using HKDF-SHA-512. This is the root-key derivation used by the ratchet
// engine's X3DH+PQKEM handshake (spec §4.4 step 4).
func HKDFSHA512(salt, ikm, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha512.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errOp("hkdfSHA512")
	}
	return out, nil
}

// HKDFSHA256 derives length bytes of key material using HKDF-SHA-256.
func HKDFSHA256(salt, ikm, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errOp("hkdfSHA256")
	}
	return out, nil
}

// ChainKDF derives a message key and the next chain key from a ratchet
// chain key, exactly as the Double Ratchet's symmetric-key ratchet defines:
// messageKey = HMAC-SHA256(CK, 0x01), nextChainKey = HMAC-SHA256(CK, 0x02).
func ChainKDF(chainKey []byte) (messageKey, nextChainKey []byte) {
	mk := hmac.New(sha256.New, chainKey)
	mk.Write([]byte{0x01})
	messageKey = mk.Sum(nil)

	ck := hmac.New(sha256.New, chainKey)
	ck.Write([]byte{0x02})
	nextChainKey = ck.Sum(nil)

	return messageKey, nextChainKey
}

// Argon2 parameters for the password-derived application key (§4.6). These
// follow the OWASP-recommended baseline for argon2id.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MiB
	argon2Threads = 4
)

// PasswordKDF derives a deterministic 256-bit application key from a
// password and a per-installation salt. Deterministic in (password, salt):
// the same pair always yields the same key, which is what lets the vault
// look up a stable salt by password bytes (§4.6).
func PasswordKDF(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argon2Time, argon2Memory, argon2Threads, SymmetricKeySize)
}

// SHA256Sum hashes data with SHA-256.
func SHA256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// SHA512Sum hashes data with SHA-512, used for the ratchet's root salt
// (spec §4.4 step 3: SHA-512 of the peer secretName).
func SHA512Sum(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}
