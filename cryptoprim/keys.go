package cryptoprim

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
)

// pqScheme is the ML-KEM-1024 KEM scheme, the production PQKEM used
// throughout the bundle manager and ratchet engine.
var pqScheme = mlkem1024.Scheme()

// SigningKeyPair is an Ed25519 signing key pair.
type SigningKeyPair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// GenerateSigningKeyPair generates a new Ed25519 signing key pair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errOp("generateSigningKeyPair")
	}
	return &SigningKeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// Sign signs message with the signing private key.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify checks an Ed25519 signature. It never branches on a sub-reason:
// any malformed input or verification failure is reported identically.
func Verify(pub ed25519.PublicKey, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}

// X25519KeyPair is an X25519 Diffie-Hellman key pair.
type X25519KeyPair struct {
	PrivateKey *ecdh.PrivateKey
}

// PublicKeyBytes returns the 32-byte X25519 public key.
func (k *X25519KeyPair) PublicKeyBytes() []byte {
	return k.PrivateKey.PublicKey().Bytes()
}

// GenerateX25519KeyPair generates a new X25519 key pair, used for both the
// long-term key and every one-time key.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errOp("generateX25519KeyPair")
	}
	return &X25519KeyPair{PrivateKey: priv}, nil
}

// X25519 performs a Diffie-Hellman exchange between a local private key and
// a remote public key, given as raw bytes.
func X25519(priv *ecdh.PrivateKey, remotePublic []byte) ([]byte, error) {
	pub, err := ecdh.X25519().NewPublicKey(remotePublic)
	if err != nil {
		return nil, errOp("x25519")
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, errOp("x25519")
	}
	return secret, nil
}

// ParseX25519PrivateKey reconstructs a private key from its raw 32-byte
// scalar, as stored in DeviceKeys.
func ParseX25519PrivateKey(raw []byte) (*ecdh.PrivateKey, error) {
	priv, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return nil, errOp("parseX25519PrivateKey")
	}
	return priv, nil
}

// PQKemPublicKey wraps an ML-KEM-1024 public (encapsulation) key.
type PQKemPublicKey struct {
	inner kem.PublicKey
}

// PQKemPrivateKey wraps an ML-KEM-1024 private (decapsulation) key.
type PQKemPrivateKey struct {
	inner kem.PrivateKey
}

// GeneratePQKemKeyPair generates a fresh ML-KEM-1024 key pair. Used for the
// reserve final key, every one-time PQKEM key, and rotation.
func GeneratePQKemKeyPair() (*PQKemPublicKey, *PQKemPrivateKey, error) {
	pub, priv, err := pqScheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, errOp("generatePQKemKeyPair")
	}
	return &PQKemPublicKey{inner: pub}, &PQKemPrivateKey{inner: priv}, nil
}

// Bytes marshals the public key.
func (pk *PQKemPublicKey) Bytes() ([]byte, error) {
	b, err := pk.inner.MarshalBinary()
	if err != nil {
		return nil, errOp("marshalPQKemPublicKey")
	}
	return b, nil
}

// Bytes marshals the private key.
func (sk *PQKemPrivateKey) Bytes() ([]byte, error) {
	b, err := sk.inner.MarshalBinary()
	if err != nil {
		return nil, errOp("marshalPQKemPrivateKey")
	}
	return b, nil
}

// ParsePQKemPublicKey reconstructs a public key from its wire bytes.
func ParsePQKemPublicKey(raw []byte) (*PQKemPublicKey, error) {
	pk, err := pqScheme.UnmarshalBinaryPublicKey(raw)
	if err != nil {
		return nil, errOp("parsePQKemPublicKey")
	}
	return &PQKemPublicKey{inner: pk}, nil
}

// ParsePQKemPrivateKey reconstructs a private key from its wire bytes.
func ParsePQKemPrivateKey(raw []byte) (*PQKemPrivateKey, error) {
	sk, err := pqScheme.UnmarshalBinaryPrivateKey(raw)
	if err != nil {
		return nil, errOp("parsePQKemPrivateKey")
	}
	return &PQKemPrivateKey{inner: sk}, nil
}

// PQKemEncapsulate produces a ciphertext and shared secret against a remote
// public key. Used by sender-side ratchet initialization.
func PQKemEncapsulate(pub *PQKemPublicKey) (ciphertext, sharedSecret []byte, err error) {
	ct, ss, err := pqScheme.Encapsulate(pub.inner)
	if err != nil {
		return nil, nil, errOp("pqKemEncapsulate")
	}
	return ct, ss, nil
}

// PQKemDecapsulate recovers the shared secret from a ciphertext using the
// local private key. Used by recipient-side ratchet initialization.
func PQKemDecapsulate(priv *PQKemPrivateKey, ciphertext []byte) ([]byte, error) {
	ss, err := pqScheme.Decapsulate(priv.inner, ciphertext)
	if err != nil {
		return nil, errOp("pqKemDecapsulate")
	}
	return ss, nil
}

// PQKemCiphertextSize is the fixed ML-KEM-1024 ciphertext length, used to
// size the ratchet header's embedded kem_ct field.
func PQKemCiphertextSize() int { return pqScheme.CiphertextSize() }
