// Package cryptoprim is the crypto primitives façade for the session core.
//
// It wraps X25519, Ed25519, ML-KEM-1024, AES-256-GCM, HKDF, Argon2id and
// SHA-256/512 behind a small set of functions that never leak which
// underlying primitive failed: every error returned by this package is
// a *CryptoError, carrying only the name of the operation that failed. Callers
// branch on outcome, never on cause.
package cryptoprim
