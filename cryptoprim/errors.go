package cryptoprim

import "fmt"

// CryptoError is the single error variant surfaced by this package. Callers
// never branch on the underlying primitive; they only see which operation
// failed.
type CryptoError struct {
	Op string
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("cryptoprim: %s failed", e.Op)
}

func errOp(op string) error {
	return &CryptoError{Op: op}
}
