package manager

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// tokenInfo is the HKDF info string binding derived tokens to this
// protocol. Both ends must use the same value.
const tokenInfo = "keel control token"

// tokenSize is the length of a derived session token in bytes.
const tokenSize = 32

// DeriveToken derives a session token from a shared secret and a salt
// using HKDF-SHA256. Daemon and handle derive the same token from the
// same inputs; the secret itself never crosses the wire.
func DeriveToken(secret string, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), salt, []byte(tokenInfo))
	token := make([]byte, tokenSize)
	if _, err := io.ReadFull(r, token); err != nil {
		return nil, fmt.Errorf("failed to derive session token: %w", err)
	}
	return token, nil
}

// Authenticator verifies session tokens on mutating requests. A nil
// *Authenticator disables verification.
type Authenticator struct {
	token []byte
}

// NewAuthenticator derives the expected token from the shared secret.
func NewAuthenticator(secret string, salt []byte) (*Authenticator, error) {
	token, err := DeriveToken(secret, salt)
	if err != nil {
		return nil, err
	}
	return &Authenticator{token: token}, nil
}

// Verify reports whether the presented token matches. Comparison is
// constant time.
func (a *Authenticator) Verify(token []byte) bool {
	if a == nil {
		return true
	}
	if len(token) != len(a.token) {
		return false
	}
	return subtle.ConstantTimeCompare(token, a.token) == 1
}
