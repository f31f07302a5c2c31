package share

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrBadSignature is returned by Unsign for malformed or forged tokens.
var ErrBadSignature = errors.New("share: bad signature")

const sep = ":"

// Signer wraps share keys in an HMAC-SHA256 signature:
//
//	<key>:<base64url(hmac(secret, key))>
type Signer struct {
	secret []byte
}

// NewSigner creates a signer keyed by secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

func (s *Signer) mac(key string) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(key))
	return m.Sum(nil)
}

// Sign returns the signed token for key.
func (s *Signer) Sign(key string) string {
	return key + sep + base64.RawURLEncoding.EncodeToString(s.mac(key))
}

// Unsign verifies token and returns the key it carries.
func (s *Signer) Unsign(token string) (string, error) {
	i := strings.LastIndex(token, sep)
	if i <= 0 {
		return "", ErrBadSignature
	}
	key, sig := token[:i], token[i+1:]

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", ErrBadSignature
	}
	if !hmac.Equal(got, s.mac(key)) {
		return "", ErrBadSignature
	}
	return key, nil
}
