// ABOUTME: Mints RS256 user tokens with an account's private key
// ABOUTME: Used by account holders (CLI token command) and tests; the gateway never issues tokens

package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer signs user tokens.
type Issuer struct {
	key *rsa.PrivateKey
}

// NewIssuer creates an issuer signing with key.
func NewIssuer(key *rsa.PrivateKey) *Issuer {
	return &Issuer{key: key}
}

// ParsePrivateKey parses a PKCS#1 or PKCS#8 PEM-encoded RSA private key.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	return jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
}

// TokenRequest describes a token to mint.
type TokenRequest struct {
	Subject      string
	Capabilities []string
	TTL          time.Duration
	Now          time.Time // defaults to time.Now()
}

// Issue signs a token for req.
func (i *Issuer) Issue(req TokenRequest) (string, error) {
	if req.Subject == "" {
		return "", errors.New("subject is required")
	}
	if req.TTL <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", req.TTL)
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	allow := req.Capabilities
	if allow == nil {
		allow = []string{}
	}

	claims := jwt.MapClaims{
		claimSubject: req.Subject,
		"iat":        now.Unix(),
		"exp":        now.Add(req.TTL).Unix(),
		claimPolicy:  map[string]any{claimAllow: allow},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(i.key)
}
