// ABOUTME: Parses account public keys from PEM or OpenSSH form into canonical PKIX PEM
// ABOUTME: Only RSA keys of at least 2048 bits are accepted, tagged for RS256

package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/ssh"

	"github.com/2389/scheduler-gateway/internal/store"
)

// MinRSAKeyBits is the smallest modulus accepted for an account key.
const MinRSAKeyBits = 2048

// ErrInvalidPublicKey is returned for key material that cannot be registered.
var ErrInvalidPublicKey = errors.New("invalid public key")

// ParsePublicKey accepts a PEM block (PUBLIC KEY, RSA PUBLIC KEY or CERTIFICATE)
// or an OpenSSH ssh-rsa line and returns the key in its stored form.
func ParsePublicKey(data string) (*store.PublicKey, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPublicKey)
	}

	var (
		pub *rsa.PublicKey
		err error
	)
	if strings.HasPrefix(data, "ssh-") {
		pub, err = parseAuthorizedKey(data)
	} else {
		pub, err = jwt.ParseRSAPublicKeyFromPEM([]byte(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	if bits := pub.N.BitLen(); bits < MinRSAKeyBits {
		return nil, fmt.Errorf("%w: %d-bit key, need at least %d", ErrInvalidPublicKey, bits, MinRSAKeyBits)
	}

	return canonicalKey(pub)
}

func parseAuthorizedKey(data string) (*rsa.PublicKey, error) {
	sshKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(data))
	if err != nil {
		return nil, err
	}
	if sshKey.Type() != ssh.KeyAlgoRSA {
		return nil, fmt.Errorf("unsupported key type %s", sshKey.Type())
	}
	cryptoKey, ok := sshKey.(ssh.CryptoPublicKey)
	if !ok {
		return nil, errors.New("key does not expose its crypto form")
	}
	pub, ok := cryptoKey.CryptoPublicKey().(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA key")
	}
	return pub, nil
}

func canonicalKey(pub *rsa.PublicKey) (*store.PublicKey, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	fp, err := ComputeFingerprint(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return &store.PublicKey{
		PEM:         string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
		Algorithm:   store.AlgorithmRS256,
		Fingerprint: fp,
	}, nil
}

// ComputeFingerprint returns the OpenSSH-style SHA256 fingerprint of pub,
// e.g. "SHA256:nThbg6kXUpJWGl7E1IGOCspRomTxdCARLviKw6E5SY8".
func ComputeFingerprint(pub *rsa.PublicKey) (string, error) {
	sshKey, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(sshKey), nil
}

// verificationKey turns a stored key back into an RSA key for signature checks.
func verificationKey(k *store.PublicKey) (*rsa.PublicKey, error) {
	if k.Algorithm != store.AlgorithmRS256 {
		return nil, fmt.Errorf("stored key has algorithm %q", k.Algorithm)
	}
	return jwt.ParseRSAPublicKeyFromPEM([]byte(k.PEM))
}
