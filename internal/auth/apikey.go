// ABOUTME: Account API key generation and hashing
// ABOUTME: Keys are "sk_" plus 30 random alphanumerics; only the SHA-256 hex digest is stored

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	apiKeyPrefix   = "sk_"
	apiKeyLength   = 30
	apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateAPIKey returns a new secret API key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyLength)
	alphabetLen := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("generating api key: %w", err)
		}
		buf[i] = apiKeyAlphabet[n.Int64()]
	}
	return apiKeyPrefix + string(buf), nil
}

// HashAPIKey returns the stored form of key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
