package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// tokenPrefix marks wharf-issued tokens so they are recognizable in
// secret scanners and support tooling without revealing anything.
const tokenPrefix = "wrf_"

// newToken returns an opaque bearer token: the prefix plus 32 random
// bytes base64-url encoded.
func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// tokenDigest computes the stored form of a token: HMAC-SHA256 under the
// configured pepper, hex encoded. The digest is deterministic so lookups
// are O(1); the 256 bits of token entropy make stretching unnecessary.
func tokenDigest(pepper, token string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// ownershipKey case-folds a package name for ownership lookups.
func ownershipKey(name string) string {
	return strings.ToLower(name)
}
