package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// NewToken returns a URL-safe random token with nbytes of entropy.
// Used for session identifiers and generated API keys.
func NewToken(nbytes int) (string, error) {
	if nbytes < 16 {
		return "", errors.New("token entropy too small")
	}
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MatchAPIKey reports whether candidate equals one of the configured keys.
// Every configured key is compared so the work done does not depend on
// which (if any) key matched.
func MatchAPIKey(candidate string, keys []string) bool {
	if candidate == "" {
		return false
	}
	matched := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(k)) == 1 {
			matched = true
		}
	}
	return matched
}
