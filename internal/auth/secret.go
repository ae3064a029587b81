// Package auth implements credential hashing and verification for the
// single admin secret plus API key checks.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters. These are deliberately slow; the admin secret
// is verified once per login, not per request.
const (
	argonMemory  uint32 = 64 * 1024
	argonTime    uint32 = 3
	argonThreads uint8  = 4
	saltLen             = 16
	keyLen       uint32 = 32
)

var errBadHash = errors.New("malformed secret hash")

// HashSecret derives an argon2id hash of the admin secret and encodes it
// as a PHC-style string suitable for the config file.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, keyLen)
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// VerifySecret re-derives the hash with the parameters embedded in the
// encoded string and compares in constant time. Any parse failure is an
// error; a clean mismatch is (false, nil).
func VerifySecret(secret, encoded string) (bool, error) {
	if secret == "" || encoded == "" {
		return false, nil
	}
	m, t, p, salt, want, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(secret), salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// ValidateHash checks that encoded parses as an argon2id PHC string.
// Used by config validation so a typo fails at startup, not at login.
func ValidateHash(encoded string) error {
	_, _, _, _, _, err := decodePHC(encoded)
	return err
}

// decodePHC splits "$argon2id$v=19$m=...,t=...,p=...$salt$key". The leading
// "$" is optional so hashes produced by other tooling still parse.
func decodePHC(s string) (m, t uint32, p uint8, salt, key []byte, err error) {
	fields := strings.Split(strings.TrimPrefix(s, "$"), "$")
	if len(fields) != 5 || fields[0] != "argon2id" {
		return 0, 0, 0, nil, nil, errBadHash
	}
	var ver int
	if _, err := fmt.Sscanf(fields[1], "v=%d", &ver); err != nil || ver != argon2.Version {
		return 0, 0, 0, nil, nil, errBadHash
	}
	var pv uint32
	if _, err := fmt.Sscanf(fields[2], "m=%d,t=%d,p=%d", &m, &t, &pv); err != nil {
		return 0, 0, 0, nil, nil, errBadHash
	}
	if m == 0 || t == 0 || pv == 0 || pv > 255 {
		return 0, 0, 0, nil, nil, errBadHash
	}
	b64 := base64.RawStdEncoding
	salt, err = b64.DecodeString(fields[3])
	if err != nil {
		return 0, 0, 0, nil, nil, errBadHash
	}
	key, err = b64.DecodeString(fields[4])
	if err != nil || len(key) < 16 {
		return 0, 0, 0, nil, nil, errBadHash
	}
	return m, t, uint8(pv), salt, key, nil
}
