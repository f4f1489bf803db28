package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// ResetTokenHasher derives deterministic, salted hashes for password reset
// tokens so only the hash ever touches the database.
type ResetTokenHasher struct {
	salt []byte
}

// NewResetTokenHasher constructs a hasher with the provided salt bytes.
func NewResetTokenHasher(salt []byte) ResetTokenHasher {
	return ResetTokenHasher{salt: append([]byte(nil), salt...)}
}

// HashString hashes the given token using HMAC-SHA256 and returns a base64 string.
func (h ResetTokenHasher) HashString(tok string) string {
	mac := hmac.New(sha256.New, h.salt)
	mac.Write([]byte(tok))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// generateResetSecret returns a fresh random token for a reset link.
func generateResetSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
