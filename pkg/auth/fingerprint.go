package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const sessionTokenLength = 32 // 256 bits

// DeviceFingerprint derives a stable hash identifying a client
// device/browser combination from IP, User-Agent, and an optional salt.
func DeviceFingerprint(ipAddress, userAgent, salt string) string {
	data := []byte(fmt.Sprintf("%s:%s:%s", ipAddress, userAgent, salt))
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)[:32]
}

// GenerateSessionToken mints a new opaque session token. The plaintext
// goes to the client; only the hash is stored.
func GenerateSessionToken() (plaintext, hash string, err error) {
	bytes := make([]byte, sessionTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate session token: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(bytes)
	return plaintext, HashSessionToken(plaintext), nil
}

// HashSessionToken returns the stored form of a session token.
func HashSessionToken(plaintext string) string {
	hash := sha256.Sum256([]byte(plaintext))
	return fmt.Sprintf("%x", hash)
}

// GenerateResetToken mints a single-use password reset token, returned
// as (plaintext, storedHash).
func GenerateResetToken() (string, string, error) {
	return GenerateSessionToken()
}
