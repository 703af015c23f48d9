package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// newSecret returns a hex string of 2n characters from the system CSPRNG.
// Used for email verification tokens, password reset tokens and app token
// secrets.
func newSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
