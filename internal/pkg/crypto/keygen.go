package crypto

import (
	"crypto/rand"
	"fmt"
)

// Character sets for generated secrets
const (
	// passwordChars contains characters used in generated passwords.
	// Visually ambiguous characters (0/O, 1/l/I) are left out.
	passwordChars = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#%+=?"

	// GeneratedPasswordLength is the length of generated temporary passwords.
	GeneratedPasswordLength = 16
)

// GenerateSalt returns size random bytes.
func GenerateSalt(size int) ([]byte, error) {
	salt := make([]byte, size)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GeneratePassword generates a random temporary password.
// Used by password resets and the bootstrapper when no password is configured.
func GeneratePassword() (string, error) {
	return generateRandomString(GeneratedPasswordLength, passwordChars)
}

// generateRandomString generates a random string of the specified length
// using characters from the provided character set.
func generateRandomString(length int, charset string) (string, error) {
	result := make([]byte, length)
	charsetLen := len(charset)

	// Generate random bytes
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Map to charset
	for i := 0; i < length; i++ {
		result[i] = charset[int(randomBytes[i])%charsetLen]
	}

	return string(result), nil
}
