// Package pkce generates the PKCE verifier/challenge pairs and CSRF state
// values used by the authorization flow, following RFC 7636 for the S256
// challenge method.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Codes holds a PKCE code verifier and its derived S256 challenge. The
// challenge travels to the identity provider in the authorize URL; the
// verifier stays in the temporary session cookie until the code exchange.
type Codes struct {
	Verifier  string
	Challenge string
}

// GenerateCodes generates a new PKCE pair. The verifier is 128 URL-safe
// base64 characters (96 random bytes), the maximum length RFC 7636 allows.
func GenerateCodes() (*Codes, error) {
	verifier, err := generateVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &Codes{
		Verifier:  verifier,
		Challenge: ChallengeS256(verifier),
	}, nil
}

// GenerateState generates a cryptographically random state parameter for
// CSRF protection of the authorization flow.
func GenerateState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// ChallengeS256 derives the S256 code challenge for a verifier: the SHA256
// digest encoded as unpadded URL-safe base64.
func ChallengeS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}

func generateVerifier() (string, error) {
	bytes := make([]byte, 96)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}
