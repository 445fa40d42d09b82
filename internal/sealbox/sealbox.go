// Package sealbox implements the symmetric envelope codec used to protect
// session cookies. Plaintext is sealed with AES-256-GCM under a key derived
// from the configured session secret, and serialized as a versioned,
// transportable string of four base64url segments: version.iv.ciphertext.tag.
// Associated data binds an envelope to its semantic purpose so a ciphertext
// minted for one cookie cannot be replayed into another.
package sealbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Version1 identifies the current envelope layout. Decrypt refuses any other
// version byte so future layout changes fail closed instead of misparsing.
const Version1 byte = 0x01

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	// hkdfInfo namespaces the derived key so the same secret reused elsewhere
	// never yields the same AES key.
	hkdfInfo = "typedown-sealbox-v1"
)

// ErrDecrypt is returned for any envelope that cannot be authenticated:
// tag mismatch, wrong associated data, unknown version, or a malformed
// segment. Callers must treat it as "no session", never as partial data.
var ErrDecrypt = errors.New("sealbox: envelope decryption failed")

var b64 = base64.RawURLEncoding

// Box seals and opens envelopes with a single long-lived key.
type Box struct {
	aead cipher.AEAD
}

// New derives an AES-256 key from secret via HKDF-SHA256 and returns a Box
// ready for use. The secret is the raw value from configuration; it does not
// need to be a valid AES key length itself.
func New(secret []byte) (*Box, error) {
	if len(secret) == 0 {
		return nil, errors.New("sealbox: empty secret")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("sealbox: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealbox: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealbox: init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext into an envelope string. A fresh random nonce is
// generated per call. The associated data is authenticated but not stored in
// the envelope; the caller must supply the same value to Decrypt.
func (b *Box) Encrypt(plaintext, associatedData []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sealbox: generate nonce: %w", err)
	}

	sealed := b.aead.Seal(nil, nonce, plaintext, associatedData)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	segments := []string{
		b64.EncodeToString([]byte{Version1}),
		b64.EncodeToString(nonce),
		b64.EncodeToString(ciphertext),
		b64.EncodeToString(tag),
	}
	return strings.Join(segments, "."), nil
}

// Decrypt opens an envelope string produced by Encrypt. Any structural or
// authentication failure yields ErrDecrypt; the error carries no detail about
// which check failed.
func (b *Box) Decrypt(envelope string, associatedData []byte) ([]byte, error) {
	segments := strings.Split(envelope, ".")
	if len(segments) != 4 {
		return nil, ErrDecrypt
	}

	version, err := b64.DecodeString(segments[0])
	if err != nil || len(version) != 1 || version[0] != Version1 {
		return nil, ErrDecrypt
	}
	nonce, err := b64.DecodeString(segments[1])
	if err != nil || len(nonce) != nonceSize {
		return nil, ErrDecrypt
	}
	ciphertext, err := b64.DecodeString(segments[2])
	if err != nil {
		return nil, ErrDecrypt
	}
	tag, err := b64.DecodeString(segments[3])
	if err != nil || len(tag) != tagSize {
		return nil, ErrDecrypt
	}

	plaintext, err := b.aead.Open(nil, nonce, append(ciphertext, tag...), associatedData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
