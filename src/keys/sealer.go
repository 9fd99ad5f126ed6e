package keys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer is the external key-encryption capability. The agent never
// implements asymmetric cryptography for key wrapping itself; it hands the
// private key dump to the sealer and stores whatever ciphertext comes back.
type Sealer interface {
	// Encrypt seals plaintext under the key-encryption key.
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	// Decrypt opens ciphertext previously produced by Encrypt under the same
	// key-encryption key.
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	// Describe checks that the key-encryption key exists and is usable, and
	// returns its canonical identifier.
	Describe(ctx context.Context) (string, error)
}

// StaticSealer implements Sealer with a local XChaCha20-Poly1305 key derived
// from a passphrase. It exists for tests and for local clusters with no
// key-management service; production fleets use KMSSealer.
type StaticSealer struct {
	keyID string
	key   []byte
}

// NewStaticSealer ...
func NewStaticSealer(keyID, passphrase string) *StaticSealer {
	digest := sha256.Sum256([]byte(passphrase))
	return &StaticSealer{
		keyID: keyID,
		key:   digest[:],
	}
}

// Encrypt implements Sealer. The key ID is authenticated as additional data,
// so ciphertext sealed under one key ID cannot be opened under another.
func (s *StaticSealer) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, plaintext, []byte(s.keyID)), nil
}

// Decrypt implements Sealer.
func (s *StaticSealer) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}

	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	sealed := ciphertext[chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, sealed, []byte(s.keyID))
	if err != nil {
		return nil, fmt.Errorf("cannot open ciphertext under key %s: %v", s.keyID, err)
	}

	return plaintext, nil
}

// Describe implements Sealer.
func (s *StaticSealer) Describe(ctx context.Context) (string, error) {
	return s.keyID, nil
}
