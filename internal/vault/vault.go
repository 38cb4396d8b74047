package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters — OWASP 2025 recommendation.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // AES-256 key length
	argonSaltLen = 16        // salt length
)

// Envelope format version, first field of every sealed value.
const formatVersion = "v1"

// Domain errors for the vault package.
var (
	// ErrInvalidSecret is returned when the server secret is too short to
	// derive a key from.
	ErrInvalidSecret = errors.New("vault: secret must be at least 32 characters")

	// ErrMalformedValue is returned when a sealed value does not parse.
	ErrMalformedValue = errors.New("vault: malformed sealed value")

	// ErrDecryptionFailed is returned when authentication of a sealed value
	// fails: wrong secret or tampered ciphertext.
	ErrDecryptionFailed = errors.New("vault: decryption failed")
)

// Vault seals and opens credential material with envelope encryption: an
// AES-256-GCM data key derived per value from the server secret via Argon2id
// with a fresh random salt. Sealed values are self-describing strings
// (version$salt$nonce$ciphertext, base64 fields) safe to store in a TEXT
// column. Plaintext never touches storage or logs.
type Vault struct {
	secret []byte
}

// New creates a vault from the server secret.
func New(secret string) (*Vault, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidSecret
	}
	return &Vault{secret: []byte(secret)}, nil
}

// Seal encrypts plaintext into a self-describing envelope string.
// Each call draws a fresh salt and nonce: sealing the same plaintext twice
// yields different envelopes.
func (v *Vault) Seal(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return strings.Join([]string{
		formatVersion,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(nonce),
		base64.RawStdEncoding.EncodeToString(ciphertext),
	}, "$"), nil
}

// Open decrypts a sealed envelope back to plaintext.
// Returns ErrDecryptionFailed when the secret is wrong or the value was
// tampered with; the error never carries plaintext or key material.
func (v *Vault) Open(sealed string) (string, error) {
	parts := strings.Split(sealed, "$")
	if len(parts) != 4 { //nolint:mnd // envelope has exactly 4 $-delimited fields
		return "", ErrMalformedValue
	}
	if parts[0] != formatVersion {
		return "", fmt.Errorf("%w: unsupported version %q", ErrMalformedValue, parts[0])
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: decoding salt", ErrMalformedValue)
	}
	nonce, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: decoding nonce", ErrMalformedValue)
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("%w: decoding ciphertext", ErrMalformedValue)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrMalformedValue
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// cipherFor derives the per-value data key and wraps it in AES-GCM.
func (v *Vault) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(v.secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
