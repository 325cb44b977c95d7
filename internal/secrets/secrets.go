// Package secrets seals profile credentials before they are written to the
// database. Keys are derived from an operator passphrase with Argon2id and
// values are encrypted with AES-256-GCM.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	keyLen       = 32
	saltLen      = 16
	nonceLen     = 12

	prefix = "sealed:v1:"
)

var (
	// ErrNoPassphrase is returned when a sealed value is read without a
	// configured passphrase.
	ErrNoPassphrase = errors.New("sealed secret found but no passphrase is configured")
	// ErrMalformed is returned for sealed values that cannot be decoded.
	ErrMalformed = errors.New("malformed sealed secret")
)

// Sealer encrypts and decrypts credential strings. A Sealer with an empty
// passphrase passes values through unchanged.
type Sealer struct {
	passphrase string
	salt       []byte

	mu   sync.Mutex
	keys map[string][]byte // salt -> derived key
}

// NewSealer returns a Sealer for passphrase with a fresh random salt.
func NewSealer(passphrase string) (*Sealer, error) {
	s := &Sealer{passphrase: passphrase, keys: make(map[string][]byte)}
	if passphrase == "" {
		return s, nil
	}
	s.salt = make([]byte, saltLen)
	if _, err := rand.Read(s.salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return s, nil
}

// Enabled reports whether values are actually encrypted.
func (s *Sealer) Enabled() bool { return s != nil && s.passphrase != "" }

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool { return strings.HasPrefix(v, prefix) }

// Seal encrypts plaintext. Empty strings stay empty so optional fields
// remain distinguishable from set ones.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.Enabled() || plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}

	block, err := aes.NewCipher(s.key(s.salt))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// salt || nonce || ciphertext+tag
	out := make([]byte, 0, saltLen+nonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, s.salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return prefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Unsealed values are returned as is.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if !s.Enabled() {
		return "", ErrNoPassphrase
	}

	data, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil || len(data) < saltLen+nonceLen {
		return "", ErrMalformed
	}
	salt, nonce, ct := data[:saltLen], data[saltLen:saltLen+nonceLen], data[saltLen+nonceLen:]

	block, err := aes.NewCipher(s.key(salt))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// key returns the derived key for salt, caching it per salt.
func (s *Sealer) key(salt []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[string(salt)]; ok {
		return k
	}
	k := argon2.IDKey([]byte(s.passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
	s.keys[string(salt)] = k
	return k
}
