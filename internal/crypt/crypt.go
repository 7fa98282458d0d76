// Package crypt derives per-device keys from the device token and seals
// recordings with AES-256-GCM.
//
// Packet layout is fixed: bytes[0:12] nonce, bytes[12:] ciphertext+tag.
// There is no version byte, so changing any constant here breaks every
// recording already on disk.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/hpungsan/echocap/internal/errors"
)

const (
	// Salt is the application-specific PBKDF2 salt.
	Salt = "VoiceRecorderSalt"

	// Iterations is the PBKDF2 iteration count.
	Iterations = 100000

	// KeySize is the derived key length in bytes (AES-256).
	KeySize = 32

	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// TokenBytes is the number of random bytes in a device token.
	TokenBytes = 32
)

// randReader is the entropy source; tests may replace it.
var randReader io.Reader = rand.Reader

// Key is a derived AES-256 key. It is only usable through this package and
// never prints its material.
type Key struct {
	b []byte
}

// String implements fmt.Stringer without revealing key material.
func (k Key) String() string { return "crypt.Key{REDACTED}" }

// GoString implements fmt.GoStringer without revealing key material.
func (k Key) GoString() string { return k.String() }

// wipe zeroes the key material.
func (k *Key) wipe() {
	for i := range k.b {
		k.b[i] = 0
	}
}

func (k Key) aead() (cipher.AEAD, error) {
	if len(k.b) != KeySize {
		return nil, errors.NewInternal(fmt.Errorf("invalid key length %d", len(k.b)))
	}
	block, err := aes.NewCipher(k.b)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return gcm, nil
}

// GenerateDeviceToken returns a new device token: 32 random bytes as 64
// uppercase hex characters.
func GenerateDeviceToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(randReader, buf); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to generate device token: %w", err))
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// DeriveKey derives the AES-256 key for token with PBKDF2-HMAC-SHA256.
// The same token always yields the same key.
func DeriveKey(token string) (Key, error) {
	if token == "" {
		return Key{}, errors.NewInvalidRequest("device token is required")
	}
	return Key{b: pbkdf2.Key([]byte(token), []byte(Salt), Iterations, KeySize, sha256.New)}, nil
}

// Seal encrypts plaintext under key with a fresh random nonce and returns
// nonce || ciphertext+tag.
func Seal(key Key, plaintext []byte) ([]byte, error) {
	gcm, err := key.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate nonce: %w", err))
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open verifies and decrypts a packet produced by Seal.
// Any verification failure is an AUTHENTICATION_FAILURE; no partial
// plaintext is ever returned.
func Open(key Key, packet []byte) ([]byte, error) {
	if len(packet) < NonceSize+TagSize {
		return nil, errors.NewAuthenticationFailure(fmt.Errorf("packet too short: %d bytes", len(packet)))
	}

	gcm, err := key.aead()
	if err != nil {
		return nil, err
	}

	nonce := packet[:NonceSize]
	plaintext, err := gcm.Open(nil, nonce, packet[NonceSize:], nil)
	if err != nil {
		return nil, errors.NewAuthenticationFailure(err)
	}
	return plaintext, nil
}

// Encrypt derives the key for token and seals plaintext.
func Encrypt(plaintext []byte, token string) ([]byte, error) {
	key, err := DeriveKey(token)
	if err != nil {
		return nil, err
	}
	defer key.wipe()
	return Seal(key, plaintext)
}

// Decrypt derives the key for token and opens packet.
func Decrypt(packet []byte, token string) ([]byte, error) {
	key, err := DeriveKey(token)
	if err != nil {
		return nil, err
	}
	defer key.wipe()
	return Open(key, packet)
}

// Fingerprint returns a short non-secret identifier for token, suitable for
// logs and cache keys.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
