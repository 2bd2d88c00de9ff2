package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving at-rest keys from a passphrase. These
// run once per store load/save so they can afford to be on the heavy side.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024 // KiB
	kdfThreads = 2
	keyLength  = 32
	saltLength = 16
)

// sealedMagic prefixes every sealed blob so a plaintext or foreign file is
// rejected with a clear error instead of a GCM failure.
var sealedMagic = []byte("ULM1")

var (
	ErrNotSealed     = errors.New("cryptox: data is not a sealed blob")
	ErrWrongPassword = errors.New("cryptox: wrong passphrase or corrupted data")
)

// DeriveKey turns a passphrase and salt into a 32-byte AES-256 key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, keyLength)
}

// SealWithPassphrase encrypts plaintext with AES-256-GCM under a key derived
// from passphrase.
// The output format is: [4-byte magic][16-byte salt][12-byte nonce][ciphertext+tag]
func SealWithPassphrase(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedMagic)+saltLength+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)

	// Bind the header to the ciphertext so the salt can't be swapped.
	aad := append([]byte(nil), out[:len(sealedMagic)+saltLength]...)
	return gcm.Seal(out, nonce, plaintext, aad), nil
}

// OpenWithPassphrase reverses SealWithPassphrase.
func OpenWithPassphrase(passphrase string, sealed []byte) ([]byte, error) {
	header := len(sealedMagic) + saltLength
	if len(sealed) < header || !bytes.Equal(sealed[:len(sealedMagic)], sealedMagic) {
		return nil, ErrNotSealed
	}
	salt := sealed[len(sealedMagic):header]

	gcm, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	rest := sealed[header:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: %w", ErrNotSealed)
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, sealed[:header])
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
