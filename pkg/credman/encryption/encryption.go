// Package encryption seals vault payloads with AES-GCM.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

const gcmPrefix = "gcm1"

var (
	// ErrNotSealed is returned by Open for data without the sealed prefix.
	ErrNotSealed = errors.New("data is not sealed")
	// ErrTooShort is returned by Open for truncated data.
	ErrTooShort = errors.New("sealed data too short")
)

var randReader io.Reader = rand.Reader

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with key. The output is the prefix, the nonce and
// the ciphertext, in that order.
func Seal(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(gcmPrefix)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, gcmPrefix...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal. A wrong key or tampered data fails authentication.
func Open(sealed, key []byte) ([]byte, error) {
	if len(sealed) < len(gcmPrefix) || string(sealed[:len(gcmPrefix)]) != gcmPrefix {
		return nil, ErrNotSealed
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	rest := sealed[len(gcmPrefix):]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrTooShort
	}
	return gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
}
