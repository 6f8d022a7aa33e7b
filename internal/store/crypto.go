package store

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Parameters for deriving the sealing key from the user's passphrase.
// Interactive-use argon2id settings: the cost only has to outrun casual
// disk scraping, not an online attacker.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltLength   = 16
)

var errSealTooShort = errors.New("sealed record too short")

// seal encrypts plaintext with a key derived from passphrase. Layout:
// salt || nonce || ciphertext.
func seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// open reverses seal. A wrong passphrase or a tampered record both fail
// authentication and surface as an error.
func open(sealed []byte, passphrase string) ([]byte, error) {
	if len(sealed) < saltLength+chacha20poly1305.NonceSizeX {
		return nil, errSealTooShort
	}
	salt := sealed[:saltLength]
	nonce := sealed[saltLength : saltLength+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[saltLength+chacha20poly1305.NonceSizeX:]

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt session record: %w", err)
	}
	return plaintext, nil
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return aead, nil
}
