package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Cipher seals tokens before they reach storage. Ciphertext is printable so
// it can live in a TEXT column.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

const (
	CipherXChaCha20 = "xchacha20poly1305"
	CipherAESGCM    = "aes-gcm"
)

// NewCipher builds the named cipher with a key derived from secret.
func NewCipher(name, secret string) (Cipher, error) {
	if secret == "" {
		return nil, errors.New("vault: secret is required")
	}
	key, err := deriveKey(secret, name)
	if err != nil {
		return nil, err
	}

	var aead cipher.AEAD
	switch name {
	case "", CipherXChaCha20:
		aead, err = chacha20poly1305.NewX(key)
	case CipherAESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	default:
		return nil, fmt.Errorf("vault: unknown cipher %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("vault: creating %s cipher: %w", name, err)
	}
	return aeadCipher{aead}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte("smartcal-vault"), []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("vault: deriving key: %w", err)
	}
	return key, nil
}

// aeadCipher stores nonce || sealed, base64 encoded.
type aeadCipher struct {
	aead cipher.AEAD
}

func (c aeadCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c aeadCipher) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
