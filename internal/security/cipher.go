package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const encryptionKeySize = 32

var (
	// ErrDecryption is the only error surfaced for a token that fails to decrypt.
	// Callers must not branch on anything finer.
	ErrDecryption           = errors.New("decryption failed")
	ErrInvalidEncryptionKey = errors.New("encryption key must decode to exactly 32 bytes")
)

// Cipher seals JSON values with AES-256-GCM. Output is base64url(iv || ciphertext || tag).
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(rawKey string) (*Cipher, error) {
	key, err := NormalizeKey(rawKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NormalizeKey accepts base64url, 64-char hex, or a raw 32-byte string, tried in that order.
func NormalizeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidEncryptionKey
	}
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding} {
		if b, err := enc.DecodeString(raw); err == nil && len(b) == encryptionKeySize {
			return b, nil
		}
	}
	if len(raw) == 2*encryptionKeySize {
		if b, err := hex.DecodeString(raw); err == nil {
			return b, nil
		}
	}
	if len(raw) == encryptionKeySize {
		return []byte(raw), nil
	}
	return nil, ErrInvalidEncryptionKey
}

func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := c.aead.Seal(iv, iv, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.Strict().DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, ErrDecryption
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return nil, ErrDecryption
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func (c *Cipher) EncryptObject(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return c.Encrypt(payload)
}

func (c *Cipher) DecryptObject(token string, v any) error {
	plaintext, err := c.Decrypt(token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecryption
	}
	return nil
}
