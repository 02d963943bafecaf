package security

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/navihealth/navi-portal/internal/domain"
)

var (
	ErrInvalidSessionToken = errors.New("invalid token")
	ErrSessionTokenExpired = errors.New("token expired")
)

// SessionTokenCodec turns SessionTokenData into magic tokens and back.
type SessionTokenCodec struct {
	cipher *Cipher
	now    func() time.Time
}

func NewSessionTokenCodec(c *Cipher) *SessionTokenCodec {
	return &SessionTokenCodec{cipher: c, now: time.Now}
}

func (c *SessionTokenCodec) CreateSessionToken(data domain.SessionTokenData) (string, error) {
	return c.cipher.EncryptObject(data)
}

// DecryptSessionToken returns nil for anything that does not decrypt or does not carry
// every required field.
func (c *SessionTokenCodec) DecryptSessionToken(token string) *domain.SessionTokenData {
	plaintext, err := c.cipher.Decrypt(token)
	if err != nil {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return nil
	}
	if !IsValidSessionToken(raw) {
		return nil
	}
	var data domain.SessionTokenData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil
	}
	return &data
}

// Open decrypts and checks expiry; only expiry is reported distinctly.
func (c *SessionTokenCodec) Open(token string) (*domain.SessionTokenData, error) {
	data := c.DecryptSessionToken(token)
	if data == nil {
		return nil, ErrInvalidSessionToken
	}
	if data.Expired(c.now()) {
		return nil, ErrSessionTokenExpired
	}
	return data, nil
}

func IsValidSessionToken(raw map[string]any) bool {
	if len(raw) == 0 {
		return false
	}
	for _, field := range domain.RequiredSessionTokenFields {
		v, ok := raw[field]
		if !ok || v == nil {
			return false
		}
	}
	return true
}
