package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/navihealth/navi-portal/internal/domain"
)

const DefaultJWTTTL = 15 * time.Minute

var ErrInvalidJWT = errors.New("invalid jwt")

// Claims are read by the downstream API gateway; exp and iat are Unix seconds.
type Claims struct {
	StakeholderID       string `json:"stakeholder_id,omitempty"`
	PatientID           string `json:"patient_id"`
	TenantID            string `json:"tenant_id"`
	OrgID               string `json:"org_id"`
	Environment         string `json:"environment"`
	AuthenticationState string `json:"authentication_state"`
	jwt.RegisteredClaims
}

// JWTManager signs HS256 tokens. The issuer is the key ID the gateway uses to find the secret.
type JWTManager struct {
	keyID  string
	secret []byte
	now    func() time.Time
}

func NewJWTManager(keyID, secret string) *JWTManager {
	return &JWTManager{
		keyID:  keyID,
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (m *JWTManager) CreateJWT(data domain.SessionTokenData, ttl time.Duration) (string, error) {
	if ttl < 0 {
		return "", fmt.Errorf("negative jwt ttl %s", ttl)
	}
	now := m.now()
	claims := Claims{
		StakeholderID:       data.StakeholderID,
		PatientID:           data.PatientID,
		TenantID:            data.TenantID,
		OrgID:               data.OrgID,
		Environment:         data.Environment,
		AuthenticationState: string(data.AuthenticationState),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.keyID,
			Subject:   data.CareflowID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// VerifyJWT checks signature, issuer and expiry. Every failure maps to ErrInvalidJWT.
func (m *JWTManager) VerifyJWT(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.keyID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWT, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidJWT
	}
	return claims, nil
}
