package service

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const trustedTokenTTL = 5 * time.Minute

// TrustedIdentity is what the identity broker learns about a clinician or patient.
type TrustedIdentity struct {
	Subject        string
	Email          string
	FHIRUser       string
	Issuer         string
	OrganizationID string
}

type TrustedTokenClaims struct {
	Email          string `json:"email"`
	FHIRUser       string `json:"fhir_user,omitempty"`
	FHIRIssuer     string `json:"fhir_iss,omitempty"`
	OrganizationID string `json:"organization_id"`
	jwt.RegisteredClaims
}

// TrustedTokenMinter signs RS256 assertions verified by the identity broker's trusted token profile.
type TrustedTokenMinter struct {
	key      *rsa.PrivateKey
	issuer   string
	audience string
	now      func() time.Time
}

func NewTrustedTokenMinter(pemKey, issuer, audience string) (*TrustedTokenMinter, error) {
	if pemKey == "" {
		return nil, errors.New("trusted token signing key is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("parse trusted token signing key: %w", err)
	}
	return newTrustedTokenMinter(key, issuer, audience), nil
}

// NewEphemeralTrustedTokenMinter uses a throwaway key. Tokens it signs only verify against its PublicKey.
func NewEphemeralTrustedTokenMinter(issuer, audience string) (*TrustedTokenMinter, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return newTrustedTokenMinter(key, issuer, audience), nil
}

func newTrustedTokenMinter(key *rsa.PrivateKey, issuer, audience string) *TrustedTokenMinter {
	return &TrustedTokenMinter{key: key, issuer: issuer, audience: audience, now: time.Now}
}

func (m *TrustedTokenMinter) PublicKey() *rsa.PublicKey { return &m.key.PublicKey }

func (m *TrustedTokenMinter) Mint(id TrustedIdentity) (string, error) {
	if id.Subject == "" || id.Email == "" {
		return "", errors.New("trusted token requires subject and email")
	}
	now := m.now()
	claims := TrustedTokenClaims{
		Email:          id.Email,
		FHIRUser:       id.FHIRUser,
		FHIRIssuer:     id.Issuer,
		OrganizationID: id.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.Subject,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(trustedTokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
}

// PractitionerID derives a stable UUID for an EHR user reference.
func PractitionerID(iss, reference string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(iss+"/"+reference)).String()
}

func SyntheticEmail(subject, domain string) string {
	return subject + "@" + domain
}
