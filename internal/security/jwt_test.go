package security

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/navihealth/navi-portal/internal/domain"
)

const testJWTSecret = "abcdefghijklmnopqrstuvwxyz123456"

func TestJWTCreateAndVerifyClaims(t *testing.T) {
	m := NewJWTManager("navi-key", testJWTSecret)
	data := sampleTokenData()

	tok, err := m.CreateJWT(data, DefaultJWTTTL)
	if err != nil {
		t.Fatalf("create jwt: %v", err)
	}
	claims, err := m.VerifyJWT(tok)
	if err != nil {
		t.Fatalf("verify jwt: %v", err)
	}
	if claims.Subject != data.CareflowID || claims.PatientID != data.PatientID || claims.OrgID != data.OrgID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.TenantID != data.TenantID || claims.Environment != data.Environment || claims.StakeholderID != data.StakeholderID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.AuthenticationState != string(domain.Authenticated) || claims.Issuer != "navi-key" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) != DefaultJWTTTL {
		t.Fatalf("expected exp-iat=%s, got %s", DefaultJWTTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	}
}

func TestJWTExpiryBoundary(t *testing.T) {
	m := NewJWTManager("navi-key", testJWTSecret)
	base := time.Now().Truncate(time.Second)
	m.now = func() time.Time { return base }

	tok, err := m.CreateJWT(sampleTokenData(), 0)
	if err != nil {
		t.Fatalf("create jwt: %v", err)
	}
	m.now = func() time.Time { return base.Add(time.Second) }
	if _, err := m.VerifyJWT(tok); !errors.Is(err, ErrInvalidJWT) {
		t.Fatalf("expected zero-ttl jwt rejected after 1s, got %v", err)
	}
}

func TestJWTRejectsWrongIssuerSignatureAndGarbage(t *testing.T) {
	m := NewJWTManager("navi-key", testJWTSecret)
	tok, err := m.CreateJWT(sampleTokenData(), time.Minute)
	if err != nil {
		t.Fatalf("create jwt: %v", err)
	}

	wrongIssuer := NewJWTManager("other-key", testJWTSecret)
	if _, err := wrongIssuer.VerifyJWT(tok); !errors.Is(err, ErrInvalidJWT) {
		t.Fatalf("expected wrong issuer rejected, got %v", err)
	}
	wrongSecret := NewJWTManager("navi-key", "abcdefghijklmnopqrstuvwxyz654321")
	if _, err := wrongSecret.VerifyJWT(tok); !errors.Is(err, ErrInvalidJWT) {
		t.Fatalf("expected wrong secret rejected, got %v", err)
	}
	if _, err := m.VerifyJWT("not.a.jwt"); !errors.Is(err, ErrInvalidJWT) {
		t.Fatalf("expected malformed jwt rejected, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Issuer: "navi-key", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.VerifyJWT(unsigned); !errors.Is(err, ErrInvalidJWT) {
		t.Fatalf("expected alg=none rejected, got %v", err)
	}
}

func TestJWTRejectsNegativeTTL(t *testing.T) {
	m := NewJWTManager("navi-key", testJWTSecret)
	if _, err := m.CreateJWT(sampleTokenData(), -time.Second); err == nil {
		t.Fatal("expected negative ttl to fail")
	}
}
