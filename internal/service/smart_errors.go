package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	SmartErrInvalidState          = "invalid_state"
	SmartErrMissingClientID       = "missing_client_id"
	SmartErrMissingStytchOrg      = "missing_stytch_organization_id"
	SmartErrTokenRequestFailed    = "token_request_failed"
	SmartErrTokenExchangeFailed   = "token_exchange_failed"
	SmartErrExpiredToken          = "expired_token"
	SmartErrMissingFHIRUser       = "missing_fhir_user"
	SmartErrEmailNotFound         = "email_not_found"
	SmartErrStytchAttestFailed    = "stytch_attest_failed"
	SmartErrTrustedTokenFailed    = "trusted_token_failed"
	SmartErrDiscoveryFailed       = "discovery_failed"
	SmartErrMissingParameter      = "missing_parameter"
	SmartErrInvalidPatientID      = "invalid_patient_identifier"
	SmartErrInvalidToken          = "invalid_token"
	SmartErrTenantNotFound        = "tenant_not_found"
	SmartErrInvalidTicket         = "invalid_ticket"
	SmartErrTicketStoreFailed     = "ticket_store_failed"
	SmartErrUpstreamAuthorization = "authorization_denied"
)

// SmartError is a user-facing SMART flow failure rendered on the error page.
type SmartError struct {
	Code    string
	Message string
	Status  int
	Issuer  string
	Err     error
}

func (e *SmartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("smart %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("smart %s: %s", e.Code, e.Message)
}

func (e *SmartError) Unwrap() error { return e.Err }

func newSmartError(code, message string, status int, iss string, err error) *SmartError {
	return &SmartError{Code: NormalizeErrorCode(code), Message: message, Status: status, Issuer: iss, Err: err}
}

// AsSmartError converts any error into a SmartError, defaulting to a 500.
func AsSmartError(err error) *SmartError {
	var se *SmartError
	if errors.As(err, &se) {
		return se
	}
	return newSmartError("internal_error", "unexpected error", http.StatusInternalServerError, "", err)
}

// NormalizeErrorCode lowercases and collapses runs of non-alphanumerics to '_'.
func NormalizeErrorCode(code string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(code)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "unknown_error"
	}
	return b.String()
}

var simulatorErrorClaims = []string{"auth_error", "sim_error", "error"}

// PeekSimulatorError reads test-harness error markers from unverified JWT
// claims. Its output is never identity; it only short-circuits the flow.
func PeekSimulatorError(tokens ...string) string {
	parser := jwt.NewParser()
	for _, raw := range tokens {
		if strings.Count(raw, ".") != 2 {
			continue
		}
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
			continue
		}
		for _, name := range simulatorErrorClaims {
			if v, ok := claims[name].(string); ok && strings.TrimSpace(v) != "" {
				return NormalizeErrorCode(v)
			}
		}
	}
	return ""
}

// ParsePatientIdentifier splits "system|value" on pipes and keeps the first two
// segments, so "a|b|c" yields ("a", "b").
func ParsePatientIdentifier(v string) (iss, patient string, err error) {
	parts := strings.Split(v, "|")
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("patient identifier must be system|value")
	}
	return parts[0], parts[1], nil
}
