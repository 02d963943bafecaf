package domain

import (
	"fmt"
	"time"
)

type AuthenticationState string

const (
	Authenticated   AuthenticationState = "authenticated"
	Unauthenticated AuthenticationState = "unauthenticated"
)

type SessionState string

const (
	SessionStateCreated SessionState = "created"
	SessionStateActive  SessionState = "active"
	SessionStateError   SessionState = "error"
)

func (s SessionState) Valid() bool {
	switch s {
	case SessionStateCreated, SessionStateActive, SessionStateError:
		return true
	default:
		return false
	}
}

// PatientIdentifier is an external identifier of a patient, e.g. an MRN.
type PatientIdentifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

// SessionTokenData is the payload carried by an encrypted magic token.
// Exp is epoch milliseconds.
type SessionTokenData struct {
	PatientID            string              `json:"patientId"`
	CareflowID           string              `json:"careflowId"`
	CareflowDefinitionID string              `json:"careflowDefinitionId,omitempty"`
	StakeholderID        string              `json:"stakeholderId,omitempty"`
	OrgID                string              `json:"orgId"`
	TenantID             string              `json:"tenantId"`
	Environment          string              `json:"environment"`
	AuthenticationState  AuthenticationState `json:"authenticationState"`
	Exp                  int64               `json:"exp"`
	State                SessionState        `json:"state,omitempty"`
	ErrorMessage         string              `json:"errorMessage,omitempty"`
	PatientIdentifier    *PatientIdentifier  `json:"patientIdentifier,omitempty"`
	TrackID              string              `json:"track_id,omitempty"`
	ActivityID           string              `json:"activity_id,omitempty"`
	ActivityStakeholder  string              `json:"stakeholder_id,omitempty"`
}

// RequiredSessionTokenFields lists the keys a decoded token must carry.
var RequiredSessionTokenFields = []string{
	"patientId",
	"careflowId",
	"orgId",
	"tenantId",
	"environment",
	"authenticationState",
	"exp",
}

func (d SessionTokenData) ExpiresAt() time.Time {
	return time.UnixMilli(d.Exp)
}

func (d SessionTokenData) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt())
}

// ExpiryMillis converts a wall-clock expiry into the epoch-millisecond form used by session payloads.
func ExpiryMillis(t time.Time) int64 {
	return t.UnixMilli()
}

type SessionKind string

const (
	// SessionKindMagicLink sessions are minted from a decrypted magic token.
	SessionKindMagicLink SessionKind = "magic_link"
	// SessionKindEmbed sessions are minted by a publishable-key authorised request.
	SessionKindEmbed SessionKind = "embed"
)

type PageKind string

const (
	PageNewCareflow    PageKind = "new_careflow"
	PageActiveCareflow PageKind = "active_careflow"
	PagePreparing      PageKind = "preparing"
)

// Session is the server-side record stored under its ID. ExpiresAt is epoch milliseconds.
type Session struct {
	Kind      SessionKind `json:"kind"`
	ID        string      `json:"sessionId"`
	ExpiresAt int64       `json:"expiresAt"`
	CreatedAt time.Time   `json:"createdAt"`
	SessionTokenData
}

func (s *Session) Validate() error {
	switch s.Kind {
	case SessionKindMagicLink, SessionKindEmbed:
	default:
		return fmt.Errorf("unknown session kind %q", s.Kind)
	}
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.State != "" && !s.State.Valid() {
		return fmt.Errorf("unknown session state %q", s.State)
	}
	return nil
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(time.UnixMilli(s.ExpiresAt))
}

func (s *Session) TTL(now time.Time) time.Duration {
	return time.UnixMilli(s.ExpiresAt).Sub(now)
}

func (s *Session) IsNewCareflow() bool {
	return s.CareflowDefinitionID != "" && s.CareflowID == ""
}

func (s *Session) IsActiveCareflow() bool {
	return s.State == SessionStateActive && s.CareflowID != ""
}

// Page selects the renderer for the embed page.
func (s *Session) Page() PageKind {
	switch {
	case s.IsNewCareflow():
		return PageNewCareflow
	case s.IsActiveCareflow():
		return PageActiveCareflow
	default:
		return PagePreparing
	}
}
