package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/security"
)

var (
	ErrCareflowMismatch       = errors.New("careflow mismatch")
	ErrSessionTargetRequired  = errors.New("one of careflowId, careflowDefinitionId or sessionId is required")
	ErrSessionOrgMismatch     = errors.New("session belongs to a different organization")
	ErrInvalidStateTransition = errors.New("invalid session state transition")
)

// EmbedSessionRequest is the publishable-key authorised request for a session.
type EmbedSessionRequest struct {
	CareflowID           string
	CareflowDefinitionID string
	SessionID            string
	PatientID            string
	PatientIdentifier    *domain.PatientIdentifier
	TrackID              string
	ActivityID           string
	StakeholderID        string
}

type SessionService struct {
	store      SessionStore
	codec      *security.SessionTokenCodec
	jwt        *security.JWTManager
	sessionTTL time.Duration
	jwtTTL     time.Duration
	now        func() time.Time
	newID      func() string
}

func NewSessionService(store SessionStore, codec *security.SessionTokenCodec, jwt *security.JWTManager, sessionTTL, jwtTTL time.Duration) *SessionService {
	return &SessionService{
		store:      store,
		codec:      codec,
		jwt:        jwt,
		sessionTTL: sessionTTL,
		jwtTTL:     jwtTTL,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// CreateFromMagicToken mints a magic_link session from an encrypted token whose
// careflow must equal careflowID. The record lives until the token expires.
func (s *SessionService) CreateFromMagicToken(ctx context.Context, careflowID, token string) (*domain.Session, error) {
	data, err := s.codec.Open(token)
	if err != nil {
		outcome := "invalid"
		if errors.Is(err, security.ErrSessionTokenExpired) {
			outcome = "expired"
		}
		observability.RecordTokenValidation(ctx, "magic", outcome, "query")
		return nil, err
	}
	observability.RecordTokenValidation(ctx, "magic", "valid", "query")
	if data.CareflowID != careflowID {
		return nil, ErrCareflowMismatch
	}
	if data.State == "" {
		data.State = domain.SessionStateActive
	}
	session := &domain.Session{
		Kind:             domain.SessionKindMagicLink,
		ID:               s.newID(),
		ExpiresAt:        data.Exp,
		CreatedAt:        s.now().UTC(),
		SessionTokenData: *data,
	}
	if err := s.store.Set(ctx, session, 0); err != nil {
		return nil, fmt.Errorf("store magic session: %w", err)
	}
	observability.RecordSessionEvent(ctx, string(session.Kind), "created")
	return session, nil
}

// CreateEmbedSession creates an unauthenticated embed session for a validated key
// scope. A sessionId in the request resumes that session when it is live and
// belongs to the same org.
func (s *SessionService) CreateEmbedSession(ctx context.Context, scope domain.KeyScope, req EmbedSessionRequest) (*domain.Session, error) {
	if req.CareflowID == "" && req.CareflowDefinitionID == "" && req.SessionID == "" {
		return nil, ErrSessionTargetRequired
	}
	if req.SessionID != "" {
		existing, err := s.Load(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if existing.OrgID != scope.OrgID {
			return nil, ErrSessionOrgMismatch
		}
		observability.RecordSessionEvent(ctx, string(existing.Kind), "resumed")
		return existing, nil
	}

	now := s.now()
	expiresAt := domain.ExpiryMillis(now.Add(s.sessionTTL))
	state := domain.SessionStateCreated
	if req.CareflowID != "" {
		state = domain.SessionStateActive
	}
	session := &domain.Session{
		Kind:      domain.SessionKindEmbed,
		ID:        s.newID(),
		ExpiresAt: expiresAt,
		CreatedAt: now.UTC(),
		SessionTokenData: domain.SessionTokenData{
			PatientID:            req.PatientID,
			CareflowID:           req.CareflowID,
			CareflowDefinitionID: req.CareflowDefinitionID,
			StakeholderID:        req.StakeholderID,
			OrgID:                scope.OrgID,
			TenantID:             scope.TenantID,
			Environment:          scope.Environment,
			AuthenticationState:  domain.Unauthenticated,
			Exp:                  expiresAt,
			State:                state,
			PatientIdentifier:    req.PatientIdentifier,
			TrackID:              req.TrackID,
			ActivityID:           req.ActivityID,
			ActivityStakeholder:  req.StakeholderID,
		},
	}
	if err := s.store.Set(ctx, session, 0); err != nil {
		return nil, fmt.Errorf("store embed session: %w", err)
	}
	observability.RecordSessionEvent(ctx, string(session.Kind), "created")
	return session, nil
}

// Load returns a live session. Expired records are reported as not found.
func (s *SessionService) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordSessionEvent(ctx, "unknown", "not_found")
		}
		return nil, err
	}
	if session.Expired(s.now()) {
		observability.RecordSessionEvent(ctx, string(session.Kind), "expired")
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ReusableCookieSession returns the cookie's session when it is live and belongs to orgID.
func (s *SessionService) ReusableCookieSession(ctx context.Context, cookieSessionID, orgID string) (*domain.Session, bool) {
	if cookieSessionID == "" {
		return nil, false
	}
	existing, err := s.Load(ctx, cookieSessionID)
	if err != nil || existing.OrgID != orgID {
		return nil, false
	}
	observability.RecordSessionEvent(ctx, string(existing.Kind), "reused")
	return existing, true
}

// Dedup enforces one live session per org per browser. When the cookie points
// at a different live session of the same org, the requested session is deleted
// and the surviving ID is returned.
func (s *SessionService) Dedup(ctx context.Context, cookieSessionID string, requested *domain.Session) (string, bool, error) {
	if cookieSessionID == "" || cookieSessionID == requested.ID {
		return "", false, nil
	}
	existing, err := s.Load(ctx, cookieSessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if existing.OrgID != requested.OrgID {
		return "", false, nil
	}
	if err := s.store.Delete(ctx, requested.ID); err != nil {
		return "", false, fmt.Errorf("delete duplicate session: %w", err)
	}
	observability.RecordSessionEvent(ctx, string(requested.Kind), "dedup_redirect")
	return existing.ID, true, nil
}

// Transition applies an orchestration event. error is terminal and active never returns to created.
func (s *SessionService) Transition(ctx context.Context, sessionID string, to domain.SessionState, careflowID, errorMessage string) (*domain.Session, error) {
	session, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !allowedTransition(session.State, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, session.State, to)
	}
	switch to {
	case domain.SessionStateActive:
		if careflowID == "" && session.CareflowID == "" {
			return nil, fmt.Errorf("%w: active requires a careflow id", ErrInvalidStateTransition)
		}
		if careflowID != "" {
			session.CareflowID = careflowID
		}
	case domain.SessionStateError:
		session.ErrorMessage = errorMessage
	}
	session.State = to
	if err := s.store.Set(ctx, session, 0); err != nil {
		return nil, err
	}
	observability.RecordSessionEvent(ctx, string(session.Kind), "state_"+string(to))
	return session, nil
}

func allowedTransition(from, to domain.SessionState) bool {
	if from == "" {
		from = domain.SessionStateCreated
	}
	switch from {
	case domain.SessionStateCreated:
		return to == domain.SessionStateActive || to == domain.SessionStateError
	case domain.SessionStateActive:
		return to == domain.SessionStateActive || to == domain.SessionStateError
	default:
		return false
	}
}

// MintJWT signs the gateway JWT for a session.
func (s *SessionService) MintJWT(session *domain.Session) (string, error) {
	return s.jwt.CreateJWT(session.SessionTokenData, s.jwtTTL)
}
