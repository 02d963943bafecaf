package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/repository"
	"github.com/navihealth/navi-portal/internal/security"
)

const defaultSmartStateMaxAge = 10 * time.Minute

type SmartServiceConfig struct {
	BaseURL               string
	Scopes                []string
	EmailDomain           string
	TrustedTokenProfileID string
	TicketTTL             time.Duration
	StateMaxAge           time.Duration
	JWTTTL                time.Duration
}

// SmartConfiguration is the subset of .well-known/smart-configuration the launch needs.
type SmartConfiguration struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

type DirectParams struct {
	PatientIdentifier     string
	Token                 string
	OrganizationID        string
	TrustedTokenProfileID string
	Environment           string
}

type SmartService struct {
	cfg        SmartServiceConfig
	cipher     *security.Cipher
	codec      *security.SessionTokenCodec
	jwt        *security.JWTManager
	clients    SmartClientConfigStore
	tickets    SmartTicketStore
	tenants    repository.TenantRepository
	broker     IdentityBroker
	minter     *TrustedTokenMinter
	httpClient *http.Client
	now        func() time.Time
}

func NewSmartService(
	cfg SmartServiceConfig,
	cipher *security.Cipher,
	jwtMgr *security.JWTManager,
	clients SmartClientConfigStore,
	tickets SmartTicketStore,
	tenants repository.TenantRepository,
	broker IdentityBroker,
	minter *TrustedTokenMinter,
	httpClient *http.Client,
) *SmartService {
	if cfg.StateMaxAge <= 0 {
		cfg.StateMaxAge = defaultSmartStateMaxAge
	}
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = security.DefaultJWTTTL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SmartService{
		cfg:        cfg,
		cipher:     cipher,
		codec:      security.NewSessionTokenCodec(cipher),
		jwt:        jwtMgr,
		clients:    clients,
		tickets:    tickets,
		tenants:    tenants,
		broker:     broker,
		minter:     minter,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Launch builds the authorization redirect for an EHR launch. The pre-auth
// state travels encrypted in the OAuth state parameter.
func (s *SmartService) Launch(ctx context.Context, iss, launch string) (string, error) {
	iss = strings.TrimRight(strings.TrimSpace(iss), "/")
	if iss == "" {
		return "", newSmartError(SmartErrMissingParameter, "iss is required", http.StatusBadRequest, "", nil)
	}
	ctx, span := observability.StartSpan(ctx, "smart.launch", attribute.String("smart.issuer_host", IssuerHost(iss)))
	defer span.End()
	client, serr := s.clientConfig(ctx, iss)
	if serr != nil {
		span.SetStatus(codes.Error, serr.Code)
		observability.RecordSmartFlowEvent(ctx, "launch", serr.Code)
		return "", serr
	}
	discovered, err := s.Discover(ctx, iss)
	if err != nil {
		span.SetStatus(codes.Error, SmartErrDiscoveryFailed)
		observability.RecordSmartFlowEvent(ctx, "launch", SmartErrDiscoveryFailed)
		return "", newSmartError(SmartErrDiscoveryFailed, "could not read the issuer's SMART configuration", http.StatusBadGateway, iss, err)
	}
	pkce := security.GeneratePKCE()
	nonce, err := security.RandomString(16)
	if err != nil {
		return "", err
	}
	pre := domain.SmartPreAuth{
		Issuer:                iss,
		AuthorizationEndpoint: discovered.AuthorizationEndpoint,
		TokenEndpoint:         discovered.TokenEndpoint,
		CodeVerifier:          pkce.CodeVerifier,
		State:                 nonce,
		Scopes:                s.cfg.Scopes,
		CreatedAt:             s.now().UnixMilli(),
	}
	state, err := s.cipher.EncryptObject(pre)
	if err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("aud", iss),
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", security.PKCEChallengeMethodS256),
	}
	if launch != "" {
		opts = append(opts, oauth2.SetAuthURLParam("launch", launch))
	}
	observability.RecordSmartFlowEvent(ctx, "launch", "redirect")
	return s.oauthConfig(client, pre).AuthCodeURL(state, opts...), nil
}

func (s *SmartService) Discover(ctx context.Context, iss string) (*SmartConfiguration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iss+"/.well-known/smart-configuration", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("smart configuration returned %s", resp.Status)
	}
	var out SmartConfiguration
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode smart configuration: %w", err)
	}
	if out.AuthorizationEndpoint == "" || out.TokenEndpoint == "" {
		return nil, errors.New("smart configuration is missing endpoints")
	}
	return &out, nil
}

// Callback completes the authorization-code exchange and hands the result
// off under a single-use ticket.
func (s *SmartService) Callback(ctx context.Context, p CallbackParams) (string, error) {
	ctx, span := observability.StartSpan(ctx, "smart.callback")
	defer span.End()
	ticket, err := s.callback(ctx, p)
	if err != nil {
		code := AsSmartError(err).Code
		span.SetStatus(codes.Error, code)
		observability.RecordSmartFlowEvent(ctx, "callback", code)
		return "", err
	}
	observability.RecordSmartFlowEvent(ctx, "callback", "success")
	return ticket, nil
}

func (s *SmartService) callback(ctx context.Context, p CallbackParams) (string, error) {
	var pre domain.SmartPreAuth
	if p.State == "" || s.cipher.DecryptObject(p.State, &pre) != nil || pre.Issuer == "" || pre.TokenEndpoint == "" {
		return "", newSmartError(SmartErrInvalidState, "the sign-in request could not be verified", http.StatusBadRequest, "", nil)
	}
	if s.now().Sub(time.UnixMilli(pre.CreatedAt)) > s.cfg.StateMaxAge {
		return "", newSmartError(SmartErrInvalidState, "the sign-in request has expired", http.StatusBadRequest, pre.Issuer, nil)
	}
	iss := pre.Issuer
	if p.Error != "" {
		msg := p.ErrorDescription
		if msg == "" {
			msg = "the EHR did not authorize the launch"
		}
		code := p.Error
		if NormalizeErrorCode(code) == "access_denied" {
			code = SmartErrUpstreamAuthorization
		}
		return "", newSmartError(code, msg, http.StatusUnauthorized, iss, nil)
	}
	if p.Code == "" {
		return "", newSmartError(SmartErrMissingParameter, "code is required", http.StatusBadRequest, iss, nil)
	}
	client, serr := s.clientConfig(ctx, iss)
	if serr != nil {
		return "", serr
	}

	tok, serr := s.exchange(ctx, client, pre, p.Code)
	if serr != nil {
		return "", serr
	}
	idToken, _ := tok.Extra("id_token").(string)
	if code := PeekSimulatorError(tok.AccessToken, idToken); code != "" {
		return "", newSmartError(code, "the EHR simulator reported an error", http.StatusBadRequest, iss, nil)
	}
	if tokenExpired(tok, idToken, s.now()) {
		return "", newSmartError(SmartErrExpiredToken, "the EHR issued an expired token", http.StatusUnauthorized, iss, nil)
	}
	fhirUser := resolveFHIRUser(tok, idToken)
	if fhirUser == "" {
		return "", newSmartError(SmartErrMissingFHIRUser, "the EHR did not identify the signed-in user", http.StatusBadRequest, iss, nil)
	}

	practitionerID := PractitionerID(iss, fhirUser)
	identity := TrustedIdentity{
		Subject:        practitionerID,
		Email:          SyntheticEmail(practitionerID, s.cfg.EmailDomain),
		FHIRUser:       fhirUser,
		Issuer:         iss,
		OrganizationID: client.StytchOrganizationID,
	}
	attested, serr := s.attest(ctx, identity, s.cfg.TrustedTokenProfileID)
	if serr != nil {
		return "", serr
	}
	patient, _ := tok.Extra("patient").(string)
	encounter, _ := tok.Extra("encounter").(string)
	scope, _ := tok.Extra("scope").(string)
	return s.issueTicket(ctx, &domain.SmartSessionData{
		Issuer:             iss,
		FHIRUser:           fhirUser,
		Patient:            patient,
		Encounter:          encounter,
		PractitionerID:     practitionerID,
		Email:              identity.Email,
		OrganizationID:     client.StytchOrganizationID,
		Scope:              scope,
		StytchSessionToken: attested.SessionToken,
		StytchSessionJWT:   attested.SessionJWT,
		CreatedAt:          s.now().UTC(),
	})
}

// Direct runs the trust bridge for server-to-server integrations that already
// hold a magic token, and mints an app JWT bound to the org's tenant.
func (s *SmartService) Direct(ctx context.Context, p DirectParams) (string, error) {
	ctx, span := observability.StartSpan(ctx, "smart.direct")
	defer span.End()
	ticket, err := s.direct(ctx, p)
	if err != nil {
		code := AsSmartError(err).Code
		span.SetStatus(codes.Error, code)
		observability.RecordSmartFlowEvent(ctx, "direct", code)
		return "", err
	}
	observability.RecordSmartFlowEvent(ctx, "direct", "success")
	return ticket, nil
}

func (s *SmartService) direct(ctx context.Context, p DirectParams) (string, error) {
	if p.PatientIdentifier == "" || p.Token == "" || p.OrganizationID == "" {
		return "", newSmartError(SmartErrMissingParameter, "patient_identifier, token and organization_id are required", http.StatusBadRequest, "", nil)
	}
	iss, patient, err := ParsePatientIdentifier(p.PatientIdentifier)
	if err != nil {
		return "", newSmartError(SmartErrInvalidPatientID, "patient_identifier must be system|value", http.StatusBadRequest, "", err)
	}
	data, err := s.codec.Open(p.Token)
	if errors.Is(err, security.ErrSessionTokenExpired) {
		return "", newSmartError(SmartErrExpiredToken, "token expired", http.StatusUnauthorized, iss, nil)
	}
	if err != nil {
		return "", newSmartError(SmartErrInvalidToken, "invalid token", http.StatusUnauthorized, iss, nil)
	}
	environment := p.Environment
	if environment == "" {
		environment = data.Environment
	}
	tenantID, err := s.tenants.FindTenantID(ctx, p.OrganizationID, environment)
	if errors.Is(err, repository.ErrTenantNotFound) {
		return "", newSmartError(SmartErrTenantNotFound, "no tenant is configured for this organization", http.StatusNotFound, iss, err)
	}
	if err != nil {
		return "", err
	}

	subjectRef := "Patient/" + patient
	if data.StakeholderID != "" {
		subjectRef = "RelatedPerson/" + data.StakeholderID
	}
	subject := PractitionerID(iss, subjectRef)
	identity := TrustedIdentity{
		Subject:        subject,
		Email:          SyntheticEmail(subject, s.cfg.EmailDomain),
		FHIRUser:       subjectRef,
		Issuer:         iss,
		OrganizationID: p.OrganizationID,
	}
	profileID := p.TrustedTokenProfileID
	if profileID == "" {
		profileID = s.cfg.TrustedTokenProfileID
	}
	attested, serr := s.attest(ctx, identity, profileID)
	if serr != nil {
		return "", serr
	}

	claimsData := *data
	claimsData.TenantID = tenantID
	claimsData.Environment = environment
	claimsData.AuthenticationState = domain.Authenticated
	claimsData.PatientIdentifier = &domain.PatientIdentifier{System: iss, Value: patient}
	appJWT, err := s.jwt.CreateJWT(claimsData, s.cfg.JWTTTL)
	if err != nil {
		return "", err
	}
	return s.issueTicket(ctx, &domain.SmartSessionData{
		Issuer:             iss,
		Patient:            patient,
		PractitionerID:     subject,
		Email:              identity.Email,
		OrganizationID:     p.OrganizationID,
		TenantID:           tenantID,
		Environment:        environment,
		StytchSessionToken: attested.SessionToken,
		StytchSessionJWT:   attested.SessionJWT,
		AppJWT:             appJWT,
		CreatedAt:          s.now().UTC(),
	})
}

// ConsumeTicket redeems a ticket exactly once.
func (s *SmartService) ConsumeTicket(ctx context.Context, ticket string) (*domain.SmartSessionData, error) {
	data, err := s.tickets.Consume(ctx, ticket)
	if errors.Is(err, ErrTicketNotFound) {
		observability.RecordSmartFlowEvent(ctx, "ticket", SmartErrInvalidTicket)
		return nil, newSmartError(SmartErrInvalidTicket, "this sign-in link has already been used or has expired", http.StatusGone, "", err)
	}
	if err != nil {
		return nil, err
	}
	observability.RecordSmartFlowEvent(ctx, "ticket", "consumed")
	return data, nil
}

func (s *SmartService) clientConfig(ctx context.Context, iss string) (*domain.SmartClientConfig, *SmartError) {
	client, err := s.clients.Get(ctx, IssuerHost(iss))
	if err != nil && !errors.Is(err, ErrSmartClientNotFound) {
		return nil, newSmartError("client_config_unavailable", "client configuration could not be loaded", http.StatusInternalServerError, iss, err)
	}
	if client == nil || client.ClientID == "" {
		return nil, newSmartError(SmartErrMissingClientID, "no client is registered for this EHR", http.StatusBadRequest, iss, nil)
	}
	if client.StytchOrganizationID == "" {
		return nil, newSmartError(SmartErrMissingStytchOrg, "no organization is linked to this EHR", http.StatusBadRequest, iss, nil)
	}
	return client, nil
}

func (s *SmartService) oauthConfig(client *domain.SmartClientConfig, pre domain.SmartPreAuth) *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if client.ClientSecret != "" {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  s.cfg.BaseURL + "/smart/callback",
		Scopes:       pre.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   pre.AuthorizationEndpoint,
			TokenURL:  pre.TokenEndpoint,
			AuthStyle: style,
		},
	}
}

func (s *SmartService) exchange(ctx context.Context, client *domain.SmartClientConfig, pre domain.SmartPreAuth, code string) (*oauth2.Token, *SmartError) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	tok, err := s.oauthConfig(client, pre).Exchange(ctx, code, oauth2.VerifierOption(pre.CodeVerifier))
	if err == nil {
		return tok, nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := http.StatusBadGateway
		if re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
			status = re.Response.StatusCode
		}
		msg := "the EHR rejected the token request"
		if re.ErrorCode != "" {
			msg += ": " + re.ErrorCode
		}
		return nil, newSmartError(SmartErrTokenRequestFailed, msg, status, pre.Issuer, err)
	}
	return nil, newSmartError(SmartErrTokenExchangeFailed, "the token exchange with the EHR failed", http.StatusBadGateway, pre.Issuer, err)
}

func (s *SmartService) attest(ctx context.Context, id TrustedIdentity, profileID string) (*AttestResult, *SmartError) {
	if s.minter == nil {
		return nil, newSmartError(SmartErrTrustedTokenFailed, "trusted token signing is not configured", http.StatusInternalServerError, id.Issuer, nil)
	}
	trusted, err := s.minter.Mint(id)
	if err != nil {
		return nil, newSmartError(SmartErrTrustedTokenFailed, "could not sign the trusted token", http.StatusInternalServerError, id.Issuer, err)
	}
	res, err := s.broker.Attest(ctx, AttestRequest{
		OrganizationID: id.OrganizationID,
		ProfileID:      profileID,
		Token:          trusted,
	})
	if errors.Is(err, ErrStytchMemberNotFound) {
		return nil, newSmartError(SmartErrEmailNotFound, "no account is provisioned for this user; contact your administrator", http.StatusNotFound, id.Issuer, err)
	}
	if err != nil {
		status := http.StatusBadGateway
		var apiErr *StytchAPIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		return nil, newSmartError(SmartErrStytchAttestFailed, "the identity provider rejected the sign-in", status, id.Issuer, err)
	}
	return res, nil
}

func (s *SmartService) issueTicket(ctx context.Context, data *domain.SmartSessionData) (string, error) {
	ticket, err := s.tickets.Issue(ctx, data, s.cfg.TicketTTL)
	if err != nil {
		return "", newSmartError(SmartErrTicketStoreFailed, "could not complete sign-in", http.StatusInternalServerError, data.Issuer, err)
	}
	return ticket, nil
}

func unverifiedClaims(raw string) jwt.MapClaims {
	if raw == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

func tokenExpired(tok *oauth2.Token, idToken string, now time.Time) bool {
	if v, ok := numeric(tok.Extra("expires_in")); ok && v <= 0 {
		return true
	}
	if claims := unverifiedClaims(idToken); claims != nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && !now.Before(exp.Time) {
			return true
		}
	}
	return false
}

func resolveFHIRUser(tok *oauth2.Token, idToken string) string {
	if v, ok := tok.Extra("fhirUser").(string); ok && v != "" {
		return v
	}
	claims := unverifiedClaims(idToken)
	for _, name := range []string{"fhirUser", "profile"} {
		if v, ok := claims[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscan(n, &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
