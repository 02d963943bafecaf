package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrStytchMemberNotFound = errors.New("stytch member not found")

type AttestRequest struct {
	OrganizationID         string `json:"organization_id"`
	ProfileID              string `json:"profile_id"`
	Token                  string `json:"token"`
	SessionDurationMinutes int    `json:"session_duration_minutes,omitempty"`
}

type AttestResult struct {
	SessionToken string `json:"session_token"`
	SessionJWT   string `json:"session_jwt"`
	MemberID     string `json:"member_id"`
}

// StytchAPIError is a non-2xx answer other than 404.
type StytchAPIError struct {
	Status    int
	ErrorType string
	Message   string
}

func (e *StytchAPIError) Error() string {
	return fmt.Sprintf("stytch api %d %s: %s", e.Status, e.ErrorType, e.Message)
}

type IdentityBroker interface {
	Attest(ctx context.Context, req AttestRequest) (*AttestResult, error)
}

type StytchClient struct {
	baseURL    string
	projectID  string
	secret     string
	httpClient *http.Client
}

func NewStytchClient(baseURL, projectID, secret string, httpClient *http.Client) *StytchClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &StytchClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		projectID:  projectID,
		secret:     secret,
		httpClient: httpClient,
	}
}

// Attest exchanges a trusted token for a B2B member session. A 404 becomes ErrStytchMemberNotFound.
func (c *StytchClient) Attest(ctx context.Context, in AttestRequest) (*AttestResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/b2b/sessions/attest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.projectID, c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stytch attest request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read stytch response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrStytchMemberNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			ErrorType    string `json:"error_type"`
			ErrorMessage string `json:"error_message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return nil, &StytchAPIError{Status: resp.StatusCode, ErrorType: apiErr.ErrorType, Message: apiErr.ErrorMessage}
	}
	var payload struct {
		SessionToken  string `json:"session_token"`
		SessionJWT    string `json:"session_jwt"`
		MemberSession struct {
			MemberID string `json:"member_id"`
		} `json:"member_session"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode stytch response: %w", err)
	}
	if payload.SessionToken == "" {
		return nil, &StytchAPIError{Status: resp.StatusCode, ErrorType: "missing_session_token", Message: "attest response carried no session token"}
	}
	return &AttestResult{
		SessionToken: payload.SessionToken,
		SessionJWT:   payload.SessionJWT,
		MemberID:     payload.MemberSession.MemberID,
	}, nil
}
