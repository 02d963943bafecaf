package domain

import "time"

// SmartPreAuth travels encrypted inside the OAuth state parameter.
type SmartPreAuth struct {
	Issuer                string   `json:"iss"`
	AuthorizationEndpoint string   `json:"authorizationEndpoint"`
	TokenEndpoint         string   `json:"tokenEndpoint"`
	CodeVerifier          string   `json:"codeVerifier"`
	State                 string   `json:"state"`
	Scopes                []string `json:"scopes"`
	CreatedAt             int64    `json:"createdAt"`
}

// SmartSessionData is stored under a one-time ticket between callback and home page.
type SmartSessionData struct {
	Issuer             string    `json:"iss"`
	FHIRUser           string    `json:"fhirUser,omitempty"`
	Patient            string    `json:"patient,omitempty"`
	Encounter          string    `json:"encounter,omitempty"`
	PractitionerID     string    `json:"practitionerId,omitempty"`
	Email              string    `json:"email,omitempty"`
	OrganizationID     string    `json:"organizationId"`
	TenantID           string    `json:"tenantId,omitempty"`
	Environment        string    `json:"environment,omitempty"`
	Scope              string    `json:"scope,omitempty"`
	StytchSessionToken string    `json:"stytchSessionToken"`
	StytchSessionJWT   string    `json:"stytchSessionJwt,omitempty"`
	AppJWT             string    `json:"appJwt,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// SmartClientConfig is the admin-managed client registration for one issuer host.
type SmartClientConfig struct {
	ClientID             string `json:"client_id"`
	StytchOrganizationID string `json:"stytch_organization_id"`
	ClientSecret         string `json:"client_secret,omitempty"`
}

type Branding map[string]any
