package service

import (
	"context"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/repository"
)

type SessionServiceInterface interface {
	CreateFromMagicToken(ctx context.Context, careflowID, token string) (*domain.Session, error)
	CreateEmbedSession(ctx context.Context, scope domain.KeyScope, req EmbedSessionRequest) (*domain.Session, error)
	Load(ctx context.Context, sessionID string) (*domain.Session, error)
	ReusableCookieSession(ctx context.Context, cookieSessionID, orgID string) (*domain.Session, bool)
	Dedup(ctx context.Context, cookieSessionID string, requested *domain.Session) (string, bool, error)
	Transition(ctx context.Context, sessionID string, to domain.SessionState, careflowID, errorMessage string) (*domain.Session, error)
	MintJWT(session *domain.Session) (string, error)
}

type PublishableKeyValidator interface {
	ValidateKey(ctx context.Context, key, origin string) (*domain.KeyScope, error)
}

type PublishableKeyAdmin interface {
	Register(ctx context.Context, pk *domain.PublishableKey) error
	Deactivate(ctx context.Context, key string) error
	List(ctx context.Context, orgID string, page repository.PageRequest) (repository.PageResult[domain.PublishableKey], error)
}

type TenantMapper interface {
	Map(ctx context.Context, organizationID, environment, tenantID string) (*domain.OrganizationTenant, error)
}

type BrandingServiceInterface interface {
	ForOrg(ctx context.Context, orgID string) domain.Branding
	Merge(ctx context.Context, orgID string, override domain.Branding) domain.Branding
	Get(ctx context.Context, orgID string) (domain.Branding, error)
	Put(ctx context.Context, orgID string, b domain.Branding) error
	Delete(ctx context.Context, orgID string) error
}

type SmartServiceInterface interface {
	Launch(ctx context.Context, iss, launch string) (string, error)
	Callback(ctx context.Context, p CallbackParams) (string, error)
	Direct(ctx context.Context, p DirectParams) (string, error)
	ConsumeTicket(ctx context.Context, ticket string) (*domain.SmartSessionData, error)
}
