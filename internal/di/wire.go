//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/navihealth/navi-portal/internal/app"
	"github.com/navihealth/navi-portal/internal/config"
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	wire.Build(
		provideRuntime,
		provideLogger,
		provideRedis,
		provideDB,
		provideCipher,
		provideJWTManager,
		provideCookiePolicy,
		provideOutboundHTTPClient,
		provideSessionService,
		provideBrandingService,
		providePublishableKeyService,
		provideTenantService,
		provideTrustedTokenMinter,
		provideSmartService,
		provideFeatureGate,
		provideEmbedHandler,
		provideSessionHandler,
		provideBrandingHandler,
		provideSmartHandler,
		provideAdminHandler,
		provideReadiness,
		provideBackgroundTasks,
		provideRouter,
		provideHTTPServer,
		app.New,
	)
	return nil, nil
}
