package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/navihealth/navi-portal/internal/health"
	"github.com/navihealth/navi-portal/internal/http/handler"
	"github.com/navihealth/navi-portal/internal/http/middleware"
	"github.com/navihealth/navi-portal/internal/http/response"
	"github.com/navihealth/navi-portal/internal/security"
)

type Dependencies struct {
	EmbedHandler    *handler.EmbedHandler
	SessionHandler  *handler.SessionHandler
	BrandingHandler *handler.BrandingHandler
	SmartHandler    *handler.SmartHandler
	AdminHandler    *handler.AdminHandler
	JWTManager      *security.JWTManager
	AdminAPIToken   string
	CORSOrigins     []string

	// JWTCookiePath is where browsers send awell.jwt. The session echo is
	// also served below it so the embedded app can call it with the cookie.
	JWTCookiePath string

	// Per client IP, per minute.
	APIRateLimitRPM     int
	SessionRateLimitRPM int
	SmartRateLimitRPM   int

	// SharedLimiter, when set, replaces the process-local counters so replicas
	// share one budget.
	SharedLimiter     middleware.Limiter
	RateLimitFailOpen bool

	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func (dep Dependencies) limiter(rpm int, scope string) func(http.Handler) http.Handler {
	if dep.SharedLimiter == nil {
		return middleware.NewRateLimiter(rpm, time.Minute, scope).Middleware()
	}
	mode := middleware.FailClosed
	if dep.RateLimitFailOpen {
		mode = middleware.FailOpen
	}
	return middleware.NewDistributedRateLimiter(dep.SharedLimiter, rpm, time.Minute, mode, scope).Middleware()
}

// sessionEchoPath returns the extra route for the session echo under the JWT
// cookie path, or "" when /api/session already receives the cookie.
func sessionEchoPath(cookiePath string) string {
	cookiePath = strings.TrimRight(cookiePath, "/")
	if cookiePath == "" || cookiePath == "/api" {
		return ""
	}
	return cookiePath + "/session"
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(dep.limiter(dep.APIRateLimitRPM, "api"))

	sessionLimiter := dep.limiter(dep.SessionRateLimitRPM, "create_session")
	smartLimiter := dep.limiter(dep.SmartRateLimitRPM, "smart")
	adminOnly := middleware.RequireAdminToken(dep.AdminAPIToken)
	requireJWT := middleware.AuthMiddleware(dep.JWTManager)
	echoPath := sessionEchoPath(dep.JWTCookiePath)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, response.CodeDependencyUnready, "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Get("/navi.js", handler.LoaderScript)
	r.Get("/embed/{session_id}", dep.EmbedHandler.Embed)
	if echoPath != "" && !strings.HasPrefix(echoPath, "/api/") {
		r.With(requireJWT).Get(echoPath, dep.SessionHandler.Current)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(sessionLimiter).Post("/create-careflow-session", dep.SessionHandler.CreateCareflowSession)
		r.Options("/create-careflow-session", dep.SessionHandler.CreateCareflowSessionPreflight)
		r.Get("/careflow-status", dep.SessionHandler.CareflowStatus)
		r.With(requireJWT).Get("/session", dep.SessionHandler.Current)
		if rest, ok := strings.CutPrefix(echoPath, "/api"); ok && strings.HasPrefix(rest, "/") {
			r.With(requireJWT).Get(rest, dep.SessionHandler.Current)
		}
		r.With(adminOnly).Post("/sessions/{session_id}/state", dep.SessionHandler.UpdateState)

		r.Route("/branding/store", func(r chi.Router) {
			r.Use(dep.BrandingHandler.CORS)
			r.Options("/", dep.BrandingHandler.Options)
			r.Get("/", dep.BrandingHandler.Get)
			r.With(adminOnly).Post("/", dep.BrandingHandler.Put)
			r.With(adminOnly).Delete("/", dep.BrandingHandler.Delete)
		})

		if dep.AdminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(adminOnly)
				r.Get("/publishable-keys", dep.AdminHandler.ListKeys)
				r.Put("/publishable-keys", dep.AdminHandler.PutKey)
				r.Delete("/publishable-keys/{key}", dep.AdminHandler.DeactivateKey)
				r.Put("/tenants", dep.AdminHandler.PutTenant)
			})
		}
	})

	r.Route("/smart", func(r chi.Router) {
		r.Use(smartLimiter)
		r.Get("/launch", dep.SmartHandler.Launch)
		r.Get("/callback", dep.SmartHandler.Callback)
		r.Get("/direct", dep.SmartHandler.Direct)
		r.Get("/home", dep.SmartHandler.Home)
		r.Get("/error", dep.SmartHandler.Error)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
