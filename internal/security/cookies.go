package security

import (
	"net/http"
	"time"
)

const (
	SessionCookieName       = "awell.sid"
	JWTCookieName           = "awell.jwt"
	StytchSessionCookieName = "stytch_session"
)

// CookiePolicy carries the environment-dependent cookie attributes.
type CookiePolicy struct {
	Production bool
	MaxAge     time.Duration
	JWTPath    string
}

func (p CookiePolicy) sameSite() http.SameSite {
	if p.Production {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (p CookiePolicy) SessionCookie(sessionID string) *http.Cookie {
	return p.cookie(SessionCookieName, sessionID, "/", true)
}

func (p CookiePolicy) JWTCookie(token string) *http.Cookie {
	path := p.JWTPath
	if path == "" {
		path = "/"
	}
	return p.cookie(JWTCookieName, token, path, true)
}

func (p CookiePolicy) StytchSessionCookie(token string, httpOnly bool) *http.Cookie {
	return p.cookie(StytchSessionCookieName, token, "/", httpOnly)
}

func (p CookiePolicy) cookie(name, value, path string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(p.MaxAge.Seconds()),
		HttpOnly: httpOnly,
		Secure:   p.Production,
		SameSite: p.sameSite(),
	}
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
