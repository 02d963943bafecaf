package security

import (
	"net"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// OriginHost extracts the lowercase host (no port) from an Origin header value.
func OriginHost(origin string) (string, bool) {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "null" {
		return "", false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host), host != ""
}

// MatchAllowedDomain reports whether host matches at least one pattern. Patterns use
// '.' as separator, so "*.example.com" covers one label only.
func MatchAllowedDomain(host string, patterns []string) bool {
	if host == "" {
		return false
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			continue
		}
		if g.Match(host) {
			return true
		}
	}
	return false
}
