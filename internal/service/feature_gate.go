package service

import (
	"context"
	"strings"
)

// FlagSmartHTTPOnlySessionCookie marks the identity-broker session cookie HttpOnly.
const FlagSmartHTTPOnlySessionCookie = "smart-httponly-session-cookie"

type FeatureGate interface {
	Enabled(ctx context.Context, flag string) bool
}

// StaticFeatureGate is configured once from FEATURE_FLAGS.
type StaticFeatureGate struct {
	flags map[string]struct{}
}

func NewStaticFeatureGate(flags []string) *StaticFeatureGate {
	g := &StaticFeatureGate{flags: make(map[string]struct{}, len(flags))}
	for _, f := range flags {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			g.flags[f] = struct{}{}
		}
	}
	return g
}

func (g *StaticFeatureGate) Enabled(_ context.Context, flag string) bool {
	_, ok := g.flags[strings.ToLower(flag)]
	return ok
}
