// Package hardening refuses to boot a production-like environment with
// insecure settings.
package hardening

import (
	"fmt"
	"strings"
)

type Options struct {
	Environment        string
	StrictProdSecurity string
	TokenSecret        string
	CookieSecure       string
	DatabaseRequireTLS string
	RedisAddr          string
	RedisRequireTLS    string
	RedisTLSInsecure   string
	CORSAllowedOrigins string
}

func ValidateProduction(o Options) error {
	if !isProductionLikeEnv(o.Environment) {
		return nil
	}
	if !isTrue(o.StrictProdSecurity, true) {
		return nil
	}
	if strings.TrimSpace(o.TokenSecret) == "" {
		return fmt.Errorf("strict production hardening requires TOKEN_SECRET")
	}
	if !isTrue(o.CookieSecure, false) {
		return fmt.Errorf("strict production hardening requires COOKIE_SECURE=true")
	}
	if !isTrue(o.DatabaseRequireTLS, false) {
		return fmt.Errorf("strict production hardening requires DATABASE_REQUIRE_TLS=true")
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !isTrue(o.RedisRequireTLS, false) {
			return fmt.Errorf("strict production hardening requires REDIS_REQUIRE_TLS=true")
		}
		if isTrue(o.RedisTLSInsecure, false) {
			return fmt.Errorf("strict production hardening forbids REDIS_TLS_INSECURE")
		}
	}
	return validateCORSOrigins(o.CORSAllowedOrigins)
}

func validateCORSOrigins(raw string) error {
	validCount := 0
	for _, origin := range strings.Split(raw, ",") {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		validCount++
		lower := strings.ToLower(o)
		if lower == "*" {
			return fmt.Errorf("strict production hardening forbids CORS wildcard origin")
		}
		if strings.HasPrefix(lower, "http://localhost") || strings.HasPrefix(lower, "https://localhost") ||
			strings.HasPrefix(lower, "http://127.0.0.1") || strings.HasPrefix(lower, "https://127.0.0.1") {
			return fmt.Errorf("strict production hardening forbids localhost CORS origin %q", o)
		}
		if !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("strict production hardening requires HTTPS CORS origin, got %q", o)
		}
	}
	if validCount == 0 {
		return fmt.Errorf("strict production hardening requires explicit CORS_ALLOWED_ORIGINS")
	}
	return nil
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
