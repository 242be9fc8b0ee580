package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"servicehub/pkg/auth"
	"servicehub/pkg/httpx"
)

type tokenRequest struct {
	Email string `json:"email"`
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if s.RateLimiter != nil {
		decision := s.RateLimiter.Allow("login:"+s.clientIP(r), s.LoginRateLimit)
		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httpx.Error(w, http.StatusTooManyRequests, "too many token requests")
			return
		}
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		httpx.Error(w, http.StatusBadRequest, "email is required")
		return
	}

	token, err := auth.IssueToken(email, s.TokenSecret, time.Now(), s.TokenTTL)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	s.Metrics.IncTokensIssued()
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
