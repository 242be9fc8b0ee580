package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func guardedOK(t *testing.T, wantSubject string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := SessionFromContext(r.Context())
		if !ok {
			t.Fatal("session missing from context")
		}
		if s.Email != wantSubject {
			t.Fatalf("unexpected subject %q", s.Email)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareRejectsMissingCookie(t *testing.T) {
	called := false
	h := Middleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/manage-services", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if called {
		t.Fatal("handler must not run without a session")
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if body["message"] != "unauthorized access" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	h := Middleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/manage-services", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "bad.token.value"})
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	tok, err := IssueToken("alice@example.com", "secret", time.Now().UTC().Add(-6*time.Hour), DefaultTokenTTL)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	h := Middleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/manage-services", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: tok})
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
}

func TestMiddlewareBindsSession(t *testing.T) {
	tok, err := IssueToken("alice@example.com", "secret", time.Now().UTC(), DefaultTokenTTL)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	h := Middleware("secret")(guardedOK(t, "alice@example.com"))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/manage-services", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: tok})
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestSessionFromContextMissing(t *testing.T) {
	if _, ok := SessionFromContext(context.Background()); ok {
		t.Fatal("expected no session on empty context")
	}
}

func TestOwnsIdentity(t *testing.T) {
	s := Session{Email: "alice@example.com"}
	if !OwnsIdentity(s, "alice@example.com") {
		t.Fatal("expected exact match to pass")
	}
	if OwnsIdentity(s, "bob@example.com") {
		t.Fatal("expected mismatch to fail")
	}
	if OwnsIdentity(s, "Alice@example.com") {
		t.Fatal("comparison must be case-sensitive")
	}
	if OwnsIdentity(s, "") {
		t.Fatal("empty claimed identity must not match")
	}
}
