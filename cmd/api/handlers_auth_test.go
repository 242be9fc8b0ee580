package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"servicehub/pkg/auth"
	"servicehub/pkg/ratelimit"
)

func TestIssueTokenSetsCookie(t *testing.T) {
	s, _ := newTestServer(&fakeAPIDB{})
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/jwt", "application/json", strings.NewReader(`{"email":"alice@example.com"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["success"] {
		t.Fatalf("body = %v, want success true", body)
	}

	var found *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.TokenCookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatal("token cookie not set")
	}
	if !found.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if found.MaxAge <= 0 {
		t.Errorf("MaxAge = %d, want positive", found.MaxAge)
	}
	subject, err := auth.VerifyToken(found.Value, testTokenSecret, time.Now())
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if subject != "alice@example.com" {
		t.Errorf("subject = %q", subject)
	}
}

func TestIssueTokenRequiresEmail(t *testing.T) {
	s, _ := newTestServer(&fakeAPIDB{})
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	for _, payload := range []string{`{}`, `{"email":"  "}`, `not-json`} {
		resp, err := http.Post(ts.URL+"/jwt", "application/json", strings.NewReader(payload))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("payload %q: status = %d, want 400", payload, resp.StatusCode)
		}
	}
}

func TestIssueTokenRateLimited(t *testing.T) {
	s, _ := newTestServer(&fakeAPIDB{})
	s.RateLimiter = ratelimit.NewInMemory(time.Minute)
	s.LoginRateLimit = 2
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	var last *http.Response
	for i := 0; i < 3; i++ {
		resp, err := http.Post(ts.URL+"/jwt", "application/json", strings.NewReader(`{"email":"alice@example.com"}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		last = resp
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last.StatusCode)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	s, _ := newTestServer(&fakeAPIDB{})
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == auth.TokenCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not expire the token cookie")
	}
}
