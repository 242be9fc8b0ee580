package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultTokenTTL is the validity window embedded in issued tokens.
// Expiry is the only invalidation mechanism: logout clears the client
// cookie but does not revoke tokens already in flight.
const DefaultTokenTTL = 5 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenClaims is the signed identity assertion carried in the cookie.
type TokenClaims struct {
	Email string `json:"email"`
	Iat   int64  `json:"iat"`
	Exp   int64  `json:"exp"`
}

// IssueToken signs an HS256 token asserting the given subject email until
// now+ttl. Pure computation; callers decide cookie placement.
func IssueToken(subject, secret string, now time.Time, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if secret == "" {
		return "", errors.New("secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	headerRaw, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payloadRaw, err := json.Marshal(TokenClaims{
		Email: subject,
		Iat:   now.Unix(),
		Exp:   now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(headerRaw) + "." + base64.RawURLEncoding.EncodeToString(payloadRaw)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyToken validates signature and expiry and returns the subject email.
// Signature or payload problems return ErrInvalidToken; a structurally valid
// token past its expiry instant returns ErrTokenExpired.
func VerifyToken(token, secret string, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidToken
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return "", ErrInvalidToken
	}
	if strings.ToUpper(header.Alg) != "HS256" {
		return "", ErrInvalidToken
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", ErrInvalidToken
	}
	var claims TokenClaims
	if err := json.Unmarshal(payloadRaw, &claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.Email == "" {
		return "", ErrInvalidToken
	}
	if claims.Exp == 0 {
		return "", ErrInvalidToken
	}
	if now.Unix() >= claims.Exp {
		return "", ErrTokenExpired
	}
	return claims.Email, nil
}
