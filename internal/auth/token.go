// Package auth provides the admin session token, password checks and the
// self-signed certificate used when the daemon serves TLS.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/celerix-dev/celerix-expenses/internal/metrics"
)

// CookieName is the cookie carrying the admin session token.
const CookieName = "admin_token"

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token has expired")
	ErrNoSecret     = errors.New("auth: no session secret configured")
)

var b64 = base64.RawURLEncoding

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// encodedHeader is fixed: every token is HS256.
var encodedHeader = func() string {
	b, _ := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	return b64.EncodeToString(b)
}()

// Claims is the token payload. ExpiresAt and IssuedAt are epoch milliseconds.
type Claims struct {
	Subject   string            `json:"sub,omitempty"`
	ID        string            `json:"jti,omitempty"`
	IssuedAt  int64             `json:"iat,omitempty"`
	ExpiresAt int64             `json:"exp"`
	Data      map[string]string `json:"data,omitempty"`
}

// Expiry returns ExpiresAt as a time.
func (c Claims) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// TokenService issues and verifies HMAC-SHA256 signed session tokens.
// Tokens are not stored server-side, so they cannot be revoked before they
// expire. A service built without a secret rejects every token.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService returns a service signing with secret. An empty secret
// yields a service that denies everything.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a signing secret is configured.
func (s *TokenService) Enabled() bool {
	return len(s.secret) > 0
}

// TTL returns the lifetime given to issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs claims. Zero IssuedAt, ExpiresAt and ID are filled in; the
// completed claims are returned alongside the token.
func (s *TokenService) Issue(claims Claims) (string, Claims, error) {
	if !s.Enabled() {
		return "", Claims{}, ErrNoSecret
	}
	now := s.now()
	if claims.IssuedAt == 0 {
		claims.IssuedAt = now.UnixMilli()
	}
	if claims.ExpiresAt == 0 {
		claims.ExpiresAt = now.Add(s.ttl).UnixMilli()
	}
	if claims.ID == "" {
		claims.ID = ulid.Make().String()
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, err
	}
	signingInput := encodedHeader + "." + b64.EncodeToString(payload)
	return signingInput + "." + s.sign(signingInput), claims, nil
}

// Verify checks token against the current time.
func (s *TokenService) Verify(token string) (*Claims, error) {
	return s.VerifyAt(token, s.now())
}

// VerifyAt checks the token's shape, signature and expiry as of now.
func (s *TokenService) VerifyAt(token string, now time.Time) (*Claims, error) {
	claims, err := s.verifyAt(token, now)
	switch {
	case err == nil:
		metrics.TokenVerificationsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrTokenExpired):
		metrics.TokenVerificationsTotal.WithLabelValues("expired").Inc()
	case errors.Is(err, ErrNoSecret):
		metrics.TokenVerificationsTotal.WithLabelValues("disabled").Inc()
	default:
		metrics.TokenVerificationsTotal.WithLabelValues("invalid").Inc()
	}
	return claims, err
}

func (s *TokenService) verifyAt(token string, now time.Time) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrNoSecret
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrInvalidToken
	}

	expected := s.sign(parts[0] + "." + parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, ErrInvalidToken
	}

	var h header
	if raw, err := b64.DecodeString(parts[0]); err != nil || json.Unmarshal(raw, &h) != nil || h.Alg != "HS256" {
		return nil, ErrInvalidToken
	}
	raw, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == 0 || now.UnixMilli() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

// RequireAdmin reports whether r carries a valid admin cookie.
func (s *TokenService) RequireAdmin(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	_, err = s.Verify(cookie.Value)
	return err == nil
}

func (s *TokenService) sign(input string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(input))
	return b64.EncodeToString(mac.Sum(nil))
}
