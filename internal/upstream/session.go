// Package upstream talks to the civic reporting backend's REST API.
package upstream

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when an operation needs a bearer token and
// the session has none.
var ErrMissingToken = errors.New("missing credentials: no bearer token")

// Session carries the caller's credentials. It is built once where the
// token enters the process and passed explicitly to every component that
// makes network calls.
type Session struct {
	Token  string
	UserID string
	OrgID  string

	// Verified is set when the token signature was checked locally. Claims
	// of an unverified session are informational only.
	Verified bool
}

// NewSession builds a session from a bearer token. The token is decoded
// without signature verification only to learn the user id; the backend
// is the verifier.
func NewSession(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithJSONNumber())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}

	return &Session{
		Token:  token,
		UserID: claimString(claims, "sub", "id", "user_id"),
		OrgID:  claimString(claims, "org_id", "orgId"),
	}, nil
}

// VerifySession builds a session from an HMAC-signed token, checking the
// signature and expiry against secret.
func VerifySession(token, secret string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithJSONNumber())
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	return &Session{
		Token:    token,
		UserID:   claimString(claims, "sub", "id", "user_id"),
		OrgID:    claimString(claims, "org_id", "orgId"),
		Verified: true,
	}, nil
}

// claimString returns the first non-empty claim among keys. The standard
// subject comes first for user ids; some issuers use "id" instead.
func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// Valid reports whether the session can authenticate requests.
func (s *Session) Valid() bool {
	return s != nil && s.Token != ""
}

// AuthorizationHeader returns the Authorization header value.
func (s *Session) AuthorizationHeader() string {
	return "Bearer " + s.Token
}

// Key identifies the exact credential. Two sessions share a key only when
// they carry the same token.
func (s *Session) Key() string {
	sum := sha256.Sum256([]byte(s.Token))
	return hex.EncodeToString(sum[:16])
}

// Scope is the visibility boundary of the caller's conversations. Verified
// claims scope by organization or user; otherwise nothing but the token
// itself can be trusted.
func (s *Session) Scope() string {
	if s.Verified {
		if s.OrgID != "" {
			return "org:" + s.OrgID
		}
		if s.UserID != "" {
			return "user:" + s.UserID
		}
	}
	return "token:" + s.Key()
}
