// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Package auth verifies bearer tokens and extracts the caller's identity.
//
// Verification is fully offline: HMAC-SHA256 with a shared secret, an
// expected issuer, and strict expiry. The verifier never touches the
// network, so it can run on the WebSocket handshake path.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tatamilive/tatami/internal/models"
)

// Verification failure classes.
var (
	ErrMalformed     = errors.New("token malformed")
	ErrBadSignature  = errors.New("token signature invalid")
	ErrExpired       = errors.New("token expired")
	ErrUnknownIssuer = errors.New("token issuer unknown")
)

// Identity is the verified principal behind a token.
type Identity struct {
	SubjectID string
	Roles     models.RoleSet
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verifier validates bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewVerifier creates a verifier for the given shared secret and issuer.
func NewVerifier(sharedSecret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(sharedSecret),
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// tokenClaims mirrors the identity provider's claim layout. Role claims
// appear in several historical locations; extractRoles picks the first
// populated one.
type tokenClaims struct {
	UserRoles []string `json:"user_roles,omitempty"`
	UserRole  string   `json:"user_role,omitempty"`

	AppMetadata struct {
		Roles []string `json:"roles,omitempty"`
		Role  string   `json:"role,omitempty"`
	} `json:"app_metadata,omitempty"`

	UserMetadata struct {
		Role string `json:"role,omitempty"`
	} `json:"user_metadata,omitempty"`

	jwt.RegisteredClaims
}

// Verify parses and validates a raw token string.
//
// A token whose expiry equals the current instant is rejected. Unknown
// role strings are dropped; a token with no recognizable roles verifies
// to an identity with an empty role set.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	claims := &tokenClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, ErrMalformed
	}
	if claims.Subject == "" {
		return nil, ErrMalformed
	}

	identity := &Identity{
		SubjectID: claims.Subject,
		Roles:     extractRoles(claims),
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// VerifyRequest extracts and verifies the token carried by an HTTP request.
func (v *Verifier) VerifyRequest(r *http.Request) (*Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, ErrMalformed
	}
	return v.Verify(token)
}

// TokenFromRequest reads the bearer token from the Authorization header or,
// failing that, the token query parameter. Browsers cannot set headers on
// WebSocket handshakes, so the query form is accepted there.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// classifyParseError maps jwt parse failures onto the package error set.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrUnknownIssuer
	default:
		return ErrMalformed
	}
}

// extractRoles reads role claims in priority order: user_roles, user_role,
// app_metadata.roles, app_metadata.role, user_metadata.role. The first
// populated source wins; unknown role strings are dropped.
func extractRoles(c *tokenClaims) models.RoleSet {
	if len(c.UserRoles) > 0 {
		return parseRoles(c.UserRoles)
	}
	if c.UserRole != "" {
		return parseRoles([]string{c.UserRole})
	}
	if len(c.AppMetadata.Roles) > 0 {
		return parseRoles(c.AppMetadata.Roles)
	}
	if c.AppMetadata.Role != "" {
		return parseRoles([]string{c.AppMetadata.Role})
	}
	if c.UserMetadata.Role != "" {
		return parseRoles([]string{c.UserMetadata.Role})
	}
	return models.RoleSet{}
}

func parseRoles(raw []string) models.RoleSet {
	set := models.RoleSet{}
	for _, s := range raw {
		if role, ok := models.ParseRole(s); ok {
			set[role] = struct{}{}
		}
	}
	return set
}
