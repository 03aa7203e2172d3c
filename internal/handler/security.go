package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/shopfront/pkg/apperr"
)

var (
	errUnauthorized = apperr.New(apperr.KindUnauthorized, "authentication required")
	errForbidden    = apperr.New(apperr.KindForbidden, "admin role required")
)

// Role is the caller's authorization level.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   Role
}

type principalKey struct{}

// PrincipalFrom returns the caller stored by Authenticator.Require.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens. Tokens are issued elsewhere;
// the subject is the user id and the role claim marks admins.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Authenticate parses and verifies a raw token.
func (a *Authenticator) Authenticate(raw string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var c claims
	if _, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return Principal{}, apperr.Wrap(apperr.KindUnauthorized, err, "invalid token")
	}
	if c.Subject == "" {
		return Principal{}, apperr.New(apperr.KindUnauthorized, "invalid token")
	}

	role := RoleCustomer
	if c.Role == string(RoleAdmin) {
		role = RoleAdmin
	}
	return Principal{UserID: c.Subject, Role: role}, nil
}

// Require rejects requests without a valid bearer token.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r.Header.Get("Authorization"))
		if !ok {
			apperr.WriteHTTP(w, errUnauthorized)
			return
		}
		p, err := a.Authenticate(raw)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// RequireAdmin must run after Require.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			apperr.WriteHTTP(w, errUnauthorized)
			return
		}
		if p.Role != RoleAdmin {
			apperr.WriteHTTP(w, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
