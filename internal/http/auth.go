package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticket-fulfillment/internal/domain"
)

type purchaserKey struct{}

type purchaserClaims struct {
	Email string `json:"email"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Authenticator trusts HS256 bearer tokens whose subject is the purchaser id.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Parse(raw string) (domain.Purchaser, error) {
	var claims purchaserClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Purchaser{}, errors.Wrap(err, "parse token")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Purchaser{}, errors.Wrap(err, "token subject")
	}
	return domain.Purchaser{ID: id, Email: claims.Email, Admin: claims.Admin}, nil
}

// Issue signs a token for p. Used by tests and local tooling.
func (a *Authenticator) Issue(p domain.Purchaser, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := purchaserClaims{
		Email: p.Email,
		Admin: p.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := a.Parse(raw)
		if err != nil {
			loggerFrom(r.Context()).WithError(err).Debug("rejected bearer token")
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), purchaserKey{}, p)))
	})
}

func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PurchaserFrom(r.Context())
		if !ok || !p.Admin {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func PurchaserFrom(ctx context.Context) (domain.Purchaser, bool) {
	p, ok := ctx.Value(purchaserKey{}).(domain.Purchaser)
	return p, ok
}
