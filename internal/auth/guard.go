package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/isdelr/leadboard-be/internal/api/respond"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/models"
	"github.com/rs/zerolog/log"
)

const bearerPrefix = "bearer "

// Resolver looks up the identity bound to a token.
type Resolver interface {
	Resolve(ctx context.Context, value string) (models.User, error)
}

// Guard authenticates requests and decides ownership.
type Guard struct {
	tokens Resolver
}

// NewGuard creates a Guard backed by the given token resolver.
func NewGuard(tokens Resolver) *Guard {
	return &Guard{tokens: tokens}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" || strings.EqualFold(header, strings.TrimSpace(bearerPrefix)) {
		return "", common.ErrMissingCredential
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", common.ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", common.ErrMissingCredential
	}
	return token, nil
}

// Authenticate resolves the caller's identity from the bearer token.
func (g *Guard) Authenticate(r *http.Request) (models.User, error) {
	token, err := BearerToken(r)
	if err != nil {
		return models.User{}, err
	}
	return g.AuthenticateToken(r.Context(), token)
}

// AuthenticateToken resolves an already extracted token.
func (g *Guard) AuthenticateToken(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, common.ErrMissingCredential
	}
	return g.tokens.Resolve(ctx, token)
}

// AuthorizeOwnership allows access only to the lead's owner. Unowned leads
// are not accessible to any identity.
func AuthorizeOwnership(identity models.User, lead models.Lead) error {
	if !lead.OwnedBy(identity.ID) {
		return common.ErrForbidden
	}
	return nil
}

// StampOwner returns the owner reference a create by identity carries; nil
// for anonymous submissions.
func StampOwner(identity *models.User) *string {
	if identity == nil || identity.ID == "" {
		return nil
	}
	id := identity.ID
	return &id
}

// Middleware rejects unauthenticated requests and passes the identity and
// raw token down via the request context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r)
		if err != nil {
			respond.Error(w, err)
			return
		}
		identity, err := g.AuthenticateToken(r.Context(), token)
		if err != nil {
			if !common.IsAuthError(err) {
				log.Error().Err(err).Msg("Token resolution failed")
			}
			respond.Error(w, err)
			return
		}

		ctx := ContextWithIdentity(r.Context(), identity)
		ctx = ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional authenticates the request when it carries an Authorization
// header and passes it through anonymously otherwise. A header that is
// present but does not resolve is still rejected.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			next.ServeHTTP(w, r)
			return
		}
		g.Middleware(next).ServeHTTP(w, r)
	})
}
