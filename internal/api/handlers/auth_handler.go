package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/isdelr/leadboard-be/internal/api/respond"
	"github.com/isdelr/leadboard-be/internal/auth"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/models"
	"github.com/isdelr/leadboard-be/internal/services"
	"github.com/rs/zerolog/log"
)

// TokenCookie is the cookie browsers use to authenticate the websocket.
const TokenCookie = "token"

// TokenManager issues and revokes bearer tokens.
type TokenManager interface {
	Issue(ctx context.Context, identityID string) (models.Token, error)
	Revoke(ctx context.Context, value string) error
	RevokeAll(ctx context.Context, identityID string) (int64, error)
}

// AuthHandler handles login and logout.
type AuthHandler struct {
	users        services.UserServiceProvider
	tokens       TokenManager
	secureCookie bool
}

// NewAuthHandler creates a new AuthHandler. secureCookie sets the Secure
// flag on the token cookie.
func NewAuthHandler(users services.UserServiceProvider, tokens TokenManager, secureCookie bool) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, secureCookie: secureCookie}
}

// LoginPayload defines the structure for login requests.
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Login verifies credentials and issues a new token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		respond.Error(w, err)
		return
	}
	if strings.TrimSpace(payload.Username) == "" {
		respond.Error(w, &common.ValidationError{Field: "username", Reason: "is required"})
		return
	}
	if payload.Password == "" {
		respond.Error(w, &common.ValidationError{Field: "password", Reason: "is required"})
		return
	}

	user, err := h.users.AuthenticateUser(r.Context(), payload.Username, payload.Password)
	if err != nil {
		log.Warn().Err(err).Str("username", payload.Username).Msg("Failed authentication attempt")
		respond.Error(w, err)
		return
	}

	token, err := h.tokens.Issue(r.Context(), user.ID)
	if err != nil {
		fail(w, r, err, "Failed to issue token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token.Value,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
	log.Info().Str("user_id", user.ID).Msg("Identity logged in")
	respond.JSON(w, http.StatusOK, LoginResponse{Token: token.Value, User: user})
}

// Logout revokes the token the request was made with.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		respond.Error(w, common.ErrMissingCredential)
		return
	}
	if err := h.tokens.Revoke(r.Context(), token); err != nil {
		fail(w, r, err, "Failed to revoke token")
		return
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every token of the caller.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user, ok := identity(w, r)
	if !ok {
		return
	}
	n, err := h.tokens.RevokeAll(r.Context(), user.ID)
	if err != nil {
		fail(w, r, err, "Failed to revoke tokens")
		return
	}
	log.Info().Str("user_id", user.ID).Int64("revoked", n).Msg("Identity logged out everywhere")
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetMe returns the stored record of the identity the token resolves to.
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	user, err := h.users.GetUserByID(r.Context(), caller.ID)
	if err != nil {
		fail(w, r, err, "Failed to load identity")
		return
	}
	respond.JSON(w, http.StatusOK, user)
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
}
