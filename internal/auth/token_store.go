package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/models"
)

// TokenStore persists (token -> identity) bindings.
//
// A token value is an HS256-signed envelope around 32 random bytes. The
// envelope carries the identity as subject and an issued-at time but no
// expiry: a token stays valid until it is revoked. Only the SHA-256 of the
// value is stored, so the tokens table never holds a usable credential.
type TokenStore struct {
	db     *sql.DB
	secret []byte
	now    func() time.Time
}

// NewTokenStore creates a TokenStore signing envelopes with secret.
func NewTokenStore(db *sql.DB, secret []byte) *TokenStore {
	return &TokenStore{db: db, secret: secret, now: time.Now}
}

// RandomSecret returns a fresh signing key. Tokens signed with it do not
// survive a restart.
func RandomSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return b
}

// Issue creates, persists and returns a new token for identityID.
func (s *TokenStore) Issue(ctx context.Context, identityID string) (models.Token, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return models.Token{}, errors.New("identity id is required")
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return models.Token{}, fmt.Errorf("generate token: %w", err)
	}

	issuedAt := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:  identityID,
		ID:       base64.RawURLEncoding.EncodeToString(nonce),
		IssuedAt: jwt.NewNumericDate(issuedAt),
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return models.Token{}, fmt.Errorf("sign token: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO tokens(token_hash, user_id, issued_at) VALUES(?, ?, ?)",
		hashToken(value), identityID, issuedAt)
	if err != nil {
		return models.Token{}, fmt.Errorf("store token: %w", err)
	}

	return models.Token{Value: value, IdentityID: identityID, IssuedAt: issuedAt}, nil
}

// Resolve returns the identity bound to value. Unknown, revoked, malformed
// and foreign-signed values all fail with common.ErrInvalidToken.
func (s *TokenStore) Resolve(ctx context.Context, value string) (models.User, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return models.User{}, common.ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.User{}, common.ErrInvalidToken
	}

	var user models.User
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.created_at
		FROM tokens t JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = ?`, hashToken(value))
	if err := row.Scan(&user.ID, &user.Username, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, common.ErrInvalidToken
		}
		return models.User{}, fmt.Errorf("resolve token: %w", err)
	}
	if user.ID != claims.Subject {
		return models.User{}, common.ErrInvalidToken
	}
	return user, nil
}

// Revoke removes the binding for value. Revoking an unknown token is not an
// error.
func (s *TokenStore) Revoke(ctx context.Context, value string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE token_hash = ?", hashToken(strings.TrimSpace(value))); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeAll removes every token held by identityID.
func (s *TokenStore) RevokeAll(ctx context.Context, identityID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE user_id = ?", identityID)
	if err != nil {
		return 0, fmt.Errorf("revoke tokens: %w", err)
	}
	return res.RowsAffected()
}

func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
