package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/leadboard-be/internal/auth"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/models"
	"github.com/rs/zerolog/log"
)

// dummyHash is compared against when a username does not exist, so failed
// logins take the same time whether or not the user is known.
var dummyHash = sync.OnceValue(func() string {
	hash, _ := auth.HashPassword("leadboard-dummy-password")
	return hash
})

// UserServiceProvider defines the interface for identity services.
type UserServiceProvider interface {
	GetUserByID(ctx context.Context, id string) (models.User, error)
	CreateUser(ctx context.Context, username, password string) (models.User, error)
	EnsureUser(ctx context.Context, username, password string) (models.User, error)
	AuthenticateUser(ctx context.Context, username, password string) (models.User, error)
}

// UserService provides business logic for staff identities. Identities are
// provisioned by an administrator; the API never mutates them.
type UserService struct {
	db *sql.DB
}

// NewUserService creates a new UserService.
func NewUserService(db *sql.DB) *UserService {
	return &UserService{db: db}
}

// GetUserByID retrieves a single user by their ID.
func (s *UserService) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	row := s.db.QueryRowContext(ctx, "SELECT id, username, created_at FROM users WHERE id = ?", id)
	if err := row.Scan(&user.ID, &user.Username, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("user %s: %w", id, common.ErrNotFound)
		}
		return models.User{}, err
	}
	return user, nil
}

// getUserByUsername retrieves a single user including the password hash.
func (s *UserService) getUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	row := s.db.QueryRowContext(ctx, "SELECT id, username, password_hash, created_at FROM users WHERE username = ?", username)
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, common.ErrNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

// CreateUser provisions a new identity, hashing its password.
func (s *UserService) CreateUser(ctx context.Context, username, password string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.User{}, &common.ValidationError{Field: "username", Reason: "is required"}
	}
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, &common.ValidationError{Field: "password", Reason: err.Error()}
	}

	user := models.User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users(id, username, password_hash, created_at) VALUES(?, ?, ?, ?)",
		user.ID, user.Username, hashedPassword, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, fmt.Errorf("username %q: %w", username, common.ErrConflict)
		}
		return models.User{}, err
	}
	return user, nil
}

// EnsureUser returns the identity named username, creating it first when it
// does not exist. An existing identity keeps its password.
func (s *UserService) EnsureUser(ctx context.Context, username, password string) (models.User, error) {
	user, err := s.getUserByUsername(ctx, strings.TrimSpace(username))
	if err == nil {
		user.PasswordHash = ""
		return user, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return models.User{}, err
	}
	user, err = s.CreateUser(ctx, username, password)
	if err != nil {
		return models.User{}, err
	}
	log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("Provisioned identity")
	return user, nil
}

// AuthenticateUser verifies a user's credentials.
func (s *UserService) AuthenticateUser(ctx context.Context, username, password string) (models.User, error) {
	user, err := s.getUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			_ = auth.VerifyPassword(dummyHash(), password)
			return models.User{}, common.ErrInvalidCredentials
		}
		return models.User{}, err
	}

	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return models.User{}, common.ErrInvalidCredentials
	}

	// Don't send the password hash to the client
	user.PasswordHash = ""
	return user, nil
}
