package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
)

// UserRepository is the user directory consumed by the delivery core: it
// answers whether a recipient exists and whether they have a registered
// push endpoint, and resolves API keys for the auth middleware.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	GetByUsername(ctx context.Context, username string) (models.User, error)
	GetByAPIKey(ctx context.Context, apiKey string) (models.User, error)
	ListAllUsers(ctx context.Context) ([]models.User, error)
	UpdateWebhook(ctx context.Context, username string, webhookURL *string) error
}

// UserRepo is a sqlx-backed user directory.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = "username, api_key, webhook_url, viewer, admin, created_at"

// Create inserts a new directory entry.
func (r *UserRepo) Create(ctx context.Context, user models.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, api_key, webhook_url, viewer, admin, created_at)
         VALUES ($1, $2, $3, $4, $5, NOW())`,
		user.Username, user.APIKey, user.WebhookURL, user.Viewer, user.Admin)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return storageErr(err)
	}
	return nil
}

// GetByUsername looks up a user by name.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, "SELECT "+userColumns+" FROM users WHERE username = $1", username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, storageErr(err)
	}
	return user, nil
}

// GetByAPIKey looks up a user by API key.
func (r *UserRepo) GetByAPIKey(ctx context.Context, apiKey string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, "SELECT "+userColumns+" FROM users WHERE api_key = $1", apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, storageErr(err)
	}
	return user, nil
}

// ListAllUsers returns every user, viewers included. The delivery router
// consults it for room fan-out.
func (r *UserRepo) ListAllUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, storageErr(err)
	}
	return users, nil
}

// UpdateWebhook sets or clears the user's push endpoint.
func (r *UserRepo) UpdateWebhook(ctx context.Context, username string, webhookURL *string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET webhook_url = $1 WHERE username = $2", webhookURL, username)
	if err != nil {
		return storageErr(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var pqErr coder
	if errors.As(err, &pqErr) {
		return pqErr.SQLState() == "23505"
	}
	return false
}
