package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
)

const userColumns = `id, name, email, password_hash, role, profile,
		reset_token_hash, reset_token_expires_at, created_at, updated_at`

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (
			id, name, email, password_hash, role, profile, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Profile,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var user model.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", mapError(err))
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	var user model.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", mapError(err))
	}
	return &user, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id uuid.UUID, name string, profile model.Profile) (*model.User, error) {
	query := `
		UPDATE users
		SET name = $1, profile = $2, updated_at = $3
		WHERE id = $4
		RETURNING ` + userColumns

	var user model.User
	if err := r.db.GetContext(ctx, &user, query, name, profile, time.Now().UTC(), id); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", mapError(err))
	}
	return &user, nil
}

func (r *userRepository) ListDoctors(ctx context.Context) ([]*model.DoctorListing, error) {
	query := `
		SELECT id, name, email, COALESCE(profile->>'specialization', '') AS specialization
		FROM users
		WHERE role = $1
		ORDER BY specialization ASC, name ASC
	`

	doctors := []*model.DoctorListing{}
	if err := r.db.SelectContext(ctx, &doctors, query, model.RoleDoctor); err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return doctors, nil
}

func (r *userRepository) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET reset_token_hash = $1, reset_token_expires_at = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, tokenHash, expiresAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return expectAffected(result)
}

func (r *userRepository) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = $1
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to clear reset token: %w", err)
	}
	return expectAffected(result)
}

// ConsumeResetToken matches and clears in one statement, so two concurrent
// consumers of the same token cannot both succeed.
func (r *userRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*model.User, error) {
	query := `
		UPDATE users
		SET password_hash = $1,
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			updated_at = $2
		WHERE reset_token_hash = $3 AND reset_token_expires_at > $2
		RETURNING ` + userColumns

	var user model.User
	if err := r.db.GetContext(ctx, &user, query, passwordHash, now, tokenHash); err != nil {
		return nil, fmt.Errorf("failed to consume reset token: %w", mapError(err))
	}
	return &user, nil
}
