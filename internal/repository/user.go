package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flashpair-backend/internal/common"
	"flashpair-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, current_pair_id, pairing_code, pairing_code_expiry, push_token, created_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.CurrentPairID, &user.PairingCode, &user.PairingCodeExpiry,
		&user.PushToken, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, current_pair_id, pairing_code, pairing_code_expiry, push_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.CurrentPairID, user.PairingCode, user.PairingCodeExpiry, user.PushToken, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// LockByIDs locks the given users in id order
func (r *UserRepository) LockByIDs(ctx context.Context, ids ...string) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// FindByPairingCode retrieves the holder of a pairing code
func (r *UserRepository) FindByPairingCode(ctx context.Context, code string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE pairing_code = $1
		ORDER BY pairing_code_expiry DESC
		LIMIT 1
	`
	user, err := scanUser(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pairing code: %w", common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by pairing code: %w", err)
	}
	return user, nil
}

// LockPairingCode takes a transaction scoped advisory lock on the code
func (r *UserRepository) LockPairingCode(ctx context.Context, code string) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "pairing_code:"+code)
	if err != nil {
		return fmt.Errorf("failed to lock pairing code: %w", err)
	}
	return nil
}

// PairingCodeTaken checks if another user holds an unexpired code
func (r *UserRepository) PairingCodeTaken(ctx context.Context, code, exceptUserID string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM users
			WHERE pairing_code = $1 AND pairing_code_expiry >= $2 AND id <> $3
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, code, now, exceptUserID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check code existence: %w", err)
	}
	return exists, nil
}

// SetPairingCode stores or clears the user's pairing code
func (r *UserRepository) SetPairingCode(ctx context.Context, userID string, code *string, expiry *time.Time) error {
	query := `UPDATE users SET pairing_code = $1, pairing_code_expiry = $2 WHERE id = $3`
	result, err := r.db.Exec(ctx, query, code, expiry, userID)
	if err != nil {
		return fmt.Errorf("failed to set pairing code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, common.ErrNotFound)
	}
	return nil
}

// AttachPair links users to a pair and drops their pairing codes
func (r *UserRepository) AttachPair(ctx context.Context, pairID string, userIDs ...string) error {
	query := `
		UPDATE users
		SET current_pair_id = $1, pairing_code = NULL, pairing_code_expiry = NULL
		WHERE id = ANY($2)
	`
	result, err := r.db.Exec(ctx, query, pairID, userIDs)
	if err != nil {
		return fmt.Errorf("failed to attach pair: %w", err)
	}
	if result.RowsAffected() != int64(len(userIDs)) {
		return fmt.Errorf("attach pair %s: %w", pairID, common.ErrNotFound)
	}
	return nil
}

// DetachPair unlinks users from their pair
func (r *UserRepository) DetachPair(ctx context.Context, userIDs ...string) error {
	query := `UPDATE users SET current_pair_id = NULL WHERE id = ANY($1)`
	if _, err := r.db.Exec(ctx, query, userIDs); err != nil {
		return fmt.Errorf("failed to detach pair: %w", err)
	}
	return nil
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	query := `UPDATE users SET push_token = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, pushToken, userID)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, common.ErrNotFound)
	}
	return nil
}
