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

const pairColumns = `id, user1_id, user2_id, status, created_at, last_activity`

// PairRepository handles database operations for pairs
type PairRepository struct {
	db DBTX
}

// NewPairRepository creates a new pair repository
func NewPairRepository(db DBTX) *PairRepository {
	return &PairRepository{db: db}
}

func scanPair(row pgx.Row) (*models.Pair, error) {
	var pair models.Pair
	err := row.Scan(
		&pair.ID, &pair.User1ID, &pair.User2ID, &pair.Status, &pair.CreatedAt, &pair.LastActivity,
	)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// Create creates a new pair
func (r *PairRepository) Create(ctx context.Context, pair *models.Pair) error {
	query := `
		INSERT INTO pairs (id, user1_id, user2_id, status, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		pair.ID, pair.User1ID, pair.User2ID, pair.Status, pair.CreatedAt, pair.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("failed to create pair: %w", err)
	}
	return nil
}

// GetByID retrieves a pair by ID
func (r *PairRepository) GetByID(ctx context.Context, id string) (*models.Pair, error) {
	return r.get(ctx, `SELECT `+pairColumns+` FROM pairs WHERE id = $1`, id)
}

// LockByID retrieves a pair by ID and locks it for update
func (r *PairRepository) LockByID(ctx context.Context, id string) (*models.Pair, error) {
	return r.get(ctx, `SELECT `+pairColumns+` FROM pairs WHERE id = $1 FOR UPDATE`, id)
}

func (r *PairRepository) get(ctx context.Context, query, id string) (*models.Pair, error) {
	pair, err := scanPair(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pair %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get pair: %w", err)
	}
	return pair, nil
}

// Deactivate marks an active pair inactive
func (r *PairRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE pairs SET status = $1, last_activity = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.Exec(ctx, query, models.PairInactive, at, id, models.PairActive)
	if err != nil {
		return fmt.Errorf("failed to deactivate pair: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("active pair %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// Touch records activity on the pair
func (r *PairRepository) Touch(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE pairs SET last_activity = $1 WHERE id = $2`
	if _, err := r.db.Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to touch pair: %w", err)
	}
	return nil
}
