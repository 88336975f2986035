package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flashpair-backend/internal/common"
	"flashpair-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	messageColumns = `id, pair_id, sender_id, receiver_id, status, sent_at, viewed_at, expires_at, blob_key, content_type, filename`

	pendingIndex  = "messages_one_pending_per_pair"
	uniqueViolate = "23505"
)

// MessageRepository handles database operations for ephemeral images
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID, &msg.PairID, &msg.SenderID, &msg.ReceiverID, &msg.Status,
		&msg.SentAt, &msg.ViewedAt, &msg.ExpiresAt, &msg.BlobKey, &msg.ContentType, &msg.Filename,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Create creates a new message
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.PairID, msg.SenderID, msg.ReceiverID, msg.Status,
		msg.SentAt, msg.ViewedAt, msg.ExpiresAt, msg.BlobKey, msg.ContentType, msg.Filename,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolate && pgErr.ConstraintName == pendingIndex {
			return fmt.Errorf("pair %s: %w", msg.PairID, common.ErrSlotOccupied)
		}
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	return r.get(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
}

// LockByID retrieves a message by ID and locks it for update
func (r *MessageRepository) LockByID(ctx context.Context, id string) (*models.Message, error) {
	return r.get(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, id)
}

func (r *MessageRepository) get(ctx context.Context, query string, args ...any) (*models.Message, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// HasPending checks if the pair has a message waiting to be viewed
func (r *MessageRepository) HasPending(ctx context.Context, pairID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM messages WHERE pair_id = $1 AND status = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, pairID, models.MessageSent).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending message: %w", err)
	}
	return exists, nil
}

// LatestPendingFor retrieves the newest sent message for a receiver
func (r *MessageRepository) LatestPendingFor(ctx context.Context, receiverID string) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE receiver_id = $1 AND status = $2
		ORDER BY sent_at DESC
		LIMIT 1
	`
	return r.get(ctx, query, receiverID, models.MessageSent)
}

// ListExpiredCandidates lists overdue sent and viewed messages
func (r *MessageRepository) ListExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM messages
		WHERE (status = $1 AND sent_at < $2) OR (status = $3 AND expires_at < $4)
		ORDER BY sent_at
		LIMIT $5
	`
	rows, err := r.db.Query(ctx, query,
		models.MessageSent, now.Add(-models.ViewWindow), models.MessageViewed, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired messages: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired messages: %w", err)
	}
	return ids, nil
}

// MarkViewed starts the countdown of a sent message
func (r *MessageRepository) MarkViewed(ctx context.Context, id string, viewedAt, expiresAt time.Time) (bool, error) {
	query := `UPDATE messages SET status = $1, viewed_at = $2, expires_at = $3 WHERE id = $4 AND status = $5`
	result, err := r.db.Exec(ctx, query, models.MessageViewed, viewedAt, expiresAt, id, models.MessageSent)
	if err != nil {
		return false, fmt.Errorf("failed to mark message viewed: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkExpired moves a message to its terminal state
func (r *MessageRepository) MarkExpired(ctx context.Context, id string, from models.MessageStatus) (bool, error) {
	query := `UPDATE messages SET status = $1 WHERE id = $2 AND status = $3`
	result, err := r.db.Exec(ctx, query, models.MessageExpired, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to mark message expired: %w", err)
	}
	return result.RowsAffected() == 1, nil
}
