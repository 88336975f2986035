package repository

import (
	"context"
	"time"

	"flashpair-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx used by the repositories.
// Both *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries gives access to every table through one handle, either a plain
// connection or an open transaction.
type Queries interface {
	Users() UserStore
	Pairs() PairStore
	Messages() MessageStore
}

// Store is the single logical datastore.
type Store interface {
	// View runs fn without a transaction. Use it for pure reads.
	View(ctx context.Context, fn func(q Queries) error) error
	// WithTx runs fn in one transaction, committing on success and rolling back
	// on error or panic.
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close()
}

// UserStore handles user rows and their pairing fields
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// LockByIDs returns the existing users among ids, locked for update in id order.
	LockByIDs(ctx context.Context, ids ...string) ([]*models.User, error)
	// FindByPairingCode returns the holder of code, preferring the latest expiry.
	FindByPairingCode(ctx context.Context, code string) (*models.User, error)
	// LockPairingCode serialises issuers of the same code until the transaction ends.
	LockPairingCode(ctx context.Context, code string) error
	// PairingCodeTaken reports whether a user other than exceptUserID holds code unexpired at now.
	PairingCodeTaken(ctx context.Context, code, exceptUserID string, now time.Time) (bool, error)
	SetPairingCode(ctx context.Context, userID string, code *string, expiry *time.Time) error
	// AttachPair sets current_pair_id and clears the pairing code of every user in userIDs.
	AttachPair(ctx context.Context, pairID string, userIDs ...string) error
	// DetachPair clears current_pair_id of every user in userIDs.
	DetachPair(ctx context.Context, userIDs ...string) error
	UpdatePushToken(ctx context.Context, userID string, pushToken *string) error
}

// PairStore handles pair rows
type PairStore interface {
	Create(ctx context.Context, pair *models.Pair) error
	GetByID(ctx context.Context, id string) (*models.Pair, error)
	LockByID(ctx context.Context, id string) (*models.Pair, error)
	// Deactivate moves an active pair to inactive; inactive pairs yield ErrNotFound.
	Deactivate(ctx context.Context, id string, at time.Time) error
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageStore handles ephemeral image rows
type MessageStore interface {
	// Create inserts a sent message; a second pending message for the pair yields ErrSlotOccupied.
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	LockByID(ctx context.Context, id string) (*models.Message, error)
	HasPending(ctx context.Context, pairID string) (bool, error)
	// LatestPendingFor returns the most recent sent message addressed to receiverID.
	LatestPendingFor(ctx context.Context, receiverID string) (*models.Message, error)
	// ListExpiredCandidates returns ids of messages that are overdue at now.
	ListExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]string, error)
	// MarkViewed transitions a sent message to viewed; it reports false if the message was not sent.
	MarkViewed(ctx context.Context, id string, viewedAt, expiresAt time.Time) (bool, error)
	// MarkExpired transitions the message from status from to expired; it reports false on a lost race.
	MarkExpired(ctx context.Context, id string, from models.MessageStatus) (bool, error)
}
