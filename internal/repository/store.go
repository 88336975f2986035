package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Store backed by a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new postgres store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type queries struct {
	db DBTX
}

func (q queries) Users() UserStore       { return NewUserRepository(q.db) }
func (q queries) Pairs() PairStore       { return NewPairRepository(q.db) }
func (q queries) Messages() MessageStore { return NewMessageRepository(q.db) }

// View runs fn against the pool
func (s *PostgresStore) View(ctx context.Context, fn func(q Queries) error) error {
	return fn(queries{db: s.pool})
}

// WithTx runs fn inside a read committed transaction. Row locks taken by the
// repositories are held until it ends.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(queries{db: tx})
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
