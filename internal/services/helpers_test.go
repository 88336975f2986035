package services

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"flashpair-backend/internal/models"
	"flashpair-backend/internal/repository"
	"flashpair-backend/internal/repository/memory"
	"flashpair-backend/internal/storage"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable clock shared by the services under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// codeReader yields the given codes as 4-byte draws, in order, then repeats the last one
type codeReader struct {
	mu    sync.Mutex
	codes []uint32
}

func (r *codeReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.codes[0]
	if len(r.codes) > 1 {
		r.codes = r.codes[1:]
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return copy(p, buf[:]), nil
}

type env struct {
	store *memory.Store
	blobs *storage.MemoryStore
	clock *fakeClock
	users *UserService
	pairs *PairService
	msgs  *MessageService

	userIDs []string
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	e := &env{
		store: memory.New(),
		blobs: storage.NewMemoryStore(),
		clock: newFakeClock(),
	}
	all := append([]Option{WithClock(e.clock.Now)}, opts...)
	e.users = NewUserService(e.store, "test-secret", all...)
	e.pairs = NewPairService(e.store, all...)
	e.msgs = NewMessageService(e.store, e.blobs, all...)
	return e
}

func (e *env) newUser(t *testing.T) string {
	t.Helper()
	created, err := e.users.CreateUser(context.Background())
	require.NoError(t, err)
	e.userIDs = append(e.userIDs, created.User.ID)
	return created.User.ID
}

// pair creates two users and pairs them, the first one consuming the second one's code
func (e *env) pair(t *testing.T) (string, string, *models.Pair) {
	t.Helper()
	ctx := context.Background()
	a, b := e.newUser(t), e.newUser(t)
	code, err := e.pairs.IssueCode(ctx, b)
	require.NoError(t, err)
	p, err := e.pairs.Connect(ctx, a, code.Code)
	require.NoError(t, err)
	return a, b, p
}

func (e *env) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := e.users.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (e *env) pairByID(t *testing.T, id string) *models.Pair {
	t.Helper()
	var p *models.Pair
	require.NoError(t, e.store.View(context.Background(), func(q repository.Queries) error {
		var err error
		p, err = q.Pairs().GetByID(context.Background(), id)
		return err
	}))
	return p
}

func (e *env) message(t *testing.T, id string) *models.Message {
	t.Helper()
	var m *models.Message
	require.NoError(t, e.store.View(context.Background(), func(q repository.Queries) error {
		var err error
		m, err = q.Messages().GetByID(context.Background(), id)
		return err
	}))
	return m
}

func png(n int) ImageUpload {
	return ImageUpload{Data: make([]byte, n), ContentType: "image/png", Filename: "a.png"}
}

var errInjected = errors.New("injected failure")

// failingTxStore fails every transaction without running it
type failingTxStore struct {
	repository.Store
}

func (s failingTxStore) WithTx(context.Context, func(q repository.Queries) error) error {
	return errInjected
}

// failingDeleteBlobs refuses to delete
type failingDeleteBlobs struct {
	*storage.MemoryStore
}

func (b failingDeleteBlobs) Delete(context.Context, string) error {
	return errInjected
}

// stuckBlobs refuses to delete the given keys
type stuckBlobs struct {
	*storage.MemoryStore
	keys map[string]bool
}

func (b stuckBlobs) Delete(ctx context.Context, key string) error {
	if b.keys[key] {
		return errInjected
	}
	return b.MemoryStore.Delete(ctx, key)
}

// hookedBlobs runs beforeGet ahead of every read
type hookedBlobs struct {
	*storage.MemoryStore
	beforeGet func()
}

func (b *hookedBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	if b.beforeGet != nil {
		b.beforeGet()
	}
	return b.MemoryStore.Get(ctx, key)
}
