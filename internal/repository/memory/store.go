// Package memory is an in-process implementation of repository.Store.
// Transactions are serialised under one mutex and work on a copy of the
// tables that replaces the committed state only when fn succeeds.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"flashpair-backend/internal/common"
	"flashpair-backend/internal/models"
	"flashpair-backend/internal/repository"
)

// Store keeps users, pairs and messages in maps
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty store
func New() *Store {
	return &Store{state: &state{
		users:    make(map[string]models.User),
		pairs:    make(map[string]models.Pair),
		messages: make(map[string]models.Message),
	}}
}

// View runs fn against the committed state
func (s *Store) View(ctx context.Context, fn func(q repository.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// WithTx runs fn on a copy of the state and commits the copy if fn succeeds
func (s *Store) WithTx(ctx context.Context, fn func(q repository.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *Store) Close() {}

type state struct {
	users    map[string]models.User
	pairs    map[string]models.Pair
	messages map[string]models.Message
}

func (st *state) clone() *state {
	return &state{
		users:    maps.Clone(st.users),
		pairs:    maps.Clone(st.pairs),
		messages: maps.Clone(st.messages),
	}
}

func (st *state) Users() repository.UserStore       { return users{st} }
func (st *state) Pairs() repository.PairStore       { return pairs{st} }
func (st *state) Messages() repository.MessageStore { return messages{st} }

type users struct{ st *state }

func (u users) Create(_ context.Context, user *models.User) error {
	if _, ok := u.st.users[user.ID]; ok {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	u.st.users[user.ID] = *user
	return nil
}

func (u users) GetByID(_ context.Context, id string) (*models.User, error) {
	user, ok := u.st.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, common.ErrNotFound)
	}
	return &user, nil
}

func (u users) LockByIDs(_ context.Context, ids ...string) ([]*models.User, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var out []*models.User
	for _, id := range sorted {
		if user, ok := u.st.users[id]; ok {
			out = append(out, &user)
		}
	}
	return out, nil
}

func (u users) FindByPairingCode(_ context.Context, code string) (*models.User, error) {
	var found *models.User
	for _, user := range u.st.users {
		if user.PairingCode == nil || *user.PairingCode != code {
			continue
		}
		if found == nil || laterExpiry(user.PairingCodeExpiry, found.PairingCodeExpiry) {
			holder := user
			found = &holder
		}
	}
	if found == nil {
		return nil, fmt.Errorf("pairing code: %w", common.ErrNotFound)
	}
	return found, nil
}

func laterExpiry(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	return b == nil || a.After(*b)
}

// LockPairingCode is a no-op, the store mutex already serialises transactions
func (u users) LockPairingCode(context.Context, string) error {
	return nil
}

func (u users) PairingCodeTaken(_ context.Context, code, exceptUserID string, now time.Time) (bool, error) {
	for _, user := range u.st.users {
		if user.ID != exceptUserID && user.HasActiveCode(now) && *user.PairingCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (u users) SetPairingCode(_ context.Context, userID string, code *string, expiry *time.Time) error {
	return u.update(userID, func(user *models.User) {
		user.PairingCode = code
		user.PairingCodeExpiry = expiry
	})
}

func (u users) AttachPair(_ context.Context, pairID string, userIDs ...string) error {
	for _, id := range userIDs {
		if _, ok := u.st.users[id]; !ok {
			return fmt.Errorf("attach pair %s: %w", pairID, common.ErrNotFound)
		}
	}
	for _, id := range userIDs {
		pid := pairID
		user := u.st.users[id]
		user.CurrentPairID = &pid
		user.PairingCode = nil
		user.PairingCodeExpiry = nil
		u.st.users[id] = user
	}
	return nil
}

func (u users) DetachPair(_ context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		user, ok := u.st.users[id]
		if !ok {
			continue
		}
		user.CurrentPairID = nil
		u.st.users[id] = user
	}
	return nil
}

func (u users) UpdatePushToken(_ context.Context, userID string, pushToken *string) error {
	return u.update(userID, func(user *models.User) { user.PushToken = pushToken })
}

func (u users) update(id string, fn func(user *models.User)) error {
	user, ok := u.st.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, common.ErrNotFound)
	}
	fn(&user)
	u.st.users[id] = user
	return nil
}

type pairs struct{ st *state }

func (p pairs) Create(_ context.Context, pair *models.Pair) error {
	if _, ok := p.st.pairs[pair.ID]; ok {
		return fmt.Errorf("pair %s already exists", pair.ID)
	}
	if pair.User1ID == pair.User2ID {
		return fmt.Errorf("pair %s has identical members", pair.ID)
	}
	p.st.pairs[pair.ID] = *pair
	return nil
}

func (p pairs) GetByID(_ context.Context, id string) (*models.Pair, error) {
	pair, ok := p.st.pairs[id]
	if !ok {
		return nil, fmt.Errorf("pair %s: %w", id, common.ErrNotFound)
	}
	return &pair, nil
}

func (p pairs) LockByID(ctx context.Context, id string) (*models.Pair, error) {
	return p.GetByID(ctx, id)
}

func (p pairs) Deactivate(_ context.Context, id string, at time.Time) error {
	pair, ok := p.st.pairs[id]
	if !ok || pair.Status != models.PairActive {
		return fmt.Errorf("active pair %s: %w", id, common.ErrNotFound)
	}
	pair.Status = models.PairInactive
	pair.LastActivity = at
	p.st.pairs[id] = pair
	return nil
}

func (p pairs) Touch(_ context.Context, id string, at time.Time) error {
	if pair, ok := p.st.pairs[id]; ok {
		pair.LastActivity = at
		p.st.pairs[id] = pair
	}
	return nil
}

type messages struct{ st *state }

func (m messages) Create(_ context.Context, msg *models.Message) error {
	if _, ok := m.st.messages[msg.ID]; ok {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	if msg.Status == models.MessageSent {
		for _, other := range m.st.messages {
			if other.PairID == msg.PairID && other.Status == models.MessageSent {
				return fmt.Errorf("pair %s: %w", msg.PairID, common.ErrSlotOccupied)
			}
		}
	}
	m.st.messages[msg.ID] = *msg
	return nil
}

func (m messages) GetByID(_ context.Context, id string) (*models.Message, error) {
	msg, ok := m.st.messages[id]
	if !ok {
		return nil, fmt.Errorf("message: %w", common.ErrNotFound)
	}
	return &msg, nil
}

func (m messages) LockByID(ctx context.Context, id string) (*models.Message, error) {
	return m.GetByID(ctx, id)
}

func (m messages) HasPending(_ context.Context, pairID string) (bool, error) {
	for _, msg := range m.st.messages {
		if msg.PairID == pairID && msg.Status == models.MessageSent {
			return true, nil
		}
	}
	return false, nil
}

func (m messages) LatestPendingFor(_ context.Context, receiverID string) (*models.Message, error) {
	var latest *models.Message
	for _, msg := range m.st.messages {
		if msg.ReceiverID != receiverID || msg.Status != models.MessageSent {
			continue
		}
		if latest == nil || msg.SentAt.After(latest.SentAt) {
			candidate := msg
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("message: %w", common.ErrNotFound)
	}
	return latest, nil
}

func (m messages) ListExpiredCandidates(_ context.Context, now time.Time, limit int) ([]string, error) {
	var overdue []models.Message
	for _, msg := range m.st.messages {
		if msg.Status != models.MessageExpired && msg.IsExpired(now) {
			overdue = append(overdue, msg)
		}
	}
	sort.Slice(overdue, func(i, j int) bool {
		if overdue[i].SentAt.Equal(overdue[j].SentAt) {
			return strings.Compare(overdue[i].ID, overdue[j].ID) < 0
		}
		return overdue[i].SentAt.Before(overdue[j].SentAt)
	})
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}

	ids := make([]string, 0, len(overdue))
	for _, msg := range overdue {
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func (m messages) MarkViewed(_ context.Context, id string, viewedAt, expiresAt time.Time) (bool, error) {
	msg, ok := m.st.messages[id]
	if !ok || msg.Status != models.MessageSent {
		return false, nil
	}
	msg.Status = models.MessageViewed
	msg.ViewedAt = &viewedAt
	msg.ExpiresAt = &expiresAt
	m.st.messages[id] = msg
	return true, nil
}

func (m messages) MarkExpired(_ context.Context, id string, from models.MessageStatus) (bool, error) {
	msg, ok := m.st.messages[id]
	if !ok || msg.Status != from {
		return false, nil
	}
	msg.Status = models.MessageExpired
	m.st.messages[id] = msg
	return true, nil
}
