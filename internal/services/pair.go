package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"flashpair-backend/internal/common"
	"flashpair-backend/internal/models"
	"flashpair-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// PairingCodeTTL is how long an issued code can be consumed
	PairingCodeTTL = 10 * time.Minute

	maxCodeAttempts = 10
)

// PairService handles pairing codes and pairs
type PairService struct {
	store   repository.Store
	now     func() time.Time
	entropy io.Reader
}

// NewPairService creates a new pair service
func NewPairService(store repository.Store, opts ...Option) *PairService {
	o := buildOptions(opts)
	return &PairService{
		store:   store,
		now:     o.now,
		entropy: o.entropy,
	}
}

// PairingCode is a freshly issued code
type PairingCode struct {
	Code      string    `json:"pairing_code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PairStatus describes a user's pairing state
type PairStatus struct {
	IsPaired    bool       `json:"is_paired"`
	PairID      string     `json:"pair_id,omitempty"`
	PairingCode string     `json:"pairing_code,omitempty"`
	CodeExpiry  *time.Time `json:"code_expiry,omitempty"`
	PairedWith  string     `json:"paired_with,omitempty"`
	PairedSince *time.Time `json:"paired_since,omitempty"`
}

// IssueCode generates a pairing code for an unpaired user, replacing any previous one
func (s *PairService) IssueCode(ctx context.Context, userID string) (*PairingCode, error) {
	now := s.now()
	var issued *PairingCode

	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		user, err := lockUser(ctx, q, userID)
		if err != nil {
			return err
		}
		if user.IsPaired() {
			return common.ErrAlreadyPaired
		}

		code, err := s.uniqueCode(ctx, q.Users(), user)
		if err != nil {
			return err
		}
		expiry := now.Add(PairingCodeTTL)
		if err := q.Users().SetPairingCode(ctx, user.ID, &code, &expiry); err != nil {
			return err
		}

		issued = &PairingCode{Code: code, ExpiresAt: expiry}
		return nil
	})
	if err != nil {
		return nil, common.StorageError(err)
	}

	log.Debug().Str("user_id", userID).Time("expires_at", issued.ExpiresAt).Msg("Pairing code issued")
	return issued, nil
}

// uniqueCode draws codes until one is free among every other user's unexpired codes
// and differs from the code it is replacing
func (s *PairService) uniqueCode(ctx context.Context, users repository.UserStore, user *models.User) (string, error) {
	now := s.now()
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := GenerateCode(s.entropy)
		if err != nil {
			return "", err
		}
		if user.PairingCode != nil && *user.PairingCode == code {
			continue
		}
		if err := users.LockPairingCode(ctx, code); err != nil {
			return "", err
		}
		taken, err := users.PairingCodeTaken(ctx, code, user.ID, now)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique code after %d attempts", maxCodeAttempts)
}

// Connect consumes another user's pairing code and pairs the two users
func (s *PairService) Connect(ctx context.Context, userID, code string) (*models.Pair, error) {
	now := s.now()
	var pair *models.Pair

	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		holder, err := q.Users().FindByPairingCode(ctx, code)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrInvalidCode
			}
			return err
		}

		// Lock both rows in id order, then look again: the code may have been
		// consumed or replaced while we were waiting.
		locked, err := q.Users().LockByIDs(ctx, userID, holder.ID)
		if err != nil {
			return err
		}
		byID := make(map[string]*models.User, len(locked))
		for _, u := range locked {
			byID[u.ID] = u
		}
		caller, ok := byID[userID]
		if !ok {
			return fmt.Errorf("user %s: %w", userID, common.ErrNotFound)
		}
		target, ok := byID[holder.ID]
		if !ok || target.PairingCode == nil || *target.PairingCode != code {
			return common.ErrInvalidCode
		}

		switch {
		case target.PairingCodeExpiry == nil || target.PairingCodeExpiry.Before(now):
			return common.ErrCodeExpired
		case target.ID == caller.ID:
			return common.ErrSelfPairing
		case target.IsPaired():
			return common.ErrTargetAlreadyPaired
		case caller.IsPaired():
			return common.ErrAlreadyPaired
		}

		pair = &models.Pair{
			ID:           uuid.New().String(),
			User1ID:      caller.ID,
			User2ID:      target.ID,
			Status:       models.PairActive,
			CreatedAt:    now,
			LastActivity: now,
		}
		if err := q.Pairs().Create(ctx, pair); err != nil {
			return err
		}
		return q.Users().AttachPair(ctx, pair.ID, caller.ID, target.ID)
	})
	if err != nil {
		return nil, common.StorageError(err)
	}

	return pair, nil
}

// Disconnect dissolves the user's current pair. It returns nil if the user is not paired.
func (s *PairService) Disconnect(ctx context.Context, userID string) (*models.Pair, error) {
	now := s.now()
	var dissolved *models.Pair

	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		user, err := q.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if !user.IsPaired() {
			return nil
		}

		pair, err := q.Pairs().LockByID(ctx, *user.CurrentPairID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				log.Warn().Str("user_id", userID).Str("pair_id", *user.CurrentPairID).Msg("Dangling pair reference cleared")
				return q.Users().DetachPair(ctx, userID)
			}
			return err
		}

		members, err := q.Users().LockByIDs(ctx, pair.User1ID, pair.User2ID)
		if err != nil {
			return err
		}
		var attached []string
		for _, m := range members {
			if m.CurrentPairID != nil && *m.CurrentPairID == pair.ID {
				attached = append(attached, m.ID)
			}
		}
		if len(attached) == 0 {
			// a concurrent disconnect got here first
			return nil
		}

		if pair.Status == models.PairActive {
			if err := q.Pairs().Deactivate(ctx, pair.ID, now); err != nil {
				return err
			}
			pair.Status = models.PairInactive
			pair.LastActivity = now
		}
		if err := q.Users().DetachPair(ctx, attached...); err != nil {
			return err
		}

		dissolved = pair
		return nil
	})
	if err != nil {
		return nil, common.StorageError(err)
	}

	return dissolved, nil
}

// Status reports whether the user is paired, and with whom, or which code is outstanding
func (s *PairService) Status(ctx context.Context, userID string) (*PairStatus, error) {
	now := s.now()
	status := &PairStatus{}

	err := s.store.View(ctx, func(q repository.Queries) error {
		user, err := q.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}

		if !user.IsPaired() {
			if user.HasActiveCode(now) {
				status.PairingCode = *user.PairingCode
				status.CodeExpiry = user.PairingCodeExpiry
			}
			return nil
		}

		pair, err := q.Pairs().GetByID(ctx, *user.CurrentPairID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			return err
		}
		createdAt := pair.CreatedAt
		status.IsPaired = true
		status.PairID = pair.ID
		status.PairedWith = pair.PartnerOf(userID)
		status.PairedSince = &createdAt
		return nil
	})
	if err != nil {
		return nil, common.StorageError(err)
	}

	return status, nil
}

// GetActivePair gets the active pair for a user
func (s *PairService) GetActivePair(ctx context.Context, userID string) (*models.Pair, error) {
	var pair *models.Pair
	err := s.store.View(ctx, func(q repository.Queries) error {
		user, err := q.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if !user.IsPaired() {
			return common.ErrNotPaired
		}
		pair, err = q.Pairs().GetByID(ctx, *user.CurrentPairID)
		if err != nil {
			return err
		}
		if pair.Status != models.PairActive {
			return common.ErrNotPaired
		}
		return nil
	})
	if err != nil {
		return nil, common.StorageError(err)
	}
	return pair, nil
}

func lockUser(ctx context.Context, q repository.Queries, userID string) (*models.User, error) {
	locked, err := q.Users().LockByIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(locked) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, common.ErrNotFound)
	}
	return locked[0], nil
}
