package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flashpair-backend/internal/common"
	"flashpair-backend/internal/models"
	"flashpair-backend/internal/repository"
	"flashpair-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sweepBatchSize = 500

// MessageService handles the ephemeral image lifecycle of a pair
type MessageService struct {
	store      repository.Store
	blobs      storage.BlobStore
	now        func() time.Time
	sweepBatch int
}

// NewMessageService creates a new message service
func NewMessageService(store repository.Store, blobs storage.BlobStore, opts ...Option) *MessageService {
	o := buildOptions(opts)
	return &MessageService{
		store:      store,
		blobs:      blobs,
		now:        o.now,
		sweepBatch: sweepBatchSize,
	}
}

// ImageUpload is an image submitted by a pair member
type ImageUpload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ImageInfo is the lifetime report of an image
type ImageInfo struct {
	Message  *models.Message
	Status   models.MessageStatus
	TimeLeft time.Duration
}

// ViewedImage is an image payload served to its receiver
type ViewedImage struct {
	Message *models.Message
	Data    []byte
	// FirstView is set when this view started the countdown
	FirstView bool
}

// Send stores the image and puts it into the pair's single slot
func (s *MessageService) Send(ctx context.Context, senderID string, upload ImageUpload) (*models.Message, error) {
	// Fail fast before uploading; the transaction below checks again under the pair lock.
	err := s.store.View(ctx, func(q repository.Queries) error {
		_, err := sendablePair(ctx, q, senderID, false)
		return err
	})
	if err != nil {
		return nil, common.StorageError(err)
	}

	key, err := s.blobs.Put(ctx, upload.Data, upload.ContentType)
	if err != nil {
		return nil, common.StorageError(fmt.Errorf("failed to store image: %w", err))
	}

	now := s.now()
	msg := &models.Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		Status:      models.MessageSent,
		SentAt:      now,
		BlobKey:     key,
		ContentType: upload.ContentType,
		Filename:    upload.Filename,
	}

	err = s.store.WithTx(ctx, func(q repository.Queries) error {
		pair, err := sendablePair(ctx, q, senderID, true)
		if err != nil {
			return err
		}
		msg.PairID = pair.ID
		msg.ReceiverID = pair.PartnerOf(senderID)
		if err := q.Messages().Create(ctx, msg); err != nil {
			return err
		}
		return q.Pairs().Touch(ctx, pair.ID, now)
	})
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			log.Error().Err(delErr).Str("blob_key", key).Msg("Failed to delete orphaned image blob")
		}
		return nil, common.StorageError(err)
	}

	return msg, nil
}

// sendablePair returns the sender's active pair once its slot is free
func sendablePair(ctx context.Context, q repository.Queries, senderID string, lock bool) (*models.Pair, error) {
	sender, err := q.Users().GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if !sender.IsPaired() {
		return nil, common.ErrNotPaired
	}

	var pair *models.Pair
	if lock {
		pair, err = q.Pairs().LockByID(ctx, *sender.CurrentPairID)
	} else {
		pair, err = q.Pairs().GetByID(ctx, *sender.CurrentPairID)
	}
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNotPaired
		}
		return nil, err
	}
	if pair.Status != models.PairActive || !pair.HasMember(senderID) {
		return nil, common.ErrNotPaired
	}

	// An overdue message keeps the slot until view or sweep expires it.
	pending, err := q.Messages().HasPending(ctx, pair.ID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, common.ErrSlotOccupied
	}
	return pair, nil
}

// PeekNew sweeps overdue images and returns the newest unviewed image the receiver got in its current pair, if any
func (s *MessageService) PeekNew(ctx context.Context, receiverID string) (*models.Message, error) {
	if _, err := s.Sweep(ctx); err != nil {
		log.Error().Err(err).Msg("Sweep before check failed")
	}

	now := s.now()
	var msg *models.Message
	err := s.store.View(ctx, func(q repository.Queries) error {
		receiver, err := q.Users().GetByID(ctx, receiverID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			return err
		}
		if !receiver.IsPaired() {
			return nil
		}
		latest, err := q.Messages().LatestPendingFor(ctx, receiverID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			return err
		}
		if latest.PairID == *receiver.CurrentPairID && !latest.IsExpired(now) {
			msg = latest
		}
		return nil
	})
	if err != nil {
		return nil, common.StorageError(err)
	}
	return msg, nil
}

// View returns the image payload to its receiver and starts the countdown on first view
func (s *MessageService) View(ctx context.Context, messageID, requesterID string) (*ViewedImage, error) {
	now := s.now()
	var msg *models.Message
	expired, first := false, false

	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		m, err := q.Messages().LockByID(ctx, messageID)
		if err != nil {
			return err
		}
		if m.ReceiverID != requesterID {
			return common.ErrForbidden
		}
		if m.Status == models.MessageExpired {
			return common.ErrGone
		}
		if m.IsExpired(now) {
			// commit the transition, Gone is reported after
			if _, err := s.expire(ctx, q, m); err != nil {
				return err
			}
			expired = true
			return nil
		}

		if m.Status == models.MessageSent {
			m.MarkViewed(now)
			ok, err := q.Messages().MarkViewed(ctx, m.ID, *m.ViewedAt, *m.ExpiresAt)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("message %s changed while locked", m.ID)
			}
			first = true
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, common.StorageError(err)
	}
	if expired {
		return nil, common.ErrGone
	}

	data, err := s.blobs.Get(ctx, msg.BlobKey)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, s.missingPayload(ctx, msg.ID)
		}
		return nil, common.StorageError(err)
	}
	return &ViewedImage{Message: msg, Data: data, FirstView: first}, nil
}

// missingPayload reports Gone when a sweep expired the message after it was checked,
// and NotFound when a live message lost its blob.
func (s *MessageService) missingPayload(ctx context.Context, messageID string) error {
	var m *models.Message
	err := s.store.View(ctx, func(q repository.Queries) error {
		var err error
		m, err = q.Messages().GetByID(ctx, messageID)
		return err
	})
	if err != nil {
		return common.StorageError(err)
	}
	if m.IsExpired(s.now()) {
		return common.ErrGone
	}
	return fmt.Errorf("image file: %w", common.ErrNotFound)
}

// Info reports the effective status and remaining lifetime of an image to its sender or receiver
func (s *MessageService) Info(ctx context.Context, messageID, requesterID string) (*ImageInfo, error) {
	now := s.now()
	var info *ImageInfo

	err := s.store.View(ctx, func(q repository.Queries) error {
		m, err := q.Messages().GetByID(ctx, messageID)
		if err != nil {
			return err
		}
		if m.SenderID != requesterID && m.ReceiverID != requesterID {
			return common.ErrForbidden
		}
		info = &ImageInfo{
			Message:  m,
			Status:   m.EffectiveStatus(now),
			TimeLeft: m.TimeLeft(now),
		}
		return nil
	})
	if err != nil {
		return nil, common.StorageError(err)
	}
	return info, nil
}

// Sweep expires every overdue image and deletes its payload. It returns how many were expired.
// Images that fail stay overdue and are retried on the next pass.
func (s *MessageService) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	tried := make(map[string]struct{})
	swept := 0

	for {
		var ids []string
		err := s.store.View(ctx, func(q repository.Queries) error {
			var err error
			// failed ids stay at the head of the list, so widen the window past them
			ids, err = q.Messages().ListExpiredCandidates(ctx, now, s.sweepBatch+len(tried))
			return err
		})
		if err != nil {
			if swept > 0 {
				log.Info().Int("count", swept).Msg("Expired images swept")
			}
			return swept, common.StorageError(err)
		}

		fresh := 0
		for _, id := range ids {
			if _, ok := tried[id]; ok {
				continue
			}
			tried[id] = struct{}{}
			fresh++
			if s.sweepOne(ctx, id, now) {
				swept++
			}
		}
		if fresh == 0 {
			break
		}
	}

	if swept > 0 {
		log.Info().Int("count", swept).Msg("Expired images swept")
	}
	return swept, nil
}

// sweepOne expires a single overdue image and reports whether it did
func (s *MessageService) sweepOne(ctx context.Context, id string, now time.Time) bool {
	var done bool
	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		m, err := q.Messages().LockByID(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			return err
		}
		if m.Status == models.MessageExpired || !m.IsExpired(now) {
			return nil
		}
		done, err = s.expire(ctx, q, m)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("image_id", id).Msg("Failed to expire image")
		return false
	}
	return done
}

// expire deletes the payload, then moves the message to expired if it is still in the state we saw.
// The delete must come before the commit; repeating it on an absent key is a no-op.
func (s *MessageService) expire(ctx context.Context, q repository.Queries, m *models.Message) (bool, error) {
	if err := s.blobs.Delete(ctx, m.BlobKey); err != nil {
		return false, fmt.Errorf("failed to delete image blob: %w", err)
	}
	return q.Messages().MarkExpired(ctx, m.ID, m.Status)
}
