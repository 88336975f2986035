package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"flashpair-backend/internal/middleware"
	"flashpair-backend/internal/models"
	"flashpair-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	// MaxImageSize is the largest accepted image payload
	MaxImageSize = 16 << 20

	// room for multipart boundaries and headers on top of the payload
	multipartOverhead = 1 << 20
	pushTimeout       = 10 * time.Second
)

var allowedImageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// PushNotifier delivers a new-image alert to an offline device
type PushNotifier interface {
	NotifyNewImage(ctx context.Context, deviceToken string, msg *models.Message) error
}

// ImageHandler handles ephemeral image HTTP requests
type ImageHandler struct {
	messageService *services.MessageService
	userService    *services.UserService
	wsHub          *services.WSHub
	push           PushNotifier
}

// NewImageHandler creates a new image handler. push may be nil.
func NewImageHandler(
	messageService *services.MessageService,
	userService *services.UserService,
	wsHub *services.WSHub,
	push PushNotifier,
) *ImageHandler {
	return &ImageHandler{
		messageService: messageService,
		userService:    userService,
		wsHub:          wsHub,
		push:           push,
	}
}

// CheckResponse reports whether an image is waiting
type CheckResponse struct {
	HasNewImage bool            `json:"has_new_image"`
	Image       *models.Message `json:"image,omitempty"`
}

// InfoResponse is the lifetime report of an image
type InfoResponse struct {
	ImageID   string               `json:"image_id"`
	SenderID  string               `json:"sender_id"`
	Status    models.MessageStatus `json:"status"`
	SentAt    time.Time            `json:"sent_at"`
	ViewedAt  *time.Time           `json:"viewed_at,omitempty"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	TimeLeft  int                  `json:"time_left"`
}

// Upload handles POST /api/v1/images
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, MaxImageSize+multipartOverhead)
	if err := r.ParseMultipartForm(MaxImageSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, "Image too large", http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, "image file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType, ok := allowedImageTypes[strings.ToLower(filepath.Ext(header.Filename))]
	if !ok {
		respondError(w, "Unsupported image type", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, MaxImageSize+1))
	if err != nil {
		respondError(w, "Failed to read image", http.StatusBadRequest)
		return
	}
	if len(data) > MaxImageSize {
		respondError(w, "Image too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		respondError(w, "Image is empty", http.StatusBadRequest)
		return
	}

	msg, err := h.messageService.Send(ctx, userID, services.ImageUpload{
		Data:        data,
		ContentType: contentType,
		Filename:    filepath.Base(header.Filename),
	})
	if err != nil {
		respondServiceError(w, err, userID, "Send image")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("pair_id", msg.PairID).
		Str("image_id", msg.ID).
		Int("size", len(data)).
		Msg("Image sent")

	h.notifyNewImage(ctx, msg)
	respondJSON(w, http.StatusCreated, msg)
}

// notifyNewImage uses the socket when the receiver is online and APNs otherwise
func (h *ImageHandler) notifyNewImage(ctx context.Context, msg *models.Message) {
	if h.wsHub.NotifyNewImage(msg) || h.push == nil {
		return
	}

	go func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, pushTimeout)
		defer cancel()

		receiver, err := h.userService.GetUser(ctx, msg.ReceiverID)
		if err != nil {
			log.Error().Err(err).Str("user_id", msg.ReceiverID).Msg("Failed to load receiver for push")
			return
		}
		if receiver.PushToken == nil {
			return
		}
		if err := h.push.NotifyNewImage(ctx, *receiver.PushToken, msg); err != nil {
			log.Error().Err(err).Str("user_id", msg.ReceiverID).Str("image_id", msg.ID).Msg("Failed to send push notification")
		}
	}(context.WithoutCancel(ctx))
}

// Check handles GET /api/v1/images/check
func (h *ImageHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	msg, err := h.messageService.PeekNew(ctx, userID)
	if err != nil {
		respondServiceError(w, err, userID, "Check images")
		return
	}

	respondJSON(w, http.StatusOK, CheckResponse{HasNewImage: msg != nil, Image: msg})
}

// View handles GET /api/v1/images/{image_id}/view
func (h *ImageHandler) View(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	imageID := chi.URLParam(r, "image_id")

	viewed, err := h.messageService.View(ctx, imageID, userID)
	if err != nil {
		respondServiceError(w, err, userID, "View image")
		return
	}
	msg := viewed.Message

	if viewed.FirstView {
		h.wsHub.NotifyImageViewed(msg)
	}

	w.Header().Set("Content-Type", msg.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	if msg.ExpiresAt != nil {
		w.Header().Set("X-Image-Expires-At", msg.ExpiresAt.UTC().Format(time.RFC3339))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(viewed.Data); err != nil {
		log.Error().Err(err).Str("image_id", imageID).Msg("Failed to write image")
	}
}

// Info handles GET /api/v1/images/{image_id}/info
func (h *ImageHandler) Info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	imageID := chi.URLParam(r, "image_id")

	info, err := h.messageService.Info(ctx, imageID, userID)
	if err != nil {
		respondServiceError(w, err, userID, "Image info")
		return
	}

	respondJSON(w, http.StatusOK, InfoResponse{
		ImageID:   info.Message.ID,
		SenderID:  info.Message.SenderID,
		Status:    info.Status,
		SentAt:    info.Message.SentAt,
		ViewedAt:  info.Message.ViewedAt,
		ExpiresAt: info.Message.ExpiresAt,
		TimeLeft:  int(info.TimeLeft / time.Second),
	})
}
