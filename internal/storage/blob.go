// Package storage holds the payload stores behind ephemeral images.
// Every backend stores bytes under a generated key, returns ErrBlobNotFound
// for unknown keys and treats deleting an absent key as success.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned by Get for unknown keys
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore stores image payloads
type BlobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewKey returns a fresh object key: images/{yyyy}/{mm}/{dd}/{uuid}
func NewKey() string {
	d := time.Now().UTC()
	return fmt.Sprintf("images/%04d/%02d/%02d/%s", d.Year(), d.Month(), d.Day(), uuid.New())
}
