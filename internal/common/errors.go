package common

import (
	"errors"
	"fmt"
)

var (
	// lookup errors
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")

	// pairing errors
	ErrInvalidCode         = errors.New("invalid pairing code")
	ErrCodeExpired         = errors.New("pairing code expired")
	ErrAlreadyPaired       = errors.New("already paired with someone")
	ErrTargetAlreadyPaired = errors.New("user already paired with someone else")
	ErrSelfPairing         = errors.New("cannot pair with yourself")
	ErrNotPaired           = errors.New("not paired with anyone")

	// image errors
	ErrSlotOccupied = errors.New("previous image still pending, only one image at a time")
	ErrGone         = errors.New("image has expired")

	// datastore or blob store I/O fault
	ErrStorage = errors.New("storage failure")
)

var domainErrors = []error{
	ErrNotFound,
	ErrForbidden,
	ErrInvalidCode,
	ErrCodeExpired,
	ErrAlreadyPaired,
	ErrTargetAlreadyPaired,
	ErrSelfPairing,
	ErrNotPaired,
	ErrSlotOccupied,
	ErrGone,
	ErrStorage,
}

// IsDomain reports whether err already carries one of the sentinel errors above.
func IsDomain(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StorageError wraps err with ErrStorage unless it is already a domain error.
func StorageError(err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
