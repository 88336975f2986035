package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, StorageError(nil))
	})

	t.Run("domain errors pass through", func(t *testing.T) {
		err := fmt.Errorf("connect: %w", ErrInvalidCode)
		got := StorageError(err)
		assert.Same(t, err, got)
		assert.False(t, errors.Is(got, ErrStorage))
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		cause := errors.New("connection reset")
		got := StorageError(cause)
		require.Error(t, got)
		assert.True(t, errors.Is(got, ErrStorage))
		assert.True(t, errors.Is(got, cause))
	})
}

func TestIsDomain(t *testing.T) {
	assert.True(t, IsDomain(fmt.Errorf("wrapped: %w", ErrGone)))
	assert.True(t, IsDomain(ErrStorage))
	assert.False(t, IsDomain(errors.New("boom")))
}
