package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_CreateUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created, err := e.users.CreateUser(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, created.User.ID)
	assert.Equal(t, t0, created.User.CreatedAt)
	assert.False(t, created.User.IsPaired())

	userID, err := e.users.ValidateJWT(created.Token)
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, userID)

	stored, err := e.users.GetUser(ctx, created.User.ID)
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, stored.ID)
}

func TestUserService_ValidateJWT(t *testing.T) {
	e := newEnv(t)

	token, err := e.users.GenerateJWT("user-1")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewUserService(e.store, "other-secret", WithClock(e.clock.Now))
		_, err := other.ValidateJWT(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := e.users.ValidateJWT("not-a-token")
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		e.clock.Advance((jwtExpDays + 1) * 24 * time.Hour)
		defer e.clock.Set(t0)
		_, err := e.users.ValidateJWT(token)
		assert.Error(t, err)
	})

	t.Run("valid", func(t *testing.T) {
		userID, err := e.users.ValidateJWT(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})
}

func TestUserService_UpdatePushToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.newUser(t)

	token := "abcdef0123"
	require.NoError(t, e.users.UpdatePushToken(ctx, u, &token))
	stored := e.user(t, u)
	require.NotNil(t, stored.PushToken)
	assert.Equal(t, token, *stored.PushToken)

	require.NoError(t, e.users.UpdatePushToken(ctx, u, nil))
	assert.Nil(t, e.user(t, u).PushToken)

	assert.Error(t, e.users.UpdatePushToken(ctx, "missing", &token))
}
