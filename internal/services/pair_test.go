package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"flashpair-backend/internal/common"
	"flashpair-backend/internal/models"
	"flashpair-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertPairingInvariant checks that paired users hold no code and active pairs point back to both members
func assertPairingInvariant(t *testing.T, e *env) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.View(ctx, func(q repository.Queries) error {
		locked, err := q.Users().LockByIDs(ctx, e.userIDs...)
		if err != nil {
			return err
		}
		for _, u := range locked {
			if !u.IsPaired() {
				continue
			}
			assert.Nil(t, u.PairingCode, "paired user %s still holds a code", u.ID)
			p, err := q.Pairs().GetByID(ctx, *u.CurrentPairID)
			if err != nil {
				return err
			}
			assert.Equal(t, models.PairActive, p.Status)
			assert.True(t, p.HasMember(u.ID))
		}
		return nil
	}))
}

func TestPairService_IssueCode(t *testing.T) {
	e := newEnv(t, WithEntropy(&codeReader{codes: []uint32{4242}}))
	ctx := context.Background()
	u := e.newUser(t)

	code, err := e.pairs.IssueCode(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "004242", code.Code)
	assert.Equal(t, t0.Add(PairingCodeTTL), code.ExpiresAt)
	assert.True(t, IsValidCode(code.Code))

	stored := e.user(t, u)
	require.NotNil(t, stored.PairingCode)
	assert.Equal(t, "004242", *stored.PairingCode)
}

func TestPairService_IssueCode_UnknownUser(t *testing.T) {
	e := newEnv(t)
	_, err := e.pairs.IssueCode(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPairService_IssueCode_AlreadyPaired(t *testing.T) {
	e := newEnv(t)
	a, b, _ := e.pair(t)

	_, err := e.pairs.IssueCode(context.Background(), a)
	assert.ErrorIs(t, err, common.ErrAlreadyPaired)
	_, err = e.pairs.IssueCode(context.Background(), b)
	assert.ErrorIs(t, err, common.ErrAlreadyPaired)
}

func TestPairService_IssueCode_ReissueInvalidatesPrevious(t *testing.T) {
	// the second draw repeats the first code and must be skipped
	e := newEnv(t, WithEntropy(&codeReader{codes: []uint32{111111, 111111, 333333}}))
	ctx := context.Background()
	holder, other := e.newUser(t), e.newUser(t)

	first, err := e.pairs.IssueCode(ctx, holder)
	require.NoError(t, err)
	second, err := e.pairs.IssueCode(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, "111111", first.Code)
	assert.Equal(t, "333333", second.Code)

	_, err = e.pairs.Connect(ctx, other, first.Code)
	assert.ErrorIs(t, err, common.ErrInvalidCode)

	_, err = e.pairs.Connect(ctx, other, second.Code)
	assert.NoError(t, err)
}

func TestPairService_IssueCode_SkipsCodesHeldByOthers(t *testing.T) {
	e := newEnv(t, WithEntropy(&codeReader{codes: []uint32{555555, 555555, 777777}}))
	ctx := context.Background()
	a, b := e.newUser(t), e.newUser(t)

	first, err := e.pairs.IssueCode(ctx, a)
	require.NoError(t, err)
	second, err := e.pairs.IssueCode(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, "555555", first.Code)
	assert.Equal(t, "777777", second.Code)
}

func TestPairService_IssueCode_ReusesExpiredCodeOfOthers(t *testing.T) {
	e := newEnv(t, WithEntropy(&codeReader{codes: []uint32{555555}}))
	ctx := context.Background()
	a, b, c := e.newUser(t), e.newUser(t), e.newUser(t)

	_, err := e.pairs.IssueCode(ctx, a)
	require.NoError(t, err)
	e.clock.Advance(PairingCodeTTL + time.Second)

	reused, err := e.pairs.IssueCode(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "555555", reused.Code)

	// the fresh holder wins over the stale one
	p, err := e.pairs.Connect(ctx, c, reused.Code)
	require.NoError(t, err)
	assert.Equal(t, b, p.User2ID)
}

func TestPairService_IssueCode_GivesUpAfterCollisions(t *testing.T) {
	e := newEnv(t, WithEntropy(&codeReader{codes: []uint32{999999}}))
	ctx := context.Background()
	a, b := e.newUser(t), e.newUser(t)

	_, err := e.pairs.IssueCode(ctx, a)
	require.NoError(t, err)

	_, err = e.pairs.IssueCode(ctx, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.Nil(t, e.user(t, b).PairingCode)
}

func TestPairService_Connect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.newUser(t), e.newUser(t)

	code, err := e.pairs.IssueCode(ctx, b)
	require.NoError(t, err)
	e.clock.Advance(time.Minute)

	p, err := e.pairs.Connect(ctx, a, code.Code)
	require.NoError(t, err)
	assert.Equal(t, a, p.User1ID)
	assert.Equal(t, b, p.User2ID)
	assert.Equal(t, models.PairActive, p.Status)
	assert.Equal(t, t0.Add(time.Minute), p.CreatedAt)

	ua, ub := e.user(t, a), e.user(t, b)
	require.NotNil(t, ua.CurrentPairID)
	require.NotNil(t, ub.CurrentPairID)
	assert.Equal(t, p.ID, *ua.CurrentPairID)
	assert.Equal(t, p.ID, *ub.CurrentPairID)
	assert.Nil(t, ub.PairingCode)
	assert.Nil(t, ub.PairingCodeExpiry)
	assertPairingInvariant(t, e)

	// consumed codes cannot be used twice
	c := e.newUser(t)
	_, err = e.pairs.Connect(ctx, c, code.Code)
	assert.ErrorIs(t, err, common.ErrInvalidCode)
}

func TestPairService_Connect_ClearsCallerCode(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.newUser(t), e.newUser(t)

	_, err := e.pairs.IssueCode(ctx, a)
	require.NoError(t, err)
	code, err := e.pairs.IssueCode(ctx, b)
	require.NoError(t, err)

	_, err = e.pairs.Connect(ctx, a, code.Code)
	require.NoError(t, err)
	assert.Nil(t, e.user(t, a).PairingCode)
}

func TestPairService_Connect_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown code", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.pairs.Connect(ctx, e.newUser(t), "000000")
		assert.ErrorIs(t, err, common.ErrInvalidCode)
	})

	t.Run("expired code", func(t *testing.T) {
		e := newEnv(t)
		a, b := e.newUser(t), e.newUser(t)
		code, err := e.pairs.IssueCode(ctx, b)
		require.NoError(t, err)

		e.clock.Set(code.ExpiresAt.Add(time.Second))
		_, err = e.pairs.Connect(ctx, a, code.Code)
		assert.ErrorIs(t, err, common.ErrCodeExpired)
		assert.Nil(t, e.user(t, a).CurrentPairID)
	})

	t.Run("code still valid at expiry", func(t *testing.T) {
		e := newEnv(t)
		a, b := e.newUser(t), e.newUser(t)
		code, err := e.pairs.IssueCode(ctx, b)
		require.NoError(t, err)

		e.clock.Set(code.ExpiresAt)
		_, err = e.pairs.Connect(ctx, a, code.Code)
		assert.NoError(t, err)
	})

	t.Run("own code", func(t *testing.T) {
		e := newEnv(t)
		a := e.newUser(t)
		code, err := e.pairs.IssueCode(ctx, a)
		require.NoError(t, err)

		_, err = e.pairs.Connect(ctx, a, code.Code)
		assert.ErrorIs(t, err, common.ErrSelfPairing)
	})

	t.Run("caller already paired", func(t *testing.T) {
		e := newEnv(t)
		a, _, _ := e.pair(t)
		c := e.newUser(t)
		code, err := e.pairs.IssueCode(ctx, c)
		require.NoError(t, err)

		_, err = e.pairs.Connect(ctx, a, code.Code)
		assert.ErrorIs(t, err, common.ErrAlreadyPaired)
		// a failed connect leaves the code in place
		assert.NotNil(t, e.user(t, c).PairingCode)
	})
}

func TestPairService_Connect_ConcurrentCallersOneWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	holder := e.newUser(t)
	code, err := e.pairs.IssueCode(ctx, holder)
	require.NoError(t, err)

	const callers = 10
	ids := make([]string, callers)
	for i := range ids {
		ids[i] = e.newUser(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.pairs.Connect(ctx, id, code.Code)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, common.ErrInvalidCode)
	}
	assert.Equal(t, 1, wins)
	assertPairingInvariant(t, e)
}

func TestPairService_Connect_ConcurrentCodesForOneCaller(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	caller, h1, h2 := e.newUser(t), e.newUser(t), e.newUser(t)

	c1, err := e.pairs.IssueCode(ctx, h1)
	require.NoError(t, err)
	c2, err := e.pairs.IssueCode(ctx, h2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, code := range []string{c1.Code, c2.Code} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.pairs.Connect(ctx, caller, code)
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.ErrorIs(t, err, common.ErrAlreadyPaired)
		}
	}
	assert.Equal(t, 1, failed)
	assertPairingInvariant(t, e)
}

func TestPairService_Disconnect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, p := e.pair(t)

	e.clock.Advance(time.Hour)
	dissolved, err := e.pairs.Disconnect(ctx, b)
	require.NoError(t, err)
	require.NotNil(t, dissolved)
	assert.Equal(t, p.ID, dissolved.ID)
	assert.Equal(t, a, dissolved.PartnerOf(b))

	stored := e.pairByID(t, p.ID)
	assert.Equal(t, models.PairInactive, stored.Status)
	assert.Equal(t, t0.Add(time.Hour), stored.LastActivity)
	assert.Nil(t, e.user(t, a).CurrentPairID)
	assert.Nil(t, e.user(t, b).CurrentPairID)

	// the partner disconnecting afterwards is a no-op
	again, err := e.pairs.Disconnect(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, again)

	// both can pair again, with a new pair
	code, err := e.pairs.IssueCode(ctx, a)
	require.NoError(t, err)
	repaired, err := e.pairs.Connect(ctx, b, code.Code)
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, repaired.ID)
	assertPairingInvariant(t, e)
}

func TestPairService_Disconnect_NotPaired(t *testing.T) {
	e := newEnv(t)
	dissolved, err := e.pairs.Disconnect(context.Background(), e.newUser(t))
	require.NoError(t, err)
	assert.Nil(t, dissolved)
}

func TestPairService_Disconnect_UnknownUser(t *testing.T) {
	e := newEnv(t)
	_, err := e.pairs.Disconnect(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPairService_Status(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.newUser(t), e.newUser(t)

	st, err := e.pairs.Status(ctx, a)
	require.NoError(t, err)
	assert.False(t, st.IsPaired)
	assert.Empty(t, st.PairingCode)

	code, err := e.pairs.IssueCode(ctx, b)
	require.NoError(t, err)
	st, err = e.pairs.Status(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, code.Code, st.PairingCode)
	require.NotNil(t, st.CodeExpiry)
	assert.Equal(t, code.ExpiresAt, *st.CodeExpiry)

	e.clock.Set(code.ExpiresAt.Add(time.Second))
	st, err = e.pairs.Status(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, st.PairingCode)

	e.clock.Set(t0)
	p, err := e.pairs.Connect(ctx, a, code.Code)
	require.NoError(t, err)
	st, err = e.pairs.Status(ctx, b)
	require.NoError(t, err)
	assert.True(t, st.IsPaired)
	assert.Equal(t, p.ID, st.PairID)
	assert.Equal(t, a, st.PairedWith)
	require.NotNil(t, st.PairedSince)
	assert.Equal(t, p.CreatedAt, *st.PairedSince)
}

func TestPairService_GetActivePair(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _, p := e.pair(t)

	got, err := e.pairs.GetActivePair(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = e.pairs.Disconnect(ctx, a)
	require.NoError(t, err)
	_, err = e.pairs.GetActivePair(ctx, a)
	assert.ErrorIs(t, err, common.ErrNotPaired)
}
