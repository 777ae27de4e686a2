package sessionstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now().UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func newKey() string { return "k_" + uuid.NewString() }

func sampleSession() auth.Session {
	return auth.Session{
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		User:      auth.PublicUser{ID: "u-1", Email: "a@b.c", Role: "user"},
	}
}

// runStoreSuite ejercita el contrato completo contra cualquier implementación.
func runStoreSuite(t *testing.T, factory storeFactory) {
	ctx := context.Background()

	t.Run("unknown key polls expired", func(t *testing.T) {
		s := factory(t, newFakeClock())
		res, err := s.Poll(ctx, newKey())
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, res.Status)
	})

	t.Run("single delivery", func(t *testing.T) {
		s := factory(t, newFakeClock())
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key, SessionID: "s1"}))

		res, err := s.Poll(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, res.Status)

		require.NoError(t, s.Complete(ctx, key, sampleSession()))

		res, err = s.Poll(ctx, key)
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, res.Status)
		require.NotNil(t, res.Session)
		assert.Equal(t, "u-1", res.Session.User.ID)
		assert.Equal(t, "tok", res.Session.Token)

		res, err = s.Poll(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, res.Status)
	})

	t.Run("error delivered once", func(t *testing.T) {
		s := factory(t, newFakeClock())
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key}))
		require.NoError(t, s.Fail(ctx, key, auth.CodeProviderDenied))

		res, err := s.Poll(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status)
		assert.Equal(t, auth.CodeProviderDenied, res.Error)
		assert.Nil(t, res.Session)

		res, err = s.Poll(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, res.Status)
	})

	t.Run("one terminal transition", func(t *testing.T) {
		s := factory(t, newFakeClock())
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key}))
		require.NoError(t, s.Complete(ctx, key, sampleSession()))
		assert.ErrorIs(t, s.Complete(ctx, key, sampleSession()), ErrAlreadyTerminal)
		assert.ErrorIs(t, s.Fail(ctx, key, "late"), ErrAlreadyTerminal)

		res, err := s.Poll(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)
	})

	t.Run("no resurrection after delivery", func(t *testing.T) {
		s := factory(t, newFakeClock())
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key}))
		require.NoError(t, s.Complete(ctx, key, sampleSession()))
		_, err := s.Poll(ctx, key)
		require.NoError(t, err)

		assert.ErrorIs(t, s.Complete(ctx, key, sampleSession()), ErrNotFound)
		assert.ErrorIs(t, s.Fail(ctx, key, "x"), ErrNotFound)
	})

	t.Run("complete before first poll", func(t *testing.T) {
		s := factory(t, newFakeClock())
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key}))
		require.NoError(t, s.Complete(ctx, key, sampleSession()))

		res, err := s.Poll(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)
	})

	t.Run("aged records expire regardless of status", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock)
		pending, done, failed := newKey(), newKey(), newKey()
		for _, k := range []string{pending, done, failed} {
			require.NoError(t, s.Create(ctx, Record{ChallengeKey: k}))
		}
		require.NoError(t, s.Complete(ctx, done, sampleSession()))
		require.NoError(t, s.Fail(ctx, failed, "boom"))

		clock.Advance(DefaultTTL)

		for _, k := range []string{pending, done, failed} {
			res, err := s.Poll(ctx, k)
			require.NoError(t, err)
			assert.Equal(t, StatusExpired, res.Status)
		}
	})

	t.Run("late completion after ttl is rejected", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock)
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key}))
		clock.Advance(DefaultTTL + time.Second)

		assert.ErrorIs(t, s.Complete(ctx, key, sampleSession()), ErrNotFound)
		_, err := s.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create is idempotent while pending", func(t *testing.T) {
		s := factory(t, newFakeClock())
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key, SessionID: "s1"}))
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key, ProviderVerifier: "server-verifier"}))

		rec, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, rec.Status)
		assert.Equal(t, "s1", rec.SessionID)
		assert.Equal(t, "server-verifier", rec.ProviderVerifier)

		require.NoError(t, s.Complete(ctx, key, sampleSession()))
		assert.ErrorIs(t, s.Create(ctx, Record{ChallengeKey: key}), ErrExists)

		rec, err = s.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, rec.ProviderVerifier)
	})

	t.Run("empty key", func(t *testing.T) {
		s := factory(t, newFakeClock())
		assert.ErrorIs(t, s.Create(ctx, Record{}), ErrInvalidKey)
	})

	t.Run("concurrent completes have one winner", func(t *testing.T) {
		s := factory(t, newFakeClock())
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key}))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					err = s.Complete(ctx, key, sampleSession())
				} else {
					err = s.Fail(ctx, key, "x")
				}
				if err == nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins.Load())
	})

	t.Run("claim is exclusive and keeps the record pending", func(t *testing.T) {
		s := factory(t, newFakeClock())
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key, ProviderVerifier: "v"}))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec, err := s.Claim(ctx, key)
				if err == nil {
					assert.Equal(t, "v", rec.ProviderVerifier)
					assert.True(t, rec.Claimed)
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, ErrAlreadyClaimed)
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins.Load())

		res, err := s.Poll(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, res.Status)

		// El que reclamó sigue pudiendo cerrar el record.
		require.NoError(t, s.Complete(ctx, key, sampleSession()))
		_, err = s.Claim(ctx, key)
		assert.ErrorIs(t, err, ErrAlreadyClaimed)

		_, err = s.Claim(ctx, newKey())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent polls deliver once", func(t *testing.T) {
		s := factory(t, newFakeClock())
		key := newKey()
		require.NoError(t, s.Create(ctx, Record{ChallengeKey: key}))
		require.NoError(t, s.Complete(ctx, key, sampleSession()))

		var delivered, expired atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.Poll(ctx, key)
				if err != nil {
					return
				}
				switch res.Status {
				case StatusCompleted:
					delivered.Add(1)
				case StatusExpired:
					expired.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, delivered.Load())
		assert.EqualValues(t, 31, expired.Load())
	})
}
