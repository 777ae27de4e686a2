package identity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []LinkEvent
}

func (n *recordingNotifier) NotifyLinked(_ context.Context, ev LinkEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func googleAssertion(sub, mail, name string) auth.Assertion {
	return auth.Assertion{
		Provider:       auth.ProviderGoogle,
		ProviderUserID: sub,
		Email:          mail,
		EmailVerified:  true,
		DisplayName:    name,
	}
}

func TestResolveCreatesUserWithProfile(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	r := NewResolver(ResolverDeps{Repo: repo, Now: func() time.Time { return now }})

	res, err := r.Resolve(context.Background(), googleAssertion("g-1", "  Ana@Example.COM ", "Ana María López"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "ana@example.com", res.User.Email)
	assert.Equal(t, "google", res.User.Provider)
	assert.Equal(t, DefaultRole, res.User.Role)
	assert.True(t, res.User.IsVerified)

	got, err := repo.GetUser(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.FirstName)
	assert.Equal(t, "María López", got.LastName)
	assert.Equal(t, now, got.CreatedAt)
	assert.Equal(t, now, got.LastLogin)
}

func TestResolveGivenFamilyNameWin(t *testing.T) {
	repo := newTestRepo(t)
	r := NewResolver(ResolverDeps{Repo: repo})

	a := googleAssertion("g-2", "bob@example.com", "Bobby")
	a.GivenName, a.FamilyName = "Robert", "Smith"
	res, err := r.Resolve(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "Robert", res.User.FirstName)
	assert.Equal(t, "Smith", res.User.LastName)
}

func TestResolveIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	r := NewResolver(ResolverDeps{Repo: repo})
	ctx := context.Background()

	first, err := r.Resolve(ctx, googleAssertion("g-3", "carla@example.com", "Carla"))
	require.NoError(t, err)
	second, err := r.Resolve(ctx, googleAssertion("g-3", "carla@example.com", "Carla"))
	require.NoError(t, err)

	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, OutcomeExisting, second.Outcome)

	n, err := repo.CountByEmail(ctx, "carla@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveRelinksExistingEmail(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &recordingNotifier{}
	r := NewResolver(ResolverDeps{Repo: repo, Notifier: notifier})
	ctx := context.Background()

	fb := auth.Assertion{Provider: auth.ProviderFacebook, ProviderUserID: "fb-9", Email: "dan@example.com", DisplayName: "Dan"}
	created, err := r.Resolve(ctx, fb)
	require.NoError(t, err)

	linked, err := r.Resolve(ctx, googleAssertion("g-9", "DAN@example.com", "Dan"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, linked.Outcome)
	assert.Equal(t, created.User.ID, linked.User.ID)
	assert.Equal(t, "google", linked.User.Provider)
	assert.Equal(t, "g-9", linked.User.ProviderID)
	assert.Equal(t, "facebook", linked.PreviousProvider)
	assert.Equal(t, "fb-9", linked.PreviousProviderID)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "dan@example.com", notifier.events[0].Email)
	assert.Equal(t, "google", notifier.events[0].NewProvider)
	assert.Equal(t, "facebook", notifier.events[0].PreviousProvider)

	// La identidad anterior ya no resuelve por provider: cae en el email y re-vincula.
	back, err := r.Resolve(ctx, fb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, back.Outcome)
	assert.Equal(t, created.User.ID, back.User.ID)
}

func TestResolveFlagsRelinkWithUnverifiedEmail(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := logger.ReplaceForTests(zap.New(core))
	defer restore()

	r := NewResolver(ResolverDeps{Repo: newTestRepo(t)})
	ctx := context.Background()

	_, err := r.Resolve(ctx, googleAssertion("g-10", "eva@example.com", "Eva"))
	require.NoError(t, err)

	apple := auth.Assertion{Provider: auth.ProviderApple, ProviderUserID: "a-10", Email: "eva@example.com"}
	linked, err := r.Resolve(ctx, apple)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, linked.Outcome)
	assert.False(t, linked.EmailVerified)

	warned := logs.FilterMessage("account relinked with unverified email").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "google", warned[0].ContextMap()["previous_provider"])
	assert.Equal(t, "e***@example.com", warned[0].ContextMap()["email"])

	// Con email verificado el re-link no deja warning.
	_, err = r.Resolve(ctx, googleAssertion("g-11", "eva@example.com", "Eva"))
	require.NoError(t, err)
	assert.Len(t, logs.FilterMessage("account relinked with unverified email").All(), 1)
}

func TestResolveRejectsInvalidAssertion(t *testing.T) {
	r := NewResolver(ResolverDeps{Repo: newTestRepo(t)})
	cases := map[string]auth.Assertion{
		"no subject": {Provider: auth.ProviderGoogle, Email: "x@example.com"},
		"no email":   {Provider: auth.ProviderGoogle, ProviderUserID: "g"},
		"bad email":  {Provider: auth.ProviderGoogle, ProviderUserID: "g", Email: "nope"},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), a)
			assert.ErrorIs(t, err, auth.ErrInvalidAssertion)
		})
	}
}

func TestResolveConcurrentSameEmailYieldsOneUser(t *testing.T) {
	repo := newTestRepo(t)
	r := NewResolver(ResolverDeps{Repo: repo})
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(ctx, googleAssertion("g-race", "race@example.com", "Race"))
			if assert.NoError(t, err) {
				ids[i] = res.User.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	n, err := repo.CountByEmail(ctx, "race@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// raceRepo simula que otro request insertó la fila entre el lookup y el insert.
type raceRepo struct {
	*SQLiteRepository
	once sync.Once
}

func (r *raceRepo) WithinTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	var injected bool
	r.once.Do(func() {
		injected = true
		_ = r.SQLiteRepository.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			now := time.Now().UTC()
			u := &User{ID: "other", Email: "late@example.com", Provider: "google", ProviderID: "g-late",
				Role: DefaultRole, IsVerified: true, CreatedAt: now, LastLogin: now}
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
			return tx.CreateProfile(ctx, Profile{UserID: u.ID})
		})
	})
	if injected {
		return r.SQLiteRepository.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return fn(ctx, &blindTx{Tx: tx})
		})
	}
	return r.SQLiteRepository.WithinTx(ctx, fn)
}

// blindTx no ve filas existentes, forzando el insert duplicado.
type blindTx struct{ Tx }

func (blindTx) FindByProvider(context.Context, string, string) (*User, error) {
	return nil, ErrNotFound
}
func (blindTx) FindByEmail(context.Context, string) (*User, error) { return nil, ErrNotFound }

func TestResolveRetriesOnUniqueRace(t *testing.T) {
	base := newTestRepo(t)
	r := NewResolver(ResolverDeps{Repo: &raceRepo{SQLiteRepository: base}})

	res, err := r.Resolve(context.Background(), googleAssertion("g-late", "late@example.com", "Late"))
	require.NoError(t, err)
	assert.Equal(t, "other", res.User.ID)
	assert.Equal(t, OutcomeExisting, res.Outcome)
}

func TestSQLiteMapsUniqueViolations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()
	insert := func(id, mail, pid string) error {
		return repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.CreateUser(ctx, &User{ID: id, Email: mail, Provider: "google", ProviderID: pid,
				Role: DefaultRole, CreatedAt: now, LastLogin: now})
		})
	}
	require.NoError(t, insert("u1", "a@example.com", "p1"))
	assert.ErrorIs(t, insert("u2", "a@example.com", "p2"), ErrDuplicateEmail)
	assert.ErrorIs(t, insert("u3", "b@example.com", "p1"), ErrDuplicateProvider)
}

func TestGetUserNotFound(t *testing.T) {
	r := NewResolver(ResolverDeps{Repo: newTestRepo(t)})
	_, err := r.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeQueue struct{ msgs []email.Message }

func (q *fakeQueue) Enqueue(m email.Message) error {
	q.msgs = append(q.msgs, m)
	return nil
}

func TestMailNotifierEnqueuesNotice(t *testing.T) {
	q := &fakeQueue{}
	n := &MailNotifier{Queue: q, SupportURL: "https://beout.app/ayuda"}
	err := n.NotifyLinked(context.Background(), LinkEvent{
		UserID: "u1", Email: "ana@example.com", NewProvider: "google", PreviousProvider: "facebook", At: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, q.msgs, 1)
	assert.Equal(t, "ana@example.com", q.msgs[0].To)
	assert.Contains(t, q.msgs[0].Text, "https://beout.app/ayuda")
}

type failingNotifier struct{ calls atomic.Int32 }

func (f *failingNotifier) NotifyLinked(context.Context, LinkEvent) error {
	f.calls.Add(1)
	return fmt.Errorf("boom")
}

func TestNotifierErrorDoesNotFailResolve(t *testing.T) {
	repo := newTestRepo(t)
	fn := &failingNotifier{}
	r := NewResolver(ResolverDeps{Repo: repo, Notifier: MultiNotifier{LogNotifier{}, fn}})
	ctx := context.Background()

	_, err := r.Resolve(ctx, auth.Assertion{Provider: auth.ProviderApple, ProviderUserID: "a-1", Email: "eve@example.com"})
	require.NoError(t, err)
	res, err := r.Resolve(ctx, googleAssertion("g-eve", "eve@example.com", "Eve"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, res.Outcome)
	assert.EqualValues(t, 1, fn.calls.Load())
}
