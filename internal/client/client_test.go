package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/credcache"
)

// ─── fake backend ───

type fakeBackend struct {
	srv *httptest.Server

	mu         sync.Mutex
	registered []string
	exchanged  []ExchangeParams
	idTokens   []string

	// poll decide la respuesta; nil = pending.
	poll      func(n int, key string) (int, PollResponse)
	pollCalls atomic.Int32

	meStatus atomic.Int32
	meCalls  atomic.Int32
	meGate   chan struct{}
}

func newBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mobile/session", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Session, Challenge string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		b.mu.Lock()
		b.registered = append(b.registered, in.Challenge)
		b.mu.Unlock()
		writeJSON(w, 200, map[string]bool{"success": true})
	})
	mux.HandleFunc("GET /mobile/poll/{key}", func(w http.ResponseWriter, r *http.Request) {
		n := int(b.pollCalls.Add(1))
		if b.poll == nil {
			writeJSON(w, 200, PollResponse{Status: "pending"})
			return
		}
		status, body := b.poll(n, r.PathValue("key"))
		writeJSON(w, status, body)
	})
	mux.HandleFunc("POST /mobile/google/token", func(w http.ResponseWriter, r *http.Request) {
		var in ExchangeParams
		_ = json.NewDecoder(r.Body).Decode(&in)
		b.mu.Lock()
		b.exchanged = append(b.exchanged, in)
		b.mu.Unlock()
		writeJSON(w, 200, sessionBody{Token: "tok-exchange", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	})
	idToken := func(field string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var in map[string]string
			_ = json.NewDecoder(r.Body).Decode(&in)
			b.mu.Lock()
			b.idTokens = append(b.idTokens, in[field])
			b.mu.Unlock()
			writeJSON(w, 200, sessionBody{Token: "tok-native"})
		}
	}
	mux.HandleFunc("POST /oauth/google/mobile-callback", idToken("idToken"))
	mux.HandleFunc("POST /mobile/apple/token", idToken("identityToken"))
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		b.meCalls.Add(1)
		if b.meGate != nil {
			<-b.meGate
		}
		if s := int(b.meStatus.Load()); s != 0 {
			writeJSON(w, s, errorBody{Code: "TOKEN_INVALID", Message: "x"})
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-") {
			writeJSON(w, 401, errorBody{Code: "TOKEN_MISSING"})
			return
		}
		writeJSON(w, 200, map[string]any{"user": auth.PublicUser{ID: "u-1", Email: "ana@beout.test", Provider: "google"}})
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func completed(int, string) (int, PollResponse) {
	return 200, PollResponse{Status: "completed", Token: "tok-poll", User: &auth.PublicUser{ID: "u-1"}}
}

// ─── fake platform ───

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) on(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type fakeCreds struct {
	cred NativeCredential
	err  error
}

func (f fakeCreds) SignIn(context.Context, auth.Provider) (NativeCredential, error) {
	return f.cred, f.err
}

type harness struct {
	b      *fakeBackend
	hub    *Hub
	opened chan string
	cache  *credcache.Cache
	rec    *recorder
	plat   NativeShellPlatform
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		b:      newBackend(t),
		hub:    NewHub(),
		opened: make(chan string, 4),
		cache:  credcache.New(credcache.Config{Dir: t.TempDir(), DeviceSecret: []byte("device-secret"), Logger: zap.NewNop()}),
		rec:    &recorder{},
	}
	h.cache.SetRememberMe(true)
	h.plat = NativeShellPlatform{
		Browser: func(_ context.Context, u string) error {
			h.opened <- u
			return nil
		},
		Links: h.hub,
	}
	return h
}

func (h *harness) orchestrator(plat PlatformCapabilities, poll, timeout time.Duration) *Orchestrator {
	return New(Config{
		Platform:     plat,
		API:          NewAPI(h.b.srv.URL, nil),
		Cache:        h.cache,
		PollInterval: poll,
		Timeout:      timeout,
		OnState:      h.rec.on,
		Logger:       zap.NewNop(),
	})
}

// openedKey espera a que se abra el browser y devuelve el challenge.
func (h *harness) openedKey(t *testing.T) string {
	t.Helper()
	select {
	case raw := <-h.opened:
		u, err := url.Parse(raw)
		require.NoError(t, err)
		require.Equal(t, "/mobile/start", u.Path)
		return u.Query().Get("challenge")
	case <-time.After(2 * time.Second):
		t.Fatal("browser never opened")
		return ""
	}
}

// publishWhenSubscribed espera la suscripción de Await antes de publicar.
func (h *harness) publishWhenSubscribed(t *testing.T, raw string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.hub.Subscribers() > 0 }, 2*time.Second, time.Millisecond)
	h.hub.Publish(raw)
}

// ─── tests ───

func TestSignIn_PollSuccess(t *testing.T) {
	h := newHarness(t)
	h.b.poll = completed
	o := h.orchestrator(h.plat, 10*time.Millisecond, 2*time.Second)

	sess, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "tok-poll", sess.Token)
	assert.Equal(t, "ana@beout.test", sess.User.Email)

	assert.Equal(t, []State{StateInitiating, StateAwaitingProvider, StatePollingSuccess, StateSucceeded}, h.rec.get())
	require.Len(t, h.b.registered, 1)

	stored := h.cache.GetStored()
	require.NotNil(t, stored)
	assert.Equal(t, "tok-poll", stored.Token)
	assert.Equal(t, 0, h.hub.Subscribers())
}

func TestSignIn_StateOnlyDeepLinkPollsImmediately(t *testing.T) {
	h := newHarness(t)
	h.b.poll = completed
	// el ticker nunca dispara dentro del test
	o := h.orchestrator(h.plat, time.Hour, 5*time.Second)

	go func() {
		key := h.openedKey(t)
		h.publishWhenSubscribed(t, "com.beout.app://oauth/complete?state="+key)
	}()

	sess, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "tok-poll", sess.Token)
	assert.Equal(t, int32(1), h.b.pollCalls.Load())
	assert.Contains(t, h.rec.get(), StateDeepLinkReceived)
	assert.Equal(t, 0, h.hub.Subscribers())
}

func TestSignIn_DeepLinkWrongStateAborts(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(h.plat, time.Hour, 5*time.Second)

	go func() {
		h.openedKey(t)
		h.publishWhenSubscribed(t, "com.beout.app://oauth/complete?state=AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA&code=abc")
	}()

	_, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrStateMismatch))
	assert.Equal(t, auth.CodeStateMismatch, CodeOf(err))
	assert.Empty(t, h.b.exchanged)
	assert.Nil(t, h.cache.GetStored())

	states := h.rec.get()
	assert.Equal(t, StateFailed, states[len(states)-1])
}

func TestSignIn_DeepLinkCarriesError(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(h.plat, time.Hour, 5*time.Second)

	go func() {
		key := h.openedKey(t)
		h.publishWhenSubscribed(t, "com.beout.app://oauth/complete?state="+key+"&error=provider_denied")
	}()

	_, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	assert.Equal(t, auth.CodeProviderDenied, CodeOf(err))
	assert.True(t, errors.Is(err, auth.ErrProviderDenied))
}

func TestSignIn_PollErrorAndExpired(t *testing.T) {
	cases := []struct {
		name string
		resp PollResponse
		code string
	}{
		{"error", PollResponse{Status: "error", Error: "token_exchange_failed"}, auth.CodeTokenExchangeFailed},
		{"error with unknown code", PollResponse{Status: "error", Error: "weird"}, auth.CodeInternal},
		{"expired", PollResponse{Status: "expired"}, auth.CodeSessionExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.b.poll = func(int, string) (int, PollResponse) { return 200, tc.resp }
			o := h.orchestrator(h.plat, 5*time.Millisecond, 2*time.Second)

			_, err := o.SignIn(context.Background(), auth.ProviderGoogle)
			assert.Equal(t, tc.code, CodeOf(err))
			assert.Equal(t, int32(0), h.b.meCalls.Load())
		})
	}
}

func TestSignIn_Timeout(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(h.plat, 5*time.Millisecond, 80*time.Millisecond)

	_, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, auth.CodeTimeout, CodeOf(err))

	states := h.rec.get()
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, []State{StateTimeout, StateFailed}, states[len(states)-2:])
	assert.Equal(t, 0, h.hub.Subscribers())
}

func TestSignIn_ParentCancel(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(h.plat, 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		h.openedKey(t)
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := o.SignIn(ctx, auth.ProviderGoogle)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, h.rec.get(), StateTimeout)
}

func TestSignIn_PollToleratesNetworkErrors(t *testing.T) {
	h := newHarness(t)
	h.b.poll = func(n int, key string) (int, PollResponse) {
		switch {
		case n == 1:
			return http.StatusServiceUnavailable, PollResponse{}
		case n == 2:
			return http.StatusTooManyRequests, PollResponse{}
		}
		return completed(n, key)
	}
	o := h.orchestrator(h.plat, 5*time.Millisecond, 2*time.Second)

	sess, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "tok-poll", sess.Token)
	assert.GreaterOrEqual(t, h.b.pollCalls.Load(), int32(3))
}

func TestSignIn_NativeCredential(t *testing.T) {
	h := newHarness(t)
	plat := h.plat
	plat.Credentials = fakeCreds{cred: NativeCredential{IDToken: "google-id-token"}}
	o := h.orchestrator(plat, time.Hour, time.Second)

	sess, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "tok-native", sess.Token)
	assert.Equal(t, []string{"google-id-token"}, h.b.idTokens)
	assert.Empty(t, h.b.registered)
	assert.Len(t, h.opened, 0)
}

func TestSignIn_NativeAppleSendsNames(t *testing.T) {
	h := newHarness(t)
	plat := h.plat
	plat.Credentials = fakeCreds{cred: NativeCredential{IDToken: "apple-identity", FirstName: "Ana"}}
	o := h.orchestrator(plat, time.Hour, time.Second)

	_, err := o.SignIn(context.Background(), auth.ProviderApple)
	require.NoError(t, err)
	assert.Equal(t, []string{"apple-identity"}, h.b.idTokens)
}

func TestSignIn_NativeDeniedFallsThroughToBrowser(t *testing.T) {
	h := newHarness(t)
	h.b.poll = completed
	plat := h.plat
	plat.Credentials = fakeCreds{err: ErrCredentialDenied}
	o := h.orchestrator(plat, 5*time.Millisecond, 2*time.Second)

	sess, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "tok-poll", sess.Token)
	assert.Len(t, h.b.registered, 1)
	assert.Empty(t, h.b.idTokens)
}

func TestSignIn_NativeCancelled(t *testing.T) {
	h := newHarness(t)
	plat := h.plat
	plat.Credentials = fakeCreds{err: ErrCredentialCancelled}
	o := h.orchestrator(plat, time.Hour, time.Second)

	_, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	assert.Equal(t, auth.CodeProviderDenied, CodeOf(err))
	assert.ErrorIs(t, err, ErrCredentialCancelled)
	assert.Empty(t, h.b.registered)
}

func TestSignIn_NoBrowserIsHardError(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(NativeShellPlatform{Links: h.hub}, time.Hour, time.Second)

	_, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	assert.Equal(t, auth.CodeNoBrowserAvailable, CodeOf(err))
	assert.ErrorIs(t, err, ErrNoBrowser)
	assert.Equal(t, int32(0), h.b.pollCalls.Load())
}

func TestSignIn_WebRedirects(t *testing.T) {
	h := newHarness(t)
	var navigated string
	web := WebPlatform{Navigate: func(u string) error { navigated = u; return nil }}
	o := h.orchestrator(web, time.Hour, time.Second)

	_, err := o.SignIn(context.Background(), auth.ProviderGoogle)
	assert.ErrorIs(t, err, ErrRedirected)
	assert.Equal(t, h.b.srv.URL+"/oauth/google/login", navigated)
	assert.NotContains(t, h.rec.get(), StateFailed)

	sess, err := o.CompleteWebRedirect(context.Background(), "beout://oauth/success?token=tok-web")
	require.NoError(t, err)
	assert.Equal(t, "u-1", sess.User.ID)
	require.NotNil(t, h.cache.GetStored())

	_, err = o.CompleteWebRedirect(context.Background(), "beout://oauth/failure?error=state_mismatch")
	assert.Equal(t, auth.CodeStateMismatch, CodeOf(err))
	_, err = o.CompleteWebRedirect(context.Background(), "beout://oauth/failure")
	assert.Equal(t, auth.CodeInternal, CodeOf(err))
}

func TestEstablish_MeFailureClearsCache(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusUnauthorized, auth.CodeSessionExpired},
		{http.StatusInternalServerError, auth.CodeBackendUnreachable},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			h := newHarness(t)
			h.cache.Store(credcache.Credentials{Token: "tok-stale"})
			h.b.poll = completed
			h.b.meStatus.Store(int32(tc.status))
			o := h.orchestrator(h.plat, 5*time.Millisecond, 2*time.Second)

			_, err := o.SignIn(context.Background(), auth.ProviderGoogle)
			assert.Equal(t, tc.code, CodeOf(err))
			assert.Nil(t, h.cache.GetStored())
		})
	}
}

func TestEstablish_RememberMeControlsPersistence(t *testing.T) {
	for _, remember := range []bool{true, false} {
		t.Run(fmt.Sprintf("remember=%v", remember), func(t *testing.T) {
			h := newHarness(t)
			h.cache.Store(credcache.Credentials{Token: "tok-previous"})
			h.cache.SetRememberMe(remember)
			o := h.orchestrator(h.plat, time.Hour, time.Second)

			sess, err := o.CompleteWebRedirect(context.Background(), "beout://oauth/success?token=tok-web")
			require.NoError(t, err)
			assert.Equal(t, "tok-web", sess.Token)
			require.NotNil(t, o.Session())
			assert.Equal(t, "tok-web", o.Session().Token)

			stored := h.cache.GetStored()
			if !remember {
				assert.Nil(t, stored)
			} else {
				require.NotNil(t, stored)
				assert.Equal(t, "tok-web", stored.Token)
			}

			// Restore funciona igual con la sesión en memoria.
			restored, err := o.Restore(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "tok-web", restored.Token)
			if !remember {
				assert.Nil(t, h.cache.GetStored())
			}

			o.Logout()
			assert.Nil(t, o.Session())
			_, err = o.Restore(context.Background())
			assert.ErrorIs(t, err, ErrNotSignedIn)
		})
	}
}

func TestRestore_KeepsLoginTimestamp(t *testing.T) {
	h := newHarness(t)
	loggedIn := time.Now().Add(-10 * 24 * time.Hour).UnixMilli()
	h.cache.Store(credcache.Credentials{Token: "tok-cached", Timestamp: loggedIn})
	o := h.orchestrator(h.plat, time.Hour, time.Second)

	sess, err := o.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ana@beout.test", sess.User.Email)

	stored := h.cache.GetStored()
	require.NotNil(t, stored)
	assert.Equal(t, loggedIn, stored.Timestamp)
	assert.Equal(t, "ana@beout.test", stored.User.Email)
}

func TestRestore_CollapsesConcurrentCalls(t *testing.T) {
	h := newHarness(t)
	h.cache.Store(credcache.Credentials{Token: "tok-cached"})
	h.b.meGate = make(chan struct{})
	o := h.orchestrator(h.plat, time.Hour, time.Second)

	const n = 8
	var started, done sync.WaitGroup
	started.Add(n)
	done.Add(n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			_, errs[i] = o.Restore(context.Background())
		}(i)
	}
	started.Wait()
	require.Eventually(t, func() bool { return h.b.meCalls.Load() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(h.b.meGate)
	done.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), h.b.meCalls.Load())
}

func TestRestore_UnauthorizedClearsCache(t *testing.T) {
	h := newHarness(t)
	h.cache.Store(credcache.Credentials{Token: "tok-cached"})
	h.b.meStatus.Store(http.StatusUnauthorized)
	o := h.orchestrator(h.plat, time.Hour, time.Second)

	_, err := o.Restore(context.Background())
	assert.Equal(t, auth.CodeSessionExpired, CodeOf(err))
	assert.Nil(t, h.cache.GetStored())
}

func TestRestore_OfflineKeepsCache(t *testing.T) {
	h := newHarness(t)
	h.cache.Store(credcache.Credentials{Token: "tok-cached"})
	h.b.srv.Close()
	o := h.orchestrator(h.plat, time.Hour, time.Second)

	_, err := o.Restore(context.Background())
	assert.Equal(t, auth.CodeBackendUnreachable, CodeOf(err))
	assert.NotNil(t, h.cache.GetStored())
}

func TestRestore_Empty(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(h.plat, time.Hour, time.Second)

	_, err := o.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.Equal(t, int32(0), h.b.meCalls.Load())
}

func TestLogoutClearsCache(t *testing.T) {
	h := newHarness(t)
	h.cache.Store(credcache.Credentials{Token: "tok-cached"})
	o := h.orchestrator(h.plat, time.Hour, time.Second)

	o.Logout()
	assert.Nil(t, h.cache.GetStored())
}

func TestAttempt_CodeDeepLinkExchangesWithVerifier(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	att := &Attempt{
		Key:          "state-key-aaaaaaaaaaaaaaaa",
		verifier:     "verifier-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		redirectURI:  "com.beout.app:/oauth2redirect",
		api:          NewAPI(h.b.srv.URL, nil),
		links:        h.hub,
		sm:           newMachine(rec.on),
		pollInterval: time.Hour,
		timeout:      2 * time.Second,
		log:          zap.NewNop(),
	}
	go h.publishWhenSubscribed(t, "com.beout.app:/oauth2redirect?state="+att.Key+"&code=auth-code")

	sess, err := att.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-exchange", sess.Token)
	require.Len(t, h.b.exchanged, 1)
	assert.Equal(t, "auth-code", h.b.exchanged[0].Code)
	assert.Equal(t, att.verifier, h.b.exchanged[0].Verifier)
	assert.Equal(t, int32(0), h.b.pollCalls.Load())
	assert.Equal(t, 0, h.hub.Subscribers())
}

func TestMachine_LateEventsAreNoOps(t *testing.T) {
	rec := &recorder{}
	m := newMachine(rec.on)
	require.True(t, m.to(StateInitiating))
	require.True(t, m.to(StateSucceeded))

	assert.False(t, m.to(StateFailed))
	assert.False(t, m.to(StatePollingSuccess))
	assert.Equal(t, StateSucceeded, m.State())
	assert.Equal(t, []State{StateIdle, StateInitiating, StateSucceeded}, m.History())
	assert.Equal(t, []State{StateInitiating, StateSucceeded}, rec.get())
}

func TestParseDeepLink(t *testing.T) {
	dl, err := ParseDeepLink("com.beout.app://oauth/complete?state=abc&error=timeout")
	require.NoError(t, err)
	assert.Equal(t, DeepLink{State: "abc", Error: "timeout"}, dl)

	_, err = ParseDeepLink("com.beout.app://oauth/complete")
	assert.Error(t, err)
	_, err = ParseDeepLink("%zz")
	assert.Error(t, err)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe()
	h.Publish("x://a?state=1")
	assert.Equal(t, "x://a?state=1", <-ch)
	unsub()
	unsub()
	assert.Equal(t, 0, h.Subscribers())
	h.Publish("x://a?state=2")
}

func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, auth.CodeInvalidAssertion, codeForStatus(401, "invalid_assertion"))
	assert.Equal(t, auth.CodeSessionExpired, codeForStatus(401, "TOKEN_INVALID"))
	assert.Equal(t, auth.CodeBackendUnreachable, codeForStatus(429, ""))
	assert.Equal(t, auth.CodeBackendUnreachable, codeForStatus(503, ""))
	assert.Equal(t, auth.CodeInternal, codeForStatus(501, "not_implemented"))
	assert.Equal(t, auth.CodeInternal, codeForStatus(400, "BAD_REQUEST"))
}
