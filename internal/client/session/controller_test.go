package session

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/dmitrijs2005/examreg/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(c string) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeTokens struct {
	mu         sync.Mutex
	rec        *recorder
	current    *models.Token
	valid      bool
	refreshErr error
	mirrored   string
}

func (f *fakeTokens) Refresh(ctx context.Context, id *models.Identity) (*models.Token, error) {
	f.rec.add("refresh")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.current = &models.Token{Raw: "fresh-token"}
	f.valid = true
	return f.current, nil
}

func (f *fakeTokens) Validate(raw string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

func (f *fakeTokens) Current() *models.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTokens) ScheduleAutoRefresh(ctx context.Context, id *models.Identity) {
	f.rec.add("schedule")
}

func (f *fakeTokens) Clear(ctx context.Context) error {
	f.rec.add("clear")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = nil
	return nil
}

func (f *fakeTokens) MirrorToSession(ctx context.Context, raw string) error {
	f.rec.add("mirror")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirrored = raw
	return nil
}

type fakeProfiles struct {
	rec   *recorder
	block chan struct{}
	p     *models.Profile
}

func (f *fakeProfiles) FetchOrCreate(ctx context.Context, id *models.Identity) *models.Profile {
	f.rec.add("fetch")
	if f.block != nil {
		<-f.block
	}
	f.p = models.DefaultProfile(id, time.Unix(0, 0))
	return f.p
}

func (f *fakeProfiles) SyncPendingProfile(ctx context.Context, id *models.Identity) bool {
	f.rec.add("sync")
	return false
}

func (f *fakeProfiles) Current(uid string) *models.Profile { return f.p.Clone() }

func (f *fakeProfiles) Reset() { f.rec.add("reset") }

type fakeProvider struct{ rec *recorder }

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.rec.add("provider-signout")
	return nil
}

type fakeNav struct {
	targets []string
	err     error
}

func (f *fakeNav) Navigate(ctx context.Context, target string) error {
	f.targets = append(f.targets, target)
	return f.err
}

type fakeNotifier struct{ msgs []string }

func (f *fakeNotifier) Notify(ctx context.Context, msg string) { f.msgs = append(f.msgs, msg) }

type harness struct {
	rec      *recorder
	tokens   *fakeTokens
	profiles *fakeProfiles
	nav      *fakeNav
	notify   *fakeNotifier
	c        *Controller
}

func newHarness() *harness {
	rec := &recorder{}
	h := &harness{
		rec:      rec,
		tokens:   &fakeTokens{rec: rec},
		profiles: &fakeProfiles{rec: rec},
		nav:      &fakeNav{},
		notify:   &fakeNotifier{},
	}
	h.c = NewController(Deps{
		Tokens:   h.tokens,
		Profiles: h.profiles,
		Provider: &fakeProvider{rec: rec},
		Nav:      h.nav,
		Notify:   h.notify,
	}, logging.Discard(), "examreg")
	return h
}

var bob = &models.Identity{UID: "u1", Email: "bob@example.com"}

func TestSignInChainOrder(t *testing.T) {
	h := newHarness()
	require.Equal(t, SignedOut, h.c.State())

	h.c.HandleIdentity(context.Background(), bob)

	assert.Equal(t, []string{"refresh", "fetch", "sync", "schedule"}, h.rec.list())
	assert.True(t, h.c.IsSignedIn())
	assert.Equal(t, "u1", h.c.CurrentUser().UID)
	assert.Equal(t, "bob", h.c.Profile().DisplayName)
}

func TestSignInSurvivesRefreshFailure(t *testing.T) {
	h := newHarness()
	h.tokens.refreshErr = common.ErrProvider

	h.c.HandleIdentity(context.Background(), bob)

	assert.Equal(t, SignedIn, h.c.State())
	assert.NotNil(t, h.c.Profile())
}

func TestDuplicatePresenceIgnored(t *testing.T) {
	h := newHarness()
	h.c.HandleIdentity(context.Background(), bob)
	h.c.HandleIdentity(context.Background(), bob)

	assert.Equal(t, []string{"refresh", "fetch", "sync", "schedule"}, h.rec.list())
}

func TestSignOutResets(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.c.HandleIdentity(ctx, bob)
	h.c.HandleIdentity(ctx, nil)

	assert.Equal(t, SignedOut, h.c.State())
	assert.Nil(t, h.c.CurrentUser())
	assert.Nil(t, h.c.Profile())
	assert.Equal(t, []string{"refresh", "fetch", "sync", "schedule", "clear", "reset"}, h.rec.list())
}

func TestSignOutDuringSignInSkipsSchedule(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.profiles.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		h.c.HandleIdentity(ctx, bob)
		close(done)
	}()
	require.NoError(t, h.c.WaitState(ctx, SigningIn))

	h.c.HandleIdentity(ctx, nil)
	close(h.profiles.block)
	<-done

	assert.Equal(t, SignedOut, h.c.State())
	assert.NotContains(t, h.rec.list(), "schedule")
}

func TestRunConsumesPresence(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ch := make(chan *models.Identity, 2)
	ch <- bob
	ch <- nil
	close(ch)

	require.NoError(t, h.c.Run(ctx, ch))
	assert.Equal(t, SignedOut, h.c.State())
	assert.Contains(t, h.rec.list(), "schedule")
	assert.Contains(t, h.rec.list(), "clear")
}

func TestWaitStateHonorsContext(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, h.c.WaitState(ctx, SignedIn), context.DeadlineExceeded)
}

func TestSecureRedirect_RequiresSignIn(t *testing.T) {
	h := newHarness()
	_, err := h.c.SecureRedirect(context.Background(), "https://companion.example/app")
	require.ErrorIs(t, err, common.ErrNotSignedIn)
	assert.Empty(t, h.nav.targets)
}

func TestSecureRedirect_ValidToken(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.c.HandleIdentity(ctx, bob)
	h.tokens.current = &models.Token{Raw: "still-good"}
	h.tokens.valid = true
	before := len(h.rec.list())

	dest, err := h.c.SecureRedirect(ctx, "https://companion.example/app?lang=en")
	require.NoError(t, err)

	u, err := url.Parse(dest)
	require.NoError(t, err)
	assert.Equal(t, "still-good", u.Query().Get("token"))
	assert.Equal(t, "examreg", u.Query().Get("source"))
	assert.Equal(t, "u1", u.Query().Get("uid"))
	assert.Equal(t, "en", u.Query().Get("lang"))

	assert.Equal(t, []string{dest}, h.nav.targets)
	assert.Equal(t, "still-good", h.tokens.mirrored)
	assert.Equal(t, []string{"mirror"}, h.rec.list()[before:], "a valid token is not refreshed")
}

func TestSecureRedirect_RefreshesInvalidToken(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.c.HandleIdentity(ctx, bob)
	h.tokens.current = &models.Token{Raw: "stale"}
	h.tokens.valid = false

	dest, err := h.c.SecureRedirect(ctx, "https://companion.example/app")
	require.NoError(t, err)
	u, _ := url.Parse(dest)
	assert.Equal(t, "fresh-token", u.Query().Get("token"))
}

func TestSecureRedirect_RefreshFailureAborts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.c.HandleIdentity(ctx, bob)
	h.tokens.valid = false
	h.tokens.refreshErr = common.ErrProvider

	_, err := h.c.SecureRedirect(ctx, "https://companion.example/app")
	require.ErrorIs(t, err, common.ErrProvider)
	assert.Empty(t, h.nav.targets)
	assert.Equal(t, []string{msgRefreshFailed}, h.notify.msgs)
	assert.Empty(t, h.tokens.mirrored)
	assert.True(t, h.c.IsSignedIn(), "a failed redirect does not log out")
}

func TestHandleProviderError(t *testing.T) {
	ctx := context.Background()

	t.Run("other errors pass through", func(t *testing.T) {
		h := newHarness()
		boom := errors.New("boom")
		require.Same(t, boom, h.c.HandleProviderError(ctx, boom))
	})

	t.Run("expired token refreshed", func(t *testing.T) {
		h := newHarness()
		h.c.HandleIdentity(ctx, bob)
		require.NoError(t, h.c.HandleProviderError(ctx, common.ErrTokenExpired))
		assert.True(t, h.c.IsSignedIn())
	})

	t.Run("failed refresh forces logout", func(t *testing.T) {
		h := newHarness()
		h.c.HandleIdentity(ctx, bob)
		h.tokens.refreshErr = common.ErrProvider

		err := h.c.HandleProviderError(ctx, common.ErrTokenExpired)
		require.ErrorIs(t, err, common.ErrSessionExpired)
		assert.Equal(t, SignedOut, h.c.State())
		assert.Equal(t, []string{msgSessionExpired}, h.notify.msgs)
		assert.Contains(t, h.rec.list(), "provider-signout")
	})

	t.Run("not signed in", func(t *testing.T) {
		h := newHarness()
		require.ErrorIs(t, h.c.HandleProviderError(ctx, common.ErrTokenExpired), common.ErrNotSignedIn)
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "signed-in", SignedIn.String())
	assert.Equal(t, "state(9)", State(9).String())
}
