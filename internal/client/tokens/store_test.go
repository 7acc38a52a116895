package tokens

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/kv"
	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/dmitrijs2005/examreg/internal/logging"
	"github.com/dmitrijs2005/examreg/internal/obs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "sub": "u1"}).
		SignedString([]byte("k"))
	require.NoError(t, err)
	return raw
}

type fakeMinter struct {
	mu    sync.Mutex
	calls int
	ids   []*models.Identity
	next  func(n int) (string, error)
}

func (f *fakeMinter) MintToken(_ context.Context, id *models.Identity) (string, error) {
	f.mu.Lock()
	f.calls++
	f.ids = append(f.ids, id)
	n := f.calls
	next := f.next
	f.mu.Unlock()
	return next(n)
}

func (f *fakeMinter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newStore(t *testing.T, m *fakeMinter, opts ...Option) (*Store, *kv.Memory, *kv.Memory) {
	t.Helper()
	durable, session := kv.NewMemory(), kv.NewMemory()
	opts = append([]Option{WithClock(func() time.Time { return baseTime })}, opts...)
	return New(m, durable, session, logging.Discard(), opts...), durable, session
}

func TestAcquire_PersistsAndRecordsExpiry(t *testing.T) {
	ctx := context.Background()
	exp := baseTime.Add(time.Hour)
	raw := signed(t, exp)
	m := &fakeMinter{next: func(int) (string, error) { return raw, nil }}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)
	s, durable, _ := newStore(t, m, WithMetrics(metrics))

	tok, err := s.Acquire(ctx, &models.Identity{UID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, raw, tok.Raw)
	assert.True(t, tok.ExpiresAt.Equal(exp))

	stored, err := durable.Get(ctx, common.AuthTokenKey)
	require.NoError(t, err)
	assert.Equal(t, raw, string(stored))
	assert.Equal(t, raw, s.Current().Raw)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenRefreshes.WithLabelValues("ok")))
}

func TestAcquire_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("network down")
	m := &fakeMinter{next: func(int) (string, error) { return "", boom }}
	s, durable, _ := newStore(t, m)

	_, err := s.Acquire(ctx, nil)
	require.ErrorIs(t, err, common.ErrNoIdentity)
	assert.Zero(t, m.Calls())

	_, err = s.Refresh(ctx, &models.Identity{UID: "u1"})
	require.ErrorIs(t, err, common.ErrProvider)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, s.Current())
	assert.Zero(t, durable.Len())
}

func TestAcquire_AlwaysMints(t *testing.T) {
	m := &fakeMinter{next: func(n int) (string, error) { return "tok", nil }}
	s, _, _ := newStore(t, m)

	id := &models.Identity{UID: "u1"}
	for i := 0; i < 3; i++ {
		_, err := s.Acquire(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.Calls())
}

func TestValidate(t *testing.T) {
	s, _, _ := newStore(t, &fakeMinter{})
	enc := base64.RawURLEncoding.EncodeToString
	freshPayload := enc([]byte(fmt.Sprintf(`{"exp":%d}`, baseTime.Add(time.Hour).Unix())))

	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"fresh", signed(t, baseTime.Add(time.Hour)), true},
		{"just outside threshold", signed(t, baseTime.Add(5*time.Minute+time.Second)), true},
		{"inside threshold", signed(t, baseTime.Add(4*time.Minute)), false},
		{"at threshold", signed(t, baseTime.Add(5*time.Minute)), false},
		{"expired", signed(t, baseTime.Add(-time.Hour)), false},
		{"empty", "", false},
		{"two segments", "a.b", false},
		{"four segments", "a.b.c.d", false},
		{"garbage payload", enc([]byte(`{"alg":"HS256"}`)) + ".!!!." + "sig", false},
		{"non-json payload", enc([]byte(`{"alg":"HS256"}`)) + "." + enc([]byte("hello")) + ".sig", false},
		{"missing exp", enc([]byte(`{"alg":"HS256"}`)) + "." + enc([]byte(`{"sub":"u1"}`)) + ".sig", false},
		{"string exp", enc([]byte(`{"alg":"HS256"}`)) + "." + enc([]byte(`{"exp":"soon"}`)) + ".sig", false},
		{"header without alg", enc([]byte(`{"typ":"JWT"}`)) + "." + freshPayload + ".sig", true},
		{"unknown alg", enc([]byte(`{"alg":"XYZ999"}`)) + "." + freshPayload + ".sig", true},
		{"undecodable header", "!!!." + freshPayload + ".sig", true},
		{"empty header and signature", "." + freshPayload + ".", true},
		{"null payload", enc([]byte(`{"alg":"HS256"}`)) + "." + enc([]byte("null")) + ".sig", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				assert.Equal(t, tc.want, s.Validate(tc.raw))
			})
		})
	}
}

func TestClear_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := &fakeMinter{next: func(int) (string, error) { return signed(t, baseTime.Add(time.Hour)), nil }}
	s, durable, session := newStore(t, m)

	_, err := s.Acquire(ctx, &models.Identity{UID: "u1"})
	require.NoError(t, err)
	require.NoError(t, s.MirrorToSession(ctx, "mirrored"))

	got, err := session.Get(ctx, common.RedirectTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "mirrored", string(got))

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))

	assert.Nil(t, s.Current())
	assert.Zero(t, durable.Len())
	assert.Zero(t, session.Len())
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	s, durable, _ := newStore(t, &fakeMinter{})

	tok, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, durable.Set(ctx, common.AuthTokenKey, []byte(signed(t, baseTime.Add(-time.Minute)))))
	tok, err = s.Restore(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok, "expired tokens are not restored")

	raw := signed(t, baseTime.Add(time.Hour))
	require.NoError(t, durable.Set(ctx, common.AuthTokenKey, []byte(raw)))
	tok, err = s.Restore(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, raw, s.Current().Raw)
}

func TestScheduleAutoRefresh_RunsUntilCleared(t *testing.T) {
	ctx := context.Background()
	m := &fakeMinter{next: func(int) (string, error) { return "tok", nil }}
	s, _, _ := newStore(t, m, WithInterval(5*time.Millisecond))

	id := &models.Identity{UID: "u1"}
	s.ScheduleAutoRefresh(ctx, id)
	s.ScheduleAutoRefresh(ctx, id)

	require.Eventually(t, func() bool { return m.Calls() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, s.Clear(ctx))
	time.Sleep(20 * time.Millisecond)
	stopped := m.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, m.Calls(), "no refresh after Clear")
	assert.Nil(t, s.Current())
}

func TestScheduleAutoRefresh_ReportsFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &fakeMinter{next: func(int) (string, error) { return "", common.ErrProvider }}
	failures := make(chan error, 16)
	s, _, _ := newStore(t, m,
		WithInterval(5*time.Millisecond),
		WithRefreshFailureHook(func(_ context.Context, err error) {
			select {
			case failures <- err:
			default:
			}
		}))

	s.ScheduleAutoRefresh(ctx, &models.Identity{UID: "u1"})

	select {
	case err := <-failures:
		require.ErrorIs(t, err, common.ErrProvider)
	case <-time.After(time.Second):
		t.Fatal("failure hook was not called")
	}
	require.NoError(t, s.Clear(ctx))
}

type blockingMinter struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingMinter) MintToken(ctx context.Context, _ *models.Identity) (string, error) {
	close(b.entered)
	<-b.release
	return "late", nil
}

func TestAcquire_DiscardedAfterClear(t *testing.T) {
	ctx := context.Background()
	b := &blockingMinter{entered: make(chan struct{}), release: make(chan struct{})}
	durable, session := kv.NewMemory(), kv.NewMemory()
	s := New(b, durable, session, logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx, &models.Identity{UID: "u1"})
		done <- err
	}()

	<-b.entered
	require.NoError(t, s.Clear(ctx))
	close(b.release)

	require.ErrorIs(t, <-done, ErrCleared)
	assert.Nil(t, s.Current())
	assert.Zero(t, durable.Len())
}
