// Package tokens owns the bearer token of the signed-in identity: minting,
// local validation, periodic background refresh and cleanup.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/kv"
	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/dmitrijs2005/examreg/internal/logging"
	"github.com/dmitrijs2005/examreg/internal/obs"
	"github.com/golang-jwt/jwt/v5"
)

// ErrCleared is returned when Clear ran while a mint was in flight; the
// minted token is discarded.
var ErrCleared = errors.New("token store cleared")

// Minter issues fresh bearer tokens. Implemented by identity.Provider.
type Minter interface {
	MintToken(ctx context.Context, id *models.Identity) (string, error)
}

type Store struct {
	minter  Minter
	durable kv.Store
	session kv.Store
	log     logging.Logger
	metrics *obs.Metrics

	threshold time.Duration
	interval  time.Duration
	now       func() time.Time
	onFailure func(ctx context.Context, err error)

	mu     sync.Mutex
	token  *models.Token
	cancel context.CancelFunc
	gen    uint64
}

type Option func(*Store)

// WithThreshold sets how long before expiry a token is already considered invalid.
func WithThreshold(d time.Duration) Option { return func(s *Store) { s.threshold = d } }

func WithInterval(d time.Duration) Option { return func(s *Store) { s.interval = d } }

func WithMetrics(m *obs.Metrics) Option { return func(s *Store) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithRefreshFailureHook registers a callback for failed background refreshes.
func WithRefreshFailureHook(fn func(ctx context.Context, err error)) Option {
	return func(s *Store) { s.onFailure = fn }
}

// New creates a Store. durable keeps authToken across restarts; session
// holds the redirect mirror and is dropped with the process.
func New(minter Minter, durable, session kv.Store, l logging.Logger, opts ...Option) *Store {
	s := &Store{
		minter:    minter,
		durable:   durable,
		session:   session,
		log:       l.With("module", "tokens"),
		threshold: common.TokenExpiryThreshold,
		interval:  common.TokenRefreshInterval,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Acquire mints a new token for id, persists it and makes it current.
func (s *Store) Acquire(ctx context.Context, id *models.Identity) (*models.Token, error) {
	if id == nil {
		return nil, common.ErrNoIdentity
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	raw, err := s.minter.MintToken(ctx, id)
	if err != nil {
		s.metrics.Refresh(false)
		if errors.Is(err, common.ErrProvider) {
			return nil, fmt.Errorf("acquire token: %w", err)
		}
		return nil, fmt.Errorf("acquire token: %w: %w", common.ErrProvider, err)
	}

	tok := &models.Token{Raw: raw, ExpiresAt: expiry(raw)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return nil, ErrCleared
	}
	if err := s.durable.Set(ctx, common.AuthTokenKey, []byte(raw)); err != nil {
		s.log.Warn(ctx, "failed to persist token", "uid", id.UID, "error", err)
	}
	s.token = tok
	s.metrics.Refresh(true)

	c := *tok
	return &c, nil
}

// Refresh is Acquire under the name used by the session layer.
func (s *Store) Refresh(ctx context.Context, id *models.Identity) (*models.Token, error) {
	return s.Acquire(ctx, id)
}

// Validate reports whether raw is a well-formed JWT whose exp claim is more
// than the threshold away. The signature is not checked.
func (s *Store) Validate(raw string) bool {
	if strings.Count(raw, ".") != 2 {
		return false
	}
	exp := expiry(raw)
	if exp.IsZero() {
		return false
	}
	return s.now().Before(exp.Add(-s.threshold))
}

// expiry decodes the exp claim of raw. Only the payload segment is read;
// the header is ignored.
func expiry(raw string) time.Time {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return time.Time{}
	}
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return time.Time{}
	}
	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Current returns a copy of the in-memory token, or nil.
func (s *Store) Current() *models.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil
	}
	c := *s.token
	return &c
}

// Restore loads a persisted token that is still valid into memory.
func (s *Store) Restore(ctx context.Context) (*models.Token, error) {
	raw, err := s.durable.Get(ctx, common.AuthTokenKey)
	if err != nil {
		return nil, err
	}
	if raw == nil || !s.Validate(string(raw)) {
		return nil, nil
	}

	tok := &models.Token{Raw: string(raw), ExpiresAt: expiry(string(raw))}
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	c := *tok
	return &c, nil
}

// ScheduleAutoRefresh starts the periodic refresh for id, replacing any
// running schedule. It stops on Clear or when ctx is done.
func (s *Store) ScheduleAutoRefresh(ctx context.Context, id *models.Identity) {
	if id == nil {
		return
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	interval := s.interval
	s.mu.Unlock()

	go s.refreshLoop(ctx, id, interval)
}

func (s *Store) refreshLoop(ctx context.Context, id *models.Identity, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Refresh(ctx, id); err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrCleared) {
					return
				}
				s.log.Error(ctx, "scheduled token refresh failed", "uid", id.UID, "error", err)
				if s.onFailure != nil {
					s.onFailure(ctx, err)
				}
			} else {
				s.log.Debug(ctx, "token refreshed", "uid", id.UID)
			}
		}
	}
}

// MirrorToSession copies raw into the session-scoped store for the redirect handoff.
func (s *Store) MirrorToSession(ctx context.Context, raw string) error {
	if err := s.session.Set(ctx, common.RedirectTokenKey, []byte(raw)); err != nil {
		return fmt.Errorf("mirror token: %w", err)
	}
	return nil
}

// Clear stops the schedule and removes every trace of the token. Safe to
// call repeatedly.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.token = nil

	return errors.Join(
		s.durable.Delete(ctx, common.AuthTokenKey),
		s.session.Delete(ctx, common.RedirectTokenKey),
	)
}
