package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/docstore"
	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/dmitrijs2005/examreg/internal/logging"
	"github.com/dmitrijs2005/examreg/internal/obs"
	"github.com/dmitrijs2005/examreg/internal/retryx"
	"github.com/google/uuid"
)

// TokenRefresher mints a fresh bearer token before remote writes.
type TokenRefresher interface {
	Refresh(ctx context.Context, id *models.Identity) (*models.Token, error)
}

// Engine reconciles the local Cache with the remote users collection.
// Its public operations never return errors: failures are logged and
// resolved to cached, default or pending state.
type Engine struct {
	store   docstore.Store
	cache   *Cache
	tokens  TokenRefresher
	log     logging.Logger
	metrics *obs.Metrics

	policy    retryx.Policy
	fetchWait time.Duration
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	current  map[string]*models.Profile
}

type EngineOption func(*Engine)

func WithRetryPolicy(maxRetries int, initialDelay time.Duration) EngineOption {
	return func(e *Engine) {
		e.policy.MaxRetries = maxRetries
		e.policy.InitialDelay = initialDelay
	}
}

// WithFetchWait sets how long an overlapping FetchOrCreate waits for the
// first caller before reading what it produced.
func WithFetchWait(d time.Duration) EngineOption { return func(e *Engine) { e.fetchWait = d } }

func WithEngineMetrics(m *obs.Metrics) EngineOption { return func(e *Engine) { e.metrics = m } }

func WithEngineClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

func NewEngine(store docstore.Store, cache *Cache, tokens TokenRefresher, l logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		cache:     cache,
		tokens:    tokens,
		log:       l.With("module", "profiles"),
		policy:    retryx.Policy{MaxRetries: common.MaxRetries, InitialDelay: common.RetryInitialDelay},
		fetchWait: common.FetchWait,
		now:       time.Now,
		inFlight:  make(map[string]struct{}),
		current:   make(map[string]*models.Profile),
	}
	for _, o := range opts {
		o(e)
	}
	e.policy.OnRetry = func(attempt int, err error) {
		e.metrics.Retry()
		e.log.Debug(context.Background(), "remote profile read failed, retrying", "attempt", attempt, "error", err)
	}
	return e
}

// Current returns the in-memory profile of uid, or nil.
func (e *Engine) Current(uid string) *models.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current[uid].Clone()
}

// Reset drops every in-memory profile.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = make(map[string]*models.Profile)
}

func (e *Engine) setCurrent(p *models.Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current[p.UID] = p.Clone()
}

// FetchOrCreate returns the profile of id from the remote store, creating
// it when absent, or a cached/default profile when the store cannot serve
// it. It returns nil only for a nil identity.
func (e *Engine) FetchOrCreate(ctx context.Context, id *models.Identity) *models.Profile {
	if id == nil {
		return nil
	}

	e.mu.Lock()
	if _, busy := e.inFlight[id.UID]; busy {
		e.mu.Unlock()
		return e.awaitShared(ctx, id)
	}
	e.inFlight[id.UID] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inFlight, id.UID)
		e.mu.Unlock()
	}()

	p, outcome := e.fetch(ctx, id)
	e.setCurrent(p)
	e.metrics.Fetch(outcome)
	e.log.Info(ctx, "profile resolved", "uid", id.UID, "source", outcome)
	return p.Clone()
}

// awaitShared is the path of a caller overlapping another fetch for the
// same uid. The wait is fixed; the first caller may not be done yet.
func (e *Engine) awaitShared(ctx context.Context, id *models.Identity) *models.Profile {
	t := time.NewTimer(e.fetchWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}

	e.metrics.Fetch(obs.OutcomeShared)
	if p := e.Current(id.UID); p != nil {
		return p
	}
	p, _ := e.fallback(ctx, id)
	return p.Clone()
}

type loadResult struct {
	profile *models.Profile
	outcome string
	denied  bool
}

func (e *Engine) fetch(ctx context.Context, id *models.Identity) (*models.Profile, string) {
	if err := e.probe(ctx, id.UID); err != nil {
		e.log.Warn(ctx, "remote store unreachable, using local profile", "uid", id.UID, "error", err)
		return e.fallback(ctx, id)
	}

	res, err := retryx.Do(ctx, e.policy, func(ctx context.Context) (loadResult, error) {
		return e.load(ctx, id)
	})
	if err != nil {
		e.log.Error(ctx, "remote profile read failed", "uid", id.UID, "error", err)
		return e.fallback(ctx, id)
	}
	if res.denied {
		e.log.Warn(ctx, "remote profile access denied, using local profile", "uid", id.UID)
		return e.fallback(ctx, id)
	}
	return res.profile, res.outcome
}

// probe returns nil when the store answers for uid. A denied direct read is
// retried as a scratch write/read so that "denied" is not taken for "offline".
func (e *Engine) probe(ctx context.Context, uid string) error {
	_, err := e.store.Get(ctx, common.UsersCollection, uid)
	if err == nil || errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if !errors.Is(err, common.ErrDenied) {
		return err
	}

	key := "probe-" + uuid.NewString()
	if err := e.store.Set(ctx, common.ProbeCollection, key, docstore.Document{
		"uid":       uid,
		"timestamp": e.now(),
	}); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	if _, err := e.store.Get(ctx, common.ProbeCollection, key); err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	if err := e.store.Delete(ctx, common.ProbeCollection, key); err != nil {
		e.log.Debug(ctx, "probe cleanup failed", "key", key, "error", err)
	}
	return nil
}

func (e *Engine) load(ctx context.Context, id *models.Identity) (loadResult, error) {
	doc, err := e.store.Get(ctx, common.UsersCollection, id.UID)
	switch {
	case err == nil:
		p, err := models.ProfileFromDocument(doc)
		if err != nil {
			return loadResult{}, err
		}
		p.UID = id.UID
		e.writeCache(ctx, p)
		return loadResult{profile: p, outcome: obs.OutcomeRemote}, nil
	case errors.Is(err, common.ErrDenied):
		return loadResult{denied: true}, nil
	case errors.Is(err, common.ErrorNotFound):
		return e.create(ctx, id, models.ProfileUpdate{})
	default:
		return loadResult{}, err
	}
}

// create writes a new remote document from the defaults, the pending record
// and extra, in increasing precedence. Pending is cleared only on success.
func (e *Engine) create(ctx context.Context, id *models.Identity, extra models.ProfileUpdate) (loadResult, error) {
	now := e.now()
	p := models.DefaultProfile(id, now)

	pending, err := e.cache.ReadPending(ctx, id.UID)
	if err != nil {
		e.log.Warn(ctx, "ignoring unreadable pending profile", "uid", id.UID, "error", err)
	}
	if pending != nil {
		p.Apply(*pending)
	}
	p.Apply(extra)
	p.UID = id.UID

	if err := e.store.Set(ctx, common.UsersCollection, id.UID, p.ToDocument()); err != nil {
		e.metrics.Write(false)
		if errors.Is(err, common.ErrDenied) {
			return loadResult{denied: true}, nil
		}
		return loadResult{}, err
	}
	e.metrics.Write(true)

	if pending != nil {
		if err := e.cache.ClearPending(ctx, id.UID); err != nil {
			e.log.Warn(ctx, "failed to clear pending profile", "uid", id.UID, "error", err)
		}
	}
	e.writeCache(ctx, p)
	return loadResult{profile: p, outcome: obs.OutcomeCreated}, nil
}

// fallback returns the cached snapshot or a persisted default.
func (e *Engine) fallback(ctx context.Context, id *models.Identity) (*models.Profile, string) {
	cached, err := e.cache.ReadCached(ctx, id.UID)
	if err != nil {
		e.log.Warn(ctx, "ignoring unreadable cached profile", "uid", id.UID, "error", err)
	}
	if cached != nil {
		return cached, obs.OutcomeCached
	}

	p := models.DefaultProfile(id, e.now())
	e.writeCache(ctx, p)
	return p, obs.OutcomeDefault
}

func (e *Engine) writeCache(ctx context.Context, p *models.Profile) {
	if err := e.cache.WriteCached(ctx, p.UID, p); err != nil {
		e.log.Warn(ctx, "failed to cache profile", "uid", p.UID, "error", err)
	}
}

// UpdateProfile writes upd to the remote document and reports whether it is
// durable there. The local profile reflects upd either way; on failure upd
// is staged as pending.
func (e *Engine) UpdateProfile(ctx context.Context, id *models.Identity, upd models.ProfileUpdate) bool {
	if id == nil {
		return false
	}
	if err := e.remoteUpdate(ctx, id, upd); err != nil {
		e.log.Warn(ctx, "remote profile update failed, staging locally", "uid", id.UID, "error", err)
		if err := e.cache.StagePending(ctx, id.UID, upd); err != nil {
			e.log.Error(ctx, "failed to stage pending profile", "uid", id.UID, "error", err)
		} else {
			e.metrics.Staged()
		}
		e.applyLocal(ctx, id, upd)
		return false
	}

	if err := e.cache.ClearPending(ctx, id.UID); err != nil {
		e.log.Warn(ctx, "failed to clear pending profile", "uid", id.UID, "error", err)
	}
	return true
}

func (e *Engine) remoteUpdate(ctx context.Context, id *models.Identity, upd models.ProfileUpdate) error {
	if _, err := e.tokens.Refresh(ctx, id); err != nil {
		return fmt.Errorf("fresh token: %w", err)
	}

	doc, err := e.store.Get(ctx, common.UsersCollection, id.UID)
	if errors.Is(err, common.ErrorNotFound) {
		res, err := e.create(ctx, id, upd)
		if err != nil {
			return err
		}
		if res.denied {
			return common.ErrDenied
		}
		e.setCurrent(res.profile)
		return nil
	}
	if err != nil {
		return err
	}

	now := e.now()
	fields := upd.Fields()
	fields[models.FieldLastUpdated] = now
	if err := e.store.Update(ctx, common.UsersCollection, id.UID, fields); err != nil {
		e.metrics.Write(false)
		return err
	}
	e.metrics.Write(true)

	base := e.Current(id.UID)
	if base == nil {
		if base, err = models.ProfileFromDocument(doc); err != nil {
			base = nil
		}
	}
	if base == nil {
		base = e.localBase(ctx, id)
	}
	base.Apply(upd)
	base.UID = id.UID
	base.LastUpdated = now
	e.setCurrent(base)
	e.writeCache(ctx, base)
	return nil
}

// applyLocal is the optimistic half of a failed update.
func (e *Engine) applyLocal(ctx context.Context, id *models.Identity, upd models.ProfileUpdate) {
	base := e.Current(id.UID)
	if base == nil {
		base = e.localBase(ctx, id)
	}
	base.Apply(upd)
	base.UID = id.UID
	base.LastUpdated = e.now()
	e.setCurrent(base)
	e.writeCache(ctx, base)
}

func (e *Engine) localBase(ctx context.Context, id *models.Identity) *models.Profile {
	if cached, _ := e.cache.ReadCached(ctx, id.UID); cached != nil {
		return cached
	}
	return models.DefaultProfile(id, e.now())
}

// SyncPendingProfile flushes the pending record of id. It reports true when
// nothing is left pending.
func (e *Engine) SyncPendingProfile(ctx context.Context, id *models.Identity) bool {
	if id == nil {
		return false
	}
	pending, err := e.cache.ReadPending(ctx, id.UID)
	if err != nil {
		e.log.Warn(ctx, "cannot read pending profile", "uid", id.UID, "error", err)
		return false
	}
	if pending == nil {
		return true
	}

	// creating an absent document already consumes the pending record
	e.FetchOrCreate(ctx, id)
	pending, err = e.cache.ReadPending(ctx, id.UID)
	if err != nil {
		return false
	}
	if pending == nil {
		e.log.Info(ctx, "pending profile flushed on create", "uid", id.UID)
		return true
	}

	ok := e.UpdateProfile(ctx, id, *pending)
	if ok {
		e.log.Info(ctx, "pending profile flushed", "uid", id.UID)
	}
	return ok
}
