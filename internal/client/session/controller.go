// Package session drives the token and profile layers from the identity
// presence stream and exposes the authenticated redirect handoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/dmitrijs2005/examreg/internal/logging"
)

type State int

const (
	SignedOut State = iota
	SigningIn
	SignedIn
)

func (s State) String() string {
	switch s {
	case SignedOut:
		return "signed-out"
	case SigningIn:
		return "signing-in"
	case SignedIn:
		return "signed-in"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Tokens interface {
	Refresh(ctx context.Context, id *models.Identity) (*models.Token, error)
	Validate(raw string) bool
	Current() *models.Token
	ScheduleAutoRefresh(ctx context.Context, id *models.Identity)
	Clear(ctx context.Context) error
	MirrorToSession(ctx context.Context, raw string) error
}

type Profiles interface {
	FetchOrCreate(ctx context.Context, id *models.Identity) *models.Profile
	SyncPendingProfile(ctx context.Context, id *models.Identity) bool
	Current(uid string) *models.Profile
	Reset()
}

// SignOuter ends the session at the identity provider.
type SignOuter interface {
	SignOut(ctx context.Context) error
}

// Navigator performs the redirect to a companion application.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// Notifier shows a non-blocking message to the user.
type Notifier interface {
	Notify(ctx context.Context, msg string)
}

type Deps struct {
	Tokens   Tokens
	Profiles Profiles
	Provider SignOuter
	Nav      Navigator
	Notify   Notifier
}

const (
	msgRefreshFailed  = "Could not refresh your session. Please try again."
	msgSessionExpired = "Your session has expired. Please sign in again."
)

type Controller struct {
	deps   Deps
	log    logging.Logger
	source string

	mu      sync.Mutex
	state   State
	user    *models.Identity
	profile *models.Profile
	gen     uint64
	changed chan struct{}
}

// NewController creates a signed-out controller. source is the tag
// appended to redirect URLs.
func NewController(d Deps, l logging.Logger, source string) *Controller {
	return &Controller{
		deps:    d,
		log:     l.With("module", "session"),
		source:  source,
		changed: make(chan struct{}),
	}
}

// setState must be called with c.mu held.
func (c *Controller) setState(s State) {
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

// Run applies every presence value until the stream closes or ctx is done.
func (c *Controller) Run(ctx context.Context, presence <-chan *models.Identity) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-presence:
			if !ok {
				return nil
			}
			c.HandleIdentity(ctx, id)
		}
	}
}

// HandleIdentity drives one transition: nil signs out, anything else signs in.
func (c *Controller) HandleIdentity(ctx context.Context, id *models.Identity) {
	if id == nil {
		c.signOut(ctx)
		return
	}
	c.signIn(ctx, id)
}

func (c *Controller) signIn(ctx context.Context, id *models.Identity) {
	c.mu.Lock()
	if c.state != SignedOut && c.user != nil && c.user.UID == id.UID {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	user := *id
	c.user = &user
	c.profile = nil
	c.setState(SigningIn)
	c.mu.Unlock()

	log := c.log.With("uid", id.UID)
	log.Info(ctx, "signing in")

	if _, err := c.deps.Tokens.Refresh(ctx, &user); err != nil {
		log.Error(ctx, "initial token refresh failed", "error", err)
	}

	p := c.deps.Profiles.FetchOrCreate(ctx, &user)
	if !c.deps.Profiles.SyncPendingProfile(ctx, &user) {
		log.Warn(ctx, "pending profile changes not synced yet")
	}
	if cur := c.deps.Profiles.Current(user.UID); cur != nil {
		p = cur
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		log.Info(ctx, "sign-in superseded")
		return
	}
	c.profile = p
	c.deps.Tokens.ScheduleAutoRefresh(ctx, &user)
	c.setState(SignedIn)
	log.Info(ctx, "signed in")
}

func (c *Controller) signOut(ctx context.Context) {
	c.mu.Lock()
	c.gen++
	c.user = nil
	c.profile = nil
	if c.state != SignedOut {
		c.setState(SignedOut)
	}
	c.mu.Unlock()

	if err := c.deps.Tokens.Clear(ctx); err != nil {
		c.log.Warn(ctx, "failed to clear tokens", "error", err)
	}
	c.deps.Profiles.Reset()
	c.log.Info(ctx, "signed out")
}

// Logout signs out at the provider and locally.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.deps.Provider.SignOut(ctx)
	if err != nil {
		c.log.Warn(ctx, "provider sign-out failed", "error", err)
	}
	c.signOut(ctx)
	return err
}

// SecureRedirect hands the session to a companion application: target gets
// the token, source and uid query parameters and the navigator is invoked.
// It returns the final URL.
func (c *Controller) SecureRedirect(ctx context.Context, target string) (string, error) {
	c.mu.Lock()
	if c.state != SignedIn || c.user == nil {
		c.mu.Unlock()
		return "", common.ErrNotSignedIn
	}
	user := *c.user
	c.mu.Unlock()

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid redirect target: %w", err)
	}

	var raw string
	if tok := c.deps.Tokens.Current(); tok != nil && c.deps.Tokens.Validate(tok.Raw) {
		raw = tok.Raw
	} else {
		fresh, err := c.deps.Tokens.Refresh(ctx, &user)
		if err != nil {
			c.log.Error(ctx, "token refresh before redirect failed", "uid", user.UID, "error", err)
			c.deps.Notify.Notify(ctx, msgRefreshFailed)
			return "", fmt.Errorf("secure redirect: %w", err)
		}
		raw = fresh.Raw
	}

	q := u.Query()
	q.Set(common.RedirectTokenParam, raw)
	q.Set(common.RedirectSourceParam, c.source)
	q.Set(common.RedirectUIDParam, user.UID)
	u.RawQuery = q.Encode()

	if err := c.deps.Tokens.MirrorToSession(ctx, raw); err != nil {
		c.log.Warn(ctx, "failed to mirror token", "error", err)
	}

	dest := u.String()
	if err := c.deps.Nav.Navigate(ctx, dest); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	return dest, nil
}

// HandleProviderError reacts to an error returned by a provider-backed
// call. Expired tokens get one refresh; if that fails the user is logged
// out and ErrSessionExpired is returned. nil means the call may be retried.
func (c *Controller) HandleProviderError(ctx context.Context, err error) error {
	if !errors.Is(err, common.ErrTokenExpired) {
		return err
	}
	user := c.CurrentUser()
	if user == nil {
		return common.ErrNotSignedIn
	}

	_, rerr := c.deps.Tokens.Refresh(ctx, user)
	if rerr == nil {
		c.log.Info(ctx, "token refreshed after expiry", "uid", user.UID)
		return nil
	}

	c.log.Warn(ctx, "session expired, logging out", "uid", user.UID, "error", rerr)
	c.deps.Notify.Notify(ctx, msgSessionExpired)
	_ = c.Logout(ctx)
	return fmt.Errorf("%w: %w", common.ErrSessionExpired, rerr)
}

// WaitState blocks until the controller reaches want or ctx is done.
func (c *Controller) WaitState(ctx context.Context, want State) error {
	for {
		c.mu.Lock()
		if c.state == want {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsSignedIn() bool { return c.State() == SignedIn }

func (c *Controller) CurrentUser() *models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Profile returns the profile resolved at sign-in.
func (c *Controller) Profile() *models.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return nil
	}
	if c.user != nil {
		if cur := c.deps.Profiles.Current(c.user.UID); cur != nil {
			return cur
		}
	}
	return c.profile.Clone()
}
