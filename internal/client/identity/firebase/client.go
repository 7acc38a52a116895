// Package firebase is a REST client for the Firebase Identity Toolkit and
// Secure Token APIs implementing identity.Provider.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/identity"
	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
	"golang.org/x/time/rate"
)

const (
	DefaultIdentityURL = "https://identitytoolkit.googleapis.com"
	DefaultTokenURL    = "https://securetoken.googleapis.com"

	defaultTimeout = 10 * time.Second
)

type session struct {
	uid          string
	idToken      string
	refreshToken string
}

// Client talks to Firebase Auth over HTTPS. Only one user is signed in at a
// time; its refresh token is kept in memory.
type Client struct {
	apiKey      string
	identityURL string
	tokenURL    string
	http        *http.Client
	limiter     *rate.Limiter
	presence    *identity.Presence

	mu      sync.Mutex
	session *session
}

var _ identity.Provider = (*Client)(nil)

type Option func(*Client)

// WithBaseURLs points the client at an emulator or a test server.
func WithBaseURLs(identityURL, tokenURL string) Option {
	return func(c *Client) {
		c.identityURL = strings.TrimRight(identityURL, "/")
		c.tokenURL = strings.TrimRight(tokenURL, "/")
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit throttles outgoing requests. r <= 0 disables throttling.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		if r <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		identityURL: DefaultIdentityURL,
		tokenURL:    DefaultTokenURL,
		http:        &http.Client{Timeout: defaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(5), 5),
		presence:    identity.NewPresence(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type authResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

type lookupResponse struct {
	Users []struct {
		LocalID       string `json:"localId"`
		Email         string `json:"email"`
		DisplayName   string `json:"displayName"`
		EmailVerified bool   `json:"emailVerified"`
	} `json:"users"`
}

type tokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	var resp authResponse
	body := map[string]any{"email": email, "password": password, "returnSecureToken": true}
	if err := c.postJSON(ctx, c.accountsURL("signInWithPassword"), body, &resp); err != nil {
		return nil, err
	}

	id := &models.Identity{UID: resp.LocalID, Email: resp.Email, DisplayName: resp.DisplayName}
	if info, err := c.lookup(ctx, resp.IDToken); err == nil && info != nil {
		id = info
	}

	c.setSession(&session{uid: id.UID, idToken: resp.IDToken, refreshToken: resp.RefreshToken})
	c.presence.Publish(id)
	return id, nil
}

func (c *Client) CreateIdentity(ctx context.Context, email, password, displayName string) (*models.Identity, error) {
	var resp authResponse
	body := map[string]any{"email": email, "password": password, "returnSecureToken": true}
	if err := c.postJSON(ctx, c.accountsURL("signUp"), body, &resp); err != nil {
		return nil, err
	}

	id := &models.Identity{UID: resp.LocalID, Email: resp.Email}
	if displayName != "" {
		upd := map[string]any{"idToken": resp.IDToken, "displayName": displayName, "returnSecureToken": false}
		if err := c.postJSON(ctx, c.accountsURL("update"), upd, nil); err != nil {
			return nil, err
		}
		id.DisplayName = displayName
	}

	c.setSession(&session{uid: id.UID, idToken: resp.IDToken, refreshToken: resp.RefreshToken})
	c.presence.Publish(id)
	return id, nil
}

func (c *Client) SendVerification(ctx context.Context, id *models.Identity) error {
	s, err := c.sessionFor(id)
	if err != nil {
		return err
	}
	body := map[string]any{"requestType": "VERIFY_EMAIL", "idToken": s.idToken}
	return c.postJSON(ctx, c.accountsURL("sendOobCode"), body, nil)
}

func (c *Client) SignOut(ctx context.Context) error {
	c.setSession(nil)
	c.presence.Publish(nil)
	return nil
}

// MintToken exchanges the refresh token for a brand-new ID token.
func (c *Client) MintToken(ctx context.Context, id *models.Identity) (string, error) {
	s, err := c.sessionFor(id)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.refreshToken)

	var resp tokenResponse
	endpoint := c.tokenURL + "/v1/token?key=" + url.QueryEscape(c.apiKey)
	if err := c.do(ctx, endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.session != nil && c.session.uid == s.uid {
		c.session.idToken = resp.IDToken
		if resp.RefreshToken != "" {
			c.session.refreshToken = resp.RefreshToken
		}
	}
	c.mu.Unlock()

	return resp.IDToken, nil
}

func (c *Client) Subscribe() (<-chan *models.Identity, func()) {
	return c.presence.Subscribe()
}

func (c *Client) lookup(ctx context.Context, idToken string) (*models.Identity, error) {
	var resp lookupResponse
	if err := c.postJSON(ctx, c.accountsURL("lookup"), map[string]any{"idToken": idToken}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, nil
	}
	u := resp.Users[0]
	return &models.Identity{UID: u.LocalID, Email: u.Email, DisplayName: u.DisplayName, EmailVerified: u.EmailVerified}, nil
}

func (c *Client) accountsURL(method string) string {
	return c.identityURL + "/v1/accounts:" + method + "?key=" + url.QueryEscape(c.apiKey)
}

func (c *Client) setSession(s *session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Client) sessionFor(id *models.Identity) (session, error) {
	if id == nil {
		return session{}, common.ErrNoIdentity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.uid != id.UID {
		return session{}, fmt.Errorf("%w: %w: no session for %s", common.ErrProvider, common.ErrTokenExpired, id.UID)
	}
	return *c.session, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %w", common.ErrProvider, err)
	}
	return c.do(ctx, endpoint, "application/json", bytes.NewReader(b), out)
}

func (c *Client) do(ctx context.Context, endpoint, contentType string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w: %w", common.ErrProvider, common.ErrRateLimited, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", common.ErrProvider, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w: %w", common.ErrProvider, common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w: read response: %w", common.ErrProvider, common.ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", common.ErrProvider, err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var e errorResponse
	_ = json.Unmarshal(data, &e)
	msg := e.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	kind := classify(status, msg)
	if kind == nil {
		return fmt.Errorf("%w: %s", common.ErrProvider, msg)
	}
	return fmt.Errorf("%w: %w: %s", common.ErrProvider, kind, msg)
}

// classify maps Firebase error codes ("INVALID_PASSWORD : ...") to sentinels.
func classify(status int, msg string) error {
	code, _, _ := strings.Cut(msg, " ")
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED", "INVALID_EMAIL", "WEAK_PASSWORD":
		return common.ErrInvalidCredentials
	case "EMAIL_EXISTS":
		return ErrEmailExists
	case "TOO_MANY_ATTEMPTS_TRY_LATER", "QUOTA_EXCEEDED":
		return common.ErrRateLimited
	case "TOKEN_EXPIRED", "INVALID_REFRESH_TOKEN", "INVALID_ID_TOKEN", "USER_NOT_FOUND", "CREDENTIAL_TOO_OLD_LOGIN_AGAIN":
		return common.ErrTokenExpired
	}
	switch {
	case status == http.StatusTooManyRequests:
		return common.ErrRateLimited
	case status >= http.StatusInternalServerError:
		return common.ErrUnavailable
	}
	return nil
}

var ErrEmailExists = errors.New("email already registered")
