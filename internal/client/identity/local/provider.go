// Package local implements an in-process identity provider for development
// and offline demos. Passwords are bcrypt hashes and tokens are HS256 JWTs.
package local

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/identity"
	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const defaultTokenTTL = time.Hour

type account struct {
	id   models.Identity
	hash []byte
}

// Provider keeps accounts in memory. It satisfies identity.Provider.
type Provider struct {
	presence *identity.Presence
	secret   []byte
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	accounts map[string]*account
	verified []string
}

var _ identity.Provider = (*Provider)(nil)

func New(secret []byte, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Provider{
		presence: identity.NewPresence(),
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
		accounts: make(map[string]*account),
	}
}

func normalize(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (p *Provider) CreateIdentity(ctx context.Context, email, password, displayName string) (*models.Identity, error) {
	email = normalize(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: %w: email and password are required", common.ErrProvider, common.ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %w", common.ErrProvider, err)
	}

	p.mu.Lock()
	if _, ok := p.accounts[email]; ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", common.ErrProvider, ErrEmailExists)
	}
	acc := &account{
		id:   models.Identity{UID: uuid.NewString(), Email: email, DisplayName: displayName},
		hash: hash,
	}
	p.accounts[email] = acc
	id := acc.id
	p.mu.Unlock()

	p.presence.Publish(&id)
	return &id, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	p.mu.Lock()
	acc, ok := p.accounts[normalize(email)]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w", common.ErrProvider, common.ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrProvider, common.ErrInvalidCredentials)
	}

	p.mu.Lock()
	id := acc.id
	p.mu.Unlock()

	p.presence.Publish(&id)
	return &id, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.presence.Publish(nil)
	return nil
}

// SendVerification marks the address as verified immediately; there is no
// mail transport in development.
func (p *Provider) SendVerification(ctx context.Context, id *models.Identity) error {
	if id == nil {
		return common.ErrNoIdentity
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[normalize(id.Email)]
	if !ok || acc.id.UID != id.UID {
		return fmt.Errorf("%w: unknown identity %s", common.ErrProvider, id.UID)
	}
	acc.id.EmailVerified = true
	p.verified = append(p.verified, acc.id.Email)
	return nil
}

// Verifications lists the addresses a verification was sent to.
func (p *Provider) Verifications() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.verified...)
}

func (p *Provider) MintToken(ctx context.Context, id *models.Identity) (string, error) {
	if id == nil {
		return "", common.ErrNoIdentity
	}
	cur := p.presence.Current()
	if cur == nil || cur.UID != id.UID {
		return "", fmt.Errorf("%w: %w: %s is not signed in", common.ErrProvider, common.ErrTokenExpired, id.UID)
	}

	now := p.now()
	claims := jwt.MapClaims{
		"sub":   id.UID,
		"email": id.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(p.ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("%w: sign token: %w", common.ErrProvider, err)
	}
	return signed, nil
}

func (p *Provider) Subscribe() (<-chan *models.Identity, func()) {
	return p.presence.Subscribe()
}
