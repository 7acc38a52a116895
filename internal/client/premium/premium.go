// Package premium gates paid features and redeems one-time access codes
// stored in the redemption_codes collection.
package premium

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/docstore"
	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/dmitrijs2005/examreg/internal/logging"
	"github.com/google/uuid"
)

const DefaultDurationDays = 30

var (
	ErrInvalidCode = errors.New("invalid redemption code")
	ErrCodeUsed    = errors.New("redemption code already used")
)

// Redemption code document fields.
const (
	fieldUsed         = "used"
	fieldUsedBy       = "usedBy"
	fieldUsedAt       = "usedAt"
	fieldDurationDays = "durationDays"
	fieldCreatedBy    = "createdBy"
	fieldCreatedAt    = "createdAt"
)

// HasAccess reports whether p holds premium access that is still running at now.
func HasAccess(p *models.Profile, now time.Time) bool {
	return p != nil && p.IsPremium && p.PremiumUntil != nil && now.Before(*p.PremiumUntil)
}

// Profiles is the slice of the sync engine premium needs.
type Profiles interface {
	UpdateProfile(ctx context.Context, id *models.Identity, upd models.ProfileUpdate) bool
	Current(uid string) *models.Profile
}

type Service struct {
	store    docstore.Store
	profiles Profiles
	log      logging.Logger
	now      func() time.Time
}

func NewService(store docstore.Store, profiles Profiles, l logging.Logger) *Service {
	return &Service{store: store, profiles: profiles, log: l.With("module", "premium"), now: time.Now}
}

func normalize(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// Redeem consumes code for id and extends its premium access. The returned
// time is the new expiry. synced is false when the profile change is only
// staged locally.
func (s *Service) Redeem(ctx context.Context, id *models.Identity, code string) (until time.Time, synced bool, err error) {
	if id == nil {
		return time.Time{}, false, common.ErrNoIdentity
	}
	code = normalize(code)
	if code == "" {
		return time.Time{}, false, ErrInvalidCode
	}

	doc, err := s.store.Get(ctx, common.RedemptionCodesCollection, code)
	if errors.Is(err, common.ErrorNotFound) {
		return time.Time{}, false, ErrInvalidCode
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read code: %w", err)
	}
	if used, _ := doc[fieldUsed].(bool); used {
		return time.Time{}, false, ErrCodeUsed
	}

	now := s.now()
	if err := s.consume(ctx, code, docstore.Document{
		fieldUsed:   true,
		fieldUsedBy: id.UID,
		fieldUsedAt: now,
	}); err != nil {
		return time.Time{}, false, err
	}

	start := now
	if cur := s.profiles.Current(id.UID); HasAccess(cur, now) {
		start = *cur.PremiumUntil
	}
	until = start.AddDate(0, 0, durationDays(doc[fieldDurationDays]))

	synced = s.profiles.UpdateProfile(ctx, id, models.ProfileUpdate{
		IsPremium:    models.Ptr(true),
		PremiumUntil: &until,
	})
	if !synced {
		s.log.Warn(ctx, "premium granted locally, remote sync pending", "uid", id.UID)
	}
	s.log.Info(ctx, "code redeemed", "uid", id.UID, "until", until)
	return until, synced, nil
}

// consume marks code used. On a store with a conditional update only one of
// two concurrent redeemers gets through; on the others the used check in
// Redeem is best-effort.
func (s *Service) consume(ctx context.Context, code string, fields docstore.Document) error {
	cu, ok := s.store.(docstore.ConditionalUpdater)
	if !ok {
		if err := s.store.Update(ctx, common.RedemptionCodesCollection, code, fields); err != nil {
			return fmt.Errorf("consume code: %w", err)
		}
		return nil
	}

	err := cu.UpdateUnless(ctx, common.RedemptionCodesCollection, code,
		docstore.Filter{Field: fieldUsed, Value: true}, fields)
	switch {
	case errors.Is(err, common.ErrConflict):
		return ErrCodeUsed
	case errors.Is(err, common.ErrorNotFound):
		return ErrInvalidCode
	case err != nil:
		return fmt.Errorf("consume code: %w", err)
	}
	return nil
}

// durationDays reads a numeric field that may arrive as int, int64 or float64
// depending on the store.
func durationDays(v any) int {
	switch n := v.(type) {
	case int:
		if n > 0 {
			return n
		}
	case int64:
		if n > 0 {
			return int(n)
		}
	case float64:
		if n > 0 {
			return int(n)
		}
	}
	return DefaultDurationDays
}

// IssueCode creates a fresh unused code worth days of access.
func (s *Service) IssueCode(ctx context.Context, actor *models.Profile, days int) (string, error) {
	if !actor.IsAdmin() {
		return "", common.ErrForbidden
	}
	if days <= 0 {
		days = DefaultDurationDays
	}
	code := normalize(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	if err := s.store.Set(ctx, common.RedemptionCodesCollection, code, docstore.Document{
		fieldUsed:         false,
		fieldDurationDays: days,
		fieldCreatedBy:    actor.UID,
		fieldCreatedAt:    s.now(),
	}); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	return code, nil
}
