// Package admin is the user-management console: filtered and paginated
// listing, bulk edits, statistics and hard deletes over the users
// collection. Every operation requires an admin actor.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/docstore"
	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/dmitrijs2005/examreg/internal/logging"
)

const DefaultPageSize = 20

var (
	ErrInvalidCursor = errors.New("invalid page cursor")
	ErrSelfDelete    = errors.New("admins cannot delete their own profile")
)

type SortField string

const (
	SortEmail       SortField = models.FieldEmail
	SortDisplayName SortField = models.FieldDisplayName
	SortCreatedAt   SortField = models.FieldCreatedAt
	SortLastUpdated SortField = models.FieldLastUpdated
)

// Filter narrows ListUsers. Zero values match everything; Search is a
// case-insensitive substring of email or display name.
type Filter struct {
	Role   models.Role
	Active *bool
	Search string
}

type Sort struct {
	Field SortField
	Desc  bool
}

// PageRequest asks for Size rows after the row whose uid is After.
type PageRequest struct {
	Size  int
	After string
}

type Page struct {
	Users []*models.Profile
	Total int
	// Next is the cursor of the following page, empty on the last one.
	Next string
}

type BulkResult struct {
	Updated []string
	Failed  map[string]error
}

type ExamStats struct {
	Registered int
	Verified   int
}

type Stats struct {
	Total    int
	Active   int
	Admins   int
	Students int
	Exams    map[string]ExamStats
}

type Console struct {
	store docstore.Store
	log   logging.Logger
	now   func() time.Time
}

func NewConsole(store docstore.Store, l logging.Logger) *Console {
	return &Console{store: store, log: l.With("module", "admin"), now: time.Now}
}

func authorize(actor *models.Profile) error {
	if !actor.IsAdmin() {
		return common.ErrForbidden
	}
	return nil
}

func (c *Console) load(ctx context.Context, filters ...docstore.Filter) ([]*models.Profile, error) {
	snaps, err := c.store.Query(ctx, common.UsersCollection, filters...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	out := make([]*models.Profile, 0, len(snaps))
	for _, s := range snaps {
		p, err := models.ProfileFromDocument(s.Data)
		if err != nil {
			c.log.Warn(ctx, "skipping undecodable profile", "uid", s.Key, "error", err)
			continue
		}
		if p.UID == "" {
			p.UID = s.Key
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Console) ListUsers(ctx context.Context, actor *models.Profile, f Filter, s Sort, pr PageRequest) (*Page, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}

	var filters []docstore.Filter
	if f.Role != "" {
		filters = append(filters, docstore.Filter{Field: models.FieldUserRole, Value: string(f.Role)})
	}
	if f.Active != nil {
		filters = append(filters, docstore.Filter{Field: models.FieldIsActive, Value: *f.Active})
	}

	users, err := c.load(ctx, filters...)
	if err != nil {
		return nil, err
	}

	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		kept := users[:0]
		for _, u := range users {
			if strings.Contains(strings.ToLower(u.Email), q) || strings.Contains(strings.ToLower(u.DisplayName), q) {
				kept = append(kept, u)
			}
		}
		users = kept
	}

	sortUsers(users, s)

	start := 0
	if pr.After != "" {
		start = -1
		for i, u := range users {
			if u.UID == pr.After {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCursor, pr.After)
		}
	}

	size := pr.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	end := min(start+size, len(users))

	page := &Page{Users: users[start:end], Total: len(users)}
	if end < len(users) && end > start {
		page.Next = users[end-1].UID
	}
	return page, nil
}

func sortUsers(users []*models.Profile, s Sort) {
	compare := func(a, b *models.Profile) int {
		switch s.Field {
		case SortDisplayName:
			return strings.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName))
		case SortCreatedAt:
			return a.CreatedAt.Compare(b.CreatedAt)
		case SortLastUpdated:
			return a.LastUpdated.Compare(b.LastUpdated)
		default:
			return strings.Compare(strings.ToLower(a.Email), strings.ToLower(b.Email))
		}
	}
	sort.SliceStable(users, func(i, j int) bool {
		c := compare(users[i], users[j])
		if c == 0 {
			c = strings.Compare(users[i].UID, users[j].UID)
		}
		if s.Desc {
			return c > 0
		}
		return c < 0
	})
}

// BulkUpdate applies upd to every uid, stamping updatedBy and lastUpdated.
// Failures are reported per uid; the error is only for the whole call.
func (c *Console) BulkUpdate(ctx context.Context, actor *models.Profile, uids []string, upd models.ProfileUpdate) (*BulkResult, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}

	upd.UpdatedBy = &actor.UID
	fields := upd.Fields()
	fields[models.FieldLastUpdated] = c.now()

	res := &BulkResult{Failed: map[string]error{}}
	for _, uid := range uids {
		if err := c.store.Update(ctx, common.UsersCollection, uid, fields); err != nil {
			res.Failed[uid] = err
			c.log.Warn(ctx, "bulk update failed", "uid", uid, "error", err)
			continue
		}
		res.Updated = append(res.Updated, uid)
	}
	c.log.Info(ctx, "bulk update", "actor", actor.UID, "updated", len(res.Updated), "failed", len(res.Failed))
	return res, nil
}

// SetActive activates or deactivates a single user.
func (c *Console) SetActive(ctx context.Context, actor *models.Profile, uid string, active bool) error {
	res, err := c.BulkUpdate(ctx, actor, []string{uid}, models.ProfileUpdate{IsActive: &active})
	if err != nil {
		return err
	}
	return res.Failed[uid]
}

func (c *Console) Stats(ctx context.Context, actor *models.Profile) (*Stats, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	users, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{Total: len(users), Exams: map[string]ExamStats{}}
	for _, u := range users {
		if u.IsActive {
			st.Active++
		}
		if u.IsAdmin() {
			st.Admins++
		} else {
			st.Students++
		}
		for subject, rec := range u.ExamData {
			es := st.Exams[subject]
			es.Registered++
			if rec.Verified {
				es.Verified++
			}
			st.Exams[subject] = es
		}
	}
	return st, nil
}

// DeleteUser removes the profile document of uid. This is the only hard
// delete of a profile.
func (c *Console) DeleteUser(ctx context.Context, actor *models.Profile, uid string) error {
	if err := authorize(actor); err != nil {
		return err
	}
	if uid == actor.UID {
		return ErrSelfDelete
	}
	if err := c.store.Delete(ctx, common.UsersCollection, uid); err != nil {
		return fmt.Errorf("delete user %s: %w", uid, err)
	}
	c.log.Info(ctx, "user deleted", "actor", actor.UID, "uid", uid)
	return nil
}
