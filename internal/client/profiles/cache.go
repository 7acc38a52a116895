// Package profiles keeps user profiles available when the remote document
// store is not: a durable local snapshot per uid, a pending-write overlay
// for failed remote writes, and the engine that reconciles both with the
// remote copy.
package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/kv"
	"github.com/dmitrijs2005/examreg/internal/client/models"
	"github.com/dmitrijs2005/examreg/internal/common"
)

type cachedEntry struct {
	Profile  *models.Profile `json:"profile"`
	StoredAt time.Time       `json:"storedAt"`
}

// Cache is the local profile mirror. Entries never expire; storedAt is
// informational only.
type Cache struct {
	store kv.Store
	now   func() time.Time
}

func NewCache(store kv.Store, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, now: now}
}

// ReadCached returns the last full snapshot for uid, or nil.
func (c *Cache) ReadCached(ctx context.Context, uid string) (*models.Profile, error) {
	raw, err := c.store.Get(ctx, common.CachedProfileKey(uid))
	if err != nil || raw == nil {
		return nil, err
	}
	var e cachedEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cached profile %s: %w", uid, err)
	}
	if e.Profile != nil && e.Profile.ExamData == nil {
		e.Profile.ExamData = map[string]models.ExamRecord{}
	}
	return e.Profile, nil
}

// StoredAt returns when the snapshot of uid was written.
func (c *Cache) StoredAt(ctx context.Context, uid string) (time.Time, error) {
	raw, err := c.store.Get(ctx, common.CachedProfileKey(uid))
	if err != nil || raw == nil {
		return time.Time{}, err
	}
	var e cachedEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return time.Time{}, fmt.Errorf("decode cached profile %s: %w", uid, err)
	}
	return e.StoredAt, nil
}

func (c *Cache) WriteCached(ctx context.Context, uid string, p *models.Profile) error {
	raw, err := json.Marshal(cachedEntry{Profile: p, StoredAt: c.now()})
	if err != nil {
		return fmt.Errorf("encode cached profile %s: %w", uid, err)
	}
	return c.store.Set(ctx, common.CachedProfileKey(uid), raw)
}

// ReadPending returns the staged, not yet synced update for uid, or nil.
func (c *Cache) ReadPending(ctx context.Context, uid string) (*models.ProfileUpdate, error) {
	raw, err := c.store.Get(ctx, common.PendingProfileKey(uid))
	if err != nil || raw == nil {
		return nil, err
	}
	var u models.ProfileUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode pending profile %s: %w", uid, err)
	}
	return &u, nil
}

// StagePending merges upd into the pending record of uid; fields in upd win.
// An undecodable existing record is replaced.
func (c *Cache) StagePending(ctx context.Context, uid string, upd models.ProfileUpdate) error {
	return c.store.Update(ctx, common.PendingProfileKey(uid), func(cur []byte) ([]byte, error) {
		var existing models.ProfileUpdate
		if cur != nil {
			if err := json.Unmarshal(cur, &existing); err != nil {
				existing = models.ProfileUpdate{}
			}
		}
		merged := existing.Merge(upd)
		if merged.IsEmpty() {
			return nil, nil
		}
		return json.Marshal(merged)
	})
}

func (c *Cache) ClearPending(ctx context.Context, uid string) error {
	return c.store.Delete(ctx, common.PendingProfileKey(uid))
}
