package docstore

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "users", "u1")
	require.ErrorIs(t, err, common.ErrorNotFound)

	require.ErrorIs(t, m.Update(ctx, "users", "u1", Document{"a": 1}), common.ErrorNotFound)

	require.NoError(t, m.Set(ctx, "users", "u1", Document{"name": "A", "role": "student"}))
	require.NoError(t, m.Update(ctx, "users", "u1", Document{"name": "B"}))

	got, err := m.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, Document{"name": "B", "role": "student"}, got)

	require.NoError(t, m.Set(ctx, "users", "u1", Document{"only": true}))
	got, err = m.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, Document{"only": true}, got, "Set replaces the whole document")

	require.NoError(t, m.Delete(ctx, "users", "u1"))
	require.NoError(t, m.Delete(ctx, "users", "u1"))
	_, err = m.Get(ctx, "users", "u1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemory_IsolatesNestedMaps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	in := Document{"examData": map[string]any{"jee": map[string]any{"rank": 1}}}
	require.NoError(t, m.Set(ctx, "users", "u1", in))
	in["examData"].(map[string]any)["jee"] = "mutated"

	got, err := m.Get(ctx, "users", "u1")
	require.NoError(t, err)
	got["examData"].(map[string]any)["neet"] = 2

	again, err := m.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, Document{"examData": map[string]any{"jee": map[string]any{"rank": 1}}}, again)
}

func TestMemory_Query(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "users", "b", Document{"userRole": "admin", "isActive": true}))
	require.NoError(t, m.Set(ctx, "users", "a", Document{"userRole": "student", "isActive": true}))
	require.NoError(t, m.Set(ctx, "users", "c", Document{"userRole": "student", "isActive": false}))
	require.NoError(t, m.Set(ctx, "other", "z", Document{"userRole": "student"}))

	all, err := m.Query(ctx, "users")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Key, all[1].Key, all[2].Key})

	students, err := m.Query(ctx, "users", Filter{Field: "userRole", Value: "student"}, Filter{Field: "isActive", Value: true})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "a", students[0].Key)

	none, err := m.Query(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_UpdateUnless(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	guard := Filter{Field: "used", Value: true}

	require.ErrorIs(t, m.UpdateUnless(ctx, "codes", "A", guard, Document{"used": true}), common.ErrorNotFound)

	require.NoError(t, m.Set(ctx, "codes", "A", Document{"used": false, "durationDays": 7}))
	require.NoError(t, m.UpdateUnless(ctx, "codes", "A", guard, Document{"used": true, "usedBy": "u1"}))

	got, err := m.Get(ctx, "codes", "A")
	require.NoError(t, err)
	assert.Equal(t, Document{"used": true, "usedBy": "u1", "durationDays": 7}, got)

	require.ErrorIs(t, m.UpdateUnless(ctx, "codes", "A", guard, Document{"used": true, "usedBy": "u2"}), common.ErrConflict)
	got, err = m.Get(ctx, "codes", "A")
	require.NoError(t, err)
	assert.Equal(t, "u1", got["usedBy"], "a guarded document is left alone")
}
