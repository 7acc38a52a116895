package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/dmitrijs2005/examreg/internal/common"
)

// Memory is an in-process Store. Documents are deep-copied on the way in
// and out so callers never share maps with the store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]Document
}

var (
	_ Store              = (*Memory)(nil)
	_ ConditionalUpdater = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]Document)}
}

func (m *Memory) Get(ctx context.Context, collection, key string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.data[collection][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, common.ErrorNotFound)
	}
	return cloneDocument(doc), nil
}

func (m *Memory) Set(ctx context.Context, collection, key string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.data[collection]
	if !ok {
		c = make(map[string]Document)
		m.data[collection] = c
	}
	c[key] = cloneDocument(doc)
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, key string, fields Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.data[collection][key]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrorNotFound)
	}
	for k, v := range fields {
		doc[k] = cloneValue(v)
	}
	return nil
}

func (m *Memory) UpdateUnless(ctx context.Context, collection, key string, guard Filter, fields Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.data[collection][key]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrorNotFound)
	}
	if matches(doc, []Filter{guard}) {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrConflict)
	}
	for k, v := range fields {
		doc[k] = cloneValue(v)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[collection], key)
	return nil
}

func (m *Memory) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Snapshot
	for key, doc := range m.data[collection] {
		if matches(doc, filters) {
			out = append(out, Snapshot{Key: key, Data: cloneDocument(doc)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}

func cloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
