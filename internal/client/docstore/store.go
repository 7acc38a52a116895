// Package docstore defines the remote document-store boundary: named
// collections of schemaless documents keyed by string.
//
// Every adapter reports failures with the common taxonomy:
//   - common.ErrorNotFound: the document does not exist (Get, Update).
//   - common.ErrDenied: the caller is not allowed to read or write.
//   - common.ErrUnavailable: the store could not be reached.
//
// Any other error is unclassified and passed through wrapped.
package docstore

import "context"

// Document is the field map of one stored document.
type Document = map[string]any

// Snapshot is a document together with its key.
type Snapshot struct {
	Key  string
	Data Document
}

// Filter matches documents whose top-level Field equals Value.
type Filter struct {
	Field string
	Value any
}

type Store interface {
	Get(ctx context.Context, collection, key string) (Document, error)

	// Set creates or fully replaces the document.
	Set(ctx context.Context, collection, key string, doc Document) error

	// Update merges the given top-level fields into an existing document.
	Update(ctx context.Context, collection, key string, fields Document) error

	Delete(ctx context.Context, collection, key string) error

	// Query returns the documents matching every filter, ordered by key.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
}

// ConditionalUpdater is implemented by stores that can check and merge in
// one atomic step.
type ConditionalUpdater interface {
	// UpdateUnless merges fields into the document unless its top-level
	// guard.Field already equals guard.Value. A guarded document yields
	// common.ErrConflict, a missing one common.ErrorNotFound.
	UpdateUnless(ctx context.Context, collection, key string, guard Filter, fields Document) error
}
