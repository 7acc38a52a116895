// Package firestore implements docstore.Store on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/dmitrijs2005/examreg/internal/client/docstore"
	"github.com/dmitrijs2005/examreg/internal/common"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Store struct {
	client *firestore.Client
}

var (
	_ docstore.Store              = (*Store)(nil)
	_ docstore.ConditionalUpdater = (*Store)(nil)
)

// Open creates a Firestore client for projectID. Credentials come from
// opts or the environment (FIRESTORE_EMULATOR_HOST is honored).
func Open(ctx context.Context, projectID string, opts ...option.ClientOption) (*Store, error) {
	c, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Store{client: c}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, collection, key string) (docstore.Document, error) {
	snap, err := s.client.Collection(collection).Doc(key).Get(ctx)
	if err != nil {
		return nil, classify(collection, key, err)
	}
	return snap.Data(), nil
}

func (s *Store) Set(ctx context.Context, collection, key string, doc docstore.Document) error {
	if _, err := s.client.Collection(collection).Doc(key).Set(ctx, doc); err != nil {
		return classify(collection, key, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, key string, fields docstore.Document) error {
	if len(fields) == 0 {
		return nil
	}
	if _, err := s.client.Collection(collection).Doc(key).Update(ctx, toUpdates(fields)); err != nil {
		return classify(collection, key, err)
	}
	return nil
}

// UpdateUnless reads and updates the document inside a transaction, so a
// concurrent writer forces a retry and sees the guard.
func (s *Store) UpdateUnless(ctx context.Context, collection, key string, guard docstore.Filter, fields docstore.Document) error {
	ref := s.client.Collection(collection).Doc(key)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if v, ok := snap.Data()[guard.Field]; ok && reflect.DeepEqual(v, guard.Value) {
			return common.ErrConflict
		}
		if len(fields) == 0 {
			return nil
		}
		return tx.Update(ref, toUpdates(fields))
	})
	if errors.Is(err, common.ErrConflict) {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrConflict)
	}
	if err != nil {
		return classify(collection, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.client.Collection(collection).Doc(key).Delete(ctx); err != nil {
		return classify(collection, key, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		q = q.Where(f.Field, "==", f.Value)
	}

	it := q.Documents(ctx)
	defer it.Stop()

	var out []docstore.Snapshot
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(collection, "", err)
		}
		out = append(out, docstore.Snapshot{Key: snap.Ref.ID, Data: snap.Data()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// toUpdates turns top-level fields into field-path updates in a stable order.
func toUpdates(fields docstore.Document) []firestore.Update {
	ups := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		ups = append(ups, firestore.Update{Path: k, Value: v})
	}
	sort.Slice(ups, func(i, j int) bool { return ups[i].Path < ups[j].Path })
	return ups
}

func classify(collection, key string, err error) error {
	ref := collection + "/" + key
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", ref, common.ErrorNotFound)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%s: %w: %w", ref, common.ErrDenied, err)
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w: %w", ref, common.ErrUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", ref, common.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", ref, err)
}
