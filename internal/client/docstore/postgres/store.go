// Package postgres implements docstore.Store over a single JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/examreg/internal/client/docstore"
	"github.com/dmitrijs2005/examreg/internal/client/docstore/postgres/migrations"
	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/dmitrijs2005/examreg/internal/dbx"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const codeInsufficientPrivilege = "42501"

type Store struct {
	db dbx.DBTX
}

var (
	_ docstore.Store              = (*Store)(nil)
	_ docstore.ConditionalUpdater = (*Store)(nil)
)

func NewStore(db dbx.DBTX) *Store {
	return &Store{db: db}
}

// Open connects to dsn, checks the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, classify(err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migration error: %w", err)
	}
	return NewStore(db), db, nil
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func (s *Store) Get(ctx context.Context, collection, key string) (docstore.Document, error) {
	query :=
		`SELECT data FROM documents
		 WHERE collection = $1 AND key = $2
		 `

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, collection, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", collection, key, common.ErrorNotFound)
		}
		return nil, classify(err)
	}

	doc := docstore.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

func (s *Store) Set(ctx context.Context, collection, key string, doc docstore.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}

	query :=
		`INSERT INTO documents (collection, key, data, updated_at)
		 VALUES ($1, $2, $3::jsonb, now())
		 ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
		 `

	if _, err := s.db.ExecContext(ctx, query, collection, key, raw); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, key string, fields docstore.Document) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}

	query :=
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND key = $2
		 `

	res, err := s.db.ExecContext(ctx, query, collection, key, raw)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrorNotFound)
	}
	return nil
}

// UpdateUnless merges fields with a single guarded UPDATE. When no row
// matches, a follow-up lookup tells a guarded document from a missing one.
func (s *Store) UpdateUnless(ctx context.Context, collection, key string, guard docstore.Filter, fields docstore.Document) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	cond, err := json.Marshal(map[string]any{guard.Field: guard.Value})
	if err != nil {
		return fmt.Errorf("encode guard %s/%s: %w", collection, key, err)
	}

	query :=
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND key = $2 AND NOT (data @> $4::jsonb)
		 `

	res, err := s.db.ExecContext(ctx, query, collection, key, raw, cond)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE collection = $1 AND key = $2`,
		collection, key).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrorNotFound)
	case err != nil:
		return classify(err)
	}
	return fmt.Errorf("%s/%s: %w", collection, key, common.ErrConflict)
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	query :=
		`DELETE FROM documents
		 WHERE collection = $1 AND key = $2
		 `

	if _, err := s.db.ExecContext(ctx, query, collection, key); err != nil {
		return classify(err)
	}
	return nil
}

// Query uses JSONB containment, so every filter is an equality match on a
// top-level field.
func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	match := make(map[string]any, len(filters))
	for _, f := range filters {
		match[f.Field] = f.Value
	}
	raw, err := json.Marshal(match)
	if err != nil {
		return nil, fmt.Errorf("encode filters: %w", err)
	}

	query :=
		`SELECT key, data FROM documents
		 WHERE collection = $1 AND data @> $2::jsonb
		 ORDER BY key
		 `

	rows, err := s.db.QueryContext(ctx, query, collection, raw)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []docstore.Snapshot
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, classify(err)
		}
		doc := docstore.Document{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, key, err)
		}
		out = append(out, docstore.Snapshot{Key: key, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// classify maps driver errors onto the store taxonomy.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeInsufficientPrivilege:
			return fmt.Errorf("%w: %s", common.ErrDenied, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %s", common.ErrUnavailable, pgErr.Message)
		}
		return fmt.Errorf("db error: %w", err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	}
	return fmt.Errorf("db error: %w", err)
}
