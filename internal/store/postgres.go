package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/league-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the ledger of record.
// Each executor layer gets its own table; account data and authority are
// stored as JSONB holding integers only.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates a PostgreSQL-backed store over table.
func NewPostgresStore(pool *pgxpool.Pool, table string) *PostgresStore {
	return &PostgresStore{pool: pool, table: pgx.Identifier{table}.Sanitize()}
}

// Migrate creates the account table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			owner      TEXT NOT NULL,
			authority  JSONB NOT NULL,
			version    BIGINT NOT NULL,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, key string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT key, kind, owner, authority, version, data, updated_at
		 FROM %s WHERE key = $1`, s.table), key)

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", key, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, kind model.Kind, prefix string) ([]*model.Account, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT key, kind, owner, authority, version, data, updated_at
		 FROM %s WHERE kind = $1 AND starts_with(key, $2) ORDER BY key`, s.table),
		string(kind), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Apply(ctx context.Context, writes []Write) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, w := range writes {
		ok, err := s.applyOne(ctx, tx, w, now)
		if err != nil {
			return fmt.Errorf("apply %s: %w", w.Key, err)
		}
		if !ok {
			return conflict(w.Key, w.ExpectVersion)
		}
	}
	return tx.Commit(ctx)
}

// execer is the part of pgx.Tx a single write needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// applyOne performs w inside tx and reports whether the stored version
// matched.
func (s *PostgresStore) applyOne(ctx context.Context, tx execer, w Write, now time.Time) (bool, error) {
	if w.Delete {
		if w.ExpectVersion == 0 {
			// Deleting an absent account succeeds only if it is absent.
			var exists bool
			err := tx.QueryRow(ctx, fmt.Sprintf(
				`SELECT EXISTS (SELECT 1 FROM %s WHERE key = $1)`, s.table),
				w.Key).Scan(&exists)
			return !exists, err
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE key = $1 AND version = $2`, s.table),
			w.Key, w.ExpectVersion)
		return tag.RowsAffected() == 1, err
	}

	auth, err := json.Marshal(w.Account.Authority)
	if err != nil {
		return false, err
	}
	args := []any{w.Key, string(w.Account.Kind), w.Account.Owner, string(auth),
		w.ExpectVersion + 1, string(w.Account.Data), now}

	if w.ExpectVersion == 0 {
		tag, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (key, kind, owner, authority, version, data, updated_at)
			 VALUES ($1, $2, $3, $4::JSONB, $5, $6::JSONB, $7)
			 ON CONFLICT (key) DO NOTHING`, s.table), args...)
		return tag.RowsAffected() == 1, err
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s
		 SET kind = $2, owner = $3, authority = $4::JSONB, version = $5,
		     data = $6::JSONB, updated_at = $7
		 WHERE key = $1 AND version = $8`, s.table),
		append(args, w.ExpectVersion)...)
	return tag.RowsAffected() == 1, err
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a          model.Account
		kind       string
		auth, data []byte
	)
	if err := row.Scan(&a.Key, &kind, &a.Owner, &auth, &a.Version, &data, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Kind = model.Kind(kind)
	a.Data = data
	if err := json.Unmarshal(auth, &a.Authority); err != nil {
		return nil, fmt.Errorf("decode authority %s: %w", a.Key, err)
	}
	return &a, nil
}
