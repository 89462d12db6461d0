package store

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/atmx/league-engine/internal/model"
)

// fakeTx answers single-write statements the way Postgres would for a
// table holding at most one row.
type fakeTx struct {
	exists   bool
	affected int64
	sql      []string
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	verb := strings.Fields(sql)[0]
	return pgconn.NewCommandTag(verb + " " + strconv.FormatInt(f.affected, 10)), nil
}

func (f *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.sql = append(f.sql, sql)
	return boolRow(f.exists)
}

type boolRow bool

func (r boolRow) Scan(dest ...any) error {
	*dest[0].(*bool) = bool(r)
	return nil
}

func TestPostgresApply_DeleteAbsentChecksRow(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := NewPostgresStore(nil, "base_accounts")

	present := &fakeTx{exists: true}
	ok, err := s.applyOne(ctx, present, Del("market/SOL", 0), time.Now())
	require.NoError(err)
	require.False(ok, "expecting absence of an existing row is a conflict")
	require.Len(present.sql, 1)
	require.NotContains(present.sql[0], "DELETE")

	absent := &fakeTx{}
	ok, err = s.applyOne(ctx, absent, Del("market/SOL", 0), time.Now())
	require.NoError(err)
	require.True(ok)
}

func TestPostgresApply_VersionedWrites(t *testing.T) {
	ctx := context.Background()
	s := NewPostgresStore(nil, "base_accounts")
	acct := newAccount(t, "market/SOL", model.KindMarket)

	cases := []struct {
		name     string
		write    Write
		affected int64
		want     bool
		verb     string
	}{
		{"insert", Put(acct, 0), 1, true, "INSERT"},
		{"insert existing", Put(acct, 0), 0, false, "INSERT"},
		{"update", Put(acct, 3), 1, true, "UPDATE"},
		{"update stale", Put(acct, 3), 0, false, "UPDATE"},
		{"delete", Del(acct.Key, 3), 1, true, "DELETE"},
		{"delete stale", Del(acct.Key, 3), 0, false, "DELETE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := &fakeTx{affected: tc.affected}
			ok, err := s.applyOne(ctx, tx, tc.write, time.Now())
			require.NoError(t, err)
			require.Equal(t, tc.want, ok)
			require.Len(t, tx.sql, 1)
			require.Equal(t, tc.verb, strings.Fields(tx.sql[0])[0])
		})
	}
}
