package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"github.com/atmx/league-engine/internal/model"
)

func TestCachedStore_MissPopulatesCache(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	primary := NewMemoryStore()
	require.NoError(primary.Apply(ctx, []Write{Put(newAccount(t, "market/SOL", model.KindMarket), 0)}))
	stored, err := primary.GetAccount(ctx, "market/SOL")
	require.NoError(err)
	data, err := json.Marshal(stored)
	require.NoError(err)

	db, mock := redismock.NewClientMock()
	mock.ExpectGet("cache:market/SOL").RedisNil()
	mock.ExpectSet("cache:market/SOL", data, time.Minute).SetVal("OK")

	s := NewCachedStore(primary, db, time.Minute)
	got, err := s.GetAccount(ctx, "market/SOL")
	require.NoError(err)
	require.Equal(int64(1), got.Version)
	require.NoError(mock.ExpectationsWereMet())
}

func TestCachedStore_HitSkipsPrimary(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	cached := newAccount(t, "market/SOL", model.KindMarket)
	cached.Version = 7
	data, err := json.Marshal(cached)
	require.NoError(err)

	db, mock := redismock.NewClientMock()
	mock.ExpectGet("cache:market/SOL").SetVal(string(data))

	// Primary is empty: a hit must not consult it.
	s := NewCachedStore(NewMemoryStore(), db, time.Minute)
	got, err := s.GetAccount(ctx, "market/SOL")
	require.NoError(err)
	require.Equal(int64(7), got.Version)
	require.NoError(mock.ExpectationsWereMet())
}

func TestCachedStore_ApplyInvalidates(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, mock := redismock.NewClientMock()
	mock.ExpectDel("cache:a", "cache:b").SetVal(0)

	s := NewCachedStore(NewMemoryStore(), db, time.Minute)
	err := s.Apply(ctx, []Write{
		Put(newAccount(t, "a", model.KindMarket), 0),
		Put(newAccount(t, "b", model.KindMarket), 0),
	})
	require.NoError(err)
	require.NoError(mock.ExpectationsWereMet())
}

func TestCachedStore_FailedApplyKeepsCache(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, mock := redismock.NewClientMock()
	s := NewCachedStore(NewMemoryStore(), db, time.Minute)

	err := s.Apply(ctx, []Write{Put(newAccount(t, "a", model.KindMarket), 3)})
	require.ErrorIs(err, model.ErrConflict)
	require.NoError(mock.ExpectationsWereMet())
}

func TestRedisStore_GetAccount(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	a := newAccount(t, "participant/L/u", model.KindParticipant)
	a.Version = 3
	data, err := json.Marshal(a)
	require.NoError(err)

	db, mock := redismock.NewClientMock()
	mock.ExpectGet("rollup:acct:participant/L/u").SetVal(string(data))
	mock.ExpectGet("rollup:acct:participant/L/missing").RedisNil()

	s := NewRedisStore(db, "rollup")
	got, err := s.GetAccount(ctx, "participant/L/u")
	require.NoError(err)
	require.Equal(int64(3), got.Version)
	require.Equal(model.KindParticipant, got.Kind)

	_, err = s.GetAccount(ctx, "participant/L/missing")
	require.ErrorIs(err, model.ErrNotFound)
	require.NoError(mock.ExpectationsWereMet())
}

func TestRedisStore_ListAccounts(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	alice := newAccount(t, "participant/L/alice", model.KindParticipant)
	data, err := json.Marshal(alice)
	require.NoError(err)

	db, mock := redismock.NewClientMock()
	mock.ExpectSMembers("rollup:kind:participant").
		SetVal([]string{"participant/other/x", "participant/L/gone", "participant/L/alice"})
	mock.ExpectMGet("rollup:acct:participant/L/alice", "rollup:acct:participant/L/gone").
		SetVal([]interface{}{string(data), nil})

	got, err := NewRedisStore(db, "rollup").ListAccounts(ctx, model.KindParticipant, "participant/L/")
	require.NoError(err)
	require.Len(got, 1)
	require.Equal("participant/L/alice", got[0].Key)
	require.NoError(mock.ExpectationsWereMet())
}
