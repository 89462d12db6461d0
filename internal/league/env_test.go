package league_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atmx/league-engine/internal/access"
	"github.com/atmx/league-engine/internal/delegation"
	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/league"
	"github.com/atmx/league-engine/internal/model"
	"github.com/atmx/league-engine/internal/oracle"
	"github.com/atmx/league-engine/internal/store"
	"github.com/atmx/league-engine/internal/token"
)

const (
	admin    = "admin"
	treasury = "treasury"
	creator  = "alice"
	mint     = "USDC"
	solFeed  = "feed-sol"
	ethFeed  = "feed-eth"
	delay    = 2 * time.Second
	t0       = 1_700_000_000
)

// usd converts whole dollars to micro-units.
func usd(v int64) int64 { return v * 1_000_000 }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	clock  *clock
	bs, rs *store.MemoryStore
	base   *executor.Executor
	rollup *executor.Executor
	feed   *oracle.StaticFeed
	tokens *token.MemoryLedger
	perms  *access.GroupRegistry
	rec    *events.Recorder
	svc    *league.Service
}

func newEnv(t *testing.T) *env {
	return newEnvWith(t, league.Policy{})
}

// newEnvWith builds an initialized program with SOL and ETH markets and
// funded users.
func newEnvWith(t *testing.T, policy league.Policy) *env {
	t.Helper()
	ctx := context.Background()
	clk := &clock{now: time.Unix(t0, 0)}
	rec := &events.Recorder{}
	bs, rs := store.NewMemoryStore(), store.NewMemoryStore()
	base := executor.New(executor.Base, bs, executor.WithClock(clk.Now), executor.WithPublisher(rec))
	rollup := executor.New(executor.Rollup, rs,
		executor.WithFallback(bs), executor.WithValidator("v1"),
		executor.WithClock(clk.Now), executor.WithPublisher(rec))

	feed := oracle.NewStaticFeed()
	setPrice(feed, solFeed, 150)
	setPrice(feed, ethFeed, 3000)

	tokens := token.NewMemoryLedger()
	for _, u := range []string{"bob", "carol", "dave"} {
		tokens.Mint(mint, u, 5_000)
	}
	perms := access.NewGroupRegistry()

	svc := league.NewService(
		delegation.NewRouter(base, rollup),
		delegation.NewCoordinator(base, rollup, delay, rec),
		oracle.NewReader(feed, 0),
		tokens, perms, policy,
	)
	e := &env{clock: clk, bs: bs, rs: rs, base: base, rollup: rollup,
		feed: feed, tokens: tokens, perms: perms, rec: rec, svc: svc}

	_, err := svc.Initialize(ctx, admin, treasury, 1000)
	require.NoError(t, err)
	_, err = svc.CreateMarket(ctx, admin, league.MarketParams{Symbol: "SOL/USD", PriceFeed: solFeed, Decimals: 6, MaxLeverage: 20})
	require.NoError(t, err)
	_, err = svc.CreateMarket(ctx, admin, league.MarketParams{Symbol: "ETH/USD", PriceFeed: ethFeed, Decimals: 8, MaxLeverage: 10})
	require.NoError(t, err)
	return e
}

// setPrice publishes a whole-dollar price with an 8-digit exponent.
func setPrice(feed *oracle.StaticFeed, id string, dollars uint64) {
	feed.Set(id, dollars*100_000_000, -8)
}

func defaultLeague(id string) league.CreateParams {
	return league.CreateParams{
		ID:             id,
		Markets:        []string{solFeed, ethFeed},
		EntryTokenMint: mint,
		EntryAmount:    1000,
		VirtualDeposit: usd(10_000),
		StartTS:        t0 + 3600,
		EndTS:          t0 + 86_400,
		MetadataURI:    "https://example.com/l1.json",
		K:              10,
	}
}

// activeLeague creates and starts a league and returns its key.
func (e *env) activeLeague(t *testing.T, p league.CreateParams) string {
	t.Helper()
	ctx := context.Background()
	r, err := e.svc.CreateLeague(ctx, creator, p)
	require.NoError(t, err)
	_, err = e.svc.StartLeague(ctx, creator, r.Account)
	require.NoError(t, err)
	return r.Account
}

// joined returns an active league with every user joined.
func (e *env) joined(t *testing.T, users ...string) string {
	t.Helper()
	key := e.activeLeague(t, defaultLeague("L1"))
	for _, u := range users {
		_, err := e.svc.JoinLeague(context.Background(), u, key)
		require.NoError(t, err)
	}
	return key
}

// delegateActive delegates key and waits out the propagation delay.
func (e *env) delegateActive(t *testing.T, owner, key string) {
	t.Helper()
	require.NoError(t, e.svc.Delegate(context.Background(), owner, key, ""))
	e.clock.Advance(delay)
}

func (e *env) participant(t *testing.T, s store.Store, lk, user string) model.Participant {
	t.Helper()
	a, err := s.GetAccount(context.Background(), model.ParticipantKey(lk, user))
	require.NoError(t, err)
	var p model.Participant
	require.NoError(t, a.Decode(&p))
	return p
}

// open initializes and opens a SOL position.
func (e *env) open(t *testing.T, user, lk string, seq uint64, dir model.Direction, size int64, lev uint8) league.Receipt {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.InitPosition(ctx, user, lk, seq, solFeed)
	require.NoError(t, err)
	r, err := e.svc.OpenPosition(ctx, user, league.OpenParams{League: lk, Seq: seq, Direction: dir, Size: size, Leverage: lev})
	require.NoError(t, err)
	return r
}
