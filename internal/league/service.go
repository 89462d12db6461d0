// Package league is the league program: market registry, league lifecycle,
// participant ledger, positions and leaderboard, each operation expressed as
// an executor instruction and routed to the layer holding authority.
//
// Service is the explicit context object the program runs against. Nothing
// here is global; tests build isolated instances over in-memory stores.
package league

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atmx/league-engine/internal/access"
	"github.com/atmx/league-engine/internal/delegation"
	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/leaderboard"
	"github.com/atmx/league-engine/internal/model"
	"github.com/atmx/league-engine/internal/oracle"
	"github.com/atmx/league-engine/internal/token"
)

// Policy holds the behaviors left open by the game rules.
type Policy struct {
	// AllowPendingJoin lets users join a league before it starts.
	AllowPendingJoin bool
	// TieBreak orders leaderboard entries with equal equity.
	TieBreak leaderboard.TieBreak
}

// Permissions is the privacy collaborator as the program uses it.
type Permissions interface {
	access.Checker
	CreateGroup(ctx context.Context, id string, members []string) error
	CreatePermission(ctx context.Context, account, group string) error
	HasPermission(ctx context.Context, account string) (bool, error)
	DeleteGroup(ctx context.Context, id string) error
}

// Receipt identifies an executed instruction.
type Receipt struct {
	Signature string         `json:"signature"`
	Layer     executor.Layer `json:"layer"`
	Account   string         `json:"account,omitempty"`
}

// Service runs league operations.
type Service struct {
	router *delegation.Router
	coord  *delegation.Coordinator
	prices *oracle.Reader
	tokens token.Ledger
	perms  Permissions
	policy Policy
}

// NewService wires the program to its executors and collaborators.
func NewService(router *delegation.Router, coord *delegation.Coordinator, prices *oracle.Reader,
	tokens token.Ledger, perms Permissions, policy Policy) *Service {
	if policy.TieBreak == "" {
		policy.TieBreak = leaderboard.TieBreakVolume
	}
	return &Service{
		router: router,
		coord:  coord,
		prices: prices,
		tokens: tokens,
		perms:  perms,
		policy: policy,
	}
}

// Policy returns the configured policy.
func (s *Service) Policy() Policy { return s.policy }

// submit routes ins by authority.
func (s *Service) submit(ctx context.Context, account string, ins executor.Instruction) (Receipt, error) {
	sig, layer, err := s.router.Submit(ctx, ins)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Signature: sig, Layer: layer, Account: account}, nil
}

// submitBase runs ins on the base ledger regardless of authority.
func (s *Service) submitBase(ctx context.Context, account string, ins executor.Instruction) (Receipt, error) {
	base := s.router.Base()
	sig, err := base.Submit(ctx, ins)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Signature: sig, Layer: base.Layer(), Account: account}, nil
}

// price reads the current price of feed in micro-units.
func (s *Service) price(ctx context.Context, feed string) (int64, error) {
	p, err := s.prices.Micro(ctx, feed)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrOracle, err)
	}
	return p, nil
}

// --- Reads ---

// get decodes the freshest copy of key into v.
func (s *Service) get(ctx context.Context, key string, v any) (*model.Account, error) {
	a, err := s.router.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := a.Decode(v); err != nil {
		return nil, err
	}
	return a, nil
}

// Config returns the global configuration.
func (s *Service) Config(ctx context.Context) (*model.GlobalConfig, error) {
	var cfg model.GlobalConfig
	if _, err := s.get(ctx, model.GlobalConfigKey(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Market returns the market listed for feed.
func (s *Service) Market(ctx context.Context, feed string) (*model.Market, error) {
	var m model.Market
	if _, err := s.get(ctx, model.MarketKey(feed), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Markets lists every market in key order.
func (s *Service) Markets(ctx context.Context) ([]model.Market, error) {
	return list[model.Market](ctx, s, model.KindMarket, "market/")
}

// League returns the league at key.
func (s *Service) League(ctx context.Context, key string) (*model.League, error) {
	var l model.League
	if _, err := s.get(ctx, key, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Leagues lists leagues, optionally only those of creator.
func (s *Service) Leagues(ctx context.Context, creator string) ([]model.League, error) {
	prefix := "league/"
	if creator != "" {
		prefix += creator + "/"
	}
	return list[model.League](ctx, s, model.KindLeague, prefix)
}

// Participant returns the freshest ledger of user in league.
func (s *Service) Participant(ctx context.Context, league, user string) (*model.Participant, error) {
	var p model.Participant
	if _, err := s.get(ctx, model.ParticipantKey(league, user), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Leaderboard returns the freshest leaderboard of league.
func (s *Service) Leaderboard(ctx context.Context, league string) (*model.Leaderboard, error) {
	var lb model.Leaderboard
	if _, err := s.get(ctx, model.LeaderboardKey(league), &lb); err != nil {
		return nil, err
	}
	return &lb, nil
}

// Position returns position seq of user if requester may see it.
func (s *Service) Position(ctx context.Context, requester, league, user string, seq uint64) (*model.Position, error) {
	key := model.PositionKey(league, user, seq)
	var pos model.Position
	if _, err := s.get(ctx, key, &pos); err != nil {
		return nil, err
	}
	visible, err := s.perms.IsVisible(ctx, key, requester)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, fmt.Errorf("%w: %s is not visible to %q", model.ErrUnauthorized, key, requester)
	}
	return &pos, nil
}

// Positions lists the positions of user that requester may see.
func (s *Service) Positions(ctx context.Context, requester, league, user string) ([]model.Position, error) {
	accts, err := s.router.Base().Store().ListAccounts(ctx, model.KindPosition, model.PositionPrefix(league, user))
	if err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(accts))
	for _, a := range accts {
		visible, err := s.perms.IsVisible(ctx, a.Key, requester)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}
		var pos model.Position
		if _, err := s.get(ctx, a.Key, &pos); err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// list decodes every base account of kind under prefix.
func list[T any](ctx context.Context, s *Service, kind model.Kind, prefix string) ([]T, error) {
	accts, err := s.router.Base().Store().ListAccounts(ctx, kind, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(accts))
	for _, a := range accts {
		var v T
		if err := a.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// --- Validation helpers ---

func validIdentity(kind, id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %s %q", model.ErrInvalidParam, kind, id)
	}
	return nil
}

// requireAdmin loads the config inside tx and checks signer against it.
func requireAdmin(ctx context.Context, tx *executor.Tx, signer string) (*model.GlobalConfig, error) {
	cfg, err := executor.Load[model.GlobalConfig](ctx, tx, model.GlobalConfigKey())
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: program not initialized", model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Admin != signer {
		return nil, fmt.Errorf("%w: %s is not the admin", model.ErrUnauthorized, signer)
	}
	return cfg, nil
}

func emit(tx *executor.Tx, t events.Type, league, account string, payload any) {
	tx.Emit(events.Event{Type: t, League: league, Account: account, Payload: payload})
}
