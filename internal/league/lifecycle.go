package league

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/fixedpoint"
	"github.com/atmx/league-engine/internal/leaderboard"
	"github.com/atmx/league-engine/internal/model"
	"github.com/atmx/league-engine/internal/token"
)

// CreateParams describes a new league.
type CreateParams struct {
	ID              string   `json:"id"`
	Markets         []string `json:"markets"` // price feeds of listed markets
	EntryTokenMint  string   `json:"entry_token_mint"`
	EntryAmount     int64    `json:"entry_amount"`
	VirtualDeposit  int64    `json:"virtual_deposit"` // micro-units
	StartTS         int64    `json:"start_ts"`
	EndTS           int64    `json:"end_ts"`
	MetadataURI     string   `json:"metadata_uri"`
	MaxParticipants uint32   `json:"max_participants"` // 0 = unlimited
	MaxLeverage     uint8    `json:"max_leverage"`     // 0 = market caps only
	K               uint16   `json:"k"`
}

func (p CreateParams) validate() error {
	switch {
	case p.ID == "" || len(p.ID) > model.MaxLeagueIDLen:
		return fmt.Errorf("%w: league id %q", model.ErrInvalidParam, p.ID)
	case len(p.Markets) == 0 || len(p.Markets) > model.MaxMarketsPerLeague:
		return fmt.Errorf("%w: %d markets (1..%d)", model.ErrInvalidParam, len(p.Markets), model.MaxMarketsPerLeague)
	case p.EndTS <= p.StartTS:
		return fmt.Errorf("%w: end %d <= start %d", model.ErrInvalidTimeRange, p.EndTS, p.StartTS)
	case len(p.MetadataURI) > model.MaxMetadataURILen:
		return fmt.Errorf("%w: metadata uri longer than %d", model.ErrInvalidParam, model.MaxMetadataURILen)
	case p.EntryAmount < 0:
		return fmt.Errorf("%w: entry amount %d", model.ErrInvalidParam, p.EntryAmount)
	case p.EntryAmount > 0 && p.EntryTokenMint == "":
		return fmt.Errorf("%w: entry token mint required", model.ErrInvalidParam)
	case p.VirtualDeposit <= 0:
		return fmt.Errorf("%w: virtual deposit %d", model.ErrInvalidParam, p.VirtualDeposit)
	}
	if err := validIdentity("league id", p.ID); err != nil {
		return err
	}
	seen := make(map[string]bool, len(p.Markets))
	for _, feed := range p.Markets {
		if seen[feed] {
			return fmt.Errorf("%w: duplicate market %s", model.ErrInvalidParam, feed)
		}
		seen[feed] = true
	}
	return nil
}

// CreateLeague creates a Pending league, its leaderboard and reward vault.
func (s *Service) CreateLeague(ctx context.Context, signer string, p CreateParams) (Receipt, error) {
	key := model.LeagueKey(signer, p.ID)
	lbKey := model.LeaderboardKey(key)
	return s.submitBase(ctx, key, executor.Func{
		Label: "create_league",
		Keys:  []string{key, lbKey},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			if err := validIdentity("creator", signer); err != nil {
				return err
			}
			if err := p.validate(); err != nil {
				return err
			}
			cfg, err := executor.Load[model.GlobalConfig](ctx, tx, model.GlobalConfigKey())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			markets := make([]string, 0, len(p.Markets))
			for _, feed := range p.Markets {
				mk := model.MarketKey(feed)
				m, err := executor.Load[model.Market](ctx, tx, mk)
				if errors.Is(err, model.ErrNotFound) {
					return fmt.Errorf("%w: market %s is not listed", model.ErrInvalidParam, feed)
				}
				if err != nil {
					return err
				}
				if !m.Enabled {
					return fmt.Errorf("%w: market %s is disabled", model.ErrInvalidParam, feed)
				}
				markets = append(markets, mk)
			}

			lb, err := leaderboard.New(key, p.K)
			if err != nil {
				return fmt.Errorf("%w: %v", model.ErrInvalidParam, err)
			}
			lb.LastUpdated = tx.Now().Unix()

			l := model.League{
				ID:               p.ID,
				Creator:          signer,
				Status:           model.LeaguePending,
				Markets:          markets,
				Leaderboard:      lbKey,
				EntryTokenMint:   p.EntryTokenMint,
				EntryAmount:      p.EntryAmount,
				RewardVault:      model.VaultKey(key),
				VirtualOnDeposit: p.VirtualDeposit,
				MetadataURI:      p.MetadataURI,
				StartTS:          p.StartTS,
				EndTS:            p.EndTS,
				MaxParticipants:  p.MaxParticipants,
				MaxLeverage:      p.MaxLeverage,
				FeeBps:           cfg.FeeBps,
			}
			if err := tx.Create(ctx, key, model.KindLeague, signer, l); err != nil {
				return err
			}
			if err := tx.Create(ctx, lbKey, model.KindLeaderboard, signer, lb); err != nil {
				return err
			}
			slog.Info("league created", "league", key, "markets", len(markets), "k", p.K)
			emit(tx, events.LeagueCreated, key, key, l)
			return nil
		},
	})
}

// StartLeague moves a league from Pending to Active. Before its start time
// only the creator may start it; afterwards anyone may.
func (s *Service) StartLeague(ctx context.Context, signer, key string) (Receipt, error) {
	return s.submit(ctx, key, executor.Func{
		Label: "start_league",
		Keys:  []string{key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			l, err := executor.Load[model.League](ctx, tx, key)
			if err != nil {
				return err
			}
			if l.Status != model.LeaguePending {
				return fmt.Errorf("%w: league is %s", model.ErrInvalidState, l.Status)
			}
			if tx.Now().Unix() < l.StartTS && signer != l.Creator {
				return fmt.Errorf("%w: only the creator may start before %d", model.ErrUnauthorized, l.StartTS)
			}
			l.Status = model.LeagueActive
			if err := tx.Save(ctx, key, l); err != nil {
				return err
			}
			emit(tx, events.LeagueStarted, key, key, nil)
			return nil
		},
	})
}

// CloseLeague ends an Active league. Before its end time only the creator
// may close it. Closing fixes the reward total from the vault balance and
// pays the protocol fee to the treasury.
func (s *Service) CloseLeague(ctx context.Context, signer, key string) (Receipt, error) {
	return s.submit(ctx, key, executor.Func{
		Label: "close_league",
		Keys:  []string{key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			l, err := executor.Load[model.League](ctx, tx, key)
			if err != nil {
				return err
			}
			if l.Status != model.LeagueActive {
				return fmt.Errorf("%w: league is %s", model.ErrInvalidState, l.Status)
			}
			if tx.Now().Unix() < l.EndTS && signer != l.Creator {
				return fmt.Errorf("%w: only the creator may close before %d", model.ErrUnauthorized, l.EndTS)
			}
			cfg, err := executor.Load[model.GlobalConfig](ctx, tx, model.GlobalConfigKey())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var total int64
			if l.EntryTokenMint != "" {
				if total, err = s.tokens.BalanceOf(ctx, l.EntryTokenMint, l.RewardVault); err != nil {
					return err
				}
			}
			fee, err := fixedpoint.Bps(total, l.FeeBps)
			if err != nil {
				return fmt.Errorf("%w: protocol fee: %v", model.ErrInvalidParam, err)
			}

			l.Status = model.LeagueEnded
			l.TotalReward = total
			l.ProtocolFee = fee
			l.PrizePool = total - fee
			if err := tx.Save(ctx, key, l); err != nil {
				return err
			}
			if err := s.transfer(ctx, tx, l.EntryTokenMint, l.RewardVault, cfg.Treasury, fee); err != nil {
				return err
			}
			slog.Info("league closed", "league", key, "total_reward", total, "protocol_fee", fee)
			emit(tx, events.LeagueClosed, key, key, map[string]int64{
				"total_reward": total, "protocol_fee": fee, "prize_pool": l.PrizePool,
			})
			return nil
		},
	})
}

// JoinLeague escrows the entry fee and creates the signer's participant
// ledger with the league's virtual deposit.
func (s *Service) JoinLeague(ctx context.Context, signer, key string) (Receipt, error) {
	pk := model.ParticipantKey(key, signer)
	return s.submitBase(ctx, pk, executor.Func{
		Label: "join_league",
		Keys:  []string{key, pk},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			if err := validIdentity("user", signer); err != nil {
				return err
			}
			l, err := executor.Load[model.League](ctx, tx, key)
			if err != nil {
				return err
			}
			switch l.Status {
			case model.LeagueActive:
			case model.LeaguePending:
				if !s.policy.AllowPendingJoin {
					return fmt.Errorf("%w: league has not started", model.ErrInvalidState)
				}
			default:
				return fmt.Errorf("%w: league is %s", model.ErrInvalidState, l.Status)
			}
			exists, err := tx.Exists(ctx, pk)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: %s", model.ErrAlreadyJoined, pk)
			}
			if l.MaxParticipants > 0 && l.ParticipantCount >= l.MaxParticipants {
				return fmt.Errorf("%w: %d participants", model.ErrLeagueFull, l.ParticipantCount)
			}

			l.ParticipantCount++
			l.TotalEscrowed += l.EntryAmount
			if err := tx.Save(ctx, key, l); err != nil {
				return err
			}
			part := model.Participant{
				League:         key,
				User:           signer,
				VirtualBalance: l.VirtualOnDeposit,
				OpenPositions:  []uint64{},
			}
			if err := tx.Create(ctx, pk, model.KindParticipant, signer, part); err != nil {
				return err
			}
			if err := s.transfer(ctx, tx, l.EntryTokenMint, signer, l.RewardVault, l.EntryAmount); err != nil {
				return err
			}
			emit(tx, events.ParticipantJoined, key, pk, map[string]int64{
				"virtual_balance": part.VirtualBalance, "entry_amount": l.EntryAmount,
			})
			return nil
		},
	})
}

// ClaimReward pays an equal share of the prize pool to a participant
// ranked in the final equity top-K. The participant must be back on the
// base ledger.
func (s *Service) ClaimReward(ctx context.Context, signer, key string) (int64, Receipt, error) {
	pk := model.ParticipantKey(key, signer)
	var amount int64
	r, err := s.submitBase(ctx, pk, executor.Func{
		Label: "claim_reward",
		Keys:  []string{pk},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			l, err := executor.Load[model.League](ctx, tx, key)
			if err != nil {
				return err
			}
			if l.Status != model.LeagueEnded {
				return fmt.Errorf("%w: league is %s", model.ErrInvalidState, l.Status)
			}
			part, err := executor.Load[model.Participant](ctx, tx, pk)
			if err != nil {
				return err
			}
			if part.Claimed {
				return fmt.Errorf("%w: reward already claimed", model.ErrInvalidState)
			}
			lb, err := executor.Load[model.Leaderboard](ctx, tx, l.Leaderboard)
			if err != nil {
				return err
			}
			if lb.EquityRank(signer) == 0 {
				return fmt.Errorf("%w: %s is not ranked", model.ErrUnauthorized, signer)
			}

			amount = l.PrizePool / int64(len(lb.TopKEquity))
			part.Claimed = true
			if err := tx.Save(ctx, pk, part); err != nil {
				return err
			}
			if err := s.transfer(ctx, tx, l.EntryTokenMint, l.RewardVault, signer, amount); err != nil {
				return err
			}
			emit(tx, events.RewardClaimed, key, pk, map[string]int64{"amount": amount})
			return nil
		},
	})
	if err != nil {
		return 0, Receipt{}, err
	}
	return amount, r, nil
}

// transfer moves tokens as part of tx and undoes the move if tx does not
// persist.
func (s *Service) transfer(ctx context.Context, tx *executor.Tx, mint, from, to string, amount int64) error {
	if amount == 0 {
		return nil
	}
	if err := s.tokens.Transfer(ctx, mint, from, to, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", model.ErrInsufficientFunds, err)
		}
		return err
	}
	tx.OnRollback(func() {
		// Background context: the request context may already be done.
		if err := s.tokens.Transfer(context.Background(), mint, to, from, amount); err != nil {
			slog.Error("token transfer not reverted", "mint", mint, "from", to, "to", from, "amount", amount, "error", err)
		}
	})
	return nil
}
