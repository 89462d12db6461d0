package league

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/fixedpoint"
	"github.com/atmx/league-engine/internal/metrics"
	"github.com/atmx/league-engine/internal/model"
	"github.com/atmx/league-engine/internal/position"
)

// InitPosition creates position seq for the signer in the Unopened state.
// Sequences are gapless from 1; positions are only created on the base
// ledger and never touch the participant, which may be delegated.
func (s *Service) InitPosition(ctx context.Context, signer, league string, seq uint64, feed string) (Receipt, error) {
	key := model.PositionKey(league, signer, seq)
	pk := model.ParticipantKey(league, signer)
	return s.submitBase(ctx, key, executor.Func{
		Label: "init_unopened_position",
		Keys:  []string{key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			l, err := executor.Load[model.League](ctx, tx, league)
			if err != nil {
				return err
			}
			if l.Status == model.LeagueEnded {
				return fmt.Errorf("%w: league is %s", model.ErrInvalidState, l.Status)
			}
			mk := model.MarketKey(feed)
			if !l.HasMarket(mk) {
				return fmt.Errorf("%w: market %s is not in the league", model.ErrInvalidParam, feed)
			}
			m, err := executor.Load[model.Market](ctx, tx, mk)
			if err != nil {
				return err
			}
			part, err := executor.Load[model.Participant](ctx, tx, pk)
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("%w: %s has not joined", model.ErrUnauthorized, signer)
			}
			if err != nil {
				return err
			}

			last, err := lastSequence(ctx, tx, league, signer)
			if err != nil {
				return err
			}
			pos, err := position.Init(part, seq, last, mk, m)
			if err != nil {
				return err
			}
			return tx.Create(ctx, key, model.KindPosition, signer, pos)
		},
	})
}

// lastSequence returns the highest initialized position sequence of user.
func lastSequence(ctx context.Context, tx *executor.Tx, league, user string) (uint64, error) {
	accts, err := tx.List(ctx, model.KindPosition, model.PositionPrefix(league, user))
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, a := range accts {
		var pos model.Position
		if err := a.Decode(&pos); err != nil {
			return 0, err
		}
		if pos.Seq > last {
			last = pos.Seq
		}
	}
	return last, nil
}

// OpenParams is an open request for an Unopened position.
type OpenParams struct {
	League    string          `json:"league"`
	Seq       uint64          `json:"seq"`
	Direction model.Direction `json:"direction"`
	Size      int64           `json:"size"` // base units
	Leverage  uint8           `json:"leverage"`
}

// OpenPosition opens a position at the current oracle price.
func (s *Service) OpenPosition(ctx context.Context, signer string, p OpenParams) (Receipt, error) {
	key := model.PositionKey(p.League, signer, p.Seq)
	pk := model.ParticipantKey(p.League, signer)
	return s.submit(ctx, key, executor.Func{
		Label: "open_position",
		Keys:  []string{pk, key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			l, err := executor.Load[model.League](ctx, tx, p.League)
			if err != nil {
				return err
			}
			if l.Status != model.LeagueActive {
				return fmt.Errorf("%w: league is %s", model.ErrInvalidState, l.Status)
			}
			pos, err := executor.Load[model.Position](ctx, tx, key)
			if err != nil {
				return err
			}
			part, err := executor.Load[model.Participant](ctx, tx, pk)
			if err != nil {
				return err
			}
			m, err := executor.Load[model.Market](ctx, tx, pos.Market)
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("%w: market %s was delisted", model.ErrInvalidParam, pos.Market)
			}
			if err != nil {
				return err
			}
			if !m.Enabled {
				return fmt.Errorf("%w: market %s is disabled", model.ErrInvalidState, m.Symbol)
			}

			maxLev := m.MaxLeverage
			if l.MaxLeverage > 0 && l.MaxLeverage < maxLev {
				maxLev = l.MaxLeverage
			}
			var px int64
			if pos.State() == model.PositionUnopened {
				if px, err = s.price(ctx, pos.PriceFeed); err != nil {
					return err
				}
			}
			err = position.Open(pos, part, position.OpenParams{
				Direction:   p.Direction,
				Size:        p.Size,
				Leverage:    p.Leverage,
				MaxLeverage: maxLev,
				Price:       px,
				Now:         tx.Now().Unix(),
			})
			if err != nil {
				return err
			}
			if err := tx.Save(ctx, key, pos); err != nil {
				return err
			}
			if err := tx.Save(ctx, pk, part); err != nil {
				return err
			}
			metrics.OpenPositions.Inc()
			tx.OnRollback(metrics.OpenPositions.Dec)
			slog.Info("position opened", "position", key, "direction", pos.Direction,
				"size", pos.Size, "entry_price", fixedpoint.String(pos.EntryPrice), "leverage", pos.Leverage)
			emit(tx, events.PositionOpened, p.League, key, nil)
			return nil
		},
	})
}

// ClosePosition realizes size units of position seq at the current oracle
// price; size 0 closes it entirely. Closing works on disabled and delisted
// markets.
func (s *Service) ClosePosition(ctx context.Context, signer, league string, seq uint64, size int64) (position.CloseResult, Receipt, error) {
	key := model.PositionKey(league, signer, seq)
	pk := model.ParticipantKey(league, signer)
	var res position.CloseResult
	r, err := s.submit(ctx, key, executor.Func{
		Label: "close_position",
		Keys:  []string{pk, key},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			pos, err := executor.Load[model.Position](ctx, tx, key)
			if err != nil {
				return err
			}
			part, err := executor.Load[model.Participant](ctx, tx, pk)
			if err != nil {
				return err
			}
			if pos.State() != model.PositionOpened {
				return fmt.Errorf("%w: position %d is %s", model.ErrInvalidState, seq, pos.State())
			}
			px, err := s.price(ctx, pos.PriceFeed)
			if err != nil {
				return err
			}
			if res, err = position.Close(pos, part, size, px, tx.Now().Unix()); err != nil {
				return err
			}
			if err := tx.Save(ctx, key, pos); err != nil {
				return err
			}
			if err := tx.Save(ctx, pk, part); err != nil {
				return err
			}
			if res.Full {
				metrics.OpenPositions.Dec()
				tx.OnRollback(metrics.OpenPositions.Inc)
			}
			slog.Info("position closed", "position", key, "closed_size", res.ClosedSize,
				"price", fixedpoint.String(px), "realized_pnl", fixedpoint.String(res.Realized), "full", res.Full)
			emit(tx, events.PositionClosed, league, key, nil)
			return nil
		},
	})
	if err != nil {
		return position.CloseResult{}, Receipt{}, err
	}
	return res, r, nil
}

// PositionRef pairs an open position with the feed that prices it.
type PositionRef struct {
	Seq  uint64 `json:"seq"`
	Feed string `json:"feed"`
}

// UpdateParticipant re-marks every open position of user and recomputes
// the participant's unrealized PnL and equity. refs must name each open
// position exactly once with its own feed.
func (s *Service) UpdateParticipant(ctx context.Context, league, user string, refs []PositionRef) (Receipt, error) {
	pk := model.ParticipantKey(league, user)
	keys := []string{pk}
	for _, ref := range refs {
		keys = append(keys, model.PositionKey(league, user, ref.Seq))
	}
	return s.submit(ctx, pk, executor.Func{
		Label: "update_participant",
		Keys:  keys,
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			part, err := executor.Load[model.Participant](ctx, tx, pk)
			if err != nil {
				return err
			}
			if len(refs) != len(part.OpenPositions) {
				return fmt.Errorf("%w: %d refs for %d open positions", model.ErrInvalidParam, len(refs), len(part.OpenPositions))
			}

			positions := make([]*model.Position, len(refs))
			prices := make([]int64, len(refs))
			seen := make(map[uint64]bool, len(refs))
			quotes := make(map[string]int64)
			for i, ref := range refs {
				if seen[ref.Seq] || !part.IsOpen(ref.Seq) {
					return fmt.Errorf("%w: position %d is not an open position", model.ErrInvalidParam, ref.Seq)
				}
				seen[ref.Seq] = true

				pos, err := executor.Load[model.Position](ctx, tx, keys[i+1])
				if err != nil {
					return err
				}
				if pos.PriceFeed != ref.Feed {
					return fmt.Errorf("%w: position %d is priced by %s, not %s", model.ErrInvalidParam, ref.Seq, pos.PriceFeed, ref.Feed)
				}
				px, ok := quotes[ref.Feed]
				if !ok {
					if px, err = s.price(ctx, ref.Feed); err != nil {
						return err
					}
					quotes[ref.Feed] = px
				}
				positions[i], prices[i] = pos, px
			}

			if err := position.Revalue(part, positions, prices); err != nil {
				return err
			}
			for i, pos := range positions {
				if err := tx.Save(ctx, keys[i+1], pos); err != nil {
					return err
				}
			}
			if err := tx.Save(ctx, pk, part); err != nil {
				return err
			}
			emit(tx, events.ParticipantUpdated, league, pk, map[string]int64{
				"equity":       part.Equity(),
				"total_volume": part.TotalVolume,
			})
			return nil
		},
	})
}

// UpdateAndCommitParticipant updates the participant and, when it is
// delegated, checkpoints it to the base ledger.
func (s *Service) UpdateAndCommitParticipant(ctx context.Context, league, user string, refs []PositionRef) (Receipt, bool, error) {
	r, err := s.UpdateParticipant(ctx, league, user, refs)
	if err != nil {
		return Receipt{}, false, err
	}
	if r.Layer != executor.Rollup {
		return r, false, nil
	}
	applied, err := s.coord.Commit(ctx, r.Account)
	if err != nil {
		return r, false, fmt.Errorf("commit %s: %w", r.Account, err)
	}
	return r, applied, nil
}

// CommitPosition checkpoints a delegated position to the base ledger. A
// position already in sync, or back on the base ledger, is a no-op.
func (s *Service) CommitPosition(ctx context.Context, league, user string, seq uint64) (bool, error) {
	key := model.PositionKey(league, user, seq)
	applied, err := s.coord.Commit(ctx, key)
	if errors.Is(err, model.ErrNotDelegated) {
		st, serr := s.coord.Status(ctx, key)
		if serr != nil {
			return false, serr
		}
		if !st.IsDelegated {
			return false, nil
		}
	}
	return applied, err
}
