package league

import (
	"context"
	"fmt"

	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/leaderboard"
	"github.com/atmx/league-engine/internal/metrics"
	"github.com/atmx/league-engine/internal/model"
)

// UpdateLeaderboard ranks user's current equity and volume. The participant
// is read from the layer that executes the update: the rollup copy when the
// leaderboard is delegated, the committed base copy otherwise. It returns
// the user's equity rank, 0 if unranked.
func (s *Service) UpdateLeaderboard(ctx context.Context, league, user string) (int, Receipt, error) {
	lbKey := model.LeaderboardKey(league)
	pk := model.ParticipantKey(league, user)
	var rank int
	r, err := s.submit(ctx, lbKey, executor.Func{
		Label: "update_leaderboard_with_participant",
		Keys:  []string{lbKey},
		Fn: func(ctx context.Context, tx *executor.Tx) error {
			l, err := executor.Load[model.League](ctx, tx, league)
			if err != nil {
				return err
			}
			if l.Status == model.LeagueEnded {
				return fmt.Errorf("%w: rankings are final", model.ErrInvalidState)
			}
			part, err := executor.Load[model.Participant](ctx, tx, pk)
			if err != nil {
				return err
			}
			lb, err := executor.Load[model.Leaderboard](ctx, tx, lbKey)
			if err != nil {
				return err
			}

			rank = leaderboard.Update(lb, leaderboard.Entry{
				Participant: part.User,
				Equity:      part.Equity(),
				Volume:      part.TotalVolume,
			}, s.policy.TieBreak, tx.Now().Unix())
			if err := tx.Save(ctx, lbKey, lb); err != nil {
				return err
			}

			outcome := "ranked"
			if rank == 0 {
				outcome = "unranked"
			}
			metrics.LeaderboardUpdates.WithLabelValues(outcome).Inc()
			emit(tx, events.LeaderboardUpdated, league, lbKey, map[string]any{
				"participant": part.User,
				"rank":        rank,
				"equity":      leaderboard.Equity(lb),
				"volume":      leaderboard.Volume(lb),
			})
			return nil
		},
	})
	if err != nil {
		return 0, Receipt{}, err
	}
	return rank, r, nil
}
