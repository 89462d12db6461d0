package league

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/league-engine/internal/access"
	"github.com/atmx/league-engine/internal/delegation"
	"github.com/atmx/league-engine/internal/model"
)

// Delegate hands write authority for an account the signer owns to the
// rollup. An empty validator means the rollup's own.
func (s *Service) Delegate(ctx context.Context, signer, key, validator string) error {
	return s.coord.Delegate(ctx, signer, key, validator)
}

// Commit checkpoints a delegated account to the base ledger.
func (s *Service) Commit(ctx context.Context, key string) (bool, error) {
	return s.coord.Commit(ctx, key)
}

// Undelegate commits the account and returns authority to the base ledger.
func (s *Service) Undelegate(ctx context.Context, signer, key string) error {
	return s.coord.Undelegate(ctx, signer, key)
}

// DelegationStatus reports where the account is writable.
func (s *Service) DelegationStatus(ctx context.Context, key string) (delegation.Status, error) {
	return s.coord.Status(ctx, key)
}

// WaitDelegated blocks until the rollup accepts writes for key.
func (s *Service) WaitDelegated(ctx context.Context, key string, interval time.Duration) error {
	return s.coord.WaitActive(ctx, key, interval)
}

// DelegateParticipant delegates the signer's participant ledger in league.
func (s *Service) DelegateParticipant(ctx context.Context, signer, league, validator string) error {
	return s.Delegate(ctx, signer, model.ParticipantKey(league, signer), validator)
}

// UndelegateParticipant returns the signer's participant ledger to base.
func (s *Service) UndelegateParticipant(ctx context.Context, signer, league string) error {
	return s.Undelegate(ctx, signer, model.ParticipantKey(league, signer))
}

// DelegatePosition delegates one of the signer's positions.
func (s *Service) DelegatePosition(ctx context.Context, signer, league string, seq uint64, validator string) error {
	return s.Delegate(ctx, signer, model.PositionKey(league, signer, seq), validator)
}

// UndelegatePosition returns one of the signer's positions to base.
func (s *Service) UndelegatePosition(ctx context.Context, signer, league string, seq uint64) error {
	return s.Undelegate(ctx, signer, model.PositionKey(league, signer, seq))
}

// CreatePositionPermission gates a position behind a new member group.
// Only the position's owner may gate it.
func (s *Service) CreatePositionPermission(ctx context.Context, signer, league string, seq uint64, group string, members []string) error {
	key := model.PositionKey(league, signer, seq)
	a, err := s.router.Get(ctx, key)
	if err != nil {
		return err
	}
	if a.Owner != signer {
		return fmt.Errorf("%w: %s does not own %s", model.ErrUnauthorized, signer, key)
	}
	if err := validIdentity("group", group); err != nil {
		return err
	}
	gated, err := s.perms.HasPermission(ctx, key)
	if err != nil {
		return err
	}
	if gated {
		return fmt.Errorf("%w: %s already has a permission", model.ErrAlreadyExists, key)
	}
	if err := s.perms.CreateGroup(ctx, group, members); err != nil {
		return permissionError(err)
	}
	if err := s.perms.CreatePermission(ctx, key, group); err != nil {
		if derr := s.perms.DeleteGroup(ctx, group); derr != nil {
			slog.Error("orphan permission group", "group", group, "position", key, "error", derr)
		}
		return permissionError(err)
	}
	return nil
}

func permissionError(err error) error {
	switch {
	case errors.Is(err, access.ErrGroupExists), errors.Is(err, access.ErrPermissionExists):
		return fmt.Errorf("%w: %v", model.ErrAlreadyExists, err)
	case errors.Is(err, access.ErrGroupNotFound):
		return fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	return err
}
