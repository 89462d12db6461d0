// Package delegation moves write authority for an account between the base
// ledger and the rollup and reconciles the two copies.
//
// Authority only ever moves BaseLedger -> Delegated -> BaseLedger. While an
// account is delegated the base copy is read-only and the rollup copy is the
// only legal writer; Commit checkpoints the rollup copy back to base without
// changing authority.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/metrics"
	"github.com/atmx/league-engine/internal/model"
	"github.com/atmx/league-engine/internal/store"
)

// Status is the poll-able delegation state of an account.
type Status struct {
	IsDelegated bool      `json:"is_delegated"`
	Validator   string    `json:"validator,omitempty"`
	Pending     bool      `json:"pending"`
	ActivatesAt time.Time `json:"activates_at,omitempty"`
}

// Coordinator runs the delegation protocol between a base executor and a
// rollup executor.
type Coordinator struct {
	base      *executor.Executor
	rollup    *executor.Executor
	delay     time.Duration
	publisher events.Publisher
}

// NewCoordinator creates a coordinator. delay is how long a fresh
// delegation takes to become active on the rollup.
func NewCoordinator(base, rollup *executor.Executor, delay time.Duration, pub events.Publisher) *Coordinator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Coordinator{base: base, rollup: rollup, delay: delay, publisher: pub}
}

// Delegate hands write authority for key to validator. Only the account
// owner may delegate. An empty validator means the rollup's own.
func (c *Coordinator) Delegate(ctx context.Context, signer, key, validator string) error {
	if validator == "" {
		validator = c.rollup.Validator()
	}
	bs, rs := c.base.Store(), c.rollup.Store()

	b, err := bs.GetAccount(ctx, key)
	if err != nil {
		return err
	}
	if b.Owner != signer {
		return fmt.Errorf("%w: %s does not own %s", model.ErrUnauthorized, signer, key)
	}
	if b.Authority.IsDelegated() {
		return fmt.Errorf("%w: %s", model.ErrAlreadyDelegated, key)
	}

	// A fenced copy left by an earlier delegation is overwritten; the new
	// copy's version continues from it.
	var stale int64
	if r, err := rs.GetAccount(ctx, key); err == nil {
		stale = r.Version
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	now := c.rollup.Now()
	auth := model.Authority{
		Mode:             model.ModeDelegated,
		Validator:        validator,
		DelegatedAt:      now.Unix(),
		ActivatesAt:      now.Add(c.delay).UnixMilli(),
		CommittedVersion: stale + 1,
	}

	flipped := b.Clone()
	flipped.Authority = auth
	if err := bs.Apply(ctx, []store.Write{store.Put(flipped, b.Version)}); err != nil {
		return err
	}

	if err := rs.Apply(ctx, []store.Write{store.Put(flipped, stale)}); err != nil {
		// Hand authority back; the rollup never became writable.
		if rerr := bs.Apply(ctx, []store.Write{store.Put(b, b.Version+1)}); rerr != nil {
			slog.Error("delegation revert failed", "account", key, "error", rerr)
		}
		return fmt.Errorf("install rollup copy %s: %w", key, err)
	}

	metrics.DelegationTransitions.WithLabelValues("delegate").Inc()
	slog.Info("account delegated", "account", key, "validator", validator, "activates_at", auth.ActivatesAt)
	c.publish(ctx, events.AccountDelegated, key, now, auth)
	return nil
}

// Commit copies the rollup value of key to the base ledger and keeps the
// delegation. It reports whether anything was written: a commit with no
// rollup mutation since the previous one is a no-op.
func (c *Coordinator) Commit(ctx context.Context, key string) (bool, error) {
	b, r, err := c.pair(ctx, key)
	if err != nil {
		return false, err
	}
	if b.Authority.CommittedVersion == r.Version {
		metrics.Commits.WithLabelValues("noop").Inc()
		return false, nil
	}

	next := b.Clone()
	next.Data = r.Data
	next.Authority.CommittedVersion = r.Version
	if err := c.base.Store().Apply(ctx, []store.Write{store.Put(next, b.Version)}); err != nil {
		return false, err
	}

	metrics.Commits.WithLabelValues("applied").Inc()
	slog.Info("account committed", "account", key, "rollup_version", r.Version)
	c.publish(ctx, events.AccountCommitted, key, c.rollup.Now(), map[string]int64{"rollup_version": r.Version})
	return true, nil
}

// Undelegate commits key and returns write authority to the base ledger.
// Only the account owner may undelegate.
func (c *Coordinator) Undelegate(ctx context.Context, signer, key string) error {
	b, r, err := c.pair(ctx, key)
	if err != nil {
		return err
	}
	if b.Owner != signer {
		return fmt.Errorf("%w: %s does not own %s", model.ErrUnauthorized, signer, key)
	}
	bs, rs := c.base.Store(), c.rollup.Store()

	// Fence the rollup copy first so no rollup write can land after the
	// final value is read.
	fenced := r.Clone()
	fenced.Authority = model.Authority{Mode: model.ModeBaseLedger}
	if err := rs.Apply(ctx, []store.Write{store.Put(fenced, r.Version)}); err != nil {
		return err
	}

	final := b.Clone()
	final.Data = r.Data
	final.Authority = model.Authority{Mode: model.ModeBaseLedger}
	if err := bs.Apply(ctx, []store.Write{store.Put(final, b.Version)}); err != nil {
		if rerr := rs.Apply(ctx, []store.Write{store.Put(r, r.Version+1)}); rerr != nil {
			slog.Error("undelegation unfence failed", "account", key, "error", rerr)
		}
		return err
	}

	// The fenced copy stays on the rollup so its version keeps counting:
	// a write read under this delegation conflicts under the next one.

	metrics.DelegationTransitions.WithLabelValues("undelegate").Inc()
	slog.Info("account undelegated", "account", key)
	c.publish(ctx, events.AccountUndelegated, key, c.rollup.Now(), nil)
	return nil
}

// Status reports the delegation state of key. It has no side effects.
func (c *Coordinator) Status(ctx context.Context, key string) (Status, error) {
	b, err := c.base.Store().GetAccount(ctx, key)
	if err != nil {
		return Status{}, err
	}
	if !b.Authority.IsDelegated() {
		return Status{}, nil
	}
	return Status{
		IsDelegated: true,
		Validator:   b.Authority.Validator,
		Pending:     !b.Authority.Active(c.rollup.Now()),
		ActivatesAt: time.UnixMilli(b.Authority.ActivatesAt).UTC(),
	}, nil
}

// pair loads the base and rollup copies of a delegated account.
func (c *Coordinator) pair(ctx context.Context, key string) (*model.Account, *model.Account, error) {
	b, err := c.base.Store().GetAccount(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if !b.Authority.IsDelegated() {
		return nil, nil, fmt.Errorf("%w: %s", model.ErrNotDelegated, key)
	}
	r, err := c.rollup.Store().GetAccount(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s has no rollup copy", model.ErrNotDelegated, key)
	}
	if err != nil {
		return nil, nil, err
	}
	return b, r, nil
}

func (c *Coordinator) publish(ctx context.Context, t events.Type, key string, at time.Time, payload any) {
	c.publisher.Publish(ctx, events.Event{
		Type:      t,
		Account:   key,
		Layer:     string(executor.Base),
		Payload:   payload,
		Timestamp: at,
	})
}
