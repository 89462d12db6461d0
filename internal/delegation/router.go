package delegation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/model"
)

// Router sends each instruction to the layer that holds authority over its
// writable accounts.
type Router struct {
	base   *executor.Executor
	rollup *executor.Executor
}

// NewRouter creates a router over the two layers.
func NewRouter(base, rollup *executor.Executor) *Router {
	return &Router{base: base, rollup: rollup}
}

// Base returns the base ledger executor.
func (r *Router) Base() *executor.Executor { return r.base }

// Rollup returns the rollup executor.
func (r *Router) Rollup() *executor.Executor { return r.rollup }

// Route picks the executor for ins: the rollup if any writable account is
// delegated, otherwise the base ledger. The chosen executor still enforces
// authority, so a mixed set is rejected there.
func (r *Router) Route(ctx context.Context, ins executor.Instruction) (*executor.Executor, error) {
	for _, key := range ins.Writable() {
		a, err := r.base.Store().GetAccount(ctx, key)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if a.Authority.IsDelegated() {
			return r.rollup, nil
		}
	}
	return r.base, nil
}

// Submit routes and executes ins.
func (r *Router) Submit(ctx context.Context, ins executor.Instruction) (string, executor.Layer, error) {
	exec, err := r.Route(ctx, ins)
	if err != nil {
		return "", "", err
	}
	sig, err := exec.Submit(ctx, ins)
	return sig, exec.Layer(), err
}

// Get returns the freshest copy of key: the rollup copy while delegated,
// otherwise the base copy.
func (r *Router) Get(ctx context.Context, key string) (*model.Account, error) {
	a, err := r.base.Store().GetAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	if !a.Authority.IsDelegated() {
		return a, nil
	}
	ra, err := r.rollup.Store().GetAccount(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return a, nil
	}
	return ra, err
}

// WaitActive polls the delegation status of key until the rollup accepts
// writes for it, pacing polls at one per interval.
func (c *Coordinator) WaitActive(ctx context.Context, key string, interval time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		st, err := c.Status(ctx, key)
		if err != nil {
			return err
		}
		if !st.IsDelegated {
			return fmt.Errorf("%w: %s", model.ErrNotDelegated, key)
		}
		if !st.Pending {
			return nil
		}
	}
}
