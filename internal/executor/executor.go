// Package executor runs instructions against one ledger layer: the base
// ledger or the rollup. Every instruction is all-or-nothing; the single
// writer rule is enforced before the instruction body runs.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/metrics"
	"github.com/atmx/league-engine/internal/model"
	"github.com/atmx/league-engine/internal/store"
)

// Layer identifies an executor.
type Layer string

const (
	Base   Layer = "base"
	Rollup Layer = "rollup"
)

// Instruction is one signed state transition. Writable lists every account
// the instruction may create, update or delete.
type Instruction interface {
	Name() string
	Writable() []string
	Apply(ctx context.Context, tx *Tx) error
}

// Func adapts a closure to Instruction.
type Func struct {
	Label string
	Keys  []string
	Fn    func(ctx context.Context, tx *Tx) error
}

func (f Func) Name() string { return f.Label }

func (f Func) Writable() []string { return f.Keys }

func (f Func) Apply(ctx context.Context, tx *Tx) error { return f.Fn(ctx, tx) }

// Executor applies instructions to a store.
type Executor struct {
	layer     Layer
	store     store.Store
	fallback  store.Store
	validator string
	now       func() time.Time
	publisher events.Publisher
}

// Option configures an Executor.
type Option func(*Executor)

// WithFallback sets the store read when an account is absent locally. The
// rollup reads non-delegated accounts from the base ledger this way.
func WithFallback(s store.Store) Option { return func(e *Executor) { e.fallback = s } }

// WithValidator sets the validator identity of a rollup executor.
func WithValidator(id string) Option { return func(e *Executor) { e.validator = id } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// WithPublisher sets where emitted events go after persistence.
func WithPublisher(p events.Publisher) Option { return func(e *Executor) { e.publisher = p } }

// New creates an executor for layer over st.
func New(layer Layer, st store.Store, opts ...Option) *Executor {
	e := &Executor{
		layer:     layer,
		store:     st,
		now:       time.Now,
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Layer() Layer { return e.layer }

func (e *Executor) Validator() string { return e.validator }

func (e *Executor) Store() store.Store { return e.store }

func (e *Executor) Now() time.Time { return e.now() }

// Get reads an account as seen by this layer. With a fallback, accounts
// the layer does not hold, or holds only as a fenced copy, come from the
// fallback.
func (e *Executor) Get(ctx context.Context, key string) (*model.Account, error) {
	a, err := e.store.GetAccount(ctx, key)
	if e.fallback == nil {
		return a, err
	}
	if errors.Is(err, model.ErrNotFound) || (err == nil && !a.Authority.IsDelegated()) {
		return e.fallback.GetAccount(ctx, key)
	}
	return a, err
}

// Submit executes ins and returns its signature.
func (e *Executor) Submit(ctx context.Context, ins Instruction) (string, error) {
	start := time.Now()
	sig, err := e.submit(ctx, ins)
	metrics.ObserveInstruction(string(e.layer), ins.Name(), start, err)
	if err != nil {
		slog.Warn("instruction rejected",
			"layer", e.layer, "instruction", ins.Name(), "error", err)
		return "", err
	}
	slog.Info("instruction executed",
		"layer", e.layer, "instruction", ins.Name(), "signature", sig)
	return sig, nil
}

func (e *Executor) submit(ctx context.Context, ins Instruction) (string, error) {
	tx := newTx(e)
	for _, key := range ins.Writable() {
		tx.writable[key] = true
		if err := e.checkAuthority(ctx, tx, key); err != nil {
			return "", err
		}
	}

	if err := ins.Apply(ctx, tx); err != nil {
		tx.rollback()
		return "", err
	}

	if writes := tx.batch(); len(writes) > 0 {
		if err := e.store.Apply(ctx, writes); err != nil {
			tx.rollback()
			return "", fmt.Errorf("%s: %w", ins.Name(), err)
		}
	}

	sig := uuid.NewString()
	for _, evt := range tx.events {
		evt.Layer = string(e.layer)
		evt.Signature = sig
		evt.Timestamp = tx.now
		e.publisher.Publish(ctx, evt)
	}
	return sig, nil
}

// checkAuthority rejects writes from the side that does not hold the
// account. Base refuses delegated accounts; the rollup refuses anything
// not actively delegated to its validator.
func (e *Executor) checkAuthority(ctx context.Context, tx *Tx, key string) error {
	a, err := e.store.GetAccount(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		if e.layer == Rollup {
			return fmt.Errorf("%w: %s is not on the rollup", model.ErrNotDelegated, key)
		}
		tx.versions[key] = 0
		return nil
	}
	if err != nil {
		return err
	}

	switch e.layer {
	case Base:
		if a.Authority.IsDelegated() {
			return fmt.Errorf("%w: %s is delegated to %s", model.ErrUnauthorized, key, a.Authority.Validator)
		}
	case Rollup:
		if !a.Authority.Active(tx.now) || a.Authority.Validator != e.validator {
			return fmt.Errorf("%w: %s", model.ErrNotDelegated, key)
		}
	}
	tx.remember(a)
	return nil
}
