package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/model"
	"github.com/atmx/league-engine/internal/store"
)

// Tx is the view an instruction has of the ledger while it runs. Reads are
// cached so an instruction sees its own writes; nothing reaches the store
// until the instruction returns without error.
type Tx struct {
	exec      *Executor
	now       time.Time
	writable  map[string]bool
	loaded    map[string]*model.Account
	versions  map[string]int64
	pending   map[string]*store.Write
	order     []string
	rollbacks []func()
	events    []events.Event
}

func newTx(e *Executor) *Tx {
	return &Tx{
		exec:     e,
		now:      e.now(),
		writable: make(map[string]bool),
		loaded:   make(map[string]*model.Account),
		versions: make(map[string]int64),
		pending:  make(map[string]*store.Write),
	}
}

// Layer returns the executing layer.
func (tx *Tx) Layer() Layer { return tx.exec.layer }

// Now is the instruction's timestamp; fixed for the whole instruction.
func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) remember(a *model.Account) {
	tx.loaded[a.Key] = a
	tx.versions[a.Key] = a.Version
}

// Get returns the account at key. Pending writes are visible.
func (tx *Tx) Get(ctx context.Context, key string) (*model.Account, error) {
	if w, ok := tx.pending[key]; ok {
		if w.Delete {
			return nil, fmt.Errorf("%w: account %s", model.ErrNotFound, key)
		}
		return w.Account.Clone(), nil
	}
	if a, ok := tx.loaded[key]; ok {
		return a.Clone(), nil
	}

	a, err := tx.exec.store.GetAccount(ctx, key)
	switch {
	case err == nil && (tx.exec.fallback == nil || a.Authority.IsDelegated()):
		tx.remember(a)
		return a.Clone(), nil
	case err != nil && (!errors.Is(err, model.ErrNotFound) || tx.exec.fallback == nil):
		return nil, err
	}
	// Read-only view of an account the rollup does not hold. A fenced copy
	// left by an undelegation is stale; the base copy is current.
	a, err = tx.exec.fallback.GetAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	tx.loaded[key] = a
	return a.Clone(), nil
}

// Exists reports whether key resolves.
func (tx *Tx) Exists(ctx context.Context, key string) (bool, error) {
	_, err := tx.Get(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Load decodes the account at key into a T.
func Load[T any](ctx context.Context, tx *Tx, key string) (*T, error) {
	a, err := tx.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := a.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// List returns the persisted accounts of kind under prefix on this layer.
// Writes staged by the running instruction are not included.
func (tx *Tx) List(ctx context.Context, kind model.Kind, prefix string) ([]*model.Account, error) {
	return tx.exec.store.ListAccounts(ctx, kind, prefix)
}

// Owner returns the owner recorded on the account at key.
func (tx *Tx) Owner(ctx context.Context, key string) (string, error) {
	a, err := tx.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return a.Owner, nil
}

func (tx *Tx) checkWritable(key string) error {
	if !tx.writable[key] {
		return fmt.Errorf("%w: %s is not writable in this instruction", model.ErrInvalidParam, key)
	}
	return nil
}

// Create records a new account. Accounts are only ever created on the base
// ledger.
func (tx *Tx) Create(ctx context.Context, key string, kind model.Kind, owner string, v any) error {
	if err := tx.checkWritable(key); err != nil {
		return err
	}
	if tx.exec.layer != Base {
		return fmt.Errorf("%w: %s cannot be created on the rollup", model.ErrNotDelegated, key)
	}
	exists, err := tx.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", model.ErrAlreadyExists, key)
	}
	a, err := model.NewAccount(key, kind, owner, v)
	if err != nil {
		return err
	}
	tx.stage(&store.Write{Key: key, Account: a, ExpectVersion: tx.versions[key]})
	return nil
}

// Save replaces the data of an existing account, keeping its authority.
func (tx *Tx) Save(ctx context.Context, key string, v any) error {
	if err := tx.checkWritable(key); err != nil {
		return err
	}
	a, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := a.Encode(v); err != nil {
		return err
	}
	tx.stage(&store.Write{Key: key, Account: a, ExpectVersion: tx.versions[key]})
	return nil
}

// Delete removes an existing account.
func (tx *Tx) Delete(ctx context.Context, key string) error {
	if err := tx.checkWritable(key); err != nil {
		return err
	}
	if _, err := tx.Get(ctx, key); err != nil {
		return err
	}
	tx.stage(&store.Write{Key: key, ExpectVersion: tx.versions[key], Delete: true})
	return nil
}

func (tx *Tx) stage(w *store.Write) {
	if _, ok := tx.pending[w.Key]; !ok {
		tx.order = append(tx.order, w.Key)
	}
	tx.pending[w.Key] = w
}

// OnRollback registers fn to undo a side effect outside the store, such
// as a token transfer, if the instruction does not persist.
func (tx *Tx) OnRollback(fn func()) {
	tx.rollbacks = append(tx.rollbacks, fn)
}

// Emit queues an event for publication after persistence.
func (tx *Tx) Emit(evt events.Event) {
	tx.events = append(tx.events, evt)
}

func (tx *Tx) rollback() {
	for i := len(tx.rollbacks) - 1; i >= 0; i-- {
		tx.rollbacks[i]()
	}
}

func (tx *Tx) batch() []store.Write {
	out := make([]store.Write, 0, len(tx.order))
	for _, key := range tx.order {
		out = append(out, *tx.pending[key])
	}
	return out
}
