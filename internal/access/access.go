// Package access is the privacy collaborator. It only answers whether an
// account may be disclosed to a requester; the engine's own reads and
// writes never consult it.
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrGroupExists      = errors.New("access: group already exists")
	ErrGroupNotFound    = errors.New("access: group not found")
	ErrPermissionExists = errors.New("access: permission already exists")
	ErrGroupInUse       = errors.New("access: group is in use")
)

// Checker decides whether requester may see account.
type Checker interface {
	IsVisible(ctx context.Context, account, requester string) (bool, error)
}

// GroupRegistry binds accounts to member groups. Accounts without a
// permission are public.
type GroupRegistry struct {
	mu          sync.RWMutex
	groups      map[string]map[string]struct{}
	permissions map[string]string // account -> group
}

// NewGroupRegistry creates an empty registry.
func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{
		groups:      make(map[string]map[string]struct{}),
		permissions: make(map[string]string),
	}
}

// CreateGroup registers a group with its initial members.
func (g *GroupRegistry) CreateGroup(_ context.Context, id string, members []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.groups[id]; ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, id)
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	g.groups[id] = set
	return nil
}

// DeleteGroup removes a group that no permission refers to.
func (g *GroupRegistry) DeleteGroup(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.groups[id]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	for account, group := range g.permissions {
		if group == id {
			return fmt.Errorf("%w: %s gates %s", ErrGroupInUse, id, account)
		}
	}
	delete(g.groups, id)
	return nil
}

// HasPermission reports whether account is gated.
func (g *GroupRegistry) HasPermission(_ context.Context, account string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.permissions[account]
	return ok, nil
}

// AddMember adds member to an existing group.
func (g *GroupRegistry) AddMember(_ context.Context, id, member string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	set[member] = struct{}{}
	return nil
}

// CreatePermission gates account behind group.
func (g *GroupRegistry) CreatePermission(_ context.Context, account, group string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.groups[group]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	if _, ok := g.permissions[account]; ok {
		return fmt.Errorf("%w: %s", ErrPermissionExists, account)
	}
	g.permissions[account] = group
	return nil
}

func (g *GroupRegistry) IsVisible(_ context.Context, account, requester string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	group, ok := g.permissions[account]
	if !ok {
		return true, nil
	}
	_, member := g.groups[group][requester]
	return member, nil
}

// Public is a Checker that discloses everything.
type Public struct{}

func (Public) IsVisible(context.Context, string, string) (bool, error) { return true, nil }
