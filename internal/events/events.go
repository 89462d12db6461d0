// Package events publishes domain events after their instruction has been
// persisted. Publishing is best effort: a failed publish never rolls back
// ledger state.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names an event; it is also the tail of the NATS subject.
type Type string

const (
	LeagueCreated      Type = "league.created"
	LeagueStarted      Type = "league.started"
	LeagueClosed       Type = "league.closed"
	ParticipantJoined  Type = "participant.joined"
	ParticipantUpdated Type = "participant.updated"
	PositionOpened     Type = "position.opened"
	PositionClosed     Type = "position.closed"
	LeaderboardUpdated Type = "leaderboard.updated"
	AccountDelegated   Type = "account.delegated"
	AccountCommitted   Type = "account.committed"
	AccountUndelegated Type = "account.undelegated"
	RewardClaimed      Type = "reward.claimed"
	MarketListed       Type = "market.listed"
	MarketUpdated      Type = "market.updated"
)

// Event is one published fact. Position events carry no payload: position
// detail may be permission-gated, so consumers read it back through the
// API, which checks visibility for the requester.
type Event struct {
	Type      Type      `json:"type"`
	League    string    `json:"league,omitempty"`
	Account   string    `json:"account"`
	Layer     string    `json:"layer,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans an event out to every publisher.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) {
	for _, p := range m {
		p.Publish(ctx, evt)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
