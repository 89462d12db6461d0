package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind tags the entity stored in an account.
type Kind string

const (
	KindGlobalConfig Kind = "global_config"
	KindMarket       Kind = "market"
	KindLeague       Kind = "league"
	KindLeaderboard  Kind = "leaderboard"
	KindParticipant  Kind = "participant"
	KindPosition     Kind = "position"
)

// Mode says which executor may legally write an account.
type Mode string

const (
	ModeBaseLedger Mode = "base_ledger"
	ModeDelegated  Mode = "delegated"
)

// Authority is the delegation flag attached to every account.
type Authority struct {
	Mode        Mode   `json:"mode"`
	Validator   string `json:"validator,omitempty"`
	DelegatedAt int64  `json:"delegated_at,omitempty"`
	// ActivatesAt is the unix-millis instant from which the rollup copy
	// accepts writes; delegation propagates asynchronously.
	ActivatesAt int64 `json:"activates_at,omitempty"`
	// CommittedVersion is the rollup version last copied back to base.
	CommittedVersion int64 `json:"committed_version,omitempty"`
}

// IsDelegated reports whether write authority has left the base ledger.
func (a Authority) IsDelegated() bool { return a.Mode == ModeDelegated }

// Active reports whether a delegated authority is in effect at now.
func (a Authority) Active(now time.Time) bool {
	return a.IsDelegated() && now.UnixMilli() >= a.ActivatesAt
}

// Account is the persisted record. Data holds the JSON encoding of the
// typed entity named by Kind.
type Account struct {
	Key       string          `json:"key"`
	Kind      Kind            `json:"kind"`
	Owner     string          `json:"owner"`
	Authority Authority       `json:"authority"`
	Version   int64           `json:"version"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewAccount encodes v into a fresh base-ledger account.
func NewAccount(key string, kind Kind, owner string, v any) (*Account, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", kind, key, err)
	}
	return &Account{
		Key:       key,
		Kind:      kind,
		Owner:     owner,
		Authority: Authority{Mode: ModeBaseLedger},
		Data:      data,
	}, nil
}

// Decode unmarshals the account data into v.
func (a *Account) Decode(v any) error {
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", a.Kind, a.Key, err)
	}
	return nil
}

// Encode replaces the account data with the encoding of v.
func (a *Account) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", a.Kind, a.Key, err)
	}
	a.Data = data
	return nil
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.Data = append(json.RawMessage(nil), a.Data...)
	return &c
}

// --- Account keys (mirror the program-derived address seeds) ---

func GlobalConfigKey() string { return "global_config" }

func MarketKey(priceFeed string) string { return "market/" + priceFeed }

func LeagueKey(creator, id string) string { return "league/" + creator + "/" + id }

func LeaderboardKey(league string) string { return "leaderboard/" + league }

func ParticipantKey(league, user string) string { return "participant/" + league + "/" + user }

func PositionKey(league, user string, seq uint64) string {
	return PositionPrefix(league, user) + strconv.FormatUint(seq, 10)
}

// PositionPrefix is the key prefix shared by a participant's positions.
func PositionPrefix(league, user string) string {
	return "position/" + league + "/" + user + "/"
}

// VaultKey is the token account escrowing a league's entry fees.
func VaultKey(league string) string { return "vault/" + league }
