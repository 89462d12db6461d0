// Package leaderboard maintains the bounded top-K rankings of a league.
//
// Each update touches at most K entries: the participant's old slot is
// removed and the new one inserted by a linear scan, then the list is cut
// back to K. Scores are non-increasing from index 0.
package leaderboard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atmx/league-engine/internal/model"
)

// ErrInvalidK is returned for K outside 1..model.MaxLeaderboardK.
var ErrInvalidK = errors.New("leaderboard: invalid k")

// TieBreak orders entries with equal equity.
type TieBreak string

const (
	// TieBreakVolume ranks the higher total volume first.
	TieBreakVolume TieBreak = "volume"
	// TieBreakIncumbent keeps entries already ranked ahead of a newcomer
	// or a re-ranked entry with the same equity.
	TieBreakIncumbent TieBreak = "incumbent"
)

// ParseTieBreak validates a configured policy; empty means volume.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(s)) {
	case "", TieBreakVolume:
		return TieBreakVolume, nil
	case TieBreakIncumbent:
		return TieBreakIncumbent, nil
	}
	return "", fmt.Errorf("leaderboard: unknown tie-break %q", s)
}

// Entry is one participant's standing.
type Entry struct {
	Participant string `json:"participant"`
	Equity      int64  `json:"equity"`
	Volume      int64  `json:"volume"`
}

// New creates an empty leaderboard for league.
func New(league string, k uint16) (*model.Leaderboard, error) {
	if k == 0 || k > model.MaxLeaderboardK {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidK, k, model.MaxLeaderboardK)
	}
	return &model.Leaderboard{League: league, K: k}, nil
}

// Update refreshes both rankings with e and returns its 1-based equity
// rank, or 0 if it did not make the board.
func Update(lb *model.Leaderboard, e Entry, tb TieBreak, now int64) int {
	rank := upsertEquity(lb, e, tb)
	upsertVolume(lb, e)
	lb.LastUpdated = now
	return rank
}

// Equity returns the equity ranking as entries.
func Equity(lb *model.Leaderboard) []Entry {
	out := make([]Entry, len(lb.TopKEquity))
	for i := range lb.TopKEquity {
		out[i] = Entry{
			Participant: lb.TopKEquity[i],
			Equity:      lb.TopKEquityScores[i],
			Volume:      lb.TopKEquityVolumes[i],
		}
	}
	return out
}

// Volume returns the volume ranking as entries.
func Volume(lb *model.Leaderboard) []Entry {
	out := make([]Entry, len(lb.TopKVolume))
	for i := range lb.TopKVolume {
		out[i] = Entry{Participant: lb.TopKVolume[i], Volume: lb.TopKVolumeScores[i]}
	}
	return out
}

// above reports whether the moving entry e ranks above the resident r.
func above(e, r Entry, tb TieBreak) bool {
	if e.Equity != r.Equity {
		return e.Equity > r.Equity
	}
	if tb == TieBreakIncumbent {
		return false
	}
	if e.Volume != r.Volume {
		return e.Volume > r.Volume
	}
	return e.Participant < r.Participant
}

func upsertEquity(lb *model.Leaderboard, e Entry, tb TieBreak) int {
	entries := Equity(lb)
	entries = remove(entries, e.Participant)

	pos := len(entries)
	for i, r := range entries {
		if above(e, r, tb) {
			pos = i
			break
		}
	}
	if pos >= int(lb.K) {
		setEquity(lb, entries)
		return 0
	}
	entries = insert(entries, pos, e)
	if len(entries) > int(lb.K) {
		entries = entries[:lb.K]
	}
	setEquity(lb, entries)
	return pos + 1
}

func upsertVolume(lb *model.Leaderboard, e Entry) {
	entries := remove(Volume(lb), e.Participant)

	pos := len(entries)
	for i, r := range entries {
		if e.Volume > r.Volume || (e.Volume == r.Volume && e.Participant < r.Participant) {
			pos = i
			break
		}
	}
	if pos < int(lb.K) {
		entries = insert(entries, pos, Entry{Participant: e.Participant, Volume: e.Volume})
		if len(entries) > int(lb.K) {
			entries = entries[:lb.K]
		}
	}

	lb.TopKVolume = make([]string, len(entries))
	lb.TopKVolumeScores = make([]int64, len(entries))
	for i, x := range entries {
		lb.TopKVolume[i] = x.Participant
		lb.TopKVolumeScores[i] = x.Volume
	}
}

func setEquity(lb *model.Leaderboard, entries []Entry) {
	lb.TopKEquity = make([]string, len(entries))
	lb.TopKEquityScores = make([]int64, len(entries))
	lb.TopKEquityVolumes = make([]int64, len(entries))
	for i, x := range entries {
		lb.TopKEquity[i] = x.Participant
		lb.TopKEquityScores[i] = x.Equity
		lb.TopKEquityVolumes[i] = x.Volume
	}
}

func remove(entries []Entry, participant string) []Entry {
	for i, x := range entries {
		if x.Participant == participant {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

func insert(entries []Entry, pos int, e Entry) []Entry {
	entries = append(entries, Entry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = e
	return entries
}
