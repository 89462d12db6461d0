package leaderboard

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atmx/league-engine/internal/model"
)

func board(t *testing.T, k uint16) *model.Leaderboard {
	t.Helper()
	lb, err := New("league/alice/L1", k)
	require.NoError(t, err)
	return lb
}

func TestNew_ValidatesK(t *testing.T) {
	_, err := New("l", 0)
	require.ErrorIs(t, err, ErrInvalidK)
	_, err = New("l", model.MaxLeaderboardK+1)
	require.ErrorIs(t, err, ErrInvalidK)
	_, err = New("l", model.MaxLeaderboardK)
	require.NoError(t, err)
}

func TestParseTieBreak(t *testing.T) {
	tb, err := ParseTieBreak("")
	require.NoError(t, err)
	require.Equal(t, TieBreakVolume, tb)
	tb, err = ParseTieBreak("Incumbent")
	require.NoError(t, err)
	require.Equal(t, TieBreakIncumbent, tb)
	_, err = ParseTieBreak("random")
	require.Error(t, err)
}

func TestUpdate_InsertsSorted(t *testing.T) {
	require := require.New(t)
	lb := board(t, 3)

	require.Equal(1, Update(lb, Entry{"a", 100, 0}, TieBreakVolume, 1))
	require.Equal(1, Update(lb, Entry{"b", 300, 0}, TieBreakVolume, 2))
	require.Equal(2, Update(lb, Entry{"c", 200, 0}, TieBreakVolume, 3))

	require.Equal([]string{"b", "c", "a"}, lb.TopKEquity)
	require.Equal([]int64{300, 200, 100}, lb.TopKEquityScores)
	require.Equal(int64(3), lb.LastUpdated)
}

func TestUpdate_InPlaceResorts(t *testing.T) {
	require := require.New(t)
	lb := board(t, 3)
	Update(lb, Entry{"a", 100, 0}, TieBreakVolume, 1)
	Update(lb, Entry{"b", 200, 0}, TieBreakVolume, 1)
	Update(lb, Entry{"c", 300, 0}, TieBreakVolume, 1)

	require.Equal(1, Update(lb, Entry{"a", 500, 0}, TieBreakVolume, 2))
	require.Equal([]string{"a", "c", "b"}, lb.TopKEquity)

	require.Equal(3, Update(lb, Entry{"a", 50, 0}, TieBreakVolume, 3))
	require.Equal([]string{"c", "b", "a"}, lb.TopKEquity)
	require.Len(lb.TopKEquity, 3, "no duplicate entries")
}

func TestUpdate_EvictsLowestWhenFull(t *testing.T) {
	require := require.New(t)
	lb := board(t, 2)
	Update(lb, Entry{"a", 100, 0}, TieBreakVolume, 1)
	Update(lb, Entry{"b", 200, 0}, TieBreakVolume, 1)

	require.Equal(0, Update(lb, Entry{"c", 50, 0}, TieBreakVolume, 2), "below the K-th entry")
	require.Equal([]string{"b", "a"}, lb.TopKEquity)

	require.Equal(2, Update(lb, Entry{"d", 150, 0}, TieBreakVolume, 3))
	require.Equal([]string{"b", "d"}, lb.TopKEquity)
	require.Equal([]int64{200, 150}, lb.TopKEquityScores)
}

func TestUpdate_TieBreakVolume(t *testing.T) {
	lb := board(t, 3)
	Update(lb, Entry{"a", 100, 10}, TieBreakVolume, 1)
	Update(lb, Entry{"b", 100, 30}, TieBreakVolume, 1)
	Update(lb, Entry{"c", 100, 20}, TieBreakVolume, 1)

	require.Equal(t, []string{"b", "c", "a"}, lb.TopKEquity)
	require.Equal(t, []int64{30, 20, 10}, lb.TopKEquityVolumes)
}

func TestUpdate_TieBreakVolumeThenKey(t *testing.T) {
	lb := board(t, 3)
	Update(lb, Entry{"b", 100, 10}, TieBreakVolume, 1)
	Update(lb, Entry{"a", 100, 10}, TieBreakVolume, 1)
	require.Equal(t, []string{"a", "b"}, lb.TopKEquity)
}

func TestUpdate_TieBreakIncumbent(t *testing.T) {
	require := require.New(t)
	lb := board(t, 2)
	Update(lb, Entry{"a", 100, 0}, TieBreakIncumbent, 1)
	Update(lb, Entry{"b", 100, 999}, TieBreakIncumbent, 1)
	require.Equal([]string{"a", "b"}, lb.TopKEquity)

	// A full board does not admit a newcomer that only ties the last entry.
	require.Equal(0, Update(lb, Entry{"c", 100, 999}, TieBreakIncumbent, 2))
	require.Equal([]string{"a", "b"}, lb.TopKEquity)
}

func TestUpdate_VolumeRanking(t *testing.T) {
	require := require.New(t)
	lb := board(t, 2)
	Update(lb, Entry{"a", 900, 10}, TieBreakVolume, 1)
	Update(lb, Entry{"b", 100, 50}, TieBreakVolume, 1)
	Update(lb, Entry{"c", 500, 30}, TieBreakVolume, 1)

	require.Equal([]string{"a", "c"}, lb.TopKEquity)
	require.Equal([]string{"b", "c"}, lb.TopKVolume)
	require.Equal([]int64{50, 30}, lb.TopKVolumeScores)
}

func TestUpdate_BoundedAndNonIncreasing(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, tb := range []TieBreak{TieBreakVolume, TieBreakIncumbent} {
		lb := board(t, 5)
		for i := 0; i < 2000; i++ {
			e := Entry{
				Participant: fmt.Sprintf("p%02d", rng.Intn(20)),
				Equity:      rng.Int63n(1000) - 500,
				Volume:      rng.Int63n(100),
			}
			Update(lb, e, tb, int64(i))

			require.LessOrEqual(t, len(lb.TopKEquity), 5)
			require.Len(t, lb.TopKEquityScores, len(lb.TopKEquity))
			require.Len(t, lb.TopKEquityVolumes, len(lb.TopKEquity))
			require.Len(t, lb.TopKVolumeScores, len(lb.TopKVolume))
			for j := 1; j < len(lb.TopKEquityScores); j++ {
				require.GreaterOrEqual(t, lb.TopKEquityScores[j-1], lb.TopKEquityScores[j])
			}
			for j := 1; j < len(lb.TopKVolumeScores); j++ {
				require.GreaterOrEqual(t, lb.TopKVolumeScores[j-1], lb.TopKVolumeScores[j])
			}
			seen := map[string]bool{}
			for _, p := range lb.TopKEquity {
				require.False(t, seen[p], "duplicate %s", p)
				seen[p] = true
			}
		}
	}
}
