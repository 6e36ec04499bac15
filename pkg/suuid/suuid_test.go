package suuid_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/suuid"
)

func TestLexicographicOrderMatchesChronologicalOrder(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	a, err := suuid.New(t1)
	require.NoError(t, err)
	b, err := suuid.New(t2)
	require.NoError(t, err)

	assert.Less(t, a.String(), b.String(), "a suuid minted earlier must sort lexicographically before one minted later")
}

func TestTimeRoundTripsThroughTruncation(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 34, 56, 0, time.UTC)
	u, err := suuid.New(now)
	require.NoError(t, err)

	got := suuid.Time(u)
	assert.WithinDuration(t, now, got, time.Microsecond)
}

func TestDistinctCallsNeverCollide(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		u, err := suuid.New(now)
		require.NoError(t, err)
		require.False(t, seen[u.String()])
		seen[u.String()] = true
	}
}

func TestBoundsBracketSameDayIds(t *testing.T) {
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	mid := day.Add(12 * time.Hour)

	lo := suuid.LowerBound(day)
	hi := suuid.UpperBound(day)
	u, err := suuid.New(mid)
	require.NoError(t, err)

	assert.True(t, lo.String() <= u.String())
	assert.True(t, u.String() <= hi.String())
}
