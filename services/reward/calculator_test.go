package reward

import (
	"math/rand"
	"testing"

	"ambassador-controlplane/pkg/errutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func defaultCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(0.7, 0.3)
	require.NoError(t, err)
	return c
}

func TestAllocateTwoParticipants(t *testing.T) {
	c := defaultCalculator(t)

	out, err := c.Allocate(decimal.NewFromInt(10000), []Participant{
		{UserID: "p1", XP: 450, CompletedTasks: 8},
		{UserID: "p2", XP: 320, CompletedTasks: 6},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	// 0.7*450/770 + 0.3*8/14 = 0.58051948...
	require.Equal(t, "p1", out[0].UserID)
	require.Equal(t, int64(5805), out[0].TokenAmount)
	require.Equal(t, "0.58051948", out[0].RewardShare.String())

	// 0.7*320/770 + 0.3*6/14 = 0.41948051...
	require.Equal(t, int64(4194), out[1].TokenAmount)
	require.Equal(t, "0.41948052", out[1].RewardShare.String())
}

func TestAllocateZeroActivity(t *testing.T) {
	c := defaultCalculator(t)

	out, err := c.Allocate(decimal.NewFromInt(500), []Participant{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, a := range out {
		require.True(t, a.RewardShare.IsZero())
		require.Zero(t, a.TokenAmount)
	}
}

func TestAllocateOneMetricWithoutActivity(t *testing.T) {
	c := defaultCalculator(t)

	// nobody completed a task; only the xp term contributes
	out, err := c.Allocate(decimal.NewFromInt(1000), []Participant{
		{UserID: "a", XP: 30},
		{UserID: "b", XP: 70},
	})
	require.NoError(t, err)
	require.Equal(t, int64(210), out[0].TokenAmount)
	require.Equal(t, int64(490), out[1].TokenAmount)

	out, err = c.Allocate(decimal.NewFromInt(1000), []Participant{
		{UserID: "a", CompletedTasks: 1},
		{UserID: "b"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(300), out[0].TokenAmount)
	require.Zero(t, out[1].TokenAmount)
}

func TestAllocateNeverExceedsPool(t *testing.T) {
	c := defaultCalculator(t)
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		n := 1 + r.Intn(20)
		participants := make([]Participant, n)
		for j := range participants {
			participants[j] = Participant{UserID: "u", XP: r.Int63n(5000), CompletedTasks: r.Int63n(40)}
		}
		pool := decimal.NewFromInt(r.Int63n(1_000_000))

		out, err := c.Allocate(pool, participants)
		require.NoError(t, err)
		require.Len(t, out, n)

		var sum int64
		for _, a := range out {
			require.True(t, a.RewardShare.GreaterThanOrEqual(decimal.Zero))
			require.True(t, a.RewardShare.LessThanOrEqual(decimal.NewFromInt(1)))
			sum += a.TokenAmount
		}
		require.LessOrEqual(t, sum, pool.IntPart())
	}
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	c := defaultCalculator(t)

	_, err := c.Allocate(decimal.NewFromInt(-1), nil)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = c.Allocate(decimal.NewFromInt(10), []Participant{{UserID: "a", XP: -1}})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestNewCalculatorValidatesWeights(t *testing.T) {
	_, err := NewCalculator(-0.1, 0.5)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = NewCalculator(0.8, 0.3)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = NewCalculator(0.5, 0.5)
	require.NoError(t, err)
}
