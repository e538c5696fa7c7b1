package manual

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSleepAdvancesClock(t *testing.T) {
	t.Parallel()

	start := time.Unix(1700000000, 0).UTC()
	clk := New(start)
	require.NoError(t, clk.Sleep(context.Background(), 2*time.Second))
	require.NoError(t, clk.Sleep(context.Background(), 0))
	clk.Advance(time.Second)

	require.Equal(t, start.Add(3*time.Second), clk.Now())
	require.Equal(t, []time.Duration{2 * time.Second}, clk.Sleeps())
	require.Equal(t, 2*time.Second, clk.Slept())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, clk.Sleep(ctx, time.Second))
}
