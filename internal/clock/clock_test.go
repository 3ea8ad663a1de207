package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSystemNowUTC ensures the clock returns UTC timestamps.
func TestSystemNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "expected %v between %v and %v", got, before, after)
}

func TestFixedClock(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC-5", -5*60*60)
	clk := NewFixed(time.Date(2024, 3, 1, 22, 0, 0, 0, loc))
	require.Equal(t, "2024-03-02", clk.Now().Format("2006-01-02"))
	require.Equal(t, clk.Now(), clk.Now())

	clk.Set(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 5, clk.Now().Day())
}
