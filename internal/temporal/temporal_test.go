package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planforge/planforge/internal/types"
)

func TestParseExpression_Relative(t *testing.T) {
	now := int64(1_700_000_000_000)

	tests := []struct {
		name string
		expr string
		want int64
	}{
		{"now", "now", now},
		{"now with whitespace", "  NOW  ", now},
		{"milliseconds", "in 250 ms", now + 250},
		{"seconds", "in 30 seconds", now + 30*MillisPerSecond},
		{"minutes", "in 5 minutes", now + 5*MillisPerMinute},
		{"single minute unit", "in 5m", now + 5*MillisPerMinute},
		{"hours", "in 2 hours", now + 2*MillisPerHour},
		{"days", "in 3 days", now + 3*MillisPerDay},
		{"epoch millis verbatim", "1735689600000", 1_735_689_600_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExpression(tt.expr, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseExpression_RFC3339(t *testing.T) {
	got, err := ParseExpression("2026-01-02T15:04:05Z", 0)
	require.NoError(t, err)

	want := time.Date(2026, time.January, 2, 15, 4, 5, 0, time.UTC).UnixMilli()
	assert.Equal(t, want, got)
}

func TestParseExpression_Tomorrow(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.Local)

	got, err := ParseExpression("tomorrow", now.UnixMilli())
	require.NoError(t, err)
	want := time.Date(2026, time.March, 11, 9, 0, 0, 0, time.Local)
	assert.Equal(t, want.UnixMilli(), got)

	got, err = ParseExpression("tomorrow 14:30", now.UnixMilli())
	require.NoError(t, err)
	want = time.Date(2026, time.March, 11, 14, 30, 0, 0, time.Local)
	assert.Equal(t, want.UnixMilli(), got)
}

func TestParseExpression_ClockTime(t *testing.T) {
	// 08:00 local; "09:30" is still ahead today, "07:00" rolls to tomorrow.
	now := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.Local)

	got, err := ParseExpression("09:30", now.UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 10, 9, 30, 0, 0, time.Local).UnixMilli(), got)

	got, err = ParseExpression("07:00", now.UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 11, 7, 0, 0, 0, time.Local).UnixMilli(), got)
}

func TestParseExpression_Invalid(t *testing.T) {
	for _, expr := range []string{"", "soon", "in five minutes", "25:99", "tomorrow 26:00"} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseExpression(expr, 0)
			require.Error(t, err)
			assert.Equal(t, types.TIME_PARSE_FAILED, types.CodeOf(err))
		})
	}
}

func TestIsBusinessHours(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"tuesday morning", time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC), true},
		{"tuesday at open", time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC), true},
		{"tuesday at close", time.Date(2026, time.March, 10, 17, 0, 0, 0, time.UTC), false},
		{"tuesday evening", time.Date(2026, time.March, 10, 20, 0, 0, 0, time.UTC), false},
		{"saturday", time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBusinessHours(tt.ts.UnixMilli(), time.UTC))
		})
	}
}

func TestNextBusinessHour(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want time.Time
	}{
		{
			"already in business hours",
			time.Date(2026, time.March, 10, 10, 30, 0, 0, time.UTC),
			time.Date(2026, time.March, 10, 10, 30, 0, 0, time.UTC),
		},
		{
			"before open rounds up",
			time.Date(2026, time.March, 10, 6, 0, 0, 0, time.UTC),
			time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			"after close rolls to next day",
			time.Date(2026, time.March, 10, 18, 0, 0, 0, time.UTC),
			time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			"friday evening rolls to monday",
			time.Date(2026, time.March, 13, 18, 0, 0, 0, time.UTC),
			time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC),
		},
		{
			"saturday rolls to monday",
			time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC),
			time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBusinessHour(tt.ts.UnixMilli(), time.UTC)
			assert.Equal(t, tt.want.UnixMilli(), got)
		})
	}
}

func TestSlackAndFeasible(t *testing.T) {
	assert.Equal(t, int64(500), Slack(1500, 1000))
	assert.Equal(t, int64(-200), Slack(800, 1000))
	assert.Equal(t, int64(0), Slack(1000, 1000))

	assert.True(t, Feasible(5000, 0), "zero deadline means unconstrained")
	assert.True(t, Feasible(5000, 5000))
	assert.False(t, Feasible(5001, 5000))
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	clock := NewFixedClock(at)
	assert.Equal(t, at.UnixMilli(), clock.NowMillis())

	clock.Advance(time.Minute)
	assert.Equal(t, at.Add(time.Minute).UnixMilli(), clock.NowMillis())
}
