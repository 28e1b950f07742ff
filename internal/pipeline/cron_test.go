package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronNext(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 30, 15, 0, time.UTC) // Saturday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 14, 10, 31, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 14, 10, 45, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},
		{"30 9 * * 1-5", time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC)},
		{"0 0 1 1 *", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"5,35 10 * * *", time.Date(2026, 3, 14, 10, 35, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCron(tt.expr)
			require.NoError(t, err)
			got, err := c.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCronNextIsStrictlyAfter(t *testing.T) {
	c, err := ParseCron("0 * * * *")
	require.NoError(t, err)
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	got, err := c.Next(at)
	require.NoError(t, err)
	assert.Equal(t, at.Add(time.Hour), got)
}

func TestParseCronRejects(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"0 0 31 2 *",
		"0 0 30,31 2 *",
		"0 0 31 4,6,9,11 *",
	} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestCronDayOfMonthOrWeekday(t *testing.T) {
	c, err := ParseCron("0 0 1 * 1")
	require.NoError(t, err)
	got, err := c.Next(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)) // Monday
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC), got)

	got, err = c.Next(time.Date(2026, 10, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestCronLeapDay(t *testing.T) {
	c, err := ParseCron("0 0 29 2 *")
	require.NoError(t, err)
	got, err := c.Next(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC), got)

	got, err = c.Next(time.Date(2096, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2104, 2, 29, 0, 0, 0, 0, time.UTC), got)
}

func TestCronRestrictedWeekdayKeepsShortMonthValid(t *testing.T) {
	c, err := ParseCron("0 0 31 2 1")
	require.NoError(t, err)
	got, err := c.Next(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC), got)
}
