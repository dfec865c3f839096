package domain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-01-01 is a Monday
var monday = time.Date(2024, 1, 1, 10, 30, 15, 0, time.UTC)

func TestNextFire_Weekly(t *testing.T) {
	next, ok := NextFire(monday, monday, Recurrence{Repeat: RepeatWeekly, Days: []int{1, 5}, EndType: EndNever})
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 5, 10, 30, 15, 0, time.UTC), next)

	// missed runs are skipped, never replayed
	now := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	next, ok = NextFire(monday, now, Recurrence{Repeat: RepeatWeekly, Days: []int{1}, EndType: EndNever})
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 22, 10, 30, 15, 0, time.UTC), next)
}

func TestNextFire_Monthly(t *testing.T) {
	prev := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	next, ok := NextFire(prev, prev, Recurrence{Repeat: RepeatMonthly, Days: []int{1}, EndType: EndNever})
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC), next)

	next, ok = NextFire(prev, prev, Recurrence{Repeat: RepeatMonthly, Days: []int{2, 16}, EndType: EndNever})
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC), next)
}

func TestNextFire_Yearly(t *testing.T) {
	next, ok := NextFire(monday, monday, Recurrence{Repeat: RepeatYearly, Days: []int{0}, EndType: EndNever})
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 30, 15, 0, time.UTC), next)

	next, ok = NextFire(monday, monday, Recurrence{Repeat: RepeatYearly, Days: []int{31}, EndType: EndNever})
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 1, 10, 30, 15, 0, time.UTC), next)
}

func TestNextFire_HourlyDaily(t *testing.T) {
	next, ok := NextFire(monday, monday, Recurrence{Repeat: RepeatHourly, Days: []int{2}, EndType: EndNever})
	require.True(t, ok)
	assert.Equal(t, monday.Add(2*time.Hour), next)

	next, ok = NextFire(monday, monday.Add(5*time.Hour), Recurrence{Repeat: RepeatHourly, Days: []int{2}, EndType: EndNever})
	require.True(t, ok)
	assert.Equal(t, monday.Add(6*time.Hour), next)

	next, ok = NextFire(monday, monday, Recurrence{Repeat: RepeatDaily, Days: []int{3}, EndType: EndNever})
	require.True(t, ok)
	assert.Equal(t, monday.Add(72*time.Hour), next)
}

func TestNextFire_EndConditions(t *testing.T) {
	_, ok := NextFire(monday, monday, Recurrence{Repeat: RepeatNone})
	assert.False(t, ok)

	_, ok = NextFire(monday, monday, Recurrence{Repeat: RepeatHourly, Days: []int{1}, EndType: EndReps, EndValue: 0})
	assert.False(t, ok)

	_, ok = NextFire(monday, monday, Recurrence{Repeat: RepeatHourly, Days: []int{1}, EndType: EndReps, EndValue: 2})
	assert.True(t, ok)

	end := monday.Add(30 * time.Minute).Unix()
	_, ok = NextFire(monday, monday, Recurrence{Repeat: RepeatHourly, Days: []int{1}, EndType: EndDate, EndValue: end})
	assert.False(t, ok)
}

func TestNextFire_WeeklyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	properties.Property("weekly next fire lands on a listed weekday at the same time of day", prop.ForAll(
		func(offset int64, day int) bool {
			prev := time.Unix(start+offset, 0).UTC()
			next, ok := NextFire(prev, prev, Recurrence{Repeat: RepeatWeekly, Days: []int{day}, EndType: EndNever})
			if !ok {
				return false
			}
			return next.After(prev) &&
				int(next.Weekday()) == day &&
				next.Sub(prev) <= 7*24*time.Hour &&
				next.Hour() == prev.Hour() && next.Minute() == prev.Minute() && next.Second() == prev.Second()
		},
		gen.Int64Range(0, 5*365*24*3600),
		gen.IntRange(0, 6),
	))

	properties.Property("hourly next fire is after now and aligned to the interval", prop.ForAll(
		func(offset int64, hours int, lag int64) bool {
			prev := time.Unix(start+offset, 0).UTC()
			now := prev.Add(time.Duration(lag) * time.Second)
			next, ok := NextFire(prev, now, Recurrence{Repeat: RepeatHourly, Days: []int{hours}, EndType: EndNever})
			if !ok {
				return false
			}
			interval := time.Duration(hours) * time.Hour
			return next.After(now) && next.Sub(prev)%interval == 0 && next.Sub(now) <= interval
		},
		gen.Int64Range(0, 5*365*24*3600),
		gen.IntRange(1, 168),
		gen.Int64Range(0, 30*24*3600),
	))

	properties.TestingRun(t)
}

func TestParseDays(t *testing.T) {
	cases := []struct {
		name   string
		repeat RepeatKind
		days   string
		ok     bool
	}{
		{"weekly ok", RepeatWeekly, "0,6", true},
		{"weekly out of range", RepeatWeekly, "2,5,8", false},
		{"monthly ok", RepeatMonthly, "1,31", true},
		{"monthly zero", RepeatMonthly, "0", false},
		{"monthly 33", RepeatMonthly, "33", false},
		{"yearly ok", RepeatYearly, "0,365", true},
		{"yearly 367", RepeatYearly, "367", false},
		{"hourly single", RepeatHourly, "2", true},
		{"hourly list", RepeatHourly, "2,22", false},
		{"hourly too big", RepeatHourly, "169", false},
		{"daily ok", RepeatDaily, "1", true},
		{"weekly empty", RepeatWeekly, "", false},
		{"garbage", RepeatMonthly, "1,x", false},
		{"none ignores days", RepeatNone, "junk", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseDays(c.repeat, c.days)
			if c.ok {
				assert.NoError(t, err)
			} else {
				var fe *SchedFieldError
				assert.ErrorAs(t, err, &fe)
			}
		})
	}
}

func TestParseSchedFields(t *testing.T) {
	base := time.Unix(1000, 0)

	v, err := ParseSchedTime("+60", base)
	require.NoError(t, err)
	assert.Equal(t, int64(1060), v)

	v, err = ParseSchedTime("1700000000", base)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), v)

	for _, bad := range []string{"", "abc", "+x", "-5", "++5"} {
		_, err = ParseSchedTime(bad, base)
		assert.Error(t, err, bad)
	}

	_, err = ParseRepeat("5")
	assert.Error(t, err)
	r, err := ParseRepeat("4")
	require.NoError(t, err)
	assert.Equal(t, RepeatDaily, r)

	_, err = ParseEndType("2")
	assert.Error(t, err)

	w, err := ParseWarning("-3600")
	require.NoError(t, err)
	assert.Equal(t, int64(-3600), w)
	w, err = ParseWarning("+60")
	require.NoError(t, err)
	assert.Equal(t, int64(60), w)
	_, err = ParseWarning("soon")
	assert.Error(t, err)
}

func TestSchedAction_DueAndExpired(t *testing.T) {
	sa := NewSchedAction(ParentBackupJob, 1, "backup")
	sa.Time = 100
	assert.True(t, sa.IsDue(100))
	assert.False(t, sa.IsDue(99))

	sa.Done = 100
	assert.False(t, sa.IsDue(200))

	sa.EndType = EndReps
	sa.EndValue = 0
	assert.True(t, sa.Expired())

	sa.EndType = EndDate
	sa.EndValue = 50
	assert.True(t, sa.Expired())
}
