package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func morningEvent() Schedule {
	return Schedule{
		Date:          "2026-10-18",
		StartTime:     "09:00",
		EndTime:       "12:00",
		MinutesBefore: 15,
		MinutesAfter:  60,
	}
}

func TestClassify_Boundaries(t *testing.T) {
	b, err := Compute(morningEvent(), time.UTC)
	require.NoError(t, err)

	at := func(h, m, s int) time.Time {
		return time.Date(2026, 10, 18, h, m, s, 0, time.UTC)
	}

	tests := []struct {
		name string
		now  time.Time
		want Verdict
	}{
		{"one second before open", at(8, 44, 59), TooEarly},
		{"exactly open", at(8, 45, 0), Admissible},
		{"at start", at(9, 0, 0), Admissible},
		{"exactly grace end", at(10, 0, 0), Admissible},
		{"one second after grace", at(10, 0, 1), TooLate},
		{"previous day", at(8, 50, 0).AddDate(0, 0, -1), TooEarly},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, b.Classify(tc.now))
		})
	}
}

func TestCompute_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	b, err := Compute(morningEvent(), loc)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 10, 18, 0, 45, 0, 0, time.UTC), b.Opens.UTC())
	assert.Equal(t, TooLate, b.Classify(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)))
}

func TestCompute_ZeroOffsets(t *testing.T) {
	s := morningEvent()
	s.MinutesBefore, s.MinutesAfter = 0, 0
	b, err := Compute(s, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, b.Start, b.Opens)
	assert.Equal(t, b.Start, b.Closes)
}

func TestSchedule_Validate(t *testing.T) {
	bad := []Schedule{
		{Date: "18/10/2026", StartTime: "09:00", EndTime: "12:00"},
		{Date: "2026-10-18", StartTime: "9am", EndTime: "12:00"},
		{Date: "2026-10-18", StartTime: "12:00", EndTime: "09:00"},
		{Date: "2026-10-18", StartTime: "09:00", EndTime: "09:00"},
		{Date: "2026-10-18", StartTime: "09:00", EndTime: "12:00", MinutesBefore: -1},
	}
	for _, s := range bad {
		assert.Error(t, s.Validate(), "%+v", s)
	}
	assert.NoError(t, morningEvent().Validate())
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "too_early", TooEarly.String())
	assert.Equal(t, "too_late", TooLate.String())
	assert.Equal(t, "admissible", Admissible.String())
}
