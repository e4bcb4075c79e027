package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// at builds a zone-local timestamp on an arbitrary fixed day.
func at(hour, min int) time.Time {
	return time.Date(2024, 3, 11, hour, min, 0, 0, Zone)
}

func TestClassify_Boundaries(t *testing.T) {
	cases := []struct {
		name string
		ts   time.Time
		want CheckInStatus
	}{
		{"just before cutoff", at(7, 59), StatusEarly},
		{"exactly cutoff", at(8, 0), StatusOnTime},
		{"end of grace", at(8, 15), StatusOnTime},
		{"past grace", at(8, 16), StatusLate},
		{"midnight", at(0, 0), StatusEarly},
		{"late evening", at(23, 59), StatusLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.ts, 8, 0, 15)
			assert.Equal(t, tc.want, got.Status)
		})
	}
}

func TestClassify_ViewerZoneIrrelevant(t *testing.T) {
	// 01:00 UTC is 08:00 in the deployment zone regardless of how the
	// timestamp's location is expressed.
	utc := time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC)
	got := Classify(utc, 8, 0, 15)
	assert.Equal(t, StatusOnTime, got.Status)
	assert.Equal(t, "08:00:00", got.DisplayTime)
}

func TestClassify_ZeroTimestampFailsSoft(t *testing.T) {
	got := Classify(time.Time{}, 8, 0, 15)
	assert.Equal(t, StatusOnTime, got.Status)
	assert.Equal(t, SentinelTime, got.DisplayTime)
}

func TestCivilDate_SameBucketAcrossZones(t *testing.T) {
	// 18:00 UTC and 23:30 UTC on 2024-03-10 are both 2024-03-11 in GMT+7.
	a := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-11", CivilDate(a))
	assert.Equal(t, CivilDate(a), CivilDate(b))

	// 16:59 UTC is still 23:59 of the previous civil day.
	c := time.Date(2024, 3, 10, 16, 59, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-10", CivilDate(c))
}

func TestStartOfWeek_Monday(t *testing.T) {
	// 2024-03-14 is a Thursday.
	thursday := time.Date(2024, 3, 14, 10, 0, 0, 0, Zone)
	week := StartOfWeek(thursday)
	assert.Equal(t, time.Monday, week.Weekday())
	assert.Equal(t, "2024-03-11", week.Format("2006-01-02"))

	monday := time.Date(2024, 3, 11, 0, 0, 0, 0, Zone)
	assert.Equal(t, monday, StartOfWeek(monday))
}

func TestFormatters_Sentinels(t *testing.T) {
	assert.Equal(t, SentinelTime, FormatTime(time.Time{}))
	assert.Equal(t, SentinelDateTime, FormatDateTime(time.Time{}))
	assert.Equal(t, SentinelDate, CivilDate(time.Time{}))
}

func TestParseTimestamp(t *testing.T) {
	ts := ParseTimestamp("2024-03-11T08:00:00+07:00")
	require.False(t, ts.IsZero())
	assert.Equal(t, "08:00:00", FormatTime(ts))

	// Naive timestamps are interpreted in the deployment zone.
	naive := ParseTimestamp("2024-03-11T08:00:00")
	assert.Equal(t, "08:00:00", FormatTime(naive))

	assert.True(t, ParseTimestamp("").IsZero())
	assert.True(t, ParseTimestamp("not-a-time").IsZero())
}
