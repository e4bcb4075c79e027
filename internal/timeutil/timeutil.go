package timeutil

import "time"

// Zone is the deployment zone for attendance policy (GMT+7). All civil-day
// and cutoff arithmetic happens in this fixed offset, never the viewer's zone.
var Zone = time.FixedZone("GMT+7", 7*60*60)

// CheckInStatus classifies a check-in against the required time.
type CheckInStatus string

const (
	StatusEarly  CheckInStatus = "early"
	StatusOnTime CheckInStatus = "on_time"
	StatusLate   CheckInStatus = "late"
)

// DefaultGraceMinutes is how long after the cutoff still counts as on time.
const DefaultGraceMinutes = 15

// Sentinel display values for missing or unparseable timestamps.
const (
	SentinelTime     = "--:--:--"
	SentinelDateTime = "--/--/---- --:--:--"
	SentinelDate     = "----/--/--"
)

// Classification is the result of classifying a check-in timestamp.
type Classification struct {
	Status      CheckInStatus `json:"status"`
	DisplayTime string        `json:"display_time"`
}

// Classify converts ts to zone wall-clock time and grades it against the
// cutoff. A zero timestamp never fails: it yields the sentinel display value
// and a neutral on_time status, since this sits on a rendering path.
func Classify(ts time.Time, cutoffHour, cutoffMinute, graceMinutes int) Classification {
	if ts.IsZero() {
		return Classification{Status: StatusOnTime, DisplayTime: SentinelTime}
	}
	if graceMinutes < 0 {
		graceMinutes = DefaultGraceMinutes
	}
	local := ts.In(Zone)
	eventMinutes := local.Hour()*60 + local.Minute()
	cutoff := cutoffHour*60 + cutoffMinute

	status := StatusLate
	switch {
	case eventMinutes < cutoff:
		status = StatusEarly
	case eventMinutes <= cutoff+graceMinutes:
		status = StatusOnTime
	}
	return Classification{Status: status, DisplayTime: local.Format("15:04:05")}
}

// FormatTime renders a zone wall-clock time, sentinel on zero.
func FormatTime(ts time.Time) string {
	if ts.IsZero() {
		return SentinelTime
	}
	return ts.In(Zone).Format("15:04:05")
}

// FormatDateTime renders DD/MM/YYYY HH:MM:SS in the zone, sentinel on zero.
func FormatDateTime(ts time.Time) string {
	if ts.IsZero() {
		return SentinelDateTime
	}
	return ts.In(Zone).Format("02/01/2006 15:04:05")
}

// CivilDate returns the YYYY-MM-DD calendar date of ts in the zone.
// Two events share a bucket iff they share this date.
func CivilDate(ts time.Time) string {
	if ts.IsZero() {
		return SentinelDate
	}
	return ts.In(Zone).Format("2006-01-02")
}

// StartOfDay returns midnight of ts's civil day.
func StartOfDay(ts time.Time) time.Time {
	local := ts.In(Zone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Zone)
}

// StartOfWeek returns Monday midnight of ts's civil week.
func StartOfWeek(ts time.Time) time.Time {
	day := StartOfDay(ts)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// StartOfMonth returns the first midnight of ts's civil month.
func StartOfMonth(ts time.Time) time.Time {
	local := ts.In(Zone)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, Zone)
}

// ParseTimestamp parses the wire formats the backend emits. Empty or
// malformed input yields the zero time rather than an error so callers can
// fall through to the sentinel rendering.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.ParseInLocation(layout, s, Zone); err == nil {
			return ts
		}
	}
	return time.Time{}
}
