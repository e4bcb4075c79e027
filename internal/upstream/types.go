package upstream

import (
	"encoding/json"
	"time"

	"faceconsole/internal/timeutil"
)

// Timestamp wraps time.Time with the backend's wire formats. Missing or
// malformed values decode to the zero time instead of failing the whole
// payload; rendering falls through to sentinels.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts RFC3339 with or without offset, null, or garbage.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = timeutil.ParseTimestamp(s)
	return nil
}

// MarshalJSON emits RFC3339 in the deployment zone, null when zero.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.In(timeutil.Zone).Format(time.RFC3339))
}

// Attendance event statuses as reported by the recognition backend.
const (
	ScanSuccess = "success"
	ScanFailed  = "failed"
	ScanUnknown = "unknown"
)

// AttendanceEvent is one recognition scan. Immutable once received;
// identity is ID.
type AttendanceEvent struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id,omitempty"`
	UserName  *string   `json:"user_name,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
	Status    string    `json:"status"`
	DeviceID  *string   `json:"device_id,omitempty"`
}

// DashboardStats is the authoritative aggregate snapshot from the backend.
// checked_in_users and not_checked_in_users partition the user set server
// side; the console never recomputes them from pushed events.
type DashboardStats struct {
	TotalToday        int               `json:"total_today"`
	TotalThisWeek     int               `json:"total_this_week"`
	TotalThisMonth    int               `json:"total_this_month"`
	TotalUsers        int               `json:"total_users"`
	CheckedInToday    int               `json:"checked_in_today"`
	CheckedInUsers    []string          `json:"checked_in_users"`
	NotCheckedInUsers []string          `json:"not_checked_in_users"`
	RecentScans       []AttendanceEvent `json:"recent_scans"`
}

// User is an enrolled (or enrollable) identity.
type User struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	HasEncoding bool      `json:"has_encoding"`
	ImagePath   *string   `json:"image_path,omitempty"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

// Settings is the recognition configuration pair.
type Settings struct {
	Threshold float64 `json:"threshold"`
	CameraID  int     `json:"camera_id"`
}

// EventQuery filters ListEvents.
type EventQuery struct {
	StartDate string // YYYY-MM-DD, interpreted by the backend in GMT+7
	EndDate   string
	UserID    int64 // 0 = all
	Status    string
	Limit     int
}
