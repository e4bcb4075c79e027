package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceconsole/internal/faults"
	"faceconsole/internal/session"
	"faceconsole/internal/timeutil"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.URL, sessionWith("operator-token"), 5*time.Second)
	return c, srv
}

func sessionWith(token string) *session.Store {
	s := session.NewStore()
	if token != "" {
		s.Set(token)
	}
	return s
}

func TestGetStats_DecodesAndAttachesBearer(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/api/attendance/stats", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"total_today":      4,
			"total_users":      10,
			"checked_in_today": 3,
			"checked_in_users": []string{"An", "Binh"},
			"recent_scans": []map[string]any{
				{"id": 7, "status": "success", "timestamp": "2024-03-11T08:05:00+07:00"},
			},
		})
	}))

	stats, err := c.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer operator-token", gotAuth)
	assert.Equal(t, 4, stats.TotalToday)
	require.Len(t, stats.RecentScans, 1)
	assert.Equal(t, int64(7), stats.RecentScans[0].ID)
	assert.Equal(t, "08:05:00", stats.RecentScans[0].Timestamp.In(timeutil.Zone).Format("15:04:05"))
}

func TestListEvents_QueryParams(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2024-03-01", q.Get("start_date"))
		assert.Equal(t, "2024-03-11", q.Get("end_date"))
		assert.Equal(t, "5", q.Get("user_id"))
		assert.Equal(t, "success", q.Get("status"))
		assert.Equal(t, "1000", q.Get("limit"))
		w.Write([]byte("[]"))
	}))

	_, err := c.ListEvents(context.Background(), EventQuery{
		StartDate: "2024-03-01", EndDate: "2024-03-11", UserID: 5, Status: "success", Limit: 1000,
	})
	require.NoError(t, err)
}

func TestListEvents_GarbageTimestampFailsSoft(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"status":"unknown","timestamp":"not a time"}]`))
	}))
	events, err := c.ListEvents(context.Background(), EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.IsZero())
}

func TestEnroll_MultipartShape(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/12/enroll", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "holiday.png", header.Filename)
		assert.Equal(t, []byte{1, 2, 3}, data)
		w.WriteHeader(http.StatusOK)
	}))

	err := c.Enroll(context.Background(), 12, []byte{1, 2, 3}, "holiday.png")
	require.NoError(t, err)
}

func TestEnroll_DefaultFilename(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, DefaultEnrollFilename, header.Filename)
		w.WriteHeader(http.StatusOK)
	}))
	require.NoError(t, c.Enroll(context.Background(), 1, []byte{9}, ""))
}

func TestEnroll_Classification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		detail string
		want   faults.Kind
	}{
		{"no face", http.StatusBadRequest, "Không phát hiện được khuôn mặt trong ảnh", faults.NoFaceDetected},
		{"expired", http.StatusUnauthorized, "", faults.AuthExpired},
		{"missing user", http.StatusNotFound, "User not found", faults.IdentityNotFound},
		{"server", http.StatusInternalServerError, "", faults.ServerFault},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(map[string]string{"detail": tc.detail})
			}))
			err := c.Enroll(context.Background(), 3, []byte{1}, "")
			assert.Equal(t, tc.want, faults.KindOf(err))
		})
	}
}

func TestEnroll_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening anymore
	c := New(srv.URL, sessionWith("tok"), time.Second)

	err := c.Enroll(context.Background(), 3, []byte{1}, "")
	assert.Equal(t, faults.NetworkUnavailable, faults.KindOf(err))
}

func TestDo_401InvalidatesSession(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.GetStats(context.Background())
	assert.Equal(t, faults.AuthExpired, faults.KindOf(err))
	_, _, ok := c.Sessions.Token()
	assert.False(t, ok, "credential should be invalidated after 401")
}

func TestLogin_StoresToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "admin", body["username"])
		json.NewEncoder(w).Encode(map[string]string{"access_token": "fresh-token"})
	}))
	c.Sessions = sessionWith("")

	require.NoError(t, c.Login(context.Background(), "admin", "secret"))
	token, _, ok := c.Sessions.Token()
	assert.True(t, ok)
	assert.Equal(t, "fresh-token", token)
}

func TestUpdateSettings_ValidatesLocally(t *testing.T) {
	called := false
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	_, err := c.UpdateSettings(context.Background(), Settings{Threshold: 0.95, CameraID: 0})
	assert.Error(t, err)
	_, err = c.UpdateSettings(context.Background(), Settings{Threshold: 0.6, CameraID: -1})
	assert.Error(t, err)
	assert.False(t, called, "invalid settings must not reach the network")
}

func TestCreateUser_RejectsComma(t *testing.T) {
	called := false
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	_, err := c.CreateUser(context.Background(), "Nguyen, Van A", "NV001")
	assert.Error(t, err)
	assert.False(t, called)
}
