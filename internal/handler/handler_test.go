package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
)

const (
	signingKey = "handler-test-key"
	issuer     = "qrattend"
	enrollKey  = "enroll-me"
)

type fakeDevices struct{ ids []string }

func (f *fakeDevices) UpsertDevice(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return nil
}

type env struct {
	router  *gin.Engine
	clock   *clockwork.FakeClock
	devices *fakeDevices
	admin   string
	scanner string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := attendance.NewMemoryStore()
	store.PutOrganization(attendance.Organization{ID: "org-1", Identifier: "O1", Name: "College One"})
	store.PutStudent(attendance.Student{ID: "stu-1", ExternalID: "S1", OrganizationID: "org-1", TokenData: "S1-O1-ab12cd34"})
	require.NoError(t, store.PutEvent(attendance.Event{
		ID: "evt-1", OrganizationID: "org-1", Name: "Foundation Day",
		Date: "2026-10-18", StartTime: "09:00", EndTime: "12:00",
		ScanWindowMinutesBefore: 15, GraceMinutesAfter: 60,
	}))

	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 8, 50, 0, 0, time.UTC))
	svc := attendance.NewService(store, store, attendance.Options{
		Clock:              clock,
		Location:           time.UTC,
		AcceptStoredTokens: true,
	})
	devices := &fakeDevices{}
	h := New(svc, devices, AuthConfig{Issuer: issuer, SigningKey: signingKey, AccessTTL: time.Hour, EnrollKey: enrollKey}, nil)
	h.AddHealthCheck("db", func(context.Context) bool { return true })

	admin, err := auth.Issue("ops", auth.RoleAdmin, issuer, signingKey, time.Hour)
	require.NoError(t, err)
	scanner, err := auth.Issue("scanner-1", auth.RoleScanner, issuer, signingKey, time.Hour)
	require.NoError(t, err)

	return &env{
		router:  h.Router(RouterOptions{Metrics: http.NotFoundHandler()}),
		clock:   clock,
		devices: devices,
		admin:   admin.Token,
		scanner: scanner.Token,
	}
}

func (e *env) do(t *testing.T, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func scan(token, session string) gin.H {
	return gin.H{"token": token, "event_id": "evt-1", "session": session}
}

func TestScan_StatusCodes(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, http.MethodPost, "/v1/scans", e.scanner, scan("S1-O1-ab12cd34", "morning"))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "created", body["outcome"])
	assert.NotNil(t, body["record"])

	w, body = e.do(t, http.MethodPost, "/v1/scans", e.scanner, scan("S1-O1-ab12cd34", "morning"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "already_signed_in", body["reason"])

	w, _ = e.do(t, http.MethodPost, "/v1/scans", e.admin, scan("S1-O1-ab12cd34", "afternoon"))
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = e.do(t, http.MethodPost, "/v1/scans", e.scanner, scan("garbage", "morning"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_token", body["reason"])

	w, body = e.do(t, http.MethodPost, "/v1/scans", e.scanner, gin.H{"token": "S1-O1-ab12cd34", "event_id": "evt-404", "session": "morning"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "event_not_found", body["reason"])

	w, _ = e.do(t, http.MethodPost, "/v1/scans", e.scanner, scan("S1-O1-ab12cd34", "evening"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodPost, "/v1/scans", e.scanner, gin.H{"token": "S1-O1-ab12cd34"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScan_TooLateCarriesWindow(t *testing.T) {
	e := newEnv(t)
	e.clock.Advance(2 * time.Hour)

	w, body := e.do(t, http.MethodPost, "/v1/scans", e.scanner, scan("S1-O1-ab12cd34", "morning"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "too_late", body["reason"])
	win, ok := body["window"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2026-10-18T10:00:00Z", win["closes"])
}

func TestAuthz(t *testing.T) {
	e := newEnv(t)

	w, _ := e.do(t, http.MethodPost, "/v1/scans", "", scan("S1-O1-ab12cd34", "morning"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodPost, "/v1/admin/attendance", e.scanner, gin.H{
		"student_id": "stu-1", "event_id": "evt-1", "session": "morning", "action": "sign-in",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestManualAttendanceAndListing(t *testing.T) {
	e := newEnv(t)
	entry := func(session, action string) gin.H {
		return gin.H{"student_id": "stu-1", "event_id": "evt-1", "session": session, "action": action}
	}

	w, body := e.do(t, http.MethodPost, "/v1/admin/attendance", e.admin, entry("morning", "sign-out"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "not_yet_signed_in", body["reason"])

	w, _ = e.do(t, http.MethodPost, "/v1/admin/attendance", e.admin, entry("morning", "sign-in"))
	assert.Equal(t, http.StatusCreated, w.Code)

	e.clock.Advance(4 * time.Hour)
	w, _ = e.do(t, http.MethodPost, "/v1/admin/attendance", e.admin, entry("morning", "sign-out"))
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodPost, "/v1/admin/attendance", e.admin, entry("morning", "dance"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = e.do(t, http.MethodGet, "/v1/events/evt-1/records?limit=10", e.admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	records, ok := body["records"].([]any)
	require.True(t, ok)
	assert.Len(t, records, 1)

	w, body = e.do(t, http.MethodGet, "/v1/events/evt-404/records", e.admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, body["records"])
}

func TestIssueToken(t *testing.T) {
	e := newEnv(t)

	w, _ := e.do(t, http.MethodPost, "/v1/admin/students/nobody/token", e.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterDevice(t *testing.T) {
	e := newEnv(t)

	w, _ := e.do(t, http.MethodPost, "/v1/devices/register", "", gin.H{"device_id": "gate-2", "enroll_key": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := e.do(t, http.MethodPost, "/v1/devices/register", "", gin.H{"device_id": "gate-2", "enroll_key": enrollKey})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"gate-2"}, e.devices.ids)

	token, _ := body["access_token"].(string)
	claims, err := auth.Parse(token, signingKey, issuer)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleScanner, claims.Role)
	assert.Equal(t, "gate-2", claims.Subject)

	w, _ = e.do(t, http.MethodPost, "/v1/scans", token, scan("S1-O1-ab12cd34", "morning"))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w, body := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["db"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
