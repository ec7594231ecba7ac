package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inspectly/report-scheduler/internal/monitoring"
	"github.com/inspectly/report-scheduler/internal/notifier"
)

type fakeService struct {
	notifications map[string]*notifier.ReportNotification
	lastInput     notifier.NotificationInput
	createErr     error
}

func newFakeService() *fakeService {
	return &fakeService{notifications: make(map[string]*notifier.ReportNotification)}
}

func (s *fakeService) CreateNotification(ctx context.Context, input notifier.NotificationInput) (*notifier.ReportNotification, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.lastInput = input
	next := time.Date(2025, time.March, 11, 8, 0, 0, 0, time.UTC)
	n := &notifier.ReportNotification{
		ID:        "n-1",
		Name:      input.Name,
		Frequency: input.Frequency,
		SendTime:  input.SendTime,
		Active:    input.Active,
		NextSend:  &next,
	}
	s.notifications[n.ID] = n
	return n, nil
}

func (s *fakeService) UpdateNotification(ctx context.Context, id string, input notifier.NotificationInput) (*notifier.ReportNotification, error) {
	n, ok := s.notifications[id]
	if !ok {
		return nil, notifier.ErrNotFound
	}
	s.lastInput = input
	n.Name = input.Name
	return n, nil
}

func (s *fakeService) GetNotification(ctx context.Context, id string) (*notifier.ReportNotification, error) {
	n, ok := s.notifications[id]
	if !ok {
		return nil, notifier.ErrNotFound
	}
	return n, nil
}

func (s *fakeService) ListNotifications(ctx context.Context) ([]notifier.ReportNotification, error) {
	var out []notifier.ReportNotification
	for _, n := range s.notifications {
		out = append(out, *n)
	}
	return out, nil
}

func (s *fakeService) DeleteNotification(ctx context.Context, id string) error {
	if _, ok := s.notifications[id]; !ok {
		return notifier.ErrNotFound
	}
	delete(s.notifications, id)
	return nil
}

func (s *fakeService) SetNotificationActive(ctx context.Context, id string, active bool) error {
	n, ok := s.notifications[id]
	if !ok {
		return notifier.ErrNotFound
	}
	n.Active = active
	return nil
}

func (s *fakeService) ListHistory(ctx context.Context, id string, limit int) ([]notifier.DispatchRecord, error) {
	return nil, nil
}

func (s *fakeService) PreviewRecipients(ctx context.Context, id string) ([]notifier.Recipient, error) {
	if _, ok := s.notifications[id]; !ok {
		return nil, notifier.ErrNotFound
	}
	return []notifier.Recipient{{UserID: "u-1", Name: "Ana", Email: "ana@example.com", Role: "owner"}}, nil
}

type fakeDispatcher struct {
	lastID             string
	lastUpdateSchedule bool
	outcome            *notifier.DispatchOutcome
	err                error
}

func (d *fakeDispatcher) TriggerNow(ctx context.Context, id string, updateSchedule bool) (*notifier.DispatchOutcome, error) {
	d.lastID = id
	d.lastUpdateSchedule = updateSchedule
	if d.err != nil {
		return nil, d.err
	}
	return d.outcome, nil
}

func newTestHandler(service *fakeService, dispatcher *fakeDispatcher) *Handler {
	return NewHandler(service, dispatcher, monitoring.NewMetrics(), zap.NewNop())
}

func validRequestBody() map[string]interface{} {
	return map[string]interface{}{
		"name":        "weekly digest",
		"frequency":   "weekly",
		"time":        "09:00",
		"time_zone":   "America/Toronto",
		"day_of_week": "monday",
		"channels":    map[string]bool{"email": true},
		"recipients":  []string{"owner", "general_manager"},
		"filters": map[string]interface{}{
			"restaurants": "all",
			"sections":    "all",
			"date_range":  7,
		},
	}
}

func doRequest(t *testing.T, h *Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.SetupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestCreateNotificationEndpoint(t *testing.T) {
	service := newFakeService()
	h := newTestHandler(service, &fakeDispatcher{})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/report-notifications", validRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, "weekly digest", service.lastInput.Name)
	assert.Equal(t, "09:00", service.lastInput.SendTime)
	assert.True(t, service.lastInput.EmailEnabled)
	assert.False(t, service.lastInput.WhatsAppEnabled)
	assert.Equal(t, []string{"owner", "general_manager"}, service.lastInput.Roles)
	assert.True(t, service.lastInput.Active, "active defaults to true when omitted")

	var created notifier.ReportNotification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "n-1", created.ID)
	assert.NotNil(t, created.NextSend)
}

func TestCreateNotificationEndpoint_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(body map[string]interface{})
		wantField string
	}{
		{
			name:      "missing name",
			mutate:    func(b map[string]interface{}) { delete(b, "name") },
			wantField: "Name",
		},
		{
			name:      "unknown frequency",
			mutate:    func(b map[string]interface{}) { b["frequency"] = "hourly" },
			wantField: "Frequency",
		},
		{
			name:      "empty recipients",
			mutate:    func(b map[string]interface{}) { b["recipients"] = []string{} },
			wantField: "Recipients",
		},
		{
			name:      "unknown role",
			mutate:    func(b map[string]interface{}) { b["recipients"] = []string{"intern"} },
			wantField: "Recipients",
		},
		{
			name:      "unknown filter scope",
			mutate:    func(b map[string]interface{}) { b["filters"] = map[string]interface{}{"restaurants": "nearby"} },
			wantField: "Restaurants",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newFakeService()
			h := newTestHandler(service, &fakeDispatcher{})

			body := validRequestBody()
			tt.mutate(body)

			rec := doRequest(t, h, http.MethodPost, "/api/v1/report-notifications", body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantField, resp.Field)
		})
	}
}

func TestGetNotificationEndpoint_NotFound(t *testing.T) {
	h := newTestHandler(newFakeService(), &fakeDispatcher{})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/report-notifications/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListNotificationsEndpoint_EmptyIsArray(t *testing.T) {
	h := newTestHandler(newFakeService(), &fakeDispatcher{})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/report-notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", string(bytes.TrimSpace(rec.Body.Bytes())))
}

func TestSetActiveEndpoint(t *testing.T) {
	service := newFakeService()
	h := newTestHandler(service, &fakeDispatcher{})

	doRequest(t, h, http.MethodPost, "/api/v1/report-notifications", validRequestBody())

	rec := doRequest(t, h, http.MethodPut, "/api/v1/report-notifications/n-1/active",
		map[string]bool{"active": false})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, service.notifications["n-1"].Active)
}

func TestTriggerEndpoint_DefaultDiagnostic(t *testing.T) {
	dispatcher := &fakeDispatcher{
		outcome: &notifier.DispatchOutcome{NotificationID: "n-1", Sent: true, RecipientCount: 3},
	}
	h := newTestHandler(newFakeService(), dispatcher)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/report-notifications/n-1/trigger", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "n-1", dispatcher.lastID)
	assert.False(t, dispatcher.lastUpdateSchedule, "schedule update must be opt-in")

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Outcome)
	assert.True(t, resp.Outcome.Sent)
}

func TestTriggerEndpoint_UpdateScheduleFlag(t *testing.T) {
	dispatcher := &fakeDispatcher{
		outcome: &notifier.DispatchOutcome{NotificationID: "n-1", Sent: true, ScheduleUpdated: true},
	}
	h := newTestHandler(newFakeService(), dispatcher)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/report-notifications/n-1/trigger?update_schedule=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, dispatcher.lastUpdateSchedule)
}

func TestTriggerEndpoint_NotFound(t *testing.T) {
	dispatcher := &fakeDispatcher{err: notifier.ErrNotFound}
	h := newTestHandler(newFakeService(), dispatcher)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/report-notifications/missing/trigger", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteNotificationEndpoint(t *testing.T) {
	service := newFakeService()
	h := newTestHandler(service, &fakeDispatcher{})

	doRequest(t, h, http.MethodPost, "/api/v1/report-notifications", validRequestBody())

	rec := doRequest(t, h, http.MethodDelete, "/api/v1/report-notifications/n-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, service.notifications)
}

func TestGetRecipientsEndpoint(t *testing.T) {
	service := newFakeService()
	h := newTestHandler(service, &fakeDispatcher{})

	doRequest(t, h, http.MethodPost, "/api/v1/report-notifications", validRequestBody())

	rec := doRequest(t, h, http.MethodGet, "/api/v1/report-notifications/n-1/recipients", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var recipients []notifier.Recipient
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recipients))
	require.Len(t, recipients, 1)
	assert.Equal(t, "ana@example.com", recipients[0].Email)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/report-notifications/missing/recipients", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(newFakeService(), &fakeDispatcher{})

	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}
