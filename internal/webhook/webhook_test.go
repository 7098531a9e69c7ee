package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-voice/internal/cache"
	"restaurant-voice/internal/calls"
	"restaurant-voice/internal/reconcile"
	"restaurant-voice/internal/telephony"
	"restaurant-voice/internal/tenant"
	"restaurant-voice/pkg/logger"
)

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *recordingScheduler) Schedule(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, seen := range s.ids {
		if seen == id {
			return false, nil
		}
	}
	s.ids = append(s.ids, id)
	return true, nil
}

func (s *recordingScheduler) scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type mapStore map[string]string

func (m mapStore) Lookup(_ context.Context, phone string) (string, error) {
	if v, ok := m[phone]; ok {
		return v, nil
	}
	return "", tenant.ErrNotFound
}

func (m mapStore) Upsert(_ context.Context, phone, tenantID string) error {
	m[phone] = tenantID
	return nil
}

type fixture struct {
	sched  *recordingScheduler
	phones *cache.Manager
	disp   *Dispatcher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	sched := &recordingScheduler{}
	phones := cache.NewManager(cache.Options{Logger: logger.Discard()})
	t.Cleanup(phones.Close)
	resolver := tenant.NewResolver(mapStore{"+15551234567": "r1"}, 0, logger.Discard())
	return fixture{
		sched:  sched,
		phones: phones,
		disp:   NewDispatcher(sched, phones, resolver, logger.Discard()),
	}
}

func (f fixture) dispatch(t *testing.T, body string) Ack {
	t.Helper()
	ack, err := f.disp.Dispatch(context.Background(), []byte(body))
	return f.disp.Respond(context.Background(), ack, err)
}

func TestAssistantRequest_ResolvesTenantFromFormattedPhone(t *testing.T) {
	f := newFixture(t)

	ack := f.dispatch(t, `{"message":{"type":"assistant-request","phoneNumber":"+1 (555) 123-4567","call":{"id":"c1"}}}`)

	assert.Equal(t, Ack{"metadata": map[string]any{"restaurant_id": "r1", "phoneNumber": "+15551234567"}}, ack)
	phone, ok := f.phones.CallPhone(context.Background(), "c1")
	require.True(t, ok)
	assert.Equal(t, "+15551234567", phone)
}

func TestAssistantRequest_PhoneFromCallObject(t *testing.T) {
	f := newFixture(t)

	ack := f.dispatch(t, `{"message":{"type":"assistant-request","call":{"id":"c2","phoneNumber":{"number":"+15551234567"}}}}`)

	assert.Contains(t, ack, "metadata")
}

func TestAssistantRequest_UnknownOrMissingPhoneReturnsEmpty(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, Ack{}, f.dispatch(t, `{"message":{"type":"assistant-request","phoneNumber":"+19999999999","call":{"id":"c3"}}}`))
	assert.Equal(t, Ack{}, f.dispatch(t, `{"message":{"type":"assistant-request","call":{"id":"c4"}}}`))

	_, ok := f.phones.CallPhone(context.Background(), "c4")
	assert.False(t, ok)
	// the association is kept even when no tenant matched
	_, ok = f.phones.CallPhone(context.Background(), "c3")
	assert.True(t, ok)
}

func TestStatusUpdate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		want      Ack
		scheduled []string
	}{
		{
			name:      "ringing schedules",
			body:      `{"message":{"type":"status-update","call":{"id":"c1","status":"ringing"}}}`,
			want:      Ack{"success": true, "message": "Scheduled API fetch"},
			scheduled: []string{"c1"},
		},
		{
			name: "other status ignored",
			body: `{"message":{"type":"status-update","call":{"id":"c1","status":"in-progress"}}}`,
			want: Ack{"success": true, "message": "Ignored status update: in-progress"},
		},
		{
			name: "missing call rejected",
			body: `{"message":{"type":"status-update","status":"ringing"}}`,
			want: Ack{"success": false, "message": "Invalid status-update payload"},
		},
		{
			name: "empty call rejected",
			body: `{"message":{"type":"status-update","call":{}}}`,
			want: Ack{"success": false, "message": "Invalid status-update payload"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			assert.Equal(t, tt.want, f.dispatch(t, tt.body))
			assert.Equal(t, tt.scheduled, f.sched.scheduled())
		})
	}
}

func TestEndOfCallReport(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, Ack{"success": false, "message": "Invalid webhook payload structure"},
		f.dispatch(t, `{"message":{"type":"end-of-call-report"}}`))
	assert.Equal(t, Ack{"success": false, "message": "Missing call ID"},
		f.dispatch(t, `{"message":{"type":"end-of-call-report","call":{"status":"ended"}}}`))

	ack := f.dispatch(t, `{"message":{"type":"end-of-call-report","call":{"id":"c9"},"artifact":{"messages":[]}}}`)
	assert.Equal(t, Ack{"success": true, "message": "Scheduled API fetch"}, ack)

	// a second trigger for the same call is acknowledged but not rescheduled
	ack = f.dispatch(t, `{"message":{"type":"status-update","call":{"id":"c9","status":"ringing"}}}`)
	assert.Equal(t, Ack{"success": true, "message": "Scheduled API fetch"}, ack)
	assert.Equal(t, []string{"c9"}, f.sched.scheduled())
}

func TestUnknownAndMalformedPayloads(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, Ack{}, f.dispatch(t, `{"message":{"type":"transcript"}}`))
	assert.Equal(t, Ack{}, f.dispatch(t, `{}`))
	assert.Equal(t, Ack{}, f.dispatch(t, `not json`))
}

func TestScheduleFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.sched.err = errors.New("pool closed")

	assert.Equal(t, Ack{}, f.dispatch(t, `{"message":{"type":"end-of-call-report","call":{"id":"c1"}}}`))
}

func newRouter(f fixture, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(logger.Middleware(logger.Discard()))
	r.POST("/vapi/server", RequireSecret(secret), Handler{Dispatcher: f.disp}.ServerMessage)
	return r
}

func post(r http.Handler, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/vapi/server", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(HeaderSecret, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_SecretCheck(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, "s3cret")

	body := `{"message":{"type":"status-update","call":{"id":"c1","status":"ringing"}}}`
	assert.Equal(t, http.StatusUnauthorized, post(r, "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, "wrong", body).Code)
	assert.Empty(t, f.sched.scheduled())

	w := post(r, "s3cret", body)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, []string{"c1"}, f.sched.scheduled())
}

func TestHandler_EmptySecretRejectsEverything(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, "")

	assert.Equal(t, http.StatusUnauthorized, post(r, "anything", `{}`).Code)
}

type panicTenants struct{}

func (panicTenants) Resolve(context.Context, string) (string, bool) { panic("boom") }

func TestHandler_PanicAnswersEmptyAck(t *testing.T) {
	f := newFixture(t)
	f.disp = NewDispatcher(f.sched, f.phones, panicTenants{}, logger.Discard())
	r := newRouter(f, "s3cret")

	w := post(r, "s3cret", `{"message":{"type":"assistant-request","phoneNumber":"+15551234567"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())
}

type stubVendor struct {
	calls map[string]telephony.Call
}

func (v stubVendor) GetCall(_ context.Context, id string) (telephony.Call, error) {
	c, ok := v.calls[id]
	if !ok {
		return telephony.Call{}, telephony.ErrNotFound
	}
	return c, nil
}

func (v stubVendor) GetPhoneNumber(context.Context, string) (telephony.PhoneNumber, error) {
	return telephony.PhoneNumber{}, telephony.ErrNotFound
}

func TestRingingStatusUpdateStoresRecordAfterDelay(t *testing.T) {
	phones := cache.NewManager(cache.Options{Logger: logger.Discard()})
	t.Cleanup(phones.Close)
	resolver := tenant.NewResolver(mapStore{"+15551234567": "r1"}, 0, logger.Discard())
	repo := calls.NewMemoryRepository()
	vendor := stubVendor{calls: map[string]telephony.Call{"c1": {
		ID:        "c1",
		Status:    "ended",
		StartedAt: "2025-01-01T12:00:00Z",
		EndedAt:   "2025-01-01T12:01:30Z",
	}}}

	fetcher := reconcile.NewFetcher(vendor, phones, resolver, repo, logger.Discard())
	sched, err := reconcile.NewScheduler(fetcher, reconcile.SchedulerConfig{Workers: 2, FetchTimeout: time.Second, Logger: logger.Discard()},
		reconcile.WithDelay(100*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})

	disp := NewDispatcher(sched, phones, resolver, logger.Discard())
	ctx := context.Background()

	_, err = disp.Dispatch(ctx, []byte(`{"message":{"type":"assistant-request","phoneNumber":"+1 (555) 123-4567","call":{"id":"c1"}}}`))
	require.NoError(t, err)

	ack, err := disp.Dispatch(ctx, []byte(`{"message":{"type":"status-update","call":{"id":"c1","status":"ringing"}}}`))
	require.NoError(t, err)
	assert.Equal(t, true, ack["success"])
	assert.True(t, sched.Pending("c1"))
	assert.Equal(t, 0, repo.Len())

	assert.Eventually(t, func() bool { return repo.Len() == 1 && !sched.Pending("c1") }, 2*time.Second, 5*time.Millisecond)

	stored, err := repo.List(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "c1", stored[0].VendorCallID)
	assert.Equal(t, "+15551234567", stored[0].PhoneNumber)
	require.NotNil(t, stored[0].DurationSeconds)
	assert.Equal(t, 90, *stored[0].DurationSeconds)
}
