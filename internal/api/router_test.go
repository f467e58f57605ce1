package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
	"github.com/hackgods/slot-waitlist-scheduling/internal/auth"
	"github.com/hackgods/slot-waitlist-scheduling/internal/metrics"
	"github.com/hackgods/slot-waitlist-scheduling/internal/stats"
)

type fakeBooking struct {
	BookFn                     func(ctx context.Context, userID, providerID, slotID uuid.UUID) (*appointment.BookingResult, error)
	CancelFn                   func(ctx context.Context, appointmentID, callerID uuid.UUID) (*appointment.Appointment, error)
	RescheduleFn               func(ctx context.Context, appointmentID, newSlotID, callerID uuid.UUID) (*appointment.BookingResult, error)
	PromoteFn                  func(ctx context.Context, slotID uuid.UUID) (bool, error)
	CreateSlotFn               func(ctx context.Context, providerID uuid.UUID, start time.Time) (*appointment.Slot, error)
	DeleteSlotFn               func(ctx context.Context, slotID, providerID uuid.UUID) error
	GetSlotFn                  func(ctx context.Context, slotID uuid.UUID) (*appointment.SlotView, error)
	ListAvailableSlotsFn       func(ctx context.Context, providerID *uuid.UUID) ([]appointment.Slot, error)
	ListProviderSlotsFn        func(ctx context.Context, providerID uuid.UUID) ([]appointment.SlotView, error)
	ListUserAppointmentsFn     func(ctx context.Context, userID uuid.UUID) ([]appointment.AppointmentDetail, error)
	ListProviderAppointmentsFn func(ctx context.Context, providerID uuid.UUID) ([]appointment.AppointmentDetail, error)
}

func (f *fakeBooking) Book(ctx context.Context, userID, providerID, slotID uuid.UUID) (*appointment.BookingResult, error) {
	if f.BookFn == nil {
		panic("Book not implemented")
	}
	return f.BookFn(ctx, userID, providerID, slotID)
}

func (f *fakeBooking) Cancel(ctx context.Context, appointmentID, callerID uuid.UUID) (*appointment.Appointment, error) {
	if f.CancelFn == nil {
		panic("Cancel not implemented")
	}
	return f.CancelFn(ctx, appointmentID, callerID)
}

func (f *fakeBooking) Reschedule(ctx context.Context, appointmentID, newSlotID, callerID uuid.UUID) (*appointment.BookingResult, error) {
	if f.RescheduleFn == nil {
		panic("Reschedule not implemented")
	}
	return f.RescheduleFn(ctx, appointmentID, newSlotID, callerID)
}

func (f *fakeBooking) Promote(ctx context.Context, slotID uuid.UUID) (bool, error) {
	if f.PromoteFn == nil {
		panic("Promote not implemented")
	}
	return f.PromoteFn(ctx, slotID)
}

func (f *fakeBooking) CreateSlot(ctx context.Context, providerID uuid.UUID, start time.Time) (*appointment.Slot, error) {
	if f.CreateSlotFn == nil {
		panic("CreateSlot not implemented")
	}
	return f.CreateSlotFn(ctx, providerID, start)
}

func (f *fakeBooking) DeleteSlot(ctx context.Context, slotID, providerID uuid.UUID) error {
	if f.DeleteSlotFn == nil {
		panic("DeleteSlot not implemented")
	}
	return f.DeleteSlotFn(ctx, slotID, providerID)
}

func (f *fakeBooking) GetSlot(ctx context.Context, slotID uuid.UUID) (*appointment.SlotView, error) {
	if f.GetSlotFn == nil {
		panic("GetSlot not implemented")
	}
	return f.GetSlotFn(ctx, slotID)
}

func (f *fakeBooking) ListAvailableSlots(ctx context.Context, providerID *uuid.UUID) ([]appointment.Slot, error) {
	if f.ListAvailableSlotsFn == nil {
		panic("ListAvailableSlots not implemented")
	}
	return f.ListAvailableSlotsFn(ctx, providerID)
}

func (f *fakeBooking) ListProviderSlots(ctx context.Context, providerID uuid.UUID) ([]appointment.SlotView, error) {
	if f.ListProviderSlotsFn == nil {
		panic("ListProviderSlots not implemented")
	}
	return f.ListProviderSlotsFn(ctx, providerID)
}

func (f *fakeBooking) ListUserAppointments(ctx context.Context, userID uuid.UUID) ([]appointment.AppointmentDetail, error) {
	if f.ListUserAppointmentsFn == nil {
		panic("ListUserAppointments not implemented")
	}
	return f.ListUserAppointmentsFn(ctx, userID)
}

func (f *fakeBooking) ListProviderAppointments(ctx context.Context, providerID uuid.UUID) ([]appointment.AppointmentDetail, error) {
	if f.ListProviderAppointmentsFn == nil {
		panic("ListProviderAppointments not implemented")
	}
	return f.ListProviderAppointmentsFn(ctx, providerID)
}

type fakeStats struct {
	GetFn func(ctx context.Context) (*stats.Dashboard, error)
}

func (f *fakeStats) Get(ctx context.Context) (*stats.Dashboard, error) {
	return f.GetFn(ctx)
}

type testServer struct {
	handler http.Handler
	tokens  *auth.JWTManager
	metrics *metrics.Collector
}

func newTestServer(t *testing.T, svc BookingService, st StatsService, limiter *RateLimiter) *testServer {
	t.Helper()
	tokens := auth.NewJWTManager("test-secret", "test")
	m := metrics.NewCollector("test")
	ok := func(context.Context) error { return nil }
	h := NewRouter(RouterConfig{
		Service:      svc,
		Stats:        st,
		Tokens:       tokens,
		Metrics:      m,
		Logger:       zaptest.NewLogger(t),
		Limiter:      limiter,
		PostgresPing: ok,
		RedisPing:    ok,
		Env:          "test",
		Version:      "dev",
	})
	return &testServer{handler: h, tokens: tokens, metrics: m}
}

func (s *testServer) token(t *testing.T, id uuid.UUID, role appointment.Role) string {
	t.Helper()
	tok, err := s.tokens.Issue(auth.Identity{UserID: id, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestBook_StatusCodes(t *testing.T) {
	userID := uuid.New()
	slotID := uuid.New()

	cases := []struct {
		status appointment.BookingStatus
		code   int
	}{
		{appointment.BookingBooked, http.StatusCreated},
		{appointment.BookingQueued, http.StatusAccepted},
		{appointment.BookingAlreadyQueued, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			svc := &fakeBooking{
				BookFn: func(_ context.Context, u, _, s uuid.UUID) (*appointment.BookingResult, error) {
					if u != userID {
						return nil, fmt.Errorf("user = %s, want caller %s", u, userID)
					}
					res := &appointment.BookingResult{Status: tc.status, Message: "ok"}
					if tc.status != appointment.BookingBooked {
						res.QueuedSlotID = &s
					}
					return res, nil
				},
			}
			srv := newTestServer(t, svc, nil, nil)

			rec := srv.do(t, http.MethodPost, "/appointments", srv.token(t, userID, appointment.RoleUser),
				BookRequest{ProviderID: uuid.NewString(), SlotID: slotID.String()})
			if rec.Code != tc.code {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tc.code, rec.Body.String())
			}

			var resp BookingResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != string(tc.status) {
				t.Fatalf("status = %q, want %q", resp.Status, tc.status)
			}
			if tc.status != appointment.BookingBooked && (resp.QueuedSlotID == nil || *resp.QueuedSlotID != slotID) {
				t.Fatalf("queued_slot_id = %v, want %s", resp.QueuedSlotID, slotID)
			}
		})
	}
}

func TestBook_RejectsMalformedInput(t *testing.T) {
	srv := newTestServer(t, &fakeBooking{}, nil, nil)
	tok := srv.token(t, uuid.New(), appointment.RoleUser)

	rec := srv.do(t, http.MethodPost, "/appointments", tok, BookRequest{ProviderID: "nope", SlotID: uuid.NewString()})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "invalid_provider_id" {
		t.Fatalf("error = %q, want invalid_provider_id", e.Error)
	}

	rec = srv.do(t, http.MethodPost, "/appointments/not-a-uuid/reschedule", tok, RescheduleRequest{NewSlotID: uuid.NewString()})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reschedule code = %d, want 400", rec.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"busy", appointment.ErrSlotBusy, http.StatusConflict, "slot_busy"},
		{"not found", appointment.ErrAppointmentNotFound, http.StatusNotFound, "not_found"},
		{"forbidden", appointment.ErrNotAppointmentOwner, http.StatusForbidden, "forbidden"},
		{"conflict", appointment.ErrAlreadyCancelled, http.StatusConflict, "conflict"},
		{"wrapped", fmt.Errorf("cancel: %w", appointment.ErrAlreadyCancelled), http.StatusConflict, "conflict"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeBooking{
				CancelFn: func(context.Context, uuid.UUID, uuid.UUID) (*appointment.Appointment, error) {
					return nil, tc.err
				},
			}
			srv := newTestServer(t, svc, nil, nil)

			rec := srv.do(t, http.MethodDelete, "/appointments/"+uuid.NewString(), srv.token(t, uuid.New(), appointment.RoleUser), nil)
			if rec.Code != tc.code {
				t.Fatalf("code = %d, want %d", rec.Code, tc.code)
			}
			e := decodeError(t, rec)
			if e.Error != tc.kind {
				t.Fatalf("error = %q, want %q", e.Error, tc.kind)
			}
			if tc.code == http.StatusInternalServerError && e.Details == tc.err.Error() {
				t.Fatal("internal error details leaked to the client")
			}
		})
	}
}

func TestAuthAndRoles(t *testing.T) {
	svc := &fakeBooking{
		ListProviderSlotsFn: func(context.Context, uuid.UUID) ([]appointment.SlotView, error) {
			return nil, nil
		},
	}
	srv := newTestServer(t, svc, nil, nil)

	if rec := srv.do(t, http.MethodGet, "/provider/slots", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d, want 401", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/provider/slots", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: code = %d, want 401", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/provider/slots", srv.token(t, uuid.New(), appointment.RoleUser), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("user on provider route: code = %d, want 403", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/appointments", srv.token(t, uuid.New(), appointment.RoleProvider), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("provider booking: code = %d, want 403", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/provider/slots", srv.token(t, uuid.New(), appointment.RoleProvider), nil); rec.Code != http.StatusOK {
		t.Fatalf("provider: code = %d, want 200", rec.Code)
	}
}

func TestProviderSlotLifecycle(t *testing.T) {
	providerID := uuid.New()
	start := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)
	slotID := uuid.New()

	var deleted bool
	svc := &fakeBooking{
		CreateSlotFn: func(_ context.Context, p uuid.UUID, s time.Time) (*appointment.Slot, error) {
			if p != providerID || !s.Equal(start) {
				return nil, fmt.Errorf("unexpected args %s %s", p, s)
			}
			return &appointment.Slot{ID: slotID, ProviderID: p, StartTime: s, EndTime: s.Add(appointment.SlotDuration)}, nil
		},
		DeleteSlotFn: func(_ context.Context, s, p uuid.UUID) error {
			if s != slotID || p != providerID {
				return appointment.ErrNotSlotOwner
			}
			deleted = true
			return nil
		},
	}
	srv := newTestServer(t, svc, nil, nil)
	tok := srv.token(t, providerID, appointment.RoleProvider)

	rec := srv.do(t, http.MethodPost, "/provider/slots", tok, CreateSlotRequest{StartTime: start})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create code = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	var slot SlotResponse
	if err := json.NewDecoder(rec.Body).Decode(&slot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if slot.ID != slotID || !slot.EndTime.Equal(start.Add(time.Hour)) {
		t.Fatalf("slot = %+v", slot)
	}

	rec = srv.do(t, http.MethodPost, "/provider/slots", tok, map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing start_time: code = %d, want 400", rec.Code)
	}

	rec = srv.do(t, http.MethodDelete, "/provider/slots/"+slotID.String(), tok, nil)
	if rec.Code != http.StatusNoContent || !deleted {
		t.Fatalf("delete code = %d deleted = %v", rec.Code, deleted)
	}
}

func TestSlotQueries(t *testing.T) {
	providerID := uuid.New()
	slotID := uuid.New()
	var gotFilter *uuid.UUID
	svc := &fakeBooking{
		ListAvailableSlotsFn: func(_ context.Context, p *uuid.UUID) ([]appointment.Slot, error) {
			gotFilter = p
			return []appointment.Slot{{ID: slotID, ProviderID: providerID}}, nil
		},
		GetSlotFn: func(_ context.Context, id uuid.UUID) (*appointment.SlotView, error) {
			if id != slotID {
				return nil, appointment.ErrSlotNotFound
			}
			return &appointment.SlotView{Slot: appointment.Slot{ID: id, Booked: true}, QueueSize: 3}, nil
		},
	}
	srv := newTestServer(t, svc, nil, nil)
	tok := srv.token(t, uuid.New(), appointment.RoleUser)

	rec := srv.do(t, http.MethodGet, "/slots?provider_id="+providerID.String(), tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list code = %d", rec.Code)
	}
	if gotFilter == nil || *gotFilter != providerID {
		t.Fatalf("provider filter = %v, want %s", gotFilter, providerID)
	}

	if rec := srv.do(t, http.MethodGet, "/slots?provider_id=bad", tok, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: code = %d, want 400", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/slots/"+slotID.String(), tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get code = %d", rec.Code)
	}
	var view SlotResponse
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.QueueSize == nil || *view.QueueSize != 3 {
		t.Fatalf("queue_size = %v, want 3", view.QueueSize)
	}

	if rec := srv.do(t, http.MethodGet, "/slots/"+uuid.NewString(), tok, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing slot: code = %d, want 404", rec.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	slotID := uuid.New()
	svc := &fakeBooking{
		PromoteFn: func(_ context.Context, id uuid.UUID) (bool, error) {
			return id == slotID, nil
		},
	}
	st := &fakeStats{
		GetFn: func(context.Context) (*stats.Dashboard, error) {
			return &stats.Dashboard{TotalUsers: 7, PeakHours: map[string]int64{"09": 2}}, nil
		},
	}
	srv := newTestServer(t, svc, st, nil)
	admin := srv.token(t, uuid.New(), appointment.RoleAdmin)

	rec := srv.do(t, http.MethodGet, "/admin/stats", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats code = %d", rec.Code)
	}
	var d stats.Dashboard
	if err := json.NewDecoder(rec.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.TotalUsers != 7 || d.PeakHours["09"] != 2 {
		t.Fatalf("dashboard = %+v", d)
	}

	rec = srv.do(t, http.MethodPost, "/admin/slots/"+slotID.String()+"/promote", admin, nil)
	var p PromoteResponse
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || !p.Booked || p.SlotID != slotID {
		t.Fatalf("promote code = %d resp = %+v", rec.Code, p)
	}

	if rec := srv.do(t, http.MethodGet, "/admin/stats", srv.token(t, uuid.New(), appointment.RoleProvider), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("provider on admin route: code = %d, want 403", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	svc := &fakeBooking{
		ListUserAppointmentsFn: func(context.Context, uuid.UUID) ([]appointment.AppointmentDetail, error) {
			return nil, nil
		},
	}
	srv := newTestServer(t, svc, nil, NewRateLimiter(0.001, 2))
	tok := srv.token(t, uuid.New(), appointment.RoleUser)

	for i := 0; i < 2; i++ {
		if rec := srv.do(t, http.MethodGet, "/appointments", tok, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: code = %d, want 200", i, rec.Code)
		}
	}
	rec := srv.do(t, http.MethodGet, "/appointments", tok, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	// health is outside the limited group
	if rec := srv.do(t, http.MethodGet, "/health/live", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health code = %d, want 200", rec.Code)
	}
}

func TestMetricsRecordRoutePattern(t *testing.T) {
	svc := &fakeBooking{
		CancelFn: func(_ context.Context, id, _ uuid.UUID) (*appointment.Appointment, error) {
			return &appointment.Appointment{ID: id, Status: appointment.StatusCancelled}, nil
		},
	}
	srv := newTestServer(t, svc, nil, nil)
	tok := srv.token(t, uuid.New(), appointment.RoleUser)

	for i := 0; i < 3; i++ {
		if rec := srv.do(t, http.MethodDelete, "/appointments/"+uuid.NewString(), tok, nil); rec.Code != http.StatusOK {
			t.Fatalf("code = %d", rec.Code)
		}
	}

	got := testutil.ToFloat64(srv.metrics.RequestsTotal.WithLabelValues(http.MethodDelete, "/appointments/{id}", "200"))
	if got != 3 {
		t.Fatalf("requests_total = %v, want 3", got)
	}

	rec := srv.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("test_http_requests_total")) {
		t.Fatalf("metrics endpoint code = %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	down := func(context.Context) error { return errors.New("dial tcp: refused") }
	ok := func(context.Context) error { return nil }

	h := NewHealthHandler(ok, down, "test", "dev")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Dependencies["postgres"] != "ok" || resp.Dependencies["redis"] != "down" {
		t.Fatalf("deps = %v", resp.Dependencies)
	}

	h = NewHealthHandler(ok, ok, "test", "dev")
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
}
