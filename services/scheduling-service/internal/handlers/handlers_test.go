package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aline-moraes/chairbook/libs/auth"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/availability"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/engine"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/model"
)

// Resource and reservation ids used across handler tests. Handlers reject
// anything that does not parse as a uuid, so the stubs get real ones.
const (
	barberA       = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
	barberB       = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	barberOutside = "6ba7b811-9dad-11d1-80b4-00c04fd430c8"
	reservationID = "7d444840-9dc0-11d1-b245-5ffdce74fad2"
)

type stubEngine struct {
	slots     []availability.Interval
	slotsErr  error
	next      engine.NextSlot
	nextFound bool
	nextErr   error
	commitID  string
	commitErr error
	cancelRes *model.Reservation
	cancelErr error

	gotResourceIDs []string
	gotExplicit    bool
	gotReq         model.BookingRequest
}

func (s *stubEngine) GetSlots(_ context.Context, _, _ string, _ time.Duration) ([]availability.Interval, error) {
	return s.slots, s.slotsErr
}

func (s *stubEngine) FindNextAvailable(_ context.Context, resourceIDs []string, explicit bool, _ time.Duration, _ int) (engine.NextSlot, bool, error) {
	s.gotResourceIDs = resourceIDs
	s.gotExplicit = explicit
	return s.next, s.nextFound, s.nextErr
}

func (s *stubEngine) CommitBooking(_ context.Context, req model.BookingRequest) (string, error) {
	s.gotReq = req
	return s.commitID, s.commitErr
}

func (s *stubEngine) CancelBooking(_ context.Context, _, _ string) (*model.Reservation, error) {
	return s.cancelRes, s.cancelErr
}

func (s *stubEngine) GetBooking(_ context.Context, _ string) (*model.Reservation, error) {
	return s.cancelRes, s.cancelErr
}

type stubLister struct {
	reservations []model.Reservation

	gotFrom time.Time
	gotTo   time.Time
}

func (s *stubLister) ListByResource(_ context.Context, _ string, from, to time.Time, _ int) ([]model.Reservation, error) {
	s.gotFrom, s.gotTo = from, to
	return s.reservations, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testClock() fixedClock {
	return fixedClock{time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSlotsHandler(t *testing.T) {
	day := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	eng := &stubEngine{slots: []availability.Interval{
		{Start: day, End: day.Add(30 * time.Minute)},
		{Start: day.Add(30 * time.Minute), End: day.Add(time.Hour)},
	}}
	h := NewBookingHandler(eng, &stubLister{}, testClock(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots?resource_id="+barberA+"&date=2026-03-12", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "2026-03-12T09:00:00Z") {
		t.Fatalf("body missing first slot: %s", body)
	}
}

func TestSlotsHandlerValidation(t *testing.T) {
	h := NewBookingHandler(&stubEngine{}, &stubLister{}, testClock(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots?resource_id="+barberA, nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing date: status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/slots?resource_id="+barberA+"&date=2026-03-12&duration_minutes=zero", nil)
	rec = httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad duration: status = %d, want 400", rec.Code)
	}
}

func TestSlotsHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrInvalidInput, http.StatusBadRequest},
		{model.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		h := NewBookingHandler(&stubEngine{slotsErr: tc.err}, &stubLister{}, testClock(), discardLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/v1/slots?resource_id="+barberA+"&date=2026-03-12", nil)
		rec := httptest.NewRecorder()
		h.Slots(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestMalformedIdentifiersRejected(t *testing.T) {
	// Ids that are not uuids must be rejected up front rather than reaching
	// the engine or the database.
	eng := &stubEngine{nextFound: true}
	h := NewBookingHandler(eng, &stubLister{}, testClock(), discardLogger())

	cases := []struct {
		name string
		do   func(rec *httptest.ResponseRecorder)
	}{
		{"slots", func(rec *httptest.ResponseRecorder) {
			h.Slots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slots?resource_id=abc&date=2026-03-12", nil))
		}},
		{"next", func(rec *httptest.ResponseRecorder) {
			h.NextAvailable(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slots/next?resource_ids=abc", nil))
		}},
		{"create", func(rec *httptest.ResponseRecorder) {
			body := `{"resource_id":"abc","start_time":"2026-03-12T10:00:00Z","end_time":"2026-03-12T10:30:00Z","customer_name":"A"}`
			h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(body)))
		}},
		{"cancel", func(rec *httptest.ResponseRecorder) {
			h.Cancel(rec, httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel", strings.NewReader(`{"reservation_id":"abc"}`)))
		}},
		{"get", func(rec *httptest.ResponseRecorder) {
			h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bookings/get?reservation_id=abc", nil))
		}},
		{"list", func(rec *httptest.ResponseRecorder) {
			h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bookings?resource_id=abc", nil))
		}},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		tc.do(rec)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestNextAvailableHandler(t *testing.T) {
	day := time.Date(2026, 3, 13, 13, 0, 0, 0, time.UTC)
	eng := &stubEngine{
		next: engine.NextSlot{
			ResourceID: barberA,
			Date:       "2026-03-13",
			Slot:       availability.Interval{Start: day, End: day.Add(30 * time.Minute)},
		},
		nextFound: true,
	}
	h := NewBookingHandler(eng, &stubLister{}, testClock(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots/next?resource_ids="+barberA+","+barberB, nil)
	rec := httptest.NewRecorder()
	h.NextAvailable(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(eng.gotResourceIDs) != 2 {
		t.Fatalf("expected 2 requested resources, got %v", eng.gotResourceIDs)
	}
	if !eng.gotExplicit {
		t.Fatal("a hand-picked resource list must be searched as explicit")
	}
	if !strings.Contains(rec.Body.String(), `"available":true`) {
		t.Fatalf("body missing available flag: %s", rec.Body.String())
	}
}

func TestNextAvailableNoAvailability(t *testing.T) {
	eng := &stubEngine{}
	h := NewBookingHandler(eng, &stubLister{}, testClock(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots/next", nil)
	rec := httptest.NewRecorder()
	h.NextAvailable(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if eng.gotExplicit {
		t.Fatal("an any-resource search must not be explicit")
	}
	if !strings.Contains(rec.Body.String(), `"available":false`) {
		t.Fatalf("expected sentinel body, got %s", rec.Body.String())
	}
}

func TestNextAvailableScopeFiltering(t *testing.T) {
	const secret = "test-secret"
	eng := &stubEngine{}
	h := NewBookingHandler(eng, &stubLister{}, testClock(), discardLogger())
	wrapped := WithAuth(secret, false)(http.HandlerFunc(h.NextAvailable))

	token, err := auth.SignHS256(auth.Claims{
		Sub:       "user-1",
		Role:      "customer",
		Resources: []string{barberA, barberB},
		Exp:       time.Now().Add(time.Hour).Unix(),
	}, secret)
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}

	// Out-of-scope explicit request is rejected.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots/next?resource_ids="+barberOutside, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("out-of-scope: status = %d, want 403", rec.Code)
	}

	// Any-resource search narrows to the token's scope.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/slots/next", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("scoped search: status = %d, want 200", rec.Code)
	}
	if len(eng.gotResourceIDs) != 2 || eng.gotResourceIDs[0] != barberA {
		t.Fatalf("expected scope-narrowed ids, got %v", eng.gotResourceIDs)
	}
	// A scope-derived list tolerates resources deactivated after issuance,
	// so it must not be searched as an explicit list.
	if eng.gotExplicit {
		t.Fatal("a scope-derived resource list must not be explicit")
	}
}

func TestCreateBookingHandler(t *testing.T) {
	eng := &stubEngine{commitID: reservationID}
	h := NewBookingHandler(eng, &stubLister{}, testClock(), discardLogger())

	body := `{
		"resource_id": "` + barberA + `",
		"start_time": "2026-03-12T10:00:00Z",
		"end_time": "2026-03-12T10:30:00Z",
		"customer_name": "Marta"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "idem-1")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), reservationID) {
		t.Fatalf("body missing reservation id: %s", rec.Body.String())
	}
	if eng.gotReq.IdempotencyKey != "idem-1" {
		t.Fatalf("idempotency key not forwarded: %q", eng.gotReq.IdempotencyKey)
	}
	if !eng.gotReq.Start.Equal(time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("start not parsed: %v", eng.gotReq.Start)
	}
}

func TestCreateBookingErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrConflict, http.StatusConflict},
		{model.ErrOutOfPolicy, http.StatusUnprocessableEntity},
		{model.ErrNotFound, http.StatusNotFound},
		{model.ErrInvalidInput, http.StatusBadRequest},
	}
	body := `{"resource_id":"` + barberA + `","start_time":"2026-03-12T10:00:00Z","end_time":"2026-03-12T10:30:00Z","customer_name":"A"}`
	for _, tc := range cases {
		h := NewBookingHandler(&stubEngine{commitErr: tc.err}, &stubLister{}, testClock(), discardLogger())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.Create(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestCreateBookingBadBody(t *testing.T) {
	h := NewBookingHandler(&stubEngine{}, &stubLister{}, testClock(), discardLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCancelBookingHandler(t *testing.T) {
	now := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)
	h := NewBookingHandler(&stubEngine{cancelRes: &model.Reservation{
		ID:          reservationID,
		ResourceID:  barberA,
		Start:       now.Add(2 * time.Hour),
		End:         now.Add(2*time.Hour + 30*time.Minute),
		Status:      model.StatusCancelled,
		CancelledAt: &now,
	}}, &stubLister{}, testClock(), discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel",
		strings.NewReader(`{"reservation_id":"`+reservationID+`","reason":"client called"}`))
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"cancelled"`) {
		t.Fatalf("body missing cancelled status: %s", rec.Body.String())
	}
}

func TestCancelTerminalMapsToConflict(t *testing.T) {
	h := NewBookingHandler(&stubEngine{cancelErr: model.ErrTerminalState}, &stubLister{}, testClock(), discardLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel",
		strings.NewReader(`{"reservation_id":"`+reservationID+`"}`))
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestListDefaultWindowFromClock(t *testing.T) {
	clock := testClock()
	lister := &stubLister{}
	h := NewBookingHandler(&stubEngine{}, lister, clock, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings?resource_id="+barberA, nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !lister.gotFrom.Equal(clock.Now()) {
		t.Fatalf("default window start = %v, want clock now %v", lister.gotFrom, clock.Now())
	}
	if !lister.gotTo.Equal(clock.Now().AddDate(0, 0, 30)) {
		t.Fatalf("default window end = %v, want now+30d", lister.gotTo)
	}
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	protected := WithAuth(secret, true)(ok)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	token, err := auth.SignHS256(auth.Claims{
		Sub:  "admin-1",
		Role: "admin",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}, secret)
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}

	admin := WithAuth(secret, true)(RequireRole("admin")(ok))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin token: status = %d, want 204", rec.Code)
	}

	customerToken, err := auth.SignHS256(auth.Claims{
		Sub:  "user-1",
		Role: "customer",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}, secret)
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+customerToken)
	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("customer token on admin route: status = %d, want 403", rec.Code)
	}
}
