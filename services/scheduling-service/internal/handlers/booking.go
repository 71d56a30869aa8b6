package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/availability"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/engine"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/model"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/storage"
)

// BookingEngine is the slice of the engine the public booking API needs.
type BookingEngine interface {
	GetSlots(ctx context.Context, resourceID, date string, duration time.Duration) ([]availability.Interval, error)
	FindNextAvailable(ctx context.Context, resourceIDs []string, explicit bool, duration time.Duration, horizonDays int) (engine.NextSlot, bool, error)
	CommitBooking(ctx context.Context, req model.BookingRequest) (string, error)
	CancelBooking(ctx context.Context, reservationID, reason string) (*model.Reservation, error)
	GetBooking(ctx context.Context, reservationID string) (*model.Reservation, error)
}

// ReservationLister is implemented by storage.Ledger.
type ReservationLister interface {
	ListByResource(ctx context.Context, resourceID string, from, to time.Time, limit int) ([]model.Reservation, error)
}

type BookingHandler struct {
	engine BookingEngine
	lister ReservationLister
	clock  engine.Clock
	logger *slog.Logger
}

func NewBookingHandler(eng BookingEngine, lister ReservationLister, clock engine.Clock, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: eng, lister: lister, clock: clock, logger: logger}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type nextSlotResponse struct {
	Available  bool      `json:"available"`
	ResourceID string    `json:"resource_id,omitempty"`
	Date       string    `json:"date,omitempty"`
	Slot       *slotItem `json:"slot,omitempty"`
}

type createBookingRequest struct {
	ResourceID    string `json:"resource_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
}

type createBookingResponse struct {
	ReservationID string `json:"reservation_id"`
}

type cancelBookingRequest struct {
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"`
}

type reservationItem struct {
	ReservationID string `json:"reservation_id"`
	ResourceID    string `json:"resource_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CustomerName  string `json:"customer_name"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty"`
}

// Slots handles GET /api/v1/slots?resource_id=&date=&duration_minutes=.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if resourceID == "" || date == "" {
		http.Error(w, "resource_id and date are required", http.StatusBadRequest)
		return
	}
	if !wellFormedID(resourceID) {
		http.Error(w, "invalid resource_id", http.StatusBadRequest)
		return
	}
	duration, ok := durationMinutesParam(r, 30)
	if !ok {
		http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
		return
	}

	slots, err := h.engine.GetSlots(r.Context(), resourceID, date, duration)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// NextAvailable handles GET /api/v1/slots/next?resource_ids=&duration_minutes=&horizon_days=.
// Without resource_ids the search spans every active resource the caller's
// token scope allows.
func (h *BookingHandler) NextAvailable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	duration, ok := durationMinutesParam(r, 30)
	if !ok {
		http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
		return
	}
	horizonDays := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("horizon_days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid horizon_days", http.StatusBadRequest)
			return
		}
		horizonDays = n
	}

	var requested []string
	if raw := strings.TrimSpace(r.URL.Query().Get("resource_ids")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				if !wellFormedID(id) {
					http.Error(w, "invalid resource_ids", http.StatusBadRequest)
					return
				}
				requested = append(requested, id)
			}
		}
	}
	claims, _ := ClaimsFrom(r.Context())
	resourceIDs, ok := scopedResources(claims, requested)
	if !ok {
		http.Error(w, "resource outside token scope", http.StatusForbidden)
		return
	}

	// Only a hand-picked list is explicit; a scope-derived or empty set
	// tolerates resources that have since been deactivated.
	next, found, err := h.engine.FindNextAvailable(r.Context(), resourceIDs, len(requested) > 0, duration, horizonDays)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nextSlotResponse{Available: false})
		return
	}
	writeJSON(w, http.StatusOK, nextSlotResponse{
		Available:  true,
		ResourceID: next.ResourceID,
		Date:       next.Date,
		Slot: &slotItem{
			StartTime: next.Slot.Start.UTC().Format(time.RFC3339),
			EndTime:   next.Slot.End.UTC().Format(time.RFC3339),
		},
	})
}

// Create handles POST /api/v1/bookings. An Idempotency-Key header makes the
// request safely retryable: replays return the original reservation id.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	resourceID := strings.TrimSpace(req.ResourceID)
	if resourceID == "" || !wellFormedID(resourceID) {
		http.Error(w, "invalid resource_id", http.StatusBadRequest)
		return
	}

	id, err := h.engine.CommitBooking(r.Context(), model.BookingRequest{
		ResourceID:     resourceID,
		Start:          start,
		End:            end,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:  strings.TrimSpace(req.CustomerPhone),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBookingResponse{ReservationID: id})
}

// Cancel handles POST /api/v1/bookings/cancel.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	if req.ReservationID == "" || !wellFormedID(req.ReservationID) {
		http.Error(w, "invalid reservation_id", http.StatusBadRequest)
		return
	}

	res, err := h.engine.CancelBooking(r.Context(), req.ReservationID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationToItem(res))
}

// Get handles GET /api/v1/bookings/get?reservation_id=.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("reservation_id"))
	if id == "" || !wellFormedID(id) {
		http.Error(w, "invalid reservation_id", http.StatusBadRequest)
		return
	}
	res, err := h.engine.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationToItem(res))
}

// List handles GET /api/v1/bookings?resource_id=&from=&to=&limit=.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	if resourceID == "" || !wellFormedID(resourceID) {
		http.Error(w, "invalid resource_id", http.StatusBadRequest)
		return
	}

	now := h.clock.Now().UTC()
	from, to := now, now.AddDate(0, 0, 30)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
		to = t
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	reservations, err := h.lister.ListByResource(r.Context(), resourceID, from, to, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]reservationItem, 0, len(reservations))
	for i := range reservations {
		items = append(items, reservationToItem(&reservations[i]))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, model.ErrConflict):
		http.Error(w, "time slot already booked", http.StatusConflict)
	case errors.Is(err, model.ErrOutOfPolicy):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, model.ErrTerminalState):
		http.Error(w, "reservation is in a terminal state", http.StatusConflict)
	case errors.Is(err, storage.ErrRetryable):
		http.Error(w, "temporarily unavailable, retry", http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func reservationToItem(res *model.Reservation) reservationItem {
	item := reservationItem{
		ReservationID: res.ID,
		ResourceID:    res.ResourceID,
		StartTime:     res.Start.UTC().Format(time.RFC3339),
		EndTime:       res.End.UTC().Format(time.RFC3339),
		Status:        string(res.Status),
		CustomerName:  res.CustomerName,
		CancelReason:  res.CancelReason,
	}
	if res.CancelledAt != nil {
		item.CancelledAt = res.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

// wellFormedID rejects malformed identifiers up front so they read as bad
// requests instead of reaching the database.
func wellFormedID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}

func durationMinutesParam(r *http.Request, def int) (time.Duration, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("duration_minutes"))
	if raw == "" {
		return time.Duration(def) * time.Minute, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Minute, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
