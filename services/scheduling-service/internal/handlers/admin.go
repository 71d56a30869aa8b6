package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/model"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/rules"
)

// RulesAdmin is the mutation surface of the rules store, implemented by
// rules.Repository.
type RulesAdmin interface {
	GetResource(ctx context.Context, resourceID string) (model.Resource, error)
	CreateResource(ctx context.Context, shopID, name, timezone string, requirePrepay bool) (string, error)
	DeactivateResource(ctx context.Context, resourceID string) error
	UpsertHours(ctx context.Context, resourceID string, weekday time.Weekday, spans []rules.ClockSpan) error
	SetException(ctx context.Context, resourceID string, localDate string, rule rules.DayRule) error
	DeleteException(ctx context.Context, resourceID, localDate string) error
	UpsertPolicy(ctx context.Context, resourceID string, policy rules.LeadTimePolicy) error
}

type AdminHandler struct {
	rules  RulesAdmin
	logger *slog.Logger
}

func NewAdminHandler(rulesAdmin RulesAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{rules: rulesAdmin, logger: logger}
}

type spanItem struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// CreateResource handles POST /api/v1/admin/resources.
func (h *AdminHandler) CreateResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ShopID        string `json:"shop_id"`
		Name          string `json:"name"`
		Timezone      string `json:"timezone"`
		RequirePrepay bool   `json:"require_prepay"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ShopID = strings.TrimSpace(req.ShopID)
	req.Name = strings.TrimSpace(req.Name)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.ShopID == "" || req.Name == "" || req.Timezone == "" {
		http.Error(w, "shop_id, name, and timezone are required", http.StatusBadRequest)
		return
	}
	if !wellFormedID(req.ShopID) {
		http.Error(w, "invalid shop_id", http.StatusBadRequest)
		return
	}

	id, err := h.rules.CreateResource(r.Context(), req.ShopID, req.Name, req.Timezone, req.RequirePrepay)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("resource created", "resource_id", id, "shop_id", req.ShopID)
	writeJSON(w, http.StatusCreated, map[string]string{"resource_id": id})
}

// GetResource handles GET /api/v1/admin/resources/get?resource_id=.
func (h *AdminHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	if id == "" || !wellFormedID(id) {
		http.Error(w, "invalid resource_id", http.StatusBadRequest)
		return
	}
	res, err := h.rules.GetResource(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id":    res.ID,
		"shop_id":        res.ShopID,
		"name":           res.Name,
		"timezone":       res.Timezone,
		"active":         res.Active,
		"require_prepay": res.RequirePrepay,
		"created_at":     res.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// DeactivateResource handles POST /api/v1/admin/resources/deactivate.
// Deactivation is a soft delete: history stays, new bookings stop.
func (h *AdminHandler) DeactivateResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ResourceID string `json:"resource_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	if req.ResourceID == "" || !wellFormedID(req.ResourceID) {
		http.Error(w, "invalid resource_id", http.StatusBadRequest)
		return
	}
	if err := h.rules.DeactivateResource(r.Context(), req.ResourceID); err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("resource deactivated", "resource_id", req.ResourceID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// UpsertHours handles POST /api/v1/admin/hours. An empty spans list closes
// the weekday.
func (h *AdminHandler) UpsertHours(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ResourceID string     `json:"resource_id"`
		Weekday    int        `json:"weekday"`
		Spans      []spanItem `json:"spans"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	if req.ResourceID == "" || !wellFormedID(req.ResourceID) {
		http.Error(w, "invalid resource_id", http.StatusBadRequest)
		return
	}
	if req.Weekday < 0 || req.Weekday > 6 {
		http.Error(w, "weekday must be 0 (Sunday) through 6 (Saturday)", http.StatusBadRequest)
		return
	}

	spans := make([]rules.ClockSpan, 0, len(req.Spans))
	for _, sp := range req.Spans {
		spans = append(spans, rules.ClockSpan{StartMinute: sp.StartMinute, EndMinute: sp.EndMinute})
	}
	if err := h.rules.UpsertHours(r.Context(), req.ResourceID, time.Weekday(req.Weekday), spans); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetException handles POST /api/v1/admin/exceptions. closed=true records a
// holiday; otherwise spans define the altered hours for that date.
func (h *AdminHandler) SetException(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ResourceID string     `json:"resource_id"`
		Date       string     `json:"date"`
		Closed     bool       `json:"closed"`
		Spans      []spanItem `json:"spans"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.Date = strings.TrimSpace(req.Date)
	if req.ResourceID == "" || req.Date == "" {
		http.Error(w, "resource_id and date are required", http.StatusBadRequest)
		return
	}
	if !wellFormedID(req.ResourceID) {
		http.Error(w, "invalid resource_id", http.StatusBadRequest)
		return
	}

	rule := rules.Closed()
	if !req.Closed {
		spans := make([]rules.ClockSpan, 0, len(req.Spans))
		for _, sp := range req.Spans {
			spans = append(spans, rules.ClockSpan{StartMinute: sp.StartMinute, EndMinute: sp.EndMinute})
		}
		if len(spans) == 0 {
			http.Error(w, "spans required unless closed", http.StatusBadRequest)
			return
		}
		rule = rules.Open(spans...)
	}
	if err := h.rules.SetException(r.Context(), req.ResourceID, req.Date, rule); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteException handles POST /api/v1/admin/exceptions/delete.
func (h *AdminHandler) DeleteException(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ResourceID string `json:"resource_id"`
		Date       string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.Date = strings.TrimSpace(req.Date)
	if req.ResourceID == "" || req.Date == "" {
		http.Error(w, "resource_id and date are required", http.StatusBadRequest)
		return
	}
	if !wellFormedID(req.ResourceID) {
		http.Error(w, "invalid resource_id", http.StatusBadRequest)
		return
	}
	if err := h.rules.DeleteException(r.Context(), req.ResourceID, req.Date); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// UpsertPolicy handles POST /api/v1/admin/policy. An empty resource_id sets
// the global default; a non-empty one writes a per-resource override.
func (h *AdminHandler) UpsertPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ResourceID       string `json:"resource_id"`
		MinNoticeMinutes int    `json:"min_notice_minutes"`
		MaxAdvanceDays   int    `json:"max_advance_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	if req.ResourceID != "" && !wellFormedID(req.ResourceID) {
		http.Error(w, "invalid resource_id", http.StatusBadRequest)
		return
	}
	policy := rules.LeadTimePolicy{
		MinNotice:      time.Duration(req.MinNoticeMinutes) * time.Minute,
		MaxAdvanceDays: req.MaxAdvanceDays,
	}
	if err := h.rules.UpsertPolicy(r.Context(), req.ResourceID, policy); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *AdminHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		h.logger.Error("admin request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
