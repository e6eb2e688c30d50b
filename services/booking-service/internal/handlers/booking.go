package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/slotbook/libs/lock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-Role"

	dateLayout = "2006-01-02"
)

type BookingHandler struct {
	svc      *booking.Service
	logger   *slog.Logger
	validate *validator.Validate
}

func NewBookingHandler(svc *booking.Service, logger *slog.Logger) *BookingHandler {
	validate := validator.New()
	registerValidators(validate)
	return &BookingHandler{svc: svc, logger: logger, validate: validate}
}

func registerValidators(validate *validator.Validate) {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	_ = validate.RegisterValidation("rfc3339", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.RFC3339, fl.Field().String())
		return err == nil
	})
}

func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/slots", h.Slots)
	mux.HandleFunc("/api/v1/slots/get", h.GetSlot)
	mux.HandleFunc("/api/v1/slots/generate", h.GenerateSlots)
	mux.HandleFunc("/api/v1/appointments", h.Appointments)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
}

type createSlotRequest struct {
	ProviderID string `json:"provider_id" validate:"required,max=128"`
	Date       string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime  string `json:"start_time" validate:"required,rfc3339"`
	EndTime    string `json:"end_time" validate:"required,rfc3339"`
}

type generateSlotsRequest struct {
	ProviderID      string `json:"provider_id" validate:"required,max=128"`
	WindowStart     string `json:"window_start" validate:"required,rfc3339"`
	WindowEnd       string `json:"window_end" validate:"required,rfc3339"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=5,max=1440"`
	StepMinutes     int    `json:"step_minutes" validate:"omitempty,min=5,max=1440"`
}

type createAppointmentRequest struct {
	SlotID string `json:"slot_id" validate:"required,max=128"`
}

type cancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,max=128"`
}

type slotResponse struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Status     string `json:"status"`
	Version    int64  `json:"version"`
}

type appointmentResponse struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	SlotID    string `json:"slot_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toSlotResponse(s model.Slot) slotResponse {
	return slotResponse{
		ID:         s.ID,
		ProviderID: s.ProviderID,
		Date:       s.Date.Format(dateLayout),
		StartTime:  s.StartTime.UTC().Format(time.RFC3339),
		EndTime:    s.EndTime.UTC().Format(time.RFC3339),
		Status:     string(s.Status),
		Version:    s.Version,
	}
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:        a.ID,
		ClientID:  a.ClientID,
		SlotID:    a.SlotID,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSlot(w, r)
	case http.MethodGet:
		h.listSlots(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BookingHandler) createSlot(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createSlotRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !canManage(user, req.ProviderID) {
		http.Error(w, "only the provider can create its slots", http.StatusForbidden)
		return
	}

	start, _ := time.Parse(time.RFC3339, req.StartTime)
	end, _ := time.Parse(time.RFC3339, req.EndTime)
	var date time.Time
	if req.Date != "" {
		date, _ = time.Parse(dateLayout, req.Date)
	}

	slot, err := h.svc.CreateSlot(r.Context(), booking.CreateSlotCommand{
		ProviderID: req.ProviderID,
		Date:       date,
		StartTime:  start.UTC(),
		EndTime:    end.UTC(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(slot))
}

func (h *BookingHandler) listSlots(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	slots, err := h.svc.ListProviderSlots(r.Context(), providerID, from.UTC(), to.UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		items = append(items, toSlotResponse(s))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.caller(w, r); !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	slot, err := h.svc.GetSlot(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(slot))
}

func (h *BookingHandler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req generateSlotsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !canManage(user, req.ProviderID) {
		http.Error(w, "only the provider can create its slots", http.StatusForbidden)
		return
	}

	windowStart, _ := time.Parse(time.RFC3339, req.WindowStart)
	windowEnd, _ := time.Parse(time.RFC3339, req.WindowEnd)
	slots, err := h.svc.GenerateSlots(r.Context(), booking.GenerateSlotsCommand{
		ProviderID:  req.ProviderID,
		WindowStart: windowStart.UTC(),
		WindowEnd:   windowEnd.UTC(),
		Duration:    time.Duration(req.DurationMinutes) * time.Minute,
		Step:        time.Duration(req.StepMinutes) * time.Minute,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		items = append(items, toSlotResponse(s))
	}
	writeJSON(w, http.StatusCreated, items)
}

func (h *BookingHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createAppointment(w, r)
	case http.MethodGet:
		h.listAppointments(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BookingHandler) createAppointment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !user.Is(model.RoleClient) {
		http.Error(w, "only clients can book", http.StatusForbidden)
		return
	}
	var req createAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.svc.CreateAppointment(r.Context(), user.ID, req.SlotID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *BookingHandler) listAppointments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	appts, err := h.svc.ListClientAppointments(r.Context(), user.ID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req cancelAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.CancelAppointment(r.Context(), req.AppointmentID, user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointment_id": req.AppointmentID,
		"status":         string(model.AppointmentCancelled),
	})
}

// caller reads the identity asserted by the gateway.
func (h *BookingHandler) caller(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	user := model.User{
		ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role: model.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole)))),
	}
	if user.ID == "" || !user.Role.IsValid() {
		http.Error(w, "missing or invalid identity headers", http.StatusUnauthorized)
		return model.User{}, false
	}
	return user, true
}

func canManage(user model.User, providerID string) bool {
	return user.Is(model.RoleAdmin) || (user.Is(model.RoleProvider) && user.ID == providerID)
}

func (h *BookingHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			http.Error(w, "invalid field: "+verrs[0].Field(), http.StatusBadRequest)
			return false
		}
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotNotFound), errors.Is(err, booking.ErrAppointmentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, booking.ErrSlotOverlap),
		errors.Is(err, booking.ErrSlotUnavailable),
		errors.Is(err, model.ErrAlreadyCancelled),
		errors.Is(err, model.ErrNotCancellable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, booking.ErrInvalidInterval), errors.Is(err, booking.ErrInvalidWindow):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, lock.ErrNotAcquired):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "resource busy, retry", http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
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
