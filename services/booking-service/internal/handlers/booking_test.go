package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/lock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/memory"
)

func newTestMux() *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := booking.NewService(memory.New(), logger, booking.Options{
		Locker: lock.NewKeyedMutex(),
		Clock:  func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	mux := http.NewServeMux()
	NewBookingHandler(svc, logger).Register(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, userID, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(HeaderRole, role)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

const slotBody = `{"provider_id":"P","start_time":"2026-03-02T10:00:00Z","end_time":"2026-03-02T11:00:00Z"}`

func TestSlotLifecycleOverHTTP(t *testing.T) {
	mux := newTestMux()

	rr := do(t, mux, http.MethodPost, "/api/v1/slots", "P", "provider", slotBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create slot: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	slot := decodeBody[slotResponse](t, rr)
	if slot.Status != "available" || slot.Date != "2026-03-02" {
		t.Fatalf("unexpected slot: %+v", slot)
	}

	rr = do(t, mux, http.MethodPost, "/api/v1/slots", "P", "provider",
		`{"provider_id":"P","start_time":"2026-03-02T10:30:00Z","end_time":"2026-03-02T11:30:00Z"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("overlap: expected 409, got %d", rr.Code)
	}

	rr = do(t, mux, http.MethodPost, "/api/v1/appointments", "A", "client", `{"slot_id":"`+slot.ID+`"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("book: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	appt := decodeBody[appointmentResponse](t, rr)

	rr = do(t, mux, http.MethodPost, "/api/v1/appointments", "B", "client", `{"slot_id":"`+slot.ID+`"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second booking: expected 409, got %d", rr.Code)
	}

	rr = do(t, mux, http.MethodPost, "/api/v1/appointments/cancel", "B", "client", `{"appointment_id":"`+appt.ID+`"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign cancel: expected 403, got %d", rr.Code)
	}

	rr = do(t, mux, http.MethodPost, "/api/v1/appointments/cancel", "A", "client", `{"appointment_id":"`+appt.ID+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	rr = do(t, mux, http.MethodPost, "/api/v1/appointments/cancel", "A", "client", `{"appointment_id":"`+appt.ID+`"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("double cancel: expected 409, got %d", rr.Code)
	}

	rr = do(t, mux, http.MethodGet, "/api/v1/slots/get?id="+slot.ID, "B", "client", "")
	if rr.Code != http.StatusOK || decodeBody[slotResponse](t, rr).Status != "available" {
		t.Fatalf("expected released slot, got %d (%s)", rr.Code, rr.Body.String())
	}

	rr = do(t, mux, http.MethodGet, "/api/v1/appointments?limit=5", "A", "client", "")
	items := decodeBody[[]appointmentResponse](t, rr)
	if len(items) != 1 || items[0].Status != "cancelled" {
		t.Fatalf("unexpected appointment list: %+v", items)
	}
}

func TestIdentityAndAuthorization(t *testing.T) {
	mux := newTestMux()

	if rr := do(t, mux, http.MethodPost, "/api/v1/slots", "", "", slotBody); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing identity: expected 401, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodPost, "/api/v1/slots", "P", "wizard", slotBody); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unknown role: expected 401, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodPost, "/api/v1/slots", "Q", "provider", slotBody); rr.Code != http.StatusForbidden {
		t.Fatalf("other provider: expected 403, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodPost, "/api/v1/slots", "root", "admin", slotBody); rr.Code != http.StatusCreated {
		t.Fatalf("admin: expected 201, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodPost, "/api/v1/appointments", "P", "provider", `{"slot_id":"x"}`); rr.Code != http.StatusForbidden {
		t.Fatalf("provider booking: expected 403, got %d", rr.Code)
	}
}

func TestRequestValidation(t *testing.T) {
	mux := newTestMux()
	cases := []struct {
		name, path, body string
		want             int
	}{
		{"bad json", "/api/v1/slots", `{`, http.StatusBadRequest},
		{"missing start", "/api/v1/slots", `{"provider_id":"P","end_time":"2026-03-02T11:00:00Z"}`, http.StatusBadRequest},
		{"bad timestamp", "/api/v1/slots", `{"provider_id":"P","start_time":"10am","end_time":"2026-03-02T11:00:00Z"}`, http.StatusBadRequest},
		{"inverted interval", "/api/v1/slots", `{"provider_id":"P","start_time":"2026-03-02T11:00:00Z","end_time":"2026-03-02T10:00:00Z"}`, http.StatusBadRequest},
		{"short duration", "/api/v1/slots/generate", `{"provider_id":"P","window_start":"2026-03-02T09:00:00Z","window_end":"2026-03-02T12:00:00Z","duration_minutes":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rr := do(t, mux, http.MethodPost, tc.path, "P", "provider", tc.body); rr.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.want, rr.Code, rr.Body.String())
		}
	}

	rr := do(t, mux, http.MethodPost, "/api/v1/slots", "P", "provider", `{"provider_id":"P","end_time":"2026-03-02T11:00:00Z"}`)
	if !strings.Contains(rr.Body.String(), "start_time") {
		t.Fatalf("expected json field name in error, got %q", rr.Body.String())
	}
	if rr := do(t, mux, http.MethodPost, "/api/v1/appointments", "A", "client", `{"slot_id":"missing"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("missing slot: expected 404, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodDelete, "/api/v1/slots", "P", "provider", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestGenerateAndListSlots(t *testing.T) {
	mux := newTestMux()

	rr := do(t, mux, http.MethodPost, "/api/v1/slots/generate", "P", "provider",
		`{"provider_id":"P","window_start":"2026-03-02T09:00:00Z","window_end":"2026-03-02T12:00:00Z","duration_minutes":60}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("generate: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	if got := decodeBody[[]slotResponse](t, rr); len(got) != 3 {
		t.Fatalf("expected 3 generated slots, got %d", len(got))
	}

	rr = do(t, mux, http.MethodGet, "/api/v1/slots?provider_id=P&from=2026-03-02T10:00:00Z&to=2026-03-02T12:00:00Z", "A", "client", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	got := decodeBody[[]slotResponse](t, rr)
	if len(got) != 2 || got[0].StartTime != "2026-03-02T10:00:00Z" {
		t.Fatalf("unexpected listing: %+v", got)
	}

	if rr := do(t, mux, http.MethodGet, "/api/v1/slots?provider_id=P&from=2026-03-02T12:00:00Z&to=2026-03-02T10:00:00Z", "A", "client", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("inverted window: expected 400, got %d", rr.Code)
	}
}
