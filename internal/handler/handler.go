// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/service"
)

const monthLayout = "2006-01"

// BookingHandler holds all HTTP handlers for the booking and meeting API.
type BookingHandler struct {
	bookings *service.BookingService
	meetings *service.MeetingService
	loc      *time.Location
	log      *zap.Logger
}

// NewBookingHandler constructs a BookingHandler. Dates in query strings are
// read in loc.
func NewBookingHandler(bookings *service.BookingService, meetings *service.MeetingService, loc *time.Location, log *zap.Logger) *BookingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &BookingHandler{bookings: bookings, meetings: meetings, loc: loc, log: log}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// fail maps service errors onto HTTP statuses.
func (h *BookingHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrConflict):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{Error: "slot already booked", Code: "CONFLICT"})
	case errors.Is(err, model.ErrInvalidState):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{Error: err.Error(), Code: "INVALID_STATE"})
	case errors.Is(err, model.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "media provider unavailable, try again")
	default:
		h.log.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *BookingHandler) parseDay(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, h.loc)
}

func (h *BookingHandler) parseMonth(s string) (time.Time, error) {
	return time.ParseInLocation(monthLayout, s, h.loc)
}

func caller(r *http.Request) Caller {
	c, _ := CallerFrom(r.Context())
	return c
}

// ─── Bookings ─────────────────────────────────────────────────────────────────

// CreateBooking handles POST /bookings
// The caller must be the consultant assigned to the child.
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.ConsultantID = caller(r).PartyID

	id, err := h.bookings.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// RescheduleBooking handles PUT /bookings/{id}
func (h *BookingHandler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	var req model.RescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.ConsultantID = caller(r).PartyID

	id, err := h.bookings.Reschedule(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// CancelBooking handles DELETE /bookings/{id}
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.bookings.Cancel(r.Context(), chi.URLParam(r, "id"), caller(r).PartyID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBookings handles GET /bookings
//
//	?date=YYYY-MM-DD                  the calling consultant's day
//	?childId=…&month=YYYY-MM          one child's month
//	?parentId=…&month=YYYY-MM         all of a parent's children
func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := caller(r)

	var (
		views []model.BookingView
		err   error
	)
	switch {
	case q.Get("childId") != "" || q.Get("parentId") != "":
		month, perr := h.parseMonth(q.Get("month"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		if err := h.bookings.CheckReadAccess(r.Context(), c.Participant(), q.Get("childId"), q.Get("parentId")); err != nil {
			h.fail(w, r, err)
			return
		}
		if child := q.Get("childId"); child != "" {
			views, err = h.bookings.ListByChild(r.Context(), child, month)
		} else {
			views, err = h.bookings.ListByParent(r.Context(), q.Get("parentId"), month)
		}
	case q.Get("date") != "":
		if c.Role != model.RoleConsultant {
			writeError(w, http.StatusForbidden, "only consultants list by date")
			return
		}
		day, perr := h.parseDay(q.Get("date"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		views, err = h.bookings.ListByDate(r.Context(), c.PartyID, day)
	default:
		writeError(w, http.StatusBadRequest, "one of date, childId or parentId is required")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if views == nil {
		views = []model.BookingView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// ListDates handles GET /bookings/dates?childId=|parentId=&month=
func (h *BookingHandler) ListDates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	month, err := h.parseMonth(q.Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	child, parent := q.Get("childId"), q.Get("parentId")
	if child == "" && parent == "" {
		writeError(w, http.StatusBadRequest, "childId or parentId is required")
		return
	}
	if err := h.bookings.CheckReadAccess(r.Context(), caller(r).Participant(), child, parent); err != nil {
		h.fail(w, r, err)
		return
	}

	var dates []string
	if child != "" {
		dates, err = h.bookings.DatesByChild(r.Context(), child, month)
	} else {
		dates, err = h.bookings.DatesByParent(r.Context(), parent, month)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": month.Format(monthLayout), "dates": dates})
}

// AvailableSlots handles GET /consultants/{id}/slots?date=YYYY-MM-DD
func (h *BookingHandler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	day, err := h.parseDay(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.bookings.AvailableSlots(r.Context(), chi.URLParam(r, "id"), day)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"date": day.Format(time.DateOnly), "slots": slots})
}

// ─── Meetings ─────────────────────────────────────────────────────────────────

// JoinMeeting handles POST /bookings/{id}/join
// Returns a token for the booking's media session, creating it on first join.
func (h *BookingHandler) JoinMeeting(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.meetings.Join(r.Context(), chi.URLParam(r, "id"), caller(r).Participant())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// CloseMeeting handles POST /bookings/{id}/close
func (h *BookingHandler) CloseMeeting(w http.ResponseWriter, r *http.Request) {
	if err := h.meetings.Close(r.Context(), chi.URLParam(r, "id"), caller(r).Participant()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
