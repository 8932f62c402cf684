package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/appointment"
	"github.com/hackgods/medical-appointment-saga/internal/country"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	maxRequestBodyBytes  = 64 << 10
)

func createAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		// The country is reported first so a bad code is always named.
		if _, err := country.Parse(req.CountryCode); err != nil {
			handleCreateError(w, r, log, fmt.Errorf("%w: %q", appointment.ErrInvalidCountry, req.CountryCode))
			return
		}

		raw := strings.TrimSpace(string(req.ScheduleSlot))
		if raw == "" || raw == "null" {
			writeError(w, http.StatusBadRequest, "invalid_schedule_slot", "scheduleSlot is required")
			return
		}
		slot, err := appointment.ParseScheduleSlot(req.ScheduleSlot)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_schedule_slot", err.Error())
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookInput{
			InsuredID:      req.InsuredID,
			ScheduleSlot:   slot,
			CountryCode:    req.CountryCode,
			IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
		})
		if err != nil {
			handleCreateError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt)
	}
}

func listAppointmentsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		insuredID := chi.URLParam(r, "insuredId")

		appts, err := svc.ListByInsured(r.Context(), insuredID)
		if err != nil {
			if errors.Is(err, appointment.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, "invalid_insured_id", err.Error())
				return
			}
			internalError(w, r, log, "could not list appointments", err)
			return
		}

		writeJSON(w, http.StatusOK, appts)
	}
}

func getAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "appointmentId")

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment_not_found", "no appointment with id "+id)
				return
			}
			internalError(w, r, log, "could not load appointment", err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func handleCreateError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidCountry):
		writeError(w, http.StatusBadRequest, "invalid_country", err.Error())
	case errors.Is(err, appointment.ErrInvalidScheduleSlot):
		writeError(w, http.StatusBadRequest, "invalid_schedule_slot", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, "idempotency_conflict", "idempotency key was already used for a different appointment")
	case errors.Is(err, appointment.ErrBookingInProgress):
		writeError(w, http.StatusConflict, "booking_in_progress", "a booking with this idempotency key is in progress, please retry shortly")
	default:
		internalError(w, r, log, "could not book appointment", err)
	}
}

// internalError logs err and answers with a generic message.
func internalError(w http.ResponseWriter, r *http.Request, log *zap.Logger, msg string, err error) {
	log.Error(msg,
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", msg)
}
