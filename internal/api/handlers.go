package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		// Short numeric ids are an accepted client convenience here; the
		// entity itself never pads.
		insuredID, err := appointment.SanitizeInsuredID(req.InsuredID)
		if err != nil {
			writeAppointmentError(w, err)
			return
		}

		result, err := svc.Create(r.Context(), appointment.CreateInput{
			InsuredID:  insuredID,
			ScheduleID: req.ScheduleID,
			CountryISO: req.CountryISO,
			Details: appointment.ScheduleDetails{
				CenterID:     req.CenterID,
				SpecialtyID:  req.SpecialtyID,
				MedicID:      req.MedicID,
				SlotDatetime: req.SlotDatetime,
			},
		})
		if err != nil {
			writeAppointmentError(w, err)
			return
		}

		resp := CreateAppointmentResponse{
			AppointmentID: result.AppointmentID,
			InsuredID:     result.InsuredID,
			ScheduleID:    result.ScheduleID,
			CountryISO:    result.CountryISO,
			Status:        string(result.Status),
			CreatedAt:     result.CreatedAt,
			Message:       result.Message,
		}

		status := http.StatusCreated
		if !result.Created {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeAppointmentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		insuredID, err := appointment.SanitizeInsuredID(chi.URLParam(r, "insuredId"))
		if err != nil {
			writeAppointmentError(w, err)
			return
		}

		appts, err := svc.ListByInsured(r.Context(), insuredID)
		if err != nil {
			writeAppointmentError(w, err)
			return
		}

		resp := ListAppointmentsResponse{
			InsuredID:    insuredID,
			Appointments: make([]AppointmentResponse, 0, len(appts)),
		}
		for _, a := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// writeAppointmentError maps the domain error taxonomy onto HTTP statuses.
func writeAppointmentError(w http.ResponseWriter, err error) {
	var vErr *appointment.ValidationError
	var dErr *appointment.DomainError

	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "validation_error", vErr.Error())
	case errors.As(err, &dErr):
		writeError(w, http.StatusConflict, "domain_error", dErr.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "appointment_conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
