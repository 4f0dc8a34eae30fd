package api

import (
	"time"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
)

type CreateAppointmentRequest struct {
	InsuredID    string     `json:"insuredId"`
	ScheduleID   int        `json:"scheduleId"`
	CountryISO   string     `json:"countryISO"`
	CenterID     *int       `json:"centerId,omitempty"`
	SpecialtyID  *int       `json:"specialtyId,omitempty"`
	MedicID      *int       `json:"medicId,omitempty"`
	SlotDatetime *time.Time `json:"slotDatetime,omitempty"`
}

type CreateAppointmentResponse struct {
	AppointmentID string    `json:"appointmentId"`
	InsuredID     string    `json:"insuredId"`
	ScheduleID    int       `json:"scheduleId"`
	CountryISO    string    `json:"countryISO"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	Message       string    `json:"message"`
}

type AppointmentResponse struct {
	AppointmentID string     `json:"appointmentId"`
	InsuredID     string     `json:"insuredId"`
	ScheduleID    int        `json:"scheduleId"`
	CountryISO    string     `json:"countryISO"`
	Status        string     `json:"status"`
	CenterID      *int       `json:"centerId,omitempty"`
	SpecialtyID   *int       `json:"specialtyId,omitempty"`
	MedicID       *int       `json:"medicId,omitempty"`
	SlotDatetime  *time.Time `json:"slotDatetime,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type ListAppointmentsResponse struct {
	InsuredID    string                `json:"insuredId"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		AppointmentID: a.AppointmentID,
		InsuredID:     a.InsuredID,
		ScheduleID:    a.ScheduleID,
		CountryISO:    string(a.Country),
		Status:        string(a.Status),
		CenterID:      a.Details.CenterID,
		SpecialtyID:   a.Details.SpecialtyID,
		MedicID:       a.Details.MedicID,
		SlotDatetime:  a.Details.SlotDatetime,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
