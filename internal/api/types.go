package api

import "encoding/json"

// CreateAppointmentRequest is the POST /appointments body. ScheduleSlot is
// kept raw and validated by appointment.ParseScheduleSlot.
type CreateAppointmentRequest struct {
	InsuredID    string          `json:"insuredId"`
	ScheduleSlot json.RawMessage `json:"scheduleSlot"`
	CountryCode  string          `json:"countryCode"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
