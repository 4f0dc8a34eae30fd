package country

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
)

func testAppointment(t *testing.T, country appointment.CountryISO) appointment.Appointment {
	t.Helper()
	appt, err := appointment.New("12345", 100, country, appointment.ScheduleDetails{}, time.Now())
	require.NoError(t, err)
	return appt
}

func TestForCountry(t *testing.T) {
	pe := &PeruStrategy{}
	cl := &ChileStrategy{}

	got, err := ForCountry(appointment.CountryPE, pe, cl)
	require.NoError(t, err)
	assert.Same(t, pe, got)

	got, err = ForCountry(appointment.CountryCL, pe, cl)
	require.NoError(t, err)
	assert.Same(t, cl, got)

	_, err = ForCountry(appointment.CountryISO("BR"), pe, cl)
	var vErr *appointment.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "countryISO", vErr.Field)
}

func TestValidateAppointmentRejectsForeignCountry(t *testing.T) {
	pe := &PeruStrategy{}
	cl := &ChileStrategy{}

	peAppt := testAppointment(t, appointment.CountryPE)
	clAppt := testAppointment(t, appointment.CountryCL)

	assert.NoError(t, pe.ValidateAppointment(peAppt))
	assert.NoError(t, cl.ValidateAppointment(clAppt))

	var vErr *appointment.ValidationError
	require.ErrorAs(t, pe.ValidateAppointment(clAppt), &vErr)
	assert.Equal(t, "countryISO", vErr.Field)
	require.ErrorAs(t, cl.ValidateAppointment(peAppt), &vErr)
	assert.Equal(t, "countryISO", vErr.Field)
}

func TestValidateAppointmentRejectsMalformedIdentifiers(t *testing.T) {
	pe := &PeruStrategy{}

	appt := testAppointment(t, appointment.CountryPE)
	appt.InsuredID = "12"

	var vErr *appointment.ValidationError
	require.ErrorAs(t, pe.ValidateAppointment(appt), &vErr)
	assert.Equal(t, "insuredId", vErr.Field)

	appt = testAppointment(t, appointment.CountryPE)
	appt.AppointmentID = "not-an-id"
	require.ErrorAs(t, pe.ValidateAppointment(appt), &vErr)
	assert.Equal(t, "appointmentId", vErr.Field)

	appt = testAppointment(t, appointment.CountryPE)
	appt.ScheduleID = 0
	require.ErrorAs(t, pe.ValidateAppointment(appt), &vErr)
	assert.Equal(t, "scheduleId", vErr.Field)
}

func TestStrategyMetadata(t *testing.T) {
	pe := &PeruStrategy{}
	cl := &ChileStrategy{}

	assert.Equal(t, appointment.CountryPE, pe.Country())
	assert.Equal(t, appointment.CountryCL, cl.Country())

	assert.Equal(t, DatabaseConfig{Name: "rds_pe", Table: "appointments_pe"}, pe.DatabaseConfig())
	assert.Equal(t, DatabaseConfig{Name: "rds_cl", Table: "appointments_cl"}, cl.DatabaseConfig())
}

func TestProcessAppointmentReportsValidationFailureAsResult(t *testing.T) {
	pe := &PeruStrategy{}

	// Wrong country: must come back as a failed Result, not an error, so the
	// consumer acks instead of retrying an unfixable message.
	res, err := pe.ProcessAppointment(context.Background(), testAppointment(t, appointment.CountryCL))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)
}
