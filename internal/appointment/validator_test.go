package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInsuredID(t *testing.T) {
	assert.NoError(t, ValidateInsuredID("12345"))
	assert.NoError(t, ValidateInsuredID("00001"))

	assert.Error(t, ValidateInsuredID(""))
	assert.Error(t, ValidateInsuredID("1234"))
	assert.Error(t, ValidateInsuredID("123456"))
	assert.Error(t, ValidateInsuredID("12 45"))
	assert.Error(t, ValidateInsuredID("abcde"))
}

func TestValidateScheduleID(t *testing.T) {
	assert.NoError(t, ValidateScheduleID(1))
	assert.NoError(t, ValidateScheduleID(100))

	assert.Error(t, ValidateScheduleID(0))
	assert.Error(t, ValidateScheduleID(-1))
}

func TestValidateCountry(t *testing.T) {
	assert.NoError(t, ValidateCountry("PE"))
	assert.NoError(t, ValidateCountry("CL"))

	assert.Error(t, ValidateCountry(""))
	assert.Error(t, ValidateCountry("pe"))
	assert.Error(t, ValidateCountry("BR"))
	assert.Error(t, ValidateCountry("PER"))
}

func TestValidateAppointmentData(t *testing.T) {
	assert.NoError(t, ValidateAppointmentData("12345", 100, "PE"))

	var vErr *ValidationError

	err := ValidateAppointmentData("12", 100, "PE")
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "insuredId", vErr.Field)

	err = ValidateAppointmentData("12345", 0, "PE")
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "scheduleId", vErr.Field)

	err = ValidateAppointmentData("12345", 100, "XX")
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "countryISO", vErr.Field)
}

func TestSanitizeInsuredID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"12345", "12345", false},
		{"1", "00001", false},
		{"123", "00123", false},
		{" 42 ", "00042", false},
		{"", "", true},
		{"123456", "", true},
		{"12a45", "", true},
		{"-1234", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := SanitizeInsuredID(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidateAppointmentIDFormat(t *testing.T) {
	assert.NoError(t, ValidateAppointmentID("01HZXW8A3V5N9T2R4QK6M7P8S0"))

	assert.Error(t, ValidateAppointmentID(""))
	assert.Error(t, ValidateAppointmentID("short"))
	assert.Error(t, ValidateAppointmentID("01hzxw8a3v5n9t2r4qk6m7p8s0")) // lowercase
	assert.Error(t, ValidateAppointmentID("01HZXW8A3V5N9T2R4QK6M7P8SU")) // U excluded from the alphabet
}
