package appointment

import "strings"

const insuredIDLength = 5

// ValidateAppointmentID checks the identifier is a 26-character ULID-shaped
// token. It does not decode the timestamp.
func ValidateAppointmentID(id string) error {
	if len(id) != 26 {
		return newValidationError("appointmentId", id, "must be a 26-character identifier")
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789ABCDEFGHJKMNPQRSTVWXYZ", r) {
			return newValidationError("appointmentId", id, "contains invalid characters")
		}
	}
	return nil
}

// ValidateInsuredID requires exactly five ASCII digits.
func ValidateInsuredID(insuredID string) error {
	if len(insuredID) != insuredIDLength {
		return newValidationError("insuredId", insuredID, "must be exactly 5 digits")
	}
	for _, r := range insuredID {
		if r < '0' || r > '9' {
			return newValidationError("insuredId", insuredID, "must contain only digits")
		}
	}
	return nil
}

// ValidateScheduleID requires a positive slot identifier.
func ValidateScheduleID(scheduleID int) error {
	if scheduleID <= 0 {
		return newValidationError("scheduleId", scheduleID, "must be a positive integer")
	}
	return nil
}

// ValidateCountry requires one of the supported ISO codes.
func ValidateCountry(country string) error {
	_, err := ParseCountry(country)
	return err
}

// ValidateAppointmentData runs the creation-input checks in order and stops
// at the first violation.
func ValidateAppointmentData(insuredID string, scheduleID int, country string) error {
	if err := ValidateInsuredID(insuredID); err != nil {
		return err
	}
	if err := ValidateScheduleID(scheduleID); err != nil {
		return err
	}
	return ValidateCountry(country)
}

// SanitizeInsuredID left-pads a short numeric subject id to five digits.
// Non-numeric or over-length input is rejected. Callers opt in explicitly;
// entity construction only validates and never pads.
func SanitizeInsuredID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", newValidationError("insuredId", raw, "must not be empty")
	}
	if len(trimmed) > insuredIDLength {
		return "", newValidationError("insuredId", raw, "must be at most 5 digits")
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", newValidationError("insuredId", raw, "must contain only digits")
		}
	}
	return strings.Repeat("0", insuredIDLength-len(trimmed)) + trimmed, nil
}
