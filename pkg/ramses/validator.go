// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"fmt"
	"strings"
)

// AnomalyType represents different types of message anomalies
type AnomalyType int

const (
	AnomalyUnknownCode AnomalyType = iota
	AnomalyShortPayload
	AnomalyInvalidTemp
	AnomalyInvalidZone
	AnomalyInvalidValue
	AnomalyAddressRole
)

var anomalyNames = map[AnomalyType]string{
	AnomalyUnknownCode:  "unknown_code",
	AnomalyShortPayload: "short_payload",
	AnomalyInvalidTemp:  "invalid_temp",
	AnomalyInvalidZone:  "invalid_zone",
	AnomalyInvalidValue: "invalid_value",
	AnomalyAddressRole:  "address_role",
}

func (a AnomalyType) String() string {
	if name, ok := anomalyNames[a]; ok {
		return name
	}
	return "unknown"
}

// Plausible range for room and setpoint temperatures in °C
const (
	minPlausibleTemp = -50.0
	maxPlausibleTemp = 100.0
	maxZoneIndex     = 0x0F
)

// ValidationError represents a message validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateMessage detects anomalies in a decoded message
// Returns a slice of validation errors (empty if the message looks sane)
func ValidateMessage(m *Message) []ValidationError {
	errors := []ValidationError{}

	if !m.Known() {
		return append(errors, ValidationError{
			Type:    AnomalyUnknownCode,
			Message: fmt.Sprintf("no template for code %s", m.Code()),
			Details: map[string]interface{}{"code": m.Code().String()},
		})
	}

	if omitted := m.Omitted(); len(omitted) > 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyShortPayload,
			Message: fmt.Sprintf("%s: payload too short for %s", m.Name(), strings.Join(omitted, ", ")),
			Details: map[string]interface{}{"length": len(m.Payload()), "omitted": omitted},
		})
	}

	groups := m.Groups()
	if groups == nil {
		groups = []map[string]interface{}{m.Fields()}
	}
	for _, g := range groups {
		errors = append(errors, validateFields(m, g)...)
	}

	if m.IsRequest() && m.Src().Role() == RoleSensor && m.Dst().Role() == RoleSensor {
		errors = append(errors, ValidationError{
			Type:    AnomalyAddressRole,
			Message: fmt.Sprintf("request between two sensors %s -> %s", m.Src(), m.Dst()),
			Details: map[string]interface{}{"src": m.Src().String(), "dst": m.Dst().String()},
		})
	}

	return errors
}

// validateFields checks the values of one record
func validateFields(m *Message, fields map[string]interface{}) []ValidationError {
	errors := []ValidationError{}

	for _, f := range m.Template().Fields {
		v, ok := fields[f.Name]
		if !ok || v == nil {
			continue
		}

		switch {
		case f.Kind == KindFixedPoint && isTemperatureField(f.Name):
			temp, ok := v.(float64)
			if ok && (temp < minPlausibleTemp || temp > maxPlausibleTemp) {
				errors = append(errors, ValidationError{
					Type:    AnomalyInvalidTemp,
					Message: fmt.Sprintf("%s: %s %.2f°C out of range", m.Name(), f.Name, temp),
					Details: map[string]interface{}{"field": f.Name, "value": temp},
				})
			}

		case f.Name == "zone_idx":
			idx, ok := v.(uint64)
			if ok && idx > maxZoneIndex {
				errors = append(errors, ValidationError{
					Type:    AnomalyInvalidZone,
					Message: fmt.Sprintf("%s: zone index %02X out of range", m.Name(), idx),
					Details: map[string]interface{}{"zone_idx": idx},
				})
			}

		case f.Kind == KindDeviceID:
			s, _ := v.(string)
			if _, err := DecodeAddress(s); err != nil {
				errors = append(errors, ValidationError{
					Type:    AnomalyInvalidValue,
					Message: fmt.Sprintf("%s: %s is not a device id (%s)", m.Name(), f.Name, v),
					Details: map[string]interface{}{"field": f.Name, "value": v},
				})
			}
		}
	}

	return errors
}

func isTemperatureField(name string) bool {
	return strings.Contains(name, "temp") || strings.Contains(name, "setpoint")
}
