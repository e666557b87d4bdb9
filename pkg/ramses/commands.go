// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "math"

// Command builder functions create Commands ready for submission.
// They fill in the payload layout each code expects; the returned command
// can still be adjusted (priority, timeout, retries) before it is queued.

// NewSyncRequest creates an RQ 1F09 to a controller.
// The controller answers with the time left in its sync cycle.
func NewSyncRequest(ctl Address) *Command {
	return NewCommand(VerbRQ, ctl, CodeSystemSync, []byte{0x00})
}

// NewZoneNameRequest creates an RQ 0004 for one zone.
func NewZoneNameRequest(ctl Address, zone uint8) *Command {
	return NewCommand(VerbRQ, ctl, CodeZoneName, []byte{zone, 0x00})
}

// NewZoneTempRequest creates an RQ 30C9 for one zone.
func NewZoneTempRequest(ctl Address, zone uint8) *Command {
	return NewCommand(VerbRQ, ctl, CodeTemperature, []byte{zone})
}

// NewSetpointWrite creates a W 2309 setting a zone setpoint in °C.
// The setpoint is carried in hundredths of a degree, big-endian.
func NewSetpointWrite(ctl Address, zone uint8, celsius float64) *Command {
	raw := uint16(int16(math.Round(celsius * 100)))
	cmd := NewCommand(VerbW, ctl, CodeSetpoint, []byte{zone, byte(raw >> 8), byte(raw)})
	cmd.Priority = PriorityHigh
	return cmd
}

// NewScheduleVersionRequest creates an RQ 0006.
func NewScheduleVersionRequest(ctl Address) *Command {
	return NewCommand(VerbRQ, ctl, CodeScheduleVersion, []byte{0x00})
}

// NewDeviceInfoRequest creates an RQ 10E0, answered by most devices with
// their OEM description.
func NewDeviceInfoRequest(dev Address) *Command {
	return NewCommand(VerbRQ, dev, CodeDeviceInfo, []byte{0x00})
}

// NewFaultLogRequest creates an RQ 0418 for one fault log slot.
// Slot 0 is the most recent entry.
func NewFaultLogRequest(ctl Address, slot uint8) *Command {
	return NewCommand(VerbRQ, ctl, CodeFaultLog, []byte{0x00, 0x00, slot})
}

// NewDateTimeRequest creates an RQ 313F.
func NewDateTimeRequest(ctl Address) *Command {
	return NewCommand(VerbRQ, ctl, CodeDateTime, []byte{0x00})
}

// NewRelayDemandRequest creates an RQ 0008 for a domain.
func NewRelayDemandRequest(dev Address, domain uint8) *Command {
	return NewCommand(VerbRQ, dev, CodeRelayDemand, []byte{domain})
}

// NewAnnouncement creates an I frame from the gateway.
// Announcements expect no response and are resolved once written.
func NewAnnouncement(code Code, payload []byte) *Command {
	return NewCommand(VerbI, NullAddress, code, payload)
}

// PollPayload returns the request payload used when polling a code
func PollPayload(code Code) []byte {
	switch code {
	case CodeZoneName:
		return []byte{0x00, 0x00}
	case CodeFaultLog:
		return []byte{0x00, 0x00, 0x00}
	default:
		return []byte{0x00}
	}
}
