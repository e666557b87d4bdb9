// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"fmt"
	"time"
)

const faultLogEntryLength = 22

// FaultState is the first status byte of a fault log entry
type FaultState uint8

// Fault states
const (
	FaultStateFault   FaultState = 0x00
	FaultStateRestore FaultState = 0x40
	FaultStateUnknown FaultState = 0xC0
)

func (s FaultState) String() string {
	switch s {
	case FaultStateFault:
		return "fault"
	case FaultStateRestore:
		return "restore"
	case FaultStateUnknown:
		return "unknown_c0"
	}
	return fmt.Sprintf("state_%02X", uint8(s))
}

var faultTypes = map[uint8]string{
	0x01: "system_fault",
	0x03: "mains_low",
	0x04: "battery_low",
	0x05: "battery_error",
	0x06: "comms_fault",
	0x07: "sensor_fault",
	0x0A: "sensor_error",
}

// FaultLogEntry is one slot of a controller's fault log
type FaultLogEntry struct {
	Index      uint8
	Empty      bool
	State      FaultState
	Type       uint8
	DomainIdx  uint8
	DeviceType uint8
	Timestamp  time.Time
	Device     Address
}

// TypeName returns the fault type as a readable name
func (e FaultLogEntry) TypeName() string {
	if name, ok := faultTypes[e.Type]; ok {
		return name
	}
	return fmt.Sprintf("fault_%02X", e.Type)
}

func (e FaultLogEntry) String() string {
	if e.Empty {
		return fmt.Sprintf("#%02d (empty)", e.Index)
	}
	return fmt.Sprintf("#%02d %s %s %s domain=%02X device=%s",
		e.Index, e.Timestamp.Format("2006-01-02 15:04:05"), e.State, e.TypeName(), e.DomainIdx, e.Device)
}

// FaultLogFromMessage builds a fault log entry from a 0418 message.
// Controllers answer requests for unused slots with a short payload, which
// yields an entry marked Empty.
func FaultLogFromMessage(m *Message) (FaultLogEntry, error) {
	if m.Code() != CodeFaultLog {
		return FaultLogEntry{}, fmt.Errorf("%w: code %s", ErrNotFaultLog, m.Code())
	}

	payload := m.Payload()
	var entry FaultLogEntry
	if len(payload) > 2 {
		entry.Index = payload[2]
	}
	if len(payload) < faultLogEntryLength {
		entry.Empty = true
		return entry, nil
	}

	entry.State = FaultState(payload[1])
	entry.Type = payload[4]
	entry.DomainIdx = payload[5]
	entry.DeviceType = payload[6]
	entry.Timestamp = faultTimestamp(payload[10:16])

	id := uint32(payload[19])<<16 | uint32(payload[20])<<8 | uint32(payload[21])
	dev, err := AddressFromID(id)
	if err != nil {
		return FaultLogEntry{}, fmt.Errorf("fault log device: %w", err)
	}
	entry.Device = dev
	return entry, nil
}

// faultTimestamp decodes year-2000, month, day, hour, minute, second.
func faultTimestamp(b []byte) time.Time {
	return time.Date(2000+int(b[0]), time.Month(b[1]), int(b[2]),
		int(b[3]), int(b[4]), int(b[5]), 0, time.Local)
}
