// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ptr returns a pointer to v
func ptr[T any](v T) *T {
	return &v
}

func TestNewCommand_Defaults(t *testing.T) {
	ctl := MustDecodeAddress("01:123456")
	before := time.Now()

	tests := []struct {
		name     string
		verb     Verb
		expected *Code
	}{
		{"request expects same code", VerbRQ, ptr(CodeSystemSync)},
		{"write expects same code", VerbW, ptr(CodeSystemSync)},
		{"information expects nothing", VerbI, nil},
		{"response expects nothing", VerbRP, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCommand(tt.verb, ctl, CodeSystemSync, []byte{0x00})

			if cmd.ID == uuid.Nil {
				t.Error("ID should be set")
			}
			if cmd.Src != GatewayAddress {
				t.Errorf("Src = %s", cmd.Src)
			}
			if cmd.Priority != PriorityNormal || cmd.Timeout != DefaultTimeout || cmd.Retries != DefaultRetries {
				t.Errorf("defaults = %s %s %d", cmd.Priority, cmd.Timeout, cmd.Retries)
			}
			if cmd.CreatedAt.Before(before) {
				t.Error("CreatedAt should be now")
			}

			code, ok := cmd.Expects()
			if tt.expected == nil {
				if ok {
					t.Errorf("expected no response, got %s", code)
				}
				return
			}
			if !ok || code != *tt.expected {
				t.Errorf("Expects() = %s, %v", code, ok)
			}
			if !cmd.Deadline().Equal(cmd.CreatedAt.Add(DefaultTimeout)) {
				t.Error("Deadline should be CreatedAt + Timeout")
			}
		})
	}
}

func TestCommandBuilders(t *testing.T) {
	ctl := MustDecodeAddress("01:123456")
	dev := MustDecodeAddress("13:000042")

	tests := []struct {
		name     string
		cmd      *Command
		verb     Verb
		dst      Address
		code     Code
		payload  []byte
		priority Priority
	}{
		{"sync", NewSyncRequest(ctl), VerbRQ, ctl, CodeSystemSync, []byte{0x00}, PriorityNormal},
		{"zone name", NewZoneNameRequest(ctl, 2), VerbRQ, ctl, CodeZoneName, []byte{0x02, 0x00}, PriorityNormal},
		{"zone temp", NewZoneTempRequest(ctl, 4), VerbRQ, ctl, CodeTemperature, []byte{0x04}, PriorityNormal},
		{"setpoint", NewSetpointWrite(ctl, 1, 21.5), VerbW, ctl, CodeSetpoint, []byte{0x01, 0x08, 0x66}, PriorityHigh},
		{"negative setpoint", NewSetpointWrite(ctl, 0, -1.5), VerbW, ctl, CodeSetpoint, []byte{0x00, 0xFF, 0x6A}, PriorityHigh},
		{"schedule version", NewScheduleVersionRequest(ctl), VerbRQ, ctl, CodeScheduleVersion, []byte{0x00}, PriorityNormal},
		{"device info", NewDeviceInfoRequest(dev), VerbRQ, dev, CodeDeviceInfo, []byte{0x00}, PriorityNormal},
		{"fault log", NewFaultLogRequest(ctl, 7), VerbRQ, ctl, CodeFaultLog, []byte{0x00, 0x00, 0x07}, PriorityNormal},
		{"datetime", NewDateTimeRequest(ctl), VerbRQ, ctl, CodeDateTime, []byte{0x00}, PriorityNormal},
		{"relay demand", NewRelayDemandRequest(dev, 0xFC), VerbRQ, dev, CodeRelayDemand, []byte{0xFC}, PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cmd.Verb != tt.verb || tt.cmd.Dst != tt.dst || tt.cmd.Code != tt.code {
				t.Errorf("got %s", tt.cmd)
			}
			if !bytes.Equal(tt.cmd.Payload, tt.payload) {
				t.Errorf("payload %X, want %X", tt.cmd.Payload, tt.payload)
			}
			if tt.cmd.Priority != tt.priority {
				t.Errorf("priority %s, want %s", tt.cmd.Priority, tt.priority)
			}
			if _, err := EncodeCommand(tt.cmd); err != nil {
				t.Errorf("builder produced an unencodable command: %v", err)
			}
		})
	}
}

func TestNewAnnouncement(t *testing.T) {
	cmd := NewAnnouncement(CodeSystemSync, []byte{0xFF})
	if _, ok := cmd.Expects(); ok {
		t.Error("announcement should expect no response")
	}
	addrs := cmd.Addrs()
	if addrs[0] != GatewayAddress || !addrs[1].IsNull() || addrs[2] != GatewayAddress {
		t.Errorf("Addrs() = %v", addrs)
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("rq", "01:123456", "1f09", "00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Verb != VerbRQ || cmd.Code != CodeSystemSync || cmd.Dst.String() != "01:123456" {
		t.Errorf("got %s", cmd)
	}

	bad := []struct {
		name                         string
		verb, dst, code, payloadText string
	}{
		{"verb", "XX", "01:123456", "1F09", "00"},
		{"address", "RQ", "01:12345", "1F09", "00"},
		{"code", "RQ", "01:123456", "1F0", "00"},
		{"payload", "RQ", "01:123456", "1F09", "0"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCommand(tt.verb, tt.dst, tt.code, tt.payloadText); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCommand_Clone(t *testing.T) {
	orig := NewSyncRequest(MustDecodeAddress("01:123456"))
	clone := orig.Clone()

	clone.Payload[0] = 0xFF
	*clone.ExpectedResponse = CodeDateTime
	clone.Retries = 0

	if orig.Payload[0] != 0x00 {
		t.Error("Clone shares payload")
	}
	if *orig.ExpectedResponse != CodeSystemSync {
		t.Error("Clone shares expected response")
	}
	if orig.Retries != DefaultRetries {
		t.Error("Clone shares retries")
	}
	if clone.ID != orig.ID {
		t.Error("Clone should keep the ID")
	}
}

func TestPriority(t *testing.T) {
	order := []Priority{PriorityHighest, PriorityHigh, PriorityNormal, PriorityLow, PriorityLowest}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("%s should sort before %s", order[i-1], order[i])
		}
	}
	var zero Priority
	if zero != PriorityNormal {
		t.Error("zero value should be normal")
	}
	p, err := ParsePriority("lowest")
	if err != nil || p != PriorityLowest {
		t.Errorf("ParsePriority(lowest) = %s, %v", p, err)
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("expected error for unknown priority")
	}
}
