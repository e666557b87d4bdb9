// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	ctl := MustDecodeAddress("01:123456")

	tests := []struct {
		name string
		cmd  *Command
		want string
	}{
		{
			name: "request",
			cmd:  NewCommand(VerbRQ, ctl, CodeScheduleVersion, []byte{0x00}),
			want: "RQ --- 18:000730 01:123456 --:------ 0006 001 00\r\n",
		},
		{
			name: "announcement",
			cmd:  NewAnnouncement(CodeSystemSync, []byte{0xFF, 0x07, 0x3A}),
			want: " I --- 18:000730 --:------ 18:000730 1F09 003 FF073A\r\n",
		},
		{
			name: "announcement to self",
			cmd:  NewCommand(VerbI, GatewayAddress, CodeSystemSync, []byte{0xFF, 0x07, 0x3A}),
			want: " I --- 18:000730 --:------ 18:000730 1F09 003 FF073A\r\n",
		},
		{
			name: "information to a device",
			cmd:  NewCommand(VerbI, ctl, CodeHeatDemand, []byte{0x0A, 0xC8}),
			want: " I --- 18:000730 01:123456 --:------ 3150 002 0AC8\r\n",
		},
		{
			name: "write",
			cmd:  NewSetpointWrite(ctl, 1, 21.5),
			want: " W --- 18:000730 01:123456 --:------ 2309 003 010866\r\n",
		},
		{
			name: "empty payload",
			cmd:  NewCommand(VerbRQ, ctl, CodeLanguage, nil),
			want: "RQ --- 18:000730 01:123456 --:------ 0100 000\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeCommand(tt.cmd)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeCommand_Errors(t *testing.T) {
	ctl := MustDecodeAddress("01:123456")

	tests := []struct {
		name string
		cmd  *Command
		want error
	}{
		{"request to null", NewCommand(VerbRQ, NullAddress, CodeSystemSync, nil), ErrNotConcrete},
		{"request to broadcast", NewCommand(VerbRQ, BroadcastAddress, CodeSystemSync, nil), ErrNotConcrete},
		{"write to null", NewCommand(VerbW, NullAddress, CodeSetpoint, nil), ErrNotConcrete},
		{"payload too long", NewCommand(VerbRQ, ctl, CodeSystemSync, make([]byte, MaxPayloadLength+1)), ErrPayloadTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeCommand(tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	bad := NewCommand(VerbRQ, ctl, CodeSystemSync, nil)
	bad.Src = NullAddress
	if _, err := EncodeCommand(bad); !errors.Is(err, ErrNotConcrete) {
		t.Errorf("null source: expected ErrNotConcrete, got %v", err)
	}
	if _, err := EncodeCommand(nil); err == nil {
		t.Error("nil command should fail")
	}

	// Addresses the decoder would reject must never reach the wire
	invalid := []struct {
		name string
		addr Address
	}{
		{"unknown class", Address{Class: 99, Number: 5}},
		{"number out of range", Address{Class: ClassController, Number: 5000000}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			var addrErr *InvalidAddrSetError

			line, err := EncodeCommand(NewCommand(VerbRQ, tt.addr, CodeSystemSync, []byte{0x00}))
			if !errors.As(err, &addrErr) {
				t.Errorf("destination: expected *InvalidAddrSetError, got %v (line %q)", err, line)
			}

			src := NewCommand(VerbRQ, ctl, CodeSystemSync, []byte{0x00})
			src.Src = tt.addr
			line, err = EncodeCommand(src)
			if !errors.As(err, &addrErr) {
				t.Errorf("source: expected *InvalidAddrSetError, got %v (line %q)", err, line)
			}
		})
	}
}

func TestEncodeCommand_RoundTrip(t *testing.T) {
	ctl := MustDecodeAddress("01:123456")
	cmds := []*Command{
		NewSyncRequest(ctl),
		NewZoneNameRequest(ctl, 3),
		NewSetpointWrite(ctl, 2, 19.0),
		NewAnnouncement(CodeSystemSync, []byte{0xFF, 0x07, 0x3A}),
		NewFaultLogRequest(ctl, 5),
	}

	for _, cmd := range cmds {
		t.Run(cmd.Code.String(), func(t *testing.T) {
			frame := MustEncodeCommand(cmd)
			if !bytes.HasSuffix(frame, []byte(LineTerminator)) {
				t.Fatalf("frame %q lacks terminator", frame)
			}

			p, err := ParseLine(string(frame))
			if err != nil {
				t.Fatalf("ParseLine failed: %v", err)
			}
			if p.Verb() != cmd.Verb || p.Code() != cmd.Code || p.Src() != cmd.Src {
				t.Errorf("header mismatch: %s", p.Frame())
			}
			if !bytes.Equal(p.Payload(), cmd.Payload) {
				t.Errorf("payload %X, want %X", p.Payload(), cmd.Payload)
			}
			if p.Addrs() != cmd.Addrs() {
				t.Errorf("addrs %v, want %v", p.Addrs(), cmd.Addrs())
			}
			if p.Frame()+LineTerminator != string(frame) {
				t.Errorf("re-encoded %q differs from %q", p.Frame(), strings.TrimSpace(string(frame)))
			}
		})
	}
}
