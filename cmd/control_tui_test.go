// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testController = ramses.MustDecodeAddress("01:123456")

func TestParseSetpointInput(t *testing.T) {
	cmd, err := parseSetpointInput(testController, "01 21.5")
	require.NoError(t, err)

	assert.Equal(t, ramses.VerbW, cmd.Verb)
	assert.Equal(t, ramses.CodeSetpoint, cmd.Code)
	assert.Equal(t, testController, cmd.Dst)
	assert.Equal(t, []byte{0x01, 0x08, 0x66}, cmd.Payload)
}

func TestParseSetpointInput_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing temperature", "01"},
		{"extra field", "01 21.5 x"},
		{"zone not hex", "zz 21.5"},
		{"zone out of range", "10 21.5"},
		{"temperature not a number", "01 warm"},
		{"too cold", "01 4.5"},
		{"too hot", "01 35.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSetpointInput(testController, tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParseCommandInput(t *testing.T) {
	cmd, err := parseCommandInput(testController, "rq 30c9 00")
	require.NoError(t, err)
	assert.Equal(t, ramses.VerbRQ, cmd.Verb)
	assert.Equal(t, ramses.CodeTemperature, cmd.Code)
	assert.Equal(t, []byte{0x00}, cmd.Payload)

	expected, ok := cmd.Expects()
	require.True(t, ok)
	assert.Equal(t, ramses.CodeTemperature, expected)

	cmd, err = parseCommandInput(testController, "I 1F09")
	require.NoError(t, err)
	assert.Empty(t, cmd.Payload)
	_, ok = cmd.Expects()
	assert.False(t, ok, "announcements expect no reply")
}

func TestParseCommandInput_Invalid(t *testing.T) {
	for _, input := range []string{"", "RQ", "RQ 30C9 00 00", "XX 30C9 00", "RQ 30C 00", "RQ 30C9 0"} {
		_, err := parseCommandInput(testController, input)
		assert.Error(t, err, input)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{90 * time.Second, "1 minute and 30 seconds"},
		{2*time.Hour + 1*time.Second, "2 hours and 1 second"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1 day, 2 hours, 3 minutes, and 4 seconds"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.d), tt.d.String())
	}
}

func TestControlModel_ProcessEvent(t *testing.T) {
	m := initialControlModel(nil, "test")

	m.processEvent(lineEvent{msg: message(t, " I --- 01:123456 --:------ 01:123456 1F09 003 FF073A")})
	m.processEvent(lineEvent{msg: message(t, " I --- 01:123456 --:------ 01:123456 30C9 003 0107D0")})

	assert.Equal(t, 1, m.census.len())
	require.Contains(t, m.syncs, testController)
	assert.Equal(t, 185*time.Second, m.syncs[testController].next)
	assert.True(t, m.zones.zone(1).hasTemp)
	assert.Equal(t, uint64(2), m.stats.ValidMessages)

	m.finishDiscovery()
	require.NotNil(t, m.getSelectedDevice())
	assert.Equal(t, testController, m.getSelectedDevice().addr)
}

func TestControlModel_CycleFocus(t *testing.T) {
	m := initialControlModel(nil, "test")
	m.processEvent(lineEvent{msg: message(t, " I --- 04:000001 --:------ 04:000001 30C9 003 0107D0")})
	m.finishDiscovery()

	// A sensor has no setpoint input
	m.cycleFocus(1)
	assert.Equal(t, focusCommandInput, m.focusedField)
	m.cycleFocus(1)
	assert.Equal(t, focusDeviceList, m.focusedField)
	m.cycleFocus(-1)
	assert.Equal(t, focusCommandInput, m.focusedField)
}
