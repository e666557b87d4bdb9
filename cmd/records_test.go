// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintRecords(t *testing.T) {
	var stream bytes.Buffer
	enc := ramses.NewRecordEncoder(&stream)
	for _, line := range []string{
		"045 RP --- 10:000001 18:000730 --:------ 3EF0 003 00C80A",
		" I --- 04:000001 --:------ 04:000001 30C9 003 0107D0",
		" I --- 04:000001 --:------ 04:000001 7FFF 002 0102",
	} {
		require.NoError(t, enc.Encode(ramses.NewMessageRecord(message(t, line))))
	}

	var out bytes.Buffer
	require.NoError(t, printRecords(&out, &stream, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "RP 10:000001 18:000730 3EF0 rssi=045 actuator_state")
	assert.Contains(t, lines[0], "modulation_level=1")
	assert.Contains(t, lines[1], "temperature=20")
	assert.True(t, strings.HasSuffix(lines[2], "7FFF 0102"), lines[2])
}

func TestPrintRecords_Filter(t *testing.T) {
	var stream bytes.Buffer
	enc := ramses.NewRecordEncoder(&stream)
	require.NoError(t, enc.Encode(ramses.NewMessageRecord(message(t, " I --- 04:000001 --:------ 04:000001 30C9 003 0107D0"))))
	require.NoError(t, enc.Encode(ramses.NewMessageRecord(message(t, " I --- 01:123456 --:------ 01:123456 1F09 003 FF073A"))))

	code := ramses.CodeSystemSync
	var out bytes.Buffer
	require.NoError(t, printRecords(&out, &stream, &code))

	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "system_sync")
}

func TestPrintRecords_Truncated(t *testing.T) {
	var stream bytes.Buffer
	enc := ramses.NewRecordEncoder(&stream)
	require.NoError(t, enc.Encode(ramses.NewMessageRecord(message(t, " I --- 04:000001 --:------ 04:000001 30C9 003 0107D0"))))
	truncated := stream.Bytes()[:stream.Len()-2]

	var out bytes.Buffer
	err := printRecords(&out, bytes.NewReader(truncated), nil)
	assert.Error(t, err)
}
