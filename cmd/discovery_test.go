// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 10E0 reply with an empty header and "Evotouch" as the description
const deviceInfoReply = "RP --- 01:123456 18:000730 --:------ 10E0 026 " +
	"000000000000000000000000000000000000" + "45766F746F756368"

func TestCensus_Observe(t *testing.T) {
	c := newCensus()

	added := c.observe(message(t, "045 RP --- 10:000001 18:000730 --:------ 3EF0 003 00C80A"))
	assert.Equal(t, []ramses.Address{ramses.MustDecodeAddress("10:000001")}, added,
		"the gateway address should not be counted")

	added = c.observe(message(t, " I --- 04:000001 01:123456 --:------ 3150 002 0AC8"))
	assert.Equal(t, []ramses.Address{
		ramses.MustDecodeAddress("04:000001"),
		ramses.MustDecodeAddress("01:123456"),
	}, added)

	added = c.observe(message(t, " I --- 04:000001 01:123456 --:------ 3150 002 0AC8"))
	assert.Empty(t, added, "known devices are not reported again")
	assert.Equal(t, 3, c.len())
}

func TestCensus_CountsOnlySources(t *testing.T) {
	c := newCensus()
	c.observe(message(t, " I --- 04:000001 01:123456 --:------ 3150 002 0AC8"))
	c.observe(message(t, " I --- 04:000001 01:123456 --:------ 30C9 003 0107D0"))

	devices := c.sorted()
	require.Len(t, devices, 2)

	ctl, trv := devices[0], devices[1]
	assert.Equal(t, "01:123456", ctl.addr.String())
	assert.Equal(t, 0, ctl.sent)
	assert.Empty(t, ctl.codes)

	assert.Equal(t, "04:000001", trv.addr.String())
	assert.Equal(t, 2, trv.sent)
	assert.Equal(t, 1, trv.codes[ramses.CodeHeatDemand])
	assert.Equal(t, 1, trv.codes[ramses.CodeTemperature])
}

func TestCensus_RSSI(t *testing.T) {
	c := newCensus()
	c.observe(message(t, "045 RP --- 10:000001 18:000730 --:------ 3EF0 003 00C80A"))

	devices := c.sorted()
	require.Len(t, devices, 1)
	assert.True(t, devices[0].hasRSSI)
	assert.Equal(t, 45, devices[0].rssi)
	assert.Contains(t, devices[0].String(), "rssi=045")
}

func TestCensus_Description(t *testing.T) {
	c := newCensus()
	c.observe(message(t, deviceInfoReply))

	devices := c.sorted()
	require.Len(t, devices, 1)
	assert.Equal(t, "Evotouch", devices[0].description)

	c.describe(ramses.MustDecodeAddress("01:123456"), "Evohome")
	assert.Equal(t, "Evohome", c.sorted()[0].description)

	// Unknown addresses are ignored
	c.describe(ramses.MustDecodeAddress("04:000001"), "TRV")
	assert.Equal(t, 1, c.len())
}

func TestCensus_SortedReturnsCopies(t *testing.T) {
	c := newCensus()
	c.observe(message(t, " I --- 04:000002 --:------ 04:000002 30C9 003 0107D0"))
	c.observe(message(t, " I --- 01:123456 --:------ 01:123456 1F09 003 FF073A"))
	c.observe(message(t, " I --- 04:000001 --:------ 04:000001 30C9 003 0107D0"))

	devices := c.sorted()
	require.Len(t, devices, 3)
	var got []string
	for _, d := range devices {
		got = append(got, d.addr.String())
	}
	assert.Equal(t, []string{"01:123456", "04:000001", "04:000002"}, got)

	devices[0].description = "changed"
	assert.Empty(t, c.sorted()[0].description)
}

func TestDeviceInfo_String(t *testing.T) {
	c := newCensus()
	c.observe(message(t, " I --- 04:000001 01:123456 --:------ 3150 002 0AC8"))
	c.observe(message(t, " I --- 04:000001 --:------ 04:000001 30C9 003 0107D0"))

	s := c.sorted()[1].String()
	assert.True(t, strings.HasPrefix(s, "04:000001"), s)
	assert.Contains(t, s, "sent=2")
	assert.Contains(t, s, "codes=30C9,3150")
}
