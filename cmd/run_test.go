// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestServiceHooks_Message(t *testing.T) {
	var buf bytes.Buffer
	hooks := serviceHooks(zerolog.New(&buf))

	hooks.OnMessage(message(t, " I --- 04:000001 --:------ 04:000001 30C9 003 0107D0"))
	out := buf.String()
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"code":"30C9"`)
	assert.Contains(t, out, `"name":"temperature"`)
	assert.Contains(t, out, `"temperature":20`)

	buf.Reset()
	hooks.OnMessage(message(t, " I --- 04:000001 --:------ 04:000001 7FFF 002 0102"))
	assert.Contains(t, buf.String(), `"payload":"0102"`)
}

func TestServiceHooks_Anomaly(t *testing.T) {
	var buf bytes.Buffer
	hooks := serviceHooks(zerolog.New(&buf))

	hooks.OnMessage(message(t, " I --- 04:000001 --:------ 04:000001 30C9 003 013A98"))
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestServiceHooks_Outcome(t *testing.T) {
	var buf bytes.Buffer
	hooks := serviceHooks(zerolog.New(&buf).Level(zerolog.InfoLevel))
	cmd := ramses.NewSyncRequest(ramses.MustDecodeAddress("01:123456"))

	hooks.OnOutcome(cmd, protocol.Outcome{Kind: protocol.OutcomeResolved})
	hooks.OnSent(cmd, 1)
	hooks.OnInvalidLine([]byte("garbage"), errors.New("malformed line"))
	assert.Empty(t, buf.String(), "routine events log at debug")

	hooks.OnOutcome(cmd, protocol.Outcome{Kind: protocol.OutcomeExpired, Err: errors.New("no reply")})
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), cmd.ID.String())
}
