// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/stretchr/testify/require"
)

// message parses a gateway line and builds it with the default catalog
func message(t *testing.T, line string) *ramses.Message {
	t.Helper()
	p, err := ramses.ParseLine(line)
	require.NoError(t, err, line)
	return ramses.BuildMessage(p, ramses.DefaultCatalog())
}
