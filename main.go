// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Ramsestat - RAMSES-II Gateway Protocol Analyzer
//
// A CLI tool for monitoring, decoding and commanding RAMSES-II heating
// networks through an evofw3 or HGI80 gateway.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/ramsestat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
