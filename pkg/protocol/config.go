// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package protocol runs the RAMSES-II command/response loop on top of a
// gateway byte stream: line framing, the priority queue of outbound
// commands, response correlation, retries and expiry.
package protocol

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes the transport and the stack loop
type Config struct {
	// ReadBudget bounds how long one Step waits for an inbound line.
	ReadBudget time.Duration

	// AckTimeout is how long a sent command holds the queue closed while
	// waiting for its response before it is retried.
	AckTimeout time.Duration

	// TxGap is the quiet time required on the link before a write.
	TxGap time.Duration

	// MaxLineLength drops longer lines as noise.
	MaxLineLength int

	// CorruptBudget is the number of bytes the transport tolerates without
	// a usable line before reporting a CorruptStateError.
	CorruptBudget int

	// SubmitBuffer is the capacity of the submission channel.
	SubmitBuffer int

	Logger zerolog.Logger
	Now    func() time.Time
}

// DefaultConfig returns the settings used for evofw3 and HGI80 gateways
func DefaultConfig() Config {
	return Config{
		ReadBudget:    50 * time.Millisecond,
		AckTimeout:    500 * time.Millisecond,
		TxGap:         30 * time.Millisecond,
		MaxLineLength: 256,
		CorruptBudget: 4096,
		SubmitBuffer:  64,
		Logger:        zerolog.Nop(),
		Now:           time.Now,
	}
}

// Validate checks the config for values the loop cannot run with
func (c Config) Validate() error {
	if c.ReadBudget <= 0 {
		return fmt.Errorf("read budget must be positive, got %s", c.ReadBudget)
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("ack timeout must be positive, got %s", c.AckTimeout)
	}
	if c.TxGap < 0 {
		return fmt.Errorf("tx gap must not be negative, got %s", c.TxGap)
	}
	if c.MaxLineLength <= 0 {
		return fmt.Errorf("max line length must be positive, got %d", c.MaxLineLength)
	}
	if c.CorruptBudget < c.MaxLineLength {
		return fmt.Errorf("corrupt budget %d is smaller than max line length %d", c.CorruptBudget, c.MaxLineLength)
	}
	if c.SubmitBuffer < 0 {
		return fmt.Errorf("submit buffer must not be negative, got %d", c.SubmitBuffer)
	}
	return nil
}

func (c Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
