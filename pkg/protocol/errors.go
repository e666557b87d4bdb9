// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/google/uuid"
)

var (
	// ErrCancelled is the error carried by a cancelled command's outcome
	ErrCancelled = errors.New("protocol: command cancelled")

	// ErrStackClosed is returned once the stack loop has stopped
	ErrStackClosed = errors.New("protocol: stack closed")

	// ErrUnknownCommand is returned when cancelling an ID the stack does not hold
	ErrUnknownCommand = errors.New("protocol: unknown command")

	// ErrDuplicateCommand is reported when a submitted ID is already in flight
	ErrDuplicateCommand = errors.New("protocol: duplicate command id")

	// ErrTransportClosed is returned by writes after Close
	ErrTransportClosed = errors.New("protocol: transport closed")

	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("protocol: stack already running")
)

// ExpiredCallbackError is the outcome error of a command that ran out of
// time and retries without a matching response.
type ExpiredCallbackError struct {
	ID       uuid.UUID
	Code     ramses.Code
	Dst      ramses.Address
	Attempts int
	Deadline time.Time
	Cause    error // set when the command could not be written
}

func (e *ExpiredCallbackError) Error() string {
	msg := fmt.Sprintf("protocol: command %s (%s to %s) expired after %d attempt(s)", e.ID, e.Code, e.Dst, e.Attempts)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExpiredCallbackError) Unwrap() error {
	return e.Cause
}

// CorruptStateError means the gateway stream stopped producing usable lines
type CorruptStateError struct {
	Discarded int
	Reason    string
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("protocol: corrupt gateway stream: %s (%d bytes discarded)", e.Reason, e.Discarded)
}
