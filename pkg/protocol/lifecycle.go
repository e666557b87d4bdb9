// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"context"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/looplab/fsm"
)

// Command states
const (
	StateQueued    = "queued"
	StateSent      = "sent"
	StateAwaiting  = "awaiting"
	StateRetrying  = "retrying"
	StateResolved  = "resolved"
	StateExpired   = "expired"
	StateCancelled = "cancelled"
)

// Lifecycle events
const (
	eventSend    = "send"
	eventAwait   = "await"
	eventResolve = "resolve"
	eventRetry   = "retry"
	eventRequeue = "requeue"
	eventExpire  = "expire"
	eventCancel  = "cancel"
)

func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		StateQueued,
		fsm.Events{
			{Name: eventSend, Src: []string{StateQueued}, Dst: StateSent},
			{Name: eventAwait, Src: []string{StateSent}, Dst: StateAwaiting},
			{Name: eventResolve, Src: []string{StateSent, StateAwaiting}, Dst: StateResolved},
			{Name: eventRetry, Src: []string{StateAwaiting}, Dst: StateRetrying},
			{Name: eventRequeue, Src: []string{StateRetrying}, Dst: StateQueued},
			{Name: eventExpire, Src: []string{StateQueued, StateSent, StateAwaiting}, Dst: StateExpired},
			{Name: eventCancel, Src: []string{StateQueued, StateAwaiting}, Dst: StateCancelled},
		},
		fsm.Callbacks{},
	)
}

// tracked is the stack's record of one live command
type tracked struct {
	cmd         *ramses.Command
	seq         uint64
	state       *fsm.FSM
	attempts    int
	sentAt      time.Time
	ackDeadline time.Time
	done        chan Outcome
}

func newTracked(cmd *ramses.Command, seq uint64, done chan Outcome) *tracked {
	return &tracked{
		cmd:   cmd,
		seq:   seq,
		state: newLifecycle(),
		done:  done,
	}
}

// fire moves the command through its lifecycle
func (t *tracked) fire(event string) error {
	return t.state.Event(context.Background(), event)
}

// State returns the current lifecycle state
func (t *tracked) State() string {
	return t.state.Current()
}

func (t *tracked) expiredError(cause error) *ExpiredCallbackError {
	return &ExpiredCallbackError{
		ID:       t.cmd.ID,
		Code:     t.cmd.Code,
		Dst:      t.cmd.Dst,
		Attempts: t.attempts,
		Deadline: t.cmd.Deadline(),
		Cause:    cause,
	}
}
