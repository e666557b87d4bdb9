// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
)

// Poller produces background status requests when the link is idle. It
// holds no goroutine: the stack asks it for a command only when nothing
// else is ready to send, so polls never delay application traffic.
type Poller struct {
	interval time.Duration
	targets  []ramses.Address
	codes    []ramses.Code

	next     int
	started  time.Time
	lastPoll time.Time
}

// DefaultPollCodes are polled when no codes are configured
var DefaultPollCodes = []ramses.Code{ramses.CodeSystemSync, ramses.CodeTemperature}

// NewPoller creates a poller cycling through every target and code
func NewPoller(interval time.Duration, targets []ramses.Address, codes []ramses.Code) (*Poller, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	if len(targets) == 0 {
		return nil, errors.New("poller needs at least one target")
	}
	for _, t := range targets {
		if !t.IsConcrete() {
			return nil, fmt.Errorf("poll target %s: %w", t, ramses.ErrNotConcrete)
		}
	}
	if len(codes) == 0 {
		codes = DefaultPollCodes
	}
	return &Poller{
		interval: interval,
		targets:  append([]ramses.Address(nil), targets...),
		codes:    append([]ramses.Code(nil), codes...),
	}, nil
}

// Next returns the next poll request, or nil when the link has carried
// traffic (a write or a previous poll) within the poll interval.
func (p *Poller) Next(now, lastWrite time.Time) *ramses.Command {
	if p.started.IsZero() {
		p.started = now
	}

	idleSince := p.started
	if lastWrite.After(idleSince) {
		idleSince = lastWrite
	}
	if p.lastPoll.After(idleSince) {
		idleSince = p.lastPoll
	}
	if now.Sub(idleSince) < p.interval {
		return nil
	}

	target := p.targets[(p.next/len(p.codes))%len(p.targets)]
	code := p.codes[p.next%len(p.codes)]
	p.next++
	p.lastPoll = now

	cmd := ramses.NewCommand(ramses.VerbRQ, target, code, ramses.PollPayload(code))
	cmd.Priority = ramses.PriorityLowest
	cmd.CreatedAt = now
	cmd.Retries = 0
	return cmd
}

// Interval returns the idle time between polls
func (p *Poller) Interval() time.Duration {
	return p.interval
}
