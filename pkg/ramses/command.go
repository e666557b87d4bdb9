// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command is an outbound frame plus the bookkeeping needed to deliver it:
// priority, the response code that completes it and its retry budget.
type Command struct {
	ID               uuid.UUID
	Verb             Verb
	Src              Address
	Dst              Address
	Code             Code
	Payload          []byte
	Priority         Priority
	ExpectedResponse *Code
	CreatedAt        time.Time
	Timeout          time.Duration
	Retries          int
}

// NewCommand creates a command from the gateway address with default
// timeout and retries. Requests and writes expect a reply with the same code.
func NewCommand(verb Verb, dst Address, code Code, payload []byte) *Command {
	cmd := &Command{
		ID:        uuid.New(),
		Verb:      verb,
		Src:       GatewayAddress,
		Dst:       dst,
		Code:      code,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
		Timeout:   DefaultTimeout,
		Retries:   DefaultRetries,
	}
	if verb == VerbRQ || verb == VerbW {
		expected := code
		cmd.ExpectedResponse = &expected
	}
	return cmd
}

// ParseCommand builds a command from text fields as typed on a command line:
// verb token, destination address, four digit code and a hex payload.
func ParseCommand(verb, dst, code, payload string) (*Command, error) {
	v, ok := ParseVerb(strings.ToUpper(verb))
	if !ok {
		return nil, fmt.Errorf("unknown verb %q", verb)
	}
	addr, err := DecodeAddress(dst)
	if err != nil {
		return nil, err
	}
	c, err := ParseCode(strings.ToUpper(code))
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return NewCommand(v, addr, c, data), nil
}

// Expects returns the response code that completes the command, if any
func (c *Command) Expects() (Code, bool) {
	if c.ExpectedResponse == nil {
		return 0, false
	}
	return *c.ExpectedResponse, true
}

// Deadline returns the time after which the command expires
func (c *Command) Deadline() time.Time {
	return c.CreatedAt.Add(c.Timeout)
}

// Addrs returns the three wire slots for the command. Announcements are
// laid out as "src --:------ src", everything else as "src dst --:------".
func (c *Command) Addrs() [3]Address {
	if c.Verb == VerbI && (c.Dst.IsNull() || c.Dst == c.Src) {
		return [3]Address{c.Src, NullAddress, c.Src}
	}
	return [3]Address{c.Src, c.Dst, NullAddress}
}

// Packet validates the command and returns the frame it will be sent as
func (c *Command) Packet() (*Packet, error) {
	if !c.Src.IsConcrete() {
		return nil, fmt.Errorf("source %s: %w", c.Src, ErrNotConcrete)
	}
	if c.Verb != VerbI && !c.Dst.IsConcrete() {
		return nil, fmt.Errorf("destination %s: %w", c.Dst, ErrNotConcrete)
	}
	return NewPacket(c.Verb, c.Addrs(), c.Code, c.Payload)
}

// Clone returns a deep copy of the command
func (c *Command) Clone() *Command {
	out := *c
	out.Payload = append([]byte(nil), c.Payload...)
	if c.ExpectedResponse != nil {
		expected := *c.ExpectedResponse
		out.ExpectedResponse = &expected
	}
	return &out
}

func (c *Command) String() string {
	return fmt.Sprintf("%s %s %s->%s %X (%s)", c.Verb.Token(), c.Code, c.Src, c.Dst, c.Payload, c.Priority)
}
