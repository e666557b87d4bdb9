// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory gateway: lines fed by the test are read by the
// transport, frames written by the transport are captured.
type fakeConn struct {
	in        chan []byte
	frames    chan string
	closed    chan struct{}
	closeOnce sync.Once
	pending   []byte // owned by the reader goroutine
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 256),
		frames: make(chan string, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case b, ok := <-c.in:
			if !ok {
				return 0, io.EOF
			}
			c.pending = b
		case <-c.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	c.frames <- string(p)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) feed(line string) {
	c.in <- []byte(line + "\r\n")
}

func (c *fakeConn) feedRaw(b []byte) {
	c.in <- b
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type outcomeEvent struct {
	cmd     *ramses.Command
	outcome Outcome
}

// harness wires a stack to a fake gateway and records every hook call
type harness struct {
	t        *testing.T
	conn     *fakeConn
	clock    *fakeClock
	stack    *Stack
	outcomes chan outcomeEvent
	messages chan *ramses.Message
	invalid  chan error
	sent     chan *ramses.Command
}

func newHarness(t *testing.T, mutate func(cfg *Config)) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		conn:     newFakeConn(),
		clock:    newFakeClock(),
		outcomes: make(chan outcomeEvent, 64),
		messages: make(chan *ramses.Message, 64),
		invalid:  make(chan error, 64),
		sent:     make(chan *ramses.Command, 64),
	}

	cfg := DefaultConfig()
	cfg.ReadBudget = 20 * time.Millisecond
	cfg.AckTimeout = 100 * time.Millisecond
	cfg.TxGap = 0
	cfg.Now = h.clock.Now
	if mutate != nil {
		mutate(&cfg)
	}

	hooks := Hooks{
		OnMessage:     func(m *ramses.Message) { h.messages <- m },
		OnOutcome:     func(cmd *ramses.Command, o Outcome) { h.outcomes <- outcomeEvent{cmd: cmd, outcome: o} },
		OnInvalidLine: func(_ []byte, err error) { h.invalid <- err },
		OnSent:        func(cmd *ramses.Command, _ int) { h.sent <- cmd },
	}
	h.stack = NewStack(NewTransport(h.conn, cfg), ramses.DefaultCatalog(), cfg, hooks)
	t.Cleanup(func() { _ = h.stack.Close() })
	return h
}

func (h *harness) step() {
	h.t.Helper()
	require.NoError(h.t, h.stack.Step(context.Background()))
}

// stepUntil steps the stack until cond holds
func (h *harness) stepUntil(cond func() bool) {
	h.t.Helper()
	for i := 0; i < 200; i++ {
		h.step()
		if cond() {
			return
		}
	}
	h.t.Fatal("condition not reached")
}

func (h *harness) nextFrame() string {
	h.t.Helper()
	select {
	case f := <-h.conn.frames:
		return f
	case <-time.After(time.Second):
		h.t.Fatal("no frame written")
		return ""
	}
}

func (h *harness) nextOutcome() outcomeEvent {
	h.t.Helper()
	select {
	case o := <-h.outcomes:
		return o
	case <-time.After(2 * time.Second):
		h.t.Fatal("no outcome reported")
		return outcomeEvent{}
	}
}

var (
	ctlAddr = ramses.MustDecodeAddress("01:123456")
	trvAddr = ramses.MustDecodeAddress("04:000001")
)
