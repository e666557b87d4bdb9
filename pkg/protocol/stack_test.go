// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scheduleReply = "RP --- 01:123456 18:000730 --:------ 0006 004 00050008"

func TestStack_ResolvesMatchingResponse(t *testing.T) {
	h := newHarness(t, nil)

	cmd := ramses.NewScheduleVersionRequest(ctlAddr)
	cmd.CreatedAt = h.clock.Now()
	id, err := h.stack.Submit(cmd)
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, id)

	h.step()
	assert.Equal(t, "RQ --- 18:000730 01:123456 --:------ 0006 001 00\r\n", h.nextFrame())

	// same code from another device, and a different code from the target
	h.conn.feed("RP --- 01:222222 18:000730 --:------ 0006 004 00050001")
	h.conn.feed("RP --- 01:123456 18:000730 --:------ 1F09 003 000738")
	h.stepUntil(func() bool { return len(h.messages) == 2 })
	assert.Len(t, h.outcomes, 0)

	h.conn.feed(scheduleReply)
	h.stepUntil(func() bool { return len(h.outcomes) == 1 })

	ev := h.nextOutcome()
	assert.Equal(t, id, ev.cmd.ID)
	assert.Equal(t, OutcomeResolved, ev.outcome.Kind)
	require.NotNil(t, ev.outcome.Message)
	counter, ok := ev.outcome.Message.FieldUint("change_counter")
	require.True(t, ok)
	assert.Equal(t, uint64(8), counter)

	// a duplicate reply matches nothing
	h.conn.feed(scheduleReply)
	h.stepUntil(func() bool { return len(h.messages) == 4 })
	assert.Len(t, h.outcomes, 0)
}

func TestStack_RequestsNeverResolve(t *testing.T) {
	h := newHarness(t, nil)

	cmd := ramses.NewScheduleVersionRequest(ctlAddr)
	cmd.CreatedAt = h.clock.Now()
	_, err := h.stack.Submit(cmd)
	require.NoError(t, err)
	h.step()
	h.nextFrame()

	h.conn.feed("RQ --- 01:123456 18:000730 --:------ 0006 001 00")
	h.stepUntil(func() bool { return len(h.messages) == 1 })
	assert.Len(t, h.outcomes, 0)
}

func TestStack_OldestAwaitingWins(t *testing.T) {
	h := newHarness(t, nil)

	first := ramses.NewScheduleVersionRequest(ctlAddr)
	second := ramses.NewScheduleVersionRequest(ctlAddr)
	for _, c := range []*ramses.Command{first, second} {
		c.CreatedAt = h.clock.Now()
		c.Retries = 0
		c.Timeout = 10 * time.Second
		_, err := h.stack.Submit(c)
		require.NoError(t, err)
	}

	h.step()
	h.nextFrame()
	h.step()
	assert.Len(t, h.conn.frames, 0, "gate holds the second command inside the ack window")

	h.clock.Advance(100 * time.Millisecond)
	h.step()
	h.nextFrame()

	h.conn.feed(scheduleReply)
	h.stepUntil(func() bool { return len(h.outcomes) == 1 })
	assert.Equal(t, first.ID, h.nextOutcome().cmd.ID)

	h.conn.feed(scheduleReply)
	h.stepUntil(func() bool { return len(h.outcomes) == 1 })
	assert.Equal(t, second.ID, h.nextOutcome().cmd.ID)
}

func TestStack_RetryThenExpire(t *testing.T) {
	h := newHarness(t, nil)

	cmd := ramses.NewSyncRequest(ctlAddr)
	cmd.CreatedAt = h.clock.Now()
	cmd.Retries = 1
	cmd.Timeout = 300 * time.Millisecond
	_, err := h.stack.Submit(cmd)
	require.NoError(t, err)

	h.step()
	first := h.nextFrame()

	// ack window passes: requeued with a fresh creation time
	h.clock.Advance(100 * time.Millisecond)
	h.step()
	h.step()
	assert.Equal(t, first, h.nextFrame(), "retry resends the same frame")

	h.clock.Advance(100 * time.Millisecond)
	h.step()
	assert.Len(t, h.outcomes, 0, "retry deadline counts from the retry")

	h.clock.Advance(200 * time.Millisecond)
	h.step()

	ev := h.nextOutcome()
	assert.Equal(t, OutcomeExpired, ev.outcome.Kind)
	var expired *ExpiredCallbackError
	require.True(t, errors.As(ev.outcome.Err, &expired))
	assert.Equal(t, cmd.ID, expired.ID)
	assert.Equal(t, 2, expired.Attempts)
	assert.Equal(t, ramses.CodeSystemSync, expired.Code)

	h.clock.Advance(time.Second)
	h.step()
	assert.Len(t, h.outcomes, 0, "expired exactly once")
	assert.Len(t, h.conn.frames, 0)
}

func TestStack_ExpiresWhileQueued(t *testing.T) {
	h := newHarness(t, nil)

	blocker := ramses.NewSyncRequest(ctlAddr)
	blocker.CreatedAt = h.clock.Now()
	blocker.Retries = 0
	blocker.Timeout = 10 * time.Second
	_, err := h.stack.Submit(blocker)
	require.NoError(t, err)
	h.step()
	h.nextFrame()

	queued := ramses.NewDateTimeRequest(ctlAddr)
	queued.CreatedAt = h.clock.Now()
	queued.Timeout = 50 * time.Millisecond
	_, err = h.stack.Submit(queued)
	require.NoError(t, err)
	h.step()

	h.clock.Advance(50 * time.Millisecond)
	h.step()

	ev := h.nextOutcome()
	assert.Equal(t, queued.ID, ev.cmd.ID)
	assert.Equal(t, OutcomeExpired, ev.outcome.Kind)
	var expired *ExpiredCallbackError
	require.True(t, errors.As(ev.outcome.Err, &expired))
	assert.Equal(t, 0, expired.Attempts)
}

func TestStack_PriorityOnTheWire(t *testing.T) {
	h := newHarness(t, nil)

	for _, p := range []ramses.Priority{ramses.PriorityLowest, ramses.PriorityHighest, ramses.PriorityNormal} {
		cmd := ramses.NewAnnouncement(ramses.CodeSystemSync, []byte{0x00, 0x07, byte(p + 8)})
		cmd.Priority = p
		cmd.CreatedAt = h.clock.Now()
		_, err := h.stack.Submit(cmd)
		require.NoError(t, err)
	}

	h.step()
	h.step()
	h.step()

	var order []ramses.Priority
	for i := 0; i < 3; i++ {
		order = append(order, (<-h.sent).Priority)
	}
	assert.Equal(t, []ramses.Priority{ramses.PriorityHighest, ramses.PriorityNormal, ramses.PriorityLowest}, order)
}

func TestStack_AnnouncementResolvesOnWrite(t *testing.T) {
	h := newHarness(t, nil)

	cmd := ramses.NewAnnouncement(ramses.CodeSystemSync, []byte{0xFF, 0x07, 0x3A})
	_, err := h.stack.Submit(cmd)
	require.NoError(t, err)
	h.step()

	assert.Equal(t, " I --- 18:000730 --:------ 18:000730 1F09 003 FF073A\r\n", h.nextFrame())
	ev := h.nextOutcome()
	assert.Equal(t, OutcomeResolved, ev.outcome.Kind)
	assert.Nil(t, ev.outcome.Message)
	assert.NoError(t, ev.outcome.Err)
}

func TestStack_SubmitRejectsUnencodable(t *testing.T) {
	h := newHarness(t, nil)

	cmd := ramses.NewSyncRequest(ramses.NullAddress)
	_, err := h.stack.Submit(cmd)
	assert.ErrorIs(t, err, ramses.ErrNotConcrete)
}

func TestStack_DuplicateID(t *testing.T) {
	h := newHarness(t, nil)

	cmd := ramses.NewScheduleVersionRequest(ctlAddr)
	cmd.CreatedAt = h.clock.Now()
	_, err := h.stack.Submit(cmd)
	require.NoError(t, err)
	h.step()

	done := make(chan Outcome, 1)
	_, err = h.stack.submit(cmd, done)
	require.NoError(t, err)
	h.step()

	o := <-done
	assert.Equal(t, OutcomeCancelled, o.Kind)
	assert.ErrorIs(t, o.Err, ErrDuplicateCommand)
}

func TestStack_InvalidLinesDoNotStop(t *testing.T) {
	h := newHarness(t, nil)

	h.conn.feed("# evofw3 0.7.1")
	h.conn.feed("XX --- 01:123456 --:------ 01:123456 1F09 003 FF073A")
	h.conn.feed(" I --- 01:123456 --:------ 01:123456 1F09 003 FF07")
	h.conn.feed(" I --- 01:123456 --:------ 01:123456 1F09 003 FF073A")
	h.stepUntil(func() bool { return len(h.messages) == 1 })

	require.Len(t, h.invalid, 2)
	var pe *ramses.InvalidPacketError
	require.True(t, errors.As(<-h.invalid, &pe))
	assert.Equal(t, ramses.KindUnknownVerb, pe.Kind)
	require.True(t, errors.As(<-h.invalid, &pe))
	assert.Equal(t, ramses.KindLengthMismatch, pe.Kind)

	msg := <-h.messages
	assert.Equal(t, ramses.CodeSystemSync, msg.Code())
	assert.Equal(t, h.clock.Now(), msg.Timestamp())
}

func TestStack_PollerDoesNotStarveCommands(t *testing.T) {
	h := newHarness(t, nil)

	poller, err := NewPoller(time.Second, []ramses.Address{ctlAddr}, []ramses.Code{ramses.CodeSystemSync})
	require.NoError(t, err)
	h.stack.SetPoller(poller)

	// starts the poller's idle timer
	h.step()
	assert.Len(t, h.conn.frames, 0)

	h.clock.Advance(2 * time.Second)
	app := ramses.NewAnnouncement(ramses.CodeTemperature, []byte{0x01, 0x07, 0xD0})
	app.CreatedAt = h.clock.Now()
	_, err = h.stack.Submit(app)
	require.NoError(t, err)

	h.step()
	assert.True(t, strings.Contains(h.nextFrame(), "30C9"), "application command goes first")

	h.clock.Advance(2 * time.Second)
	h.step()
	assert.Equal(t, "RQ --- 18:000730 01:123456 --:------ 1F09 001 00\r\n", h.nextFrame())

	sent := []*ramses.Command{<-h.sent, <-h.sent}
	assert.Equal(t, app.ID, sent[0].ID)
	assert.Equal(t, ramses.PriorityLowest, sent[1].Priority)
}

func TestStack_PollResponseResolvesPoll(t *testing.T) {
	h := newHarness(t, nil)

	poller, err := NewPoller(time.Second, []ramses.Address{ctlAddr}, []ramses.Code{ramses.CodeSystemSync})
	require.NoError(t, err)
	h.stack.SetPoller(poller)

	h.step()
	h.clock.Advance(time.Second)
	h.step()
	h.nextFrame()

	h.conn.feed("RP --- 01:123456 18:000730 --:------ 1F09 003 00073A")
	h.stepUntil(func() bool { return len(h.outcomes) == 1 })
	ev := h.nextOutcome()
	assert.Equal(t, OutcomeResolved, ev.outcome.Kind)
	v, ok := ev.outcome.Message.FieldUint("sync_value")
	require.True(t, ok)
	assert.Equal(t, uint64(0x073A), v)
}

func runStack(t *testing.T, s *Stack) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("stack did not stop")
		return nil
	}
}

func TestStack_SendReturnsResponse(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Now = nil })
	_, errc := runStack(t, h.stack)

	go func() {
		<-h.conn.frames
		h.conn.feed(scheduleReply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := h.stack.Send(ctx, ramses.NewScheduleVersionRequest(ctlAddr))
	require.NoError(t, err)
	assert.Equal(t, ramses.VerbRP, msg.Verb())
	assert.Equal(t, ctlAddr, msg.Src())

	require.NoError(t, h.stack.Close())
	assert.ErrorIs(t, waitRun(t, errc), ErrStackClosed)
}

func TestStack_Cancel(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Now = nil })
	cancelRun, errc := runStack(t, h.stack)

	cmd := ramses.NewScheduleVersionRequest(ctlAddr)
	cmd.Timeout = 10 * time.Second
	id, err := h.stack.Submit(cmd)
	require.NoError(t, err)
	<-h.sent

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.stack.Cancel(ctx, id))

	ev := h.nextOutcome()
	assert.Equal(t, OutcomeCancelled, ev.outcome.Kind)
	assert.ErrorIs(t, ev.outcome.Err, ErrCancelled)

	assert.ErrorIs(t, h.stack.Cancel(ctx, id), ErrUnknownCommand)
	assert.ErrorIs(t, h.stack.Cancel(ctx, uuid.New()), ErrUnknownCommand)

	cancelRun()
	assert.ErrorIs(t, waitRun(t, errc), context.Canceled)
	assert.Len(t, h.outcomes, 0)
}

func TestStack_SendContextCancelled(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Now = nil })
	_, _ = runStack(t, h.stack)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.stack.Send(ctx, ramses.NewScheduleVersionRequest(ctlAddr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ev := h.nextOutcome()
	assert.Equal(t, OutcomeCancelled, ev.outcome.Kind)
}

func TestStack_ShutdownCancelsOutstanding(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Now = nil })
	cancelRun, errc := runStack(t, h.stack)

	cmd := ramses.NewScheduleVersionRequest(ctlAddr)
	cmd.Timeout = 10 * time.Second
	_, err := h.stack.Submit(cmd)
	require.NoError(t, err)
	<-h.sent

	cancelRun()
	waitRun(t, errc)

	ev := h.nextOutcome()
	assert.Equal(t, cmd.ID, ev.cmd.ID)
	assert.Equal(t, OutcomeCancelled, ev.outcome.Kind)
	assert.ErrorIs(t, ev.outcome.Err, ErrStackClosed)

	_, err = h.stack.Submit(ramses.NewSyncRequest(ctlAddr))
	assert.ErrorIs(t, err, ErrStackClosed)
}

func TestStack_ShutdownReportsBufferedSubmissions(t *testing.T) {
	h := newHarness(t, nil)

	// Accepted but never picked up by the loop
	cmd := ramses.NewSyncRequest(ctlAddr)
	id, err := h.stack.Submit(cmd)
	require.NoError(t, err)

	h.stack.shutdown()

	ev := h.nextOutcome()
	assert.Equal(t, id, ev.cmd.ID)
	assert.Equal(t, OutcomeCancelled, ev.outcome.Kind)
	assert.ErrorIs(t, ev.outcome.Err, ErrStackClosed)

	// Nothing is accepted once shutdown has drained
	for i := 0; i < 100; i++ {
		_, err := h.stack.Submit(ramses.NewSyncRequest(ctlAddr))
		require.ErrorIs(t, err, ErrStackClosed)
	}
	assert.Empty(t, h.stack.requests)
	select {
	case ev := <-h.outcomes:
		t.Fatalf("unexpected outcome for %s", ev.cmd.ID)
	default:
	}
}

func TestStack_RunTwice(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Now = nil })
	_, _ = runStack(t, h.stack)

	require.Eventually(t, func() bool { return h.stack.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, h.stack.Run(context.Background()), ErrAlreadyRunning)
}

func TestStack_CorruptStreamEndsRun(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Now = nil
		cfg.MaxLineLength = 16
		cfg.CorruptBudget = 64
	})
	_, errc := runStack(t, h.stack)

	h.conn.feedRaw([]byte(strings.Repeat("~", 200)))

	err := waitRun(t, errc)
	var corrupt *CorruptStateError
	assert.True(t, errors.As(err, &corrupt))
}
