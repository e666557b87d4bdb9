// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// OutcomeKind is how a command finished
type OutcomeKind uint8

// Outcome kinds
const (
	OutcomeResolved OutcomeKind = iota + 1
	OutcomeExpired
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResolved:
		return "resolved"
	case OutcomeExpired:
		return "expired"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Outcome is delivered exactly once per submitted command. Message is the
// matching response, or nil for commands that expect none.
type Outcome struct {
	Kind    OutcomeKind
	Message *ramses.Message
	Err     error
}

func (o Outcome) result() (*ramses.Message, error) {
	if o.Kind == OutcomeResolved {
		return o.Message, nil
	}
	return nil, o.Err
}

// Hooks are called on the stack goroutine and must not block
type Hooks struct {
	OnMessage     func(msg *ramses.Message)
	OnOutcome     func(cmd *ramses.Command, outcome Outcome)
	OnInvalidLine func(line []byte, err error)
	OnSent        func(cmd *ramses.Command, attempt int)
}

type request struct {
	cmd    *ramses.Command
	done   chan Outcome
	cancel uuid.UUID
	reply  chan error
}

// Stack is the single-owner event loop that parses inbound lines, matches
// responses to pending commands and transmits queued commands. Submit,
// Send and Cancel are safe to call from any goroutine; everything else
// runs on the goroutine calling Run (or Step).
type Stack struct {
	transport *Transport
	decoder   *ramses.Decoder
	builder   *ramses.Builder
	cfg       Config
	hooks     Hooks
	log       zerolog.Logger
	poller    *Poller

	queue    *CommandQueue
	live     map[uuid.UUID]*tracked
	awaiting []*tracked // ordered by submission
	seq      uint64

	requests  chan request
	closed    chan struct{}
	closeOnce sync.Once
	running   *atomic.Bool

	// Held while a submission is handed to the loop; shut is set under it
	// once shutdown has stopped accepting work
	submitMu sync.Mutex
	shut     bool
}

// NewStack creates a stack reading and writing through t
func NewStack(t *Transport, schema ramses.Schema, cfg Config, hooks Hooks) *Stack {
	s := &Stack{
		transport: t,
		decoder:   ramses.NewDecoder(),
		builder:   ramses.NewBuilder(schema),
		cfg:       cfg,
		hooks:     hooks,
		log:       cfg.Logger.With().Str("component", "stack").Logger(),
		live:      make(map[uuid.UUID]*tracked),
		requests:  make(chan request, cfg.SubmitBuffer),
		closed:    make(chan struct{}),
		running:   atomic.NewBool(false),
	}
	s.decoder.SetClock(cfg.now)
	s.queue = NewCommandQueue(s.gateOpen)
	return s
}

// SetPoller installs a background poller. Call before Run.
func (s *Stack) SetPoller(p *Poller) {
	s.poller = p
}

// Transport returns the underlying transport
func (s *Stack) Transport() *Transport {
	return s.transport
}

// Submit queues a command and returns its ID. The outcome is reported
// through Hooks.OnOutcome.
func (s *Stack) Submit(cmd *ramses.Command) (uuid.UUID, error) {
	return s.submit(cmd, nil)
}

// Send submits a command and waits for its outcome. It returns the
// matching response for resolved commands, nil for commands that expect
// none, and the outcome error otherwise.
func (s *Stack) Send(ctx context.Context, cmd *ramses.Command) (*ramses.Message, error) {
	done := make(chan Outcome, 1)
	id, err := s.submit(cmd, done)
	if err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		return o.result()
	case <-s.closed:
		select {
		case o := <-done:
			return o.result()
		default:
			return nil, ErrStackClosed
		}
	case <-ctx.Done():
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = s.Cancel(cctx, id)
		}()
		return nil, ctx.Err()
	}
}

// Cancel removes a queued or awaiting command. Its outcome is reported as
// cancelled.
func (s *Stack) Cancel(ctx context.Context, id uuid.UUID) error {
	reply := make(chan error, 1)
	select {
	case s.requests <- request{cancel: id, reply: reply}:
	case <-s.closed:
		return ErrStackClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.closed:
		return ErrStackClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stack) submit(cmd *ramses.Command, done chan Outcome) (uuid.UUID, error) {
	if _, err := ramses.EncodeCommand(cmd); err != nil {
		return uuid.Nil, err
	}

	c := cmd.Clone()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.cfg.now()
	}
	if c.Timeout <= 0 {
		c.Timeout = ramses.DefaultTimeout
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if s.shut {
		return uuid.Nil, ErrStackClosed
	}
	select {
	case <-s.closed:
		return uuid.Nil, ErrStackClosed
	default:
	}
	select {
	case s.requests <- request{cmd: c, done: done}:
		return c.ID, nil
	case <-s.closed:
		return uuid.Nil, ErrStackClosed
	}
}

// Run steps the loop until ctx ends, the stack is closed or the transport
// fails. Outstanding commands are reported as cancelled on return.
func (s *Stack) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.shutdown()

	s.log.Info().Msg("stack started")
	for {
		if err := s.Step(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrStackClosed) {
				s.log.Info().Msg("stack stopped")
			} else {
				s.log.Error().Err(err).Msg("stack stopped")
			}
			return err
		}
	}
}

// Close stops the loop and closes the transport
func (s *Stack) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.transport.Close()
}

// Step runs one iteration: drain submissions, read at most one line,
// transmit at most one command, then retry or expire overdue commands.
// Invalid lines never fail a step; transport failures do.
func (s *Stack) Step(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrStackClosed
	default:
	}

	s.drainRequests()

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadBudget)
	line, err := s.transport.ReadLine(readCtx)
	cancel()

	switch {
	case err == nil:
		s.handleLine(line)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
	default:
		select {
		case <-s.closed:
			return ErrStackClosed
		default:
		}
		var corrupt *CorruptStateError
		if errors.As(err, &corrupt) {
			s.log.Error().Int("discarded", corrupt.Discarded).Msg("gateway stream corrupt")
		}
		return err
	}

	if err := s.transmit(ctx); err != nil {
		return err
	}
	s.sweep(s.cfg.now())
	return nil
}

func (s *Stack) drainRequests() {
	for {
		select {
		case req := <-s.requests:
			s.handleRequest(req)
		default:
			return
		}
	}
}

func (s *Stack) handleRequest(req request) {
	if req.cmd == nil {
		req.reply <- s.cancel(req.cancel)
		return
	}
	s.track(req.cmd, req.done)
}

func (s *Stack) track(cmd *ramses.Command, done chan Outcome) {
	if _, dup := s.live[cmd.ID]; dup {
		s.log.Warn().Str("id", cmd.ID.String()).Msg("duplicate command id rejected")
		if done != nil {
			done <- Outcome{Kind: OutcomeCancelled, Err: ErrDuplicateCommand}
		}
		return
	}
	s.seq++
	s.live[cmd.ID] = newTracked(cmd, s.seq, done)
	s.queue.Push(cmd)
	s.log.Debug().
		Str("id", cmd.ID.String()).
		Str("code", cmd.Code.String()).
		Str("priority", cmd.Priority.String()).
		Msg("command queued")
}

func (s *Stack) cancel(id uuid.UUID) error {
	tr, ok := s.live[id]
	if !ok {
		return ErrUnknownCommand
	}
	s.queue.Remove(id)
	s.removeAwaiting(tr)
	s.finish(tr, eventCancel, Outcome{Kind: OutcomeCancelled, Err: ErrCancelled})
	return nil
}

func (s *Stack) handleLine(line []byte) {
	if ramses.IsComment(line) {
		s.log.Debug().Bytes("line", line).Msg("gateway comment")
		return
	}

	pkt, err := s.decoder.DecodeLine(line)
	if err != nil {
		s.log.Debug().Err(err).Bytes("line", line).Msg("dropped invalid line")
		if s.hooks.OnInvalidLine != nil {
			s.hooks.OnInvalidLine(line, err)
		}
		return
	}

	msg := s.builder.Build(pkt)
	s.match(msg)
	if s.hooks.OnMessage != nil {
		s.hooks.OnMessage(msg)
	}
}

// match resolves the oldest awaiting command whose expected code and
// destination fit the message. Requests never complete a command.
func (s *Stack) match(msg *ramses.Message) bool {
	if msg.IsRequest() {
		return false
	}
	for i, tr := range s.awaiting {
		code, ok := tr.cmd.Expects()
		if !ok || code != msg.Code() || tr.cmd.Dst != msg.Src() {
			continue
		}
		s.awaiting = append(s.awaiting[:i], s.awaiting[i+1:]...)
		s.finish(tr, eventResolve, Outcome{Kind: OutcomeResolved, Message: msg})
		return true
	}
	return false
}

func (s *Stack) transmit(ctx context.Context) error {
	cmd := s.queue.PopReady()
	if cmd == nil && s.poller != nil && s.queue.Len() == 0 && s.gateOpen() {
		if poll := s.poller.Next(s.cfg.now(), s.transport.LastWrite()); poll != nil {
			s.track(poll, nil)
			cmd = s.queue.PopReady()
		}
	}
	if cmd == nil {
		return nil
	}

	tr, ok := s.live[cmd.ID]
	if !ok {
		return nil
	}

	frame, err := ramses.EncodeCommand(cmd)
	if err != nil {
		s.finish(tr, eventExpire, Outcome{Kind: OutcomeExpired, Err: tr.expiredError(err)})
		return nil
	}

	if err := s.transport.WriteFrame(ctx, frame); err != nil {
		if ctx.Err() != nil {
			s.queue.Push(cmd)
			return ctx.Err()
		}
		s.finish(tr, eventExpire, Outcome{Kind: OutcomeExpired, Err: tr.expiredError(err)})
		return err
	}

	now := s.cfg.now()
	tr.attempts++
	tr.sentAt = now
	s.fire(tr, eventSend)
	s.log.Debug().
		Str("id", cmd.ID.String()).
		Str("frame", cmd.String()).
		Int("attempt", tr.attempts).
		Msg("command sent")
	if s.hooks.OnSent != nil {
		s.hooks.OnSent(cmd, tr.attempts)
	}

	if _, expects := cmd.Expects(); !expects {
		s.finish(tr, eventResolve, Outcome{Kind: OutcomeResolved})
		return nil
	}
	s.fire(tr, eventAwait)
	tr.ackDeadline = now.Add(s.cfg.AckTimeout)
	s.insertAwaiting(tr)
	return nil
}

// sweep retries commands whose ack window passed and expires commands
// whose deadline passed, both awaiting and still queued.
func (s *Stack) sweep(now time.Time) {
	kept := s.awaiting[:0]
	for _, tr := range s.awaiting {
		switch {
		case now.Before(tr.ackDeadline):
			kept = append(kept, tr)
		case tr.cmd.Retries > 0:
			tr.cmd.Retries--
			tr.cmd.CreatedAt = now
			s.fire(tr, eventRetry)
			s.fire(tr, eventRequeue)
			s.queue.Push(tr.cmd)
			s.log.Debug().
				Str("id", tr.cmd.ID.String()).
				Int("retries_left", tr.cmd.Retries).
				Msg("no response, retrying")
		case !now.Before(tr.cmd.Deadline()):
			s.finish(tr, eventExpire, Outcome{Kind: OutcomeExpired, Err: tr.expiredError(nil)})
		default:
			kept = append(kept, tr)
		}
	}
	for i := len(kept); i < len(s.awaiting); i++ {
		s.awaiting[i] = nil
	}
	s.awaiting = kept

	for _, cmd := range s.queue.SweepExpired(now) {
		if tr, ok := s.live[cmd.ID]; ok {
			s.finish(tr, eventExpire, Outcome{Kind: OutcomeExpired, Err: tr.expiredError(nil)})
		}
	}
}

// gateOpen is false while any sent command is inside its ack window
func (s *Stack) gateOpen() bool {
	now := s.cfg.now()
	for _, tr := range s.awaiting {
		if now.Before(tr.ackDeadline) {
			return false
		}
	}
	return true
}

func (s *Stack) insertAwaiting(tr *tracked) {
	i := sort.Search(len(s.awaiting), func(i int) bool { return s.awaiting[i].seq > tr.seq })
	s.awaiting = append(s.awaiting, nil)
	copy(s.awaiting[i+1:], s.awaiting[i:])
	s.awaiting[i] = tr
}

func (s *Stack) removeAwaiting(tr *tracked) {
	for i, a := range s.awaiting {
		if a == tr {
			s.awaiting = append(s.awaiting[:i], s.awaiting[i+1:]...)
			return
		}
	}
}

func (s *Stack) finish(tr *tracked, event string, outcome Outcome) {
	s.fire(tr, event)
	delete(s.live, tr.cmd.ID)
	if tr.done != nil {
		tr.done <- outcome
	}

	ev := s.log.Debug()
	if outcome.Kind == OutcomeExpired {
		ev = s.log.Warn().Err(outcome.Err)
	}
	ev.Str("id", tr.cmd.ID.String()).
		Str("code", tr.cmd.Code.String()).
		Str("dst", tr.cmd.Dst.String()).
		Str("outcome", outcome.Kind.String()).
		Int("attempts", tr.attempts).
		Msg("command finished")

	if s.hooks.OnOutcome != nil {
		s.hooks.OnOutcome(tr.cmd, outcome)
	}
}

func (s *Stack) fire(tr *tracked, event string) {
	if err := tr.fire(event); err != nil {
		s.log.Warn().Err(err).
			Str("state", tr.State()).
			Str("event", event).
			Msg("invalid command transition")
	}
}

// shutdown reports every outstanding command as cancelled
func (s *Stack) shutdown() {
	s.closeOnce.Do(func() { close(s.closed) })

	// Submissions in flight finish before shut is set, so the drain below
	// sees every command that was accepted
	s.submitMu.Lock()
	s.shut = true
	s.submitMu.Unlock()

drain:
	for {
		select {
		case req := <-s.requests:
			if req.reply != nil {
				req.reply <- ErrStackClosed
				continue
			}
			outcome := Outcome{Kind: OutcomeCancelled, Err: ErrStackClosed}
			if req.done != nil {
				req.done <- outcome
			}
			if s.hooks.OnOutcome != nil {
				s.hooks.OnOutcome(req.cmd, outcome)
			}
		default:
			break drain
		}
	}

	pending := make([]*tracked, 0, len(s.live))
	for _, tr := range s.live {
		pending = append(pending, tr)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	for _, tr := range pending {
		s.finish(tr, eventCancel, Outcome{Kind: OutcomeCancelled, Err: ErrStackClosed})
	}
	s.awaiting = nil
	s.queue = NewCommandQueue(s.gateOpen)
}
