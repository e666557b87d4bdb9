// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// busyPoll is how often a write blocked by SetBusy rechecks the flag
const busyPoll = 10 * time.Millisecond

type lineResult struct {
	line []byte
	err  error
}

// Transport frames a gateway byte stream into lines and paces writes.
// A single goroutine owns the reader; ReadLine and WriteFrame may be called
// from different goroutines.
type Transport struct {
	rw  io.ReadWriter
	cfg Config

	lines     chan lineResult
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	termErr   error // written by the reader before lines is closed

	writeMu      sync.Mutex
	closed       *atomic.Bool
	busy         *atomic.Bool
	lastActivity *atomic.Time
	lastWrite    *atomic.Time
	discarded    *atomic.Int64
}

// NewTransport wraps a gateway connection
func NewTransport(rw io.ReadWriter, cfg Config) *Transport {
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = DefaultConfig().MaxLineLength
	}
	return &Transport{
		rw:           rw,
		cfg:          cfg,
		lines:        make(chan lineResult, 64),
		done:         make(chan struct{}),
		closed:       atomic.NewBool(false),
		busy:         atomic.NewBool(false),
		lastActivity: atomic.NewTime(time.Time{}),
		lastWrite:    atomic.NewTime(time.Time{}),
		discarded:    atomic.NewInt64(0),
	}
}

// ReadLine returns the next complete line without its terminator. It
// returns ctx.Err() when the context ends first; a line that arrives later
// is kept for the next call.
func (t *Transport) ReadLine(ctx context.Context) ([]byte, error) {
	t.startOnce.Do(func() { go t.readLoop() })

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-t.lines:
		if !ok {
			if t.termErr == nil {
				return nil, ErrTransportClosed
			}
			return nil, t.termErr
		}
		return r.line, r.err
	}
}

// WriteFrame writes one encoded frame once the link has been quiet for
// TxGap and no one holds it busy.
func (t *Transport) WriteFrame(ctx context.Context, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for {
		if t.closed.Load() {
			return ErrTransportClosed
		}
		wait := t.idleWait()
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-t.done:
			timer.Stop()
			return ErrTransportClosed
		case <-timer.C:
		}
	}

	if _, err := t.rw.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	now := t.cfg.now()
	t.lastWrite.Store(now)
	t.lastActivity.Store(now)
	return nil
}

func (t *Transport) idleWait() time.Duration {
	if t.busy.Load() {
		return busyPoll
	}
	if t.cfg.TxGap <= 0 {
		return 0
	}
	last := t.lastActivity.Load()
	if last.IsZero() {
		return 0
	}
	since := t.cfg.now().Sub(last)
	if since >= t.cfg.TxGap {
		return 0
	}
	return t.cfg.TxGap - since
}

// SetBusy holds back writes while another party owns the link
func (t *Transport) SetBusy(busy bool) {
	t.busy.Store(busy)
}

// LastActivity returns the time of the last byte read or frame written
func (t *Transport) LastActivity() time.Time {
	return t.lastActivity.Load()
}

// LastWrite returns the time of the last frame written
func (t *Transport) LastWrite() time.Time {
	return t.lastWrite.Load()
}

// Discarded returns the number of bytes dropped as noise
func (t *Transport) Discarded() int64 {
	return t.discarded.Load()
}

// Close stops the reader and closes the connection if it is closable
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		if c, ok := t.rw.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (t *Transport) deliver(r lineResult) bool {
	select {
	case t.lines <- r:
		return true
	case <-t.done:
		return false
	}
}

// readLoop splits the stream at '\n'. Lines longer than MaxLineLength are
// dropped; once CorruptBudget bytes pass without a usable line the stream
// is reported corrupt and the loop ends.
func (t *Transport) readLoop() {
	defer close(t.lines)

	buf := make([]byte, 256)
	cur := make([]byte, 0, t.cfg.MaxLineLength)
	overflow := false
	garbage := 0

	for {
		n, err := t.rw.Read(buf)
		if n > 0 {
			t.lastActivity.Store(t.cfg.now())
		}

		for _, b := range buf[:n] {
			if b == '\n' {
				if overflow {
					overflow = false
					continue
				}
				line := trimLineEnd(cur)
				cur = cur[:0]
				if len(line) == 0 {
					continue
				}
				garbage = 0
				if !t.deliver(lineResult{line: line}) {
					return
				}
				continue
			}

			if overflow {
				garbage++
				t.discarded.Inc()
			} else {
				cur = append(cur, b)
				if len(cur) > t.cfg.MaxLineLength {
					garbage += len(cur)
					t.discarded.Add(int64(len(cur)))
					cur = cur[:0]
					overflow = true
				}
			}

			if t.cfg.CorruptBudget > 0 && garbage >= t.cfg.CorruptBudget {
				t.termErr = &CorruptStateError{Discarded: garbage, Reason: "no line boundary"}
				return
			}
		}

		if err != nil {
			if !overflow {
				if line := trimLineEnd(cur); len(line) > 0 {
					if !t.deliver(lineResult{line: line}) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				t.termErr = io.EOF
			} else {
				t.termErr = fmt.Errorf("read: %w", err)
			}
			return
		}
	}
}

func trimLineEnd(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\r' || b[len(b)-1] == 0) {
		b = b[:len(b)-1]
	}
	return append([]byte(nil), b...)
}
