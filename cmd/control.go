// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for commanding RAMSES-II devices",
	Long: `Monitor and command a RAMSES-II network via an interactive terminal UI.

Features:
  - Device census built from traffic
  - Zone temperatures, setpoints and boiler modulation
  - Zone setpoint writes (W 2309) to controllers
  - Raw commands to the selected device ("RQ 30C9 00")
  - Statistics tracking
  - Event logging
  - Automatic reconnection on connection loss

Commands go through the protocol stack, so they are retried until the
expected reply arrives or the retry budget runs out. The TUI listens for a
few seconds before enabling control. Tab switches between the device list,
the setpoint input and the command input.

For WebSocket connections set RAMSESTAT_PASSWORD, since reconnecting cannot
prompt for a password while the TUI owns the terminal.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// connectionManager owns the connection and the stack running over it, and
// rebuilds both when the link drops
type connectionManager struct {
	sess     *session
	conn     Connection
	connInfo string
	stack    *protocol.Stack
	mu       sync.RWMutex
	p        *tea.Program
	ctx      context.Context

	// Metrics wrapper shared by every stack the manager builds
	instrument func(protocol.Hooks) protocol.Hooks
}

func (cm *connectionManager) getStack() *protocol.Stack {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stack
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

// send delivers a command through the current stack, waiting for its outcome
func (cm *connectionManager) send(cmd *ramses.Command) tea.Cmd {
	return func() tea.Msg {
		stack := cm.getStack()
		if stack == nil {
			return commandResultMsg{cmd: cmd, err: protocol.ErrStackClosed}
		}
		ctx, cancel := context.WithTimeout(cm.ctx, cmd.Timeout*time.Duration(cmd.Retries+2))
		defer cancel()
		msg, err := stack.Send(ctx, cmd)
		return commandResultMsg{cmd: cmd, reply: msg, err: err}
	}
}

// submit queues a command without waiting. Replies arrive as messages.
func (cm *connectionManager) submit(cmd *ramses.Command) error {
	stack := cm.getStack()
	if stack == nil {
		return protocol.ErrStackClosed
	}
	_, err := stack.Submit(cmd)
	return err
}

func runControl(cmd *cobra.Command, args []string) error {
	sess, err := loadSession(cmd)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(sess.cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	cm := &connectionManager{
		sess:       sess,
		conn:       conn,
		connInfo:   connInfo,
		ctx:        ctx,
		instrument: sess.instrumenter(ctx),
	}

	m := initialControlModel(cm, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	cm.p = p

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		cm.runLoop()
	}()

	_, err = p.Run()
	cancel()
	<-loopDone

	cm.mu.RLock()
	if cm.conn != nil {
		cm.conn.Close()
	}
	cm.mu.RUnlock()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runLoop runs a stack over the current connection and reconnects when
// the link drops, until the context ends
func (cm *connectionManager) runLoop() {
	for {
		cm.mu.RLock()
		conn := cm.conn
		cm.mu.RUnlock()

		err := cm.runConnection(conn)
		if cm.ctx.Err() != nil {
			return
		}

		if isReplay() {
			cm.p.Send(streamEndMsg{err: err})
			return
		}

		cm.p.Send(connectionLostMsg{err: err})
		if !cm.reconnect() {
			return // Shutdown requested during reconnect
		}
	}
}

// runConnection runs one stack over conn until it stops. Line outcomes are
// batched and handed to the TUI at a fixed rate so a busy network cannot
// flood the event loop.
func (cm *connectionManager) runConnection(conn Connection) error {
	batchChan := make(chan lineEvent, 100)
	syncChan := make(chan syncMsg, 1)
	stackDone := make(chan struct{})

	// Lines that fail before the first valid message are the tail of a
	// frame cut by connecting mid-stream
	synchronized := false
	skipped := 0
	hooks := eventHooks(func(ev lineEvent) {
		if !synchronized {
			if ev.decodeErr != nil {
				skipped++
				return
			}
			synchronized = true
			select {
			case syncChan <- syncMsg{invalidLines: skipped}:
			default:
			}
		}
		select {
		case batchChan <- ev:
		default:
		}
	})
	hooks.OnOutcome = func(cmd *ramses.Command, outcome protocol.Outcome) {
		if outcome.Kind == protocol.OutcomeExpired {
			cm.p.Send(commandResultMsg{cmd: cmd, err: outcome.Err, background: true})
		}
	}

	stack, err := cm.sess.newStack(conn, cm.instrument(hooks))
	if err != nil {
		return err
	}
	cm.mu.Lock()
	cm.stack = stack
	cm.mu.Unlock()

	// Batch sender goroutine - sends batched updates to TUI at fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-stackDone:
				return
			case <-ticker.C:
				var batch controlBatchMsg

				select {
				case s := <-syncChan:
					batch.syncMsg = &s
				default:
				}

			drainLoop:
				for {
					select {
					case ev := <-batchChan:
						batch.events = append(batch.events, ev)
					default:
						break drainLoop
					}
				}

				if batch.syncMsg != nil || len(batch.events) > 0 {
					cm.p.Send(batch)
				}
			}
		}
	}()

	err = runStack(cm.ctx, stack)
	close(stackDone)

	cm.mu.Lock()
	cm.stack = nil
	cm.mu.Unlock()
	stack.Close()
	return err
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect() bool {
	cm.mu.Lock()
	if cm.conn != nil {
		cm.conn.Close()
		cm.conn = nil
	}
	cm.mu.Unlock()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.ctx.Done():
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection(cm.sess.cfg)
		if err == nil {
			cm.setConn(conn, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}
		cm.sess.log.Debug().Err(err).Dur("backoff", backoff).Msg("reconnect failed")

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
