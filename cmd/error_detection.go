// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed lines and anomalous messages",
	Long: `Track line errors, malformed frames, and anomalous values with statistics.

This command validates each line and message and detects:
  - Malformed lines (unknown verbs, bad addresses, length mismatches)
  - Messages with no catalog template or a truncated payload
  - Anomalous values (implausible temperatures, zone indexes out of range)
  - Statistics and trends (message rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid messages too.

Lines are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all messages (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// lineEvent is the outcome of one gateway line, handed from the stack
// goroutine to whoever renders it
type lineEvent struct {
	msg              *ramses.Message
	decodeErr        error
	validationErrors []ramses.ValidationError
}

// eventHooks forwards every line outcome to send
func eventHooks(send func(lineEvent)) protocol.Hooks {
	return protocol.Hooks{
		OnMessage: func(msg *ramses.Message) {
			send(lineEvent{msg: msg, validationErrors: ramses.ValidateMessage(msg)})
		},
		OnInvalidLine: func(line []byte, err error) {
			send(lineEvent{decodeErr: err})
		},
	}
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	sess, err := loadSession(cmd)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(sess.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(sess, conn, connInfo)
	}
	return runTextMode(sess, conn, connInfo)
}

// printDecodeError prints a rejected line in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	var perr *ramses.InvalidPacketError
	if errors.As(err, &perr) && perr.Line != "" {
		fmt.Printf("  Line: %q\n", perr.Line)
	}
	fmt.Printf("  >>> LINE REJECTED <<<\n\n")
}

// printFaultLog prints a fault log entry, which is always of interest
func printFaultLog(msg *ramses.Message) {
	timestamp := msg.Timestamp().Format("15:04:05.000")
	entry, err := ramses.FaultLogFromMessage(msg)
	if err != nil {
		fmt.Printf("[%s] \033[1;32mFAULT_LOG:\033[0m %v\n\n", timestamp, err)
		return
	}
	fmt.Printf("[%s] \033[1;32mFAULT_LOG:\033[0m %s\n\n", timestamp, entry)
}

// printValidationErrors prints validation errors for a message
func printValidationErrors(msg *ramses.Message, errs []ramses.ValidationError) {
	timestamp := msg.Timestamp().Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s %s %s -> %s\n",
		timestamp, msg.Verb().Token(), ramses.FormatCode(msg.Code()), msg.Src().Label(), msg.Dst().Label())
	fmt.Printf("  Frame: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		switch err.Type {
		case ramses.AnomalyUnknownCode:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
			fmt.Printf("    Payload: %X\n", msg.Payload())

		case ramses.AnomalyShortPayload:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if length, ok := err.Details["length"].(int); ok {
				fmt.Printf("    Length: received=%d\n", length)
			}

		case ramses.AnomalyInvalidTemp:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if temp, ok := err.Details["value"].(float64); ok {
				fmt.Printf("    Temperature=%.2f°C (valid: -50 to 100°C)\n", temp)
			}

		case ramses.AnomalyInvalidZone:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if idx, ok := err.Details["zone_idx"].(uint64); ok {
				fmt.Printf("    zone_idx=%02X (max 0F)\n", idx)
			}

		case ramses.AnomalyAddressRole:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if hint := msg.Hint().String(); hint != "" {
		fmt.Printf("  Context: %s\n", hint)
	}

	fmt.Printf("  >>> MESSAGE FLAGGED <<<\n\n")
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(sess *session, conn Connection, connInfo string) error {
	ctx, cancel := signalContext()
	defer cancel()

	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Lines that fail before the first valid message are the tail of a
	// frame cut by connecting mid-stream, not errors
	synchronized := false
	skipped := 0
	hooks := eventHooks(func(ev lineEvent) {
		if !synchronized {
			if ev.decodeErr != nil {
				skipped++
				return
			}
			synchronized = true
			p.Send(syncMsg{invalidLines: skipped})
		}
		p.Send(lineDataMsg(ev))
	})

	stack, err := sess.newStack(conn, sess.instrument(ctx, hooks))
	if err != nil {
		return err
	}

	go func() {
		err := runStack(ctx, stack)
		p.Send(streamEndMsg{err: err})
	}()

	_, err = p.Run()
	stack.Close()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(sess *session, conn Connection, connInfo string) error {
	fmt.Printf("Ramsestat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All messages\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, cancel := signalContext()
	defer cancel()

	events := make(chan lineEvent, 256)
	stack, err := sess.newStack(conn, sess.instrument(ctx, eventHooks(func(ev lineEvent) {
		events <- ev
	})))
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- runStack(ctx, stack)
	}()

	stats := ramses.NewStatistics()
	synchronized := false
	invalidLinesBeforeSync := 0

	handle := func(ev lineEvent) {
		if ev.decodeErr != nil {
			if synchronized {
				stats.Update(nil, ev.decodeErr, nil)
				printDecodeError(ev.decodeErr)
			} else {
				invalidLinesBeforeSync++
			}
			return
		}

		if !synchronized {
			synchronized = true
			if invalidLinesBeforeSync > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d invalid lines\n\n", invalidLinesBeforeSync)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
		}

		stats.Update(ev.msg, nil, ev.validationErrors)

		switch {
		case len(ev.validationErrors) > 0:
			printValidationErrors(ev.msg, ev.validationErrors)
		case ev.msg.Code() == ramses.CodeFaultLog && ev.msg.IsResponse():
			printFaultLog(ev.msg)
		case showAll:
			fmt.Print(ramses.FormatMessage(ev.msg))
		}
	}

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case ev := <-events:
			handle(ev)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case err := <-runErr:
			// The stack has stopped, so what is buffered is all there is
			for len(events) > 0 {
				handle(<-events)
			}
			fmt.Println()
			fmt.Print(stats.String())
			return err
		}
	}
}
