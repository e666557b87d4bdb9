// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid RAMSES-II message",
	Long: `Wait for a valid RAMSES-II frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any line
that parses as a complete frame. Gateway comments and lines that fail to parse
are counted and skipped.

Exit codes:
  0 - Message received before timeout
  1 - Timeout reached without receiving a valid message
  2 - Connection error

Useful for testing connectivity to an evofw3 stick or a WebSocket bridge.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a message")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	sess, err := loadSession(cmd)
	if err != nil {
		exitWith(2, "Configuration error: %v\n", err)
	}

	conn, connInfo, err := OpenConnection(sess.cfg)
	if err != nil {
		exitWith(2, "Connection error: %v\n", err)
	}
	defer conn.Close()

	fmt.Printf("Ramsestat - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid RAMSES-II message...\n\n")

	msgChan := make(chan *ramses.Message, 1)
	invalidLines := 0

	hooks := protocol.Hooks{
		OnMessage: func(msg *ramses.Message) {
			select {
			case msgChan <- msg:
			default:
			}
		},
		OnInvalidLine: func([]byte, error) {
			invalidLines++
		},
	}

	stack, err := sess.newStack(conn, hooks)
	if err != nil {
		exitWith(2, "Configuration error: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(packetTestTimeout)*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- stack.Run(ctx)
	}()

	select {
	case msg := <-msgChan:
		stack.Close()
		reportFirstMessage(msg, invalidLines)

	case err := <-errChan:
		// A replay can end right after its only frame
		select {
		case msg := <-msgChan:
			reportFirstMessage(msg, invalidLines)
		default:
		}
		if ctx.Err() != nil || err == nil {
			exitWith(1, "TIMEOUT: No valid message received within %d seconds\n", packetTestTimeout)
		}
		if errors.Is(err, io.EOF) {
			exitWith(1, "END OF INPUT: No valid message in the stream\n")
		}
		exitWith(2, "Read error: %v\n", err)
	}

	return nil
}

func reportFirstMessage(msg *ramses.Message, invalidLines int) {
	if invalidLines > 0 {
		fmt.Printf("(skipped %d invalid lines before the first message)\n", invalidLines)
	}
	fmt.Printf("SUCCESS: Received valid message\n")
	fmt.Printf("  Verb: %s\n", msg.Verb().Token())
	fmt.Printf("  Code: %s\n", ramses.FormatCode(msg.Code()))
	fmt.Printf("  From: %s\n", msg.Src().Label())
	fmt.Printf("  To:   %s\n", msg.Dst().Label())
	fmt.Printf("  Length: %d bytes\n", len(msg.Payload()))
	exitWith(0, "")
}
