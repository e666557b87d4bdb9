// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping <controller>",
	Short: "Test the round trip to a controller with system sync requests",
	Long: `Send RQ 1F09 (system sync) to a controller and wait for the RP.

Every controller answers system sync requests, which makes them a cheap way
to check that frames leave the gateway and replies come back. Each ping goes
through the protocol stack, so a lost reply is retried before it counts as
lost.

The reply carries the time until the controller's next sync cycle.

Example:
  ramsestat ping 01:123456 --port /dev/ttyACM0 --count 5

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Seconds to wait for each reply after the last attempt")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctl, err := ramses.DecodeAddress(args[0])
	if err != nil {
		return err
	}
	if !ctl.IsConcrete() {
		return fmt.Errorf("%s: %w", ctl, ramses.ErrNotConcrete)
	}

	sess, err := loadSession(cmd)
	if err != nil {
		exitWith(2, "Configuration error: %v\n", err)
	}

	conn, connInfo, err := OpenConnection(sess.cfg)
	if err != nil {
		exitWith(2, "Connection error: %v\n", err)
	}
	defer conn.Close()

	fmt.Printf("Ramsestat - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Target: %s (%s)\n", ctl, ctl.Label())
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ctx, cancel := signalContext()
	defer cancel()

	// Written by the stack worker
	var attempts atomic.Int64
	stack, err := sess.newStack(conn, sess.instrument(ctx, protocol.Hooks{
		OnSent: func(_ *ramses.Command, attempt int) {
			attempts.Store(int64(attempt))
		},
	}))
	if err != nil {
		exitWith(2, "Configuration error: %v\n", err)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- runStack(ctx, stack)
	}()

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		req := ramses.NewSyncRequest(ctl)
		req.Timeout = time.Duration(pingTimeout) * time.Second

		pingCtx, pingCancel := context.WithTimeout(ctx, req.Timeout*time.Duration(req.Retries+1)+time.Second)
		startTime := time.Now()
		msg, err := stack.Send(pingCtx, req)
		pingCancel()

		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
			continue
		}

		rtt := time.Since(startTime)
		detail := ""
		if v, ok := msg.FieldUint("sync_value"); ok {
			// Tenths of a second until the next sync cycle
			detail = fmt.Sprintf(", next sync in %.1fs", float64(v)/10)
		}
		fmt.Printf("RP from %s, rtt=%v, attempts=%d%s\n", msg.Src(), rtt.Round(time.Millisecond), attempts.Load(), detail)
		successCount++

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	stack.Close()
	if err := <-runErr; err != nil {
		exitWith(2, "Read error: %v\n", err)
	}

	sent := successCount + failCount
	fmt.Printf("\n--- Ping statistics ---\n")
	if sent > 0 {
		fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
			sent, successCount, float64(failCount)/float64(sent)*100)
	}

	if failCount > 0 || sent == 0 {
		os.Exit(1)
	}
	return nil
}
