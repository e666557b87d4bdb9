// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/spf13/cobra"
)

var (
	sendPriority string
	sendTimeout  float64
	sendRetries  int

	faultLogCount int
)

var sendCmd = &cobra.Command{
	Use:   "send <verb> <dst> <code> [payload]",
	Short: "Send one command and print the reply",
	Long: `Send a single RAMSES-II command through the protocol stack.

The payload is hex. RQ and W commands wait for the reply with the same code
and are retried until it arrives or the timeout expires. I commands are sent
once and complete on transmission.

Examples:
  # Zone 0 temperature
  ramsestat send RQ 01:123456 30C9 00 --port /dev/ttyACM0

  # Controller date and time, at high priority
  ramsestat send RQ 01:123456 313F 00 --priority high

Exit codes:
  0 - Command delivered (and reply received, when one is expected)
  1 - Command expired without a reply
  2 - Connection or argument error`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runSend,
}

var setpointCmd = &cobra.Command{
	Use:   "set_setpoint <controller> <zone> <celsius>",
	Short: "Write a zone setpoint to a controller",
	Long: `Write a zone setpoint (W 2309) and wait for the controller to confirm it.

The zone index is hex as on the wire (00 to 0F).

Example:
  ramsestat set_setpoint 01:123456 00 21.5 --port /dev/ttyACM0`,
	Args: cobra.ExactArgs(3),
	RunE: runSetpoint,
}

var faultLogCmd = &cobra.Command{
	Use:   "fault_log <controller>",
	Short: "Read a controller's fault log",
	Long: `Request fault log entries (RQ 0418) from a controller, newest first, until
an empty slot or --count entries.`,
	Args: cobra.ExactArgs(1),
	RunE: runFaultLog,
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, setpointCmd, faultLogCmd} {
		rootCmd.AddCommand(c)
		c.Flags().StringVar(&sendPriority, "priority", "", "Queue priority (highest, high, normal, low, lowest)")
		c.Flags().Float64Var(&sendTimeout, "timeout", ramses.DefaultTimeout.Seconds(), "Seconds to wait for a reply after the last attempt")
		c.Flags().IntVar(&sendRetries, "retries", ramses.DefaultRetries, "Retransmissions when no reply arrives")
	}
	faultLogCmd.Flags().IntVar(&faultLogCount, "count", 8, "Maximum number of entries to read")
}

func runSend(cmd *cobra.Command, args []string) error {
	payload := ""
	if len(args) == 4 {
		payload = args[3]
	}
	c, err := ramses.ParseCommand(args[0], args[1], args[2], payload)
	if err != nil {
		exitWith(2, "Invalid command: %v\n", err)
	}
	if err := applySendFlags(cmd, c); err != nil {
		exitWith(2, "Invalid command: %v\n", err)
	}

	return withStack(cmd, func(ctx context.Context, stack *protocol.Stack) error {
		return sendAndPrint(ctx, stack, c)
	})
}

func runSetpoint(cmd *cobra.Command, args []string) error {
	ctl, err := ramses.DecodeAddress(args[0])
	if err != nil {
		exitWith(2, "Invalid controller: %v\n", err)
	}
	c, err := parseSetpointInput(ctl, args[1]+" "+args[2])
	if err != nil {
		exitWith(2, "%v\n", err)
	}
	if err := applySendFlags(cmd, c); err != nil {
		exitWith(2, "Invalid command: %v\n", err)
	}

	return withStack(cmd, func(ctx context.Context, stack *protocol.Stack) error {
		return sendAndPrint(ctx, stack, c)
	})
}

func runFaultLog(cmd *cobra.Command, args []string) error {
	ctl, err := ramses.DecodeAddress(args[0])
	if err != nil {
		exitWith(2, "Invalid controller: %v\n", err)
	}
	if faultLogCount < 1 || faultLogCount > 0x3F {
		exitWith(2, "--count must be between 1 and 63\n")
	}

	return withStack(cmd, func(ctx context.Context, stack *protocol.Stack) error {
		for slot := 0; slot < faultLogCount; slot++ {
			c := ramses.NewFaultLogRequest(ctl, uint8(slot))
			if err := applySendFlags(cmd, c); err != nil {
				return err
			}
			reply, err := stack.Send(ctx, c)
			if err != nil {
				return err
			}
			entry, err := ramses.FaultLogFromMessage(reply)
			if err != nil {
				return err
			}
			if entry.Empty {
				if slot == 0 {
					fmt.Printf("Fault log is empty\n")
				}
				return nil
			}
			fmt.Printf("%02d %s\n", slot, entry)
		}
		return nil
	})
}

// applySendFlags copies the delivery flags that were set onto c
func applySendFlags(cmd *cobra.Command, c *ramses.Command) error {
	flags := cmd.Flags()
	if flags.Changed("priority") {
		p, err := ramses.ParsePriority(sendPriority)
		if err != nil {
			return err
		}
		c.Priority = p
	}
	if flags.Changed("timeout") {
		if sendTimeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", strconv.FormatFloat(sendTimeout, 'f', -1, 64))
		}
		c.Timeout = time.Duration(sendTimeout * float64(time.Second))
	}
	if flags.Changed("retries") {
		if sendRetries < 0 {
			return fmt.Errorf("retries must not be negative, got %d", sendRetries)
		}
		c.Retries = sendRetries
	}
	return nil
}

// withStack runs fn against a running stack and maps the result to the
// command exit codes
func withStack(cmd *cobra.Command, fn func(ctx context.Context, stack *protocol.Stack) error) error {
	sess, err := loadSession(cmd)
	if err != nil {
		exitWith(2, "Configuration error: %v\n", err)
	}

	conn, _, err := OpenConnection(sess.cfg)
	if err != nil {
		exitWith(2, "Connection error: %v\n", err)
	}
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()

	stack, err := sess.newStack(conn, protocol.Hooks{})
	if err != nil {
		exitWith(2, "Configuration error: %v\n", err)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- runStack(ctx, stack)
	}()

	err = fn(ctx, stack)
	stack.Close()
	if linkErr := <-runErr; linkErr != nil {
		exitWith(2, "Read error: %v\n", linkErr)
	}

	var expired *protocol.ExpiredCallbackError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &expired), errors.Is(err, context.Canceled):
		exitWith(1, "FAILED: %v\n", err)
	default:
		exitWith(2, "FAILED: %v\n", err)
	}
	return nil
}

// sendAndPrint sends c and prints the reply, if one is expected
func sendAndPrint(ctx context.Context, stack *protocol.Stack, c *ramses.Command) error {
	fmt.Printf("Sending %s\n", c)
	reply, err := stack.Send(ctx, c)
	if err != nil {
		return err
	}
	if reply == nil {
		fmt.Printf("Sent\n")
		return nil
	}
	fmt.Print(ramses.FormatMessage(reply))
	return nil
}
