// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"
)

var rawLogFormat string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display decoded messages as they arrive",
	Long: `Continuously decode and display RAMSES-II messages as they arrive.

Each line from the gateway is parsed, checked and decoded against the code
catalog. Valid messages are printed with their decoded fields; lines that fail
to parse are reported inline with the reason.

Formats:
  text  Human-readable, one block per message (default)
  cbor  A stream of CBOR message records on stdout, for archiving or piping

Supports serial, WebSocket and replay input.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogFormat, "format", "text", "Output format (text, cbor)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	if rawLogFormat != "text" && rawLogFormat != "cbor" {
		return fmt.Errorf("unknown format %q (use text or cbor)", rawLogFormat)
	}

	sess, err := loadSession(cmd)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(sess.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var hooks protocol.Hooks
	if rawLogFormat == "cbor" {
		hooks = cborLogHooks(ramses.NewRecordEncoder(os.Stdout), sess)
	} else {
		fmt.Printf("Ramsestat - Raw Message Log\n")
		fmt.Printf("Connection: %s\n", connInfo)
		fmt.Printf("Press Ctrl+C to exit\n\n")
		hooks = textLogHooks(os.Stdout)
	}

	stack, err := sess.newStack(conn, sess.instrument(ctx, hooks))
	if err != nil {
		return err
	}
	return runStack(ctx, stack)
}

// textLogHooks prints every message and every rejected line
func textLogHooks(w io.Writer) protocol.Hooks {
	return protocol.Hooks{
		OnMessage: func(msg *ramses.Message) {
			fmt.Fprint(w, ramses.FormatMessage(msg))
		},
		OnInvalidLine: func(line []byte, err error) {
			fmt.Fprintf(w, "[ERROR] %v\n", err)
		},
	}
}

// cborLogHooks streams message records. Rejected lines only go to the log.
func cborLogHooks(enc *cbor.Encoder, sess *session) protocol.Hooks {
	return protocol.Hooks{
		OnMessage: func(msg *ramses.Message) {
			if err := enc.Encode(ramses.NewMessageRecord(msg)); err != nil {
				sess.log.Error().Err(err).Msg("cannot encode record")
			}
		},
		OnInvalidLine: func(line []byte, err error) {
			sess.log.Warn().Err(err).Msg("invalid line")
		},
	}
}
