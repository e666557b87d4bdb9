// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the protocol stack as a service",
	Long: `Run the protocol stack until interrupted, logging every message.

This is the long-running mode: the stack reads the gateway, the poller (when
configured) keeps zone and device state fresh, and the metrics endpoint (when
configured) exposes counters for Prometheus. Messages are logged as structured
events; use --log-level debug to also see retries and rejected lines.

Example config file:

  serial:
    port: /dev/ttyACM0
  poller:
    interval: 5m
    targets: ["01:123456"]
    codes: ["30C9", "1F09"]
  metrics:
    addr: ":9105"
  log:
    json: true`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService(cmd *cobra.Command, args []string) error {
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

	log := sess.log.With().Str("conn", connInfo).Logger()
	hooks := serviceHooks(log)
	stack, err := sess.newStack(conn, sess.instrument(ctx, hooks))
	if err != nil {
		return err
	}
	return runStack(ctx, stack)
}

// serviceHooks logs what the stack sees. Messages log at info, retries and
// rejected lines at debug, failed commands at warn.
func serviceHooks(log zerolog.Logger) protocol.Hooks {
	return protocol.Hooks{
		OnMessage: func(msg *ramses.Message) {
			ev := log.Info().
				Str("verb", msg.Verb().Token()).
				Str("src", msg.Src().String()).
				Str("dst", msg.Dst().String()).
				Stringer("code", msg.Code())
			if msg.Known() {
				ev = ev.Str("name", msg.Name()).Fields(msg.Fields())
			} else {
				ev = ev.Hex("payload", msg.Payload())
			}
			ev.Msg("message")

			for _, v := range ramses.ValidateMessage(msg) {
				log.Warn().Str("anomaly", v.Type.String()).Str("src", msg.Src().String()).Msg(v.Message)
			}
		},
		OnInvalidLine: func(line []byte, err error) {
			log.Debug().Err(err).Bytes("line", line).Msg("line rejected")
		},
		OnSent: func(cmd *ramses.Command, attempt int) {
			log.Debug().Stringer("id", cmd.ID).Int("attempt", attempt).Msg("command sent")
		},
		OnOutcome: func(cmd *ramses.Command, outcome protocol.Outcome) {
			switch outcome.Kind {
			case protocol.OutcomeResolved:
				log.Debug().Stringer("id", cmd.ID).Msg("command resolved")
			default:
				log.Warn().Stringer("id", cmd.ID).Stringer("outcome", outcome.Kind).
					Err(outcome.Err).Msg("command failed")
			}
		},
	}
}
