// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/ramsestat/internal/config"
	"github.com/Thermoquad/ramsestat/internal/logging"
	"github.com/Thermoquad/ramsestat/internal/metrics"
	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/Thermoquad/ramsestat/pkg/schema"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const appName = "ramsestat"

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Offline input
	replayPath string

	configPath  string
	logLevel    string
	schemaPath  string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "RAMSES-II Gateway Protocol Analyzer",
	Long: `Ramsestat - A CLI tool for monitoring, analyzing and commanding RAMSES-II
heating networks through an evofw3 or HGI80 gateway.

Decodes the gateway's text frames into messages, validates them against the
code catalog, and sends commands with retries through the protocol stack.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Replay:    --replay packet.log

For WebSocket authentication, the password is read from the RAMSESTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings can also come from a YAML file (--config). Flags override the file.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Serial connection flags
	flags.StringVarP(&portName, "port", "p", "", "Serial port device")
	flags.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	flags.StringVar(&replayPath, "replay", "", "Read frames from a packet log instead of a gateway")
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, off)")
	flags.StringVar(&schemaPath, "schema", "", "Code catalog file (YAML)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// session is what every subcommand needs before it touches the gateway
type session struct {
	cfg    *config.Config
	log    zerolog.Logger
	schema ramses.Schema
}

// loadSession reads the config file, applies flag overrides and builds the
// logger and code catalog.
func loadSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(appName, logging.Options{
		Level:   cfg.Log.Level,
		JSON:    cfg.Log.JSON,
		NoColor: cfg.Log.NoColor,
	})

	var catalog ramses.Schema = ramses.DefaultCatalog()
	if cfg.Schema != "" {
		loaded, err := schema.Load(cfg.Schema)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.Schema).Int("codes", len(loaded)).Msg("code catalog loaded")
		catalog = loaded
	}

	return &session{cfg: cfg, log: logger, schema: catalog}, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = baudRate
	}
	if flags.Changed("url") {
		cfg.WebSocket.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.WebSocket.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.WebSocket.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("schema") {
		cfg.Schema = schemaPath
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
}

// newStack wires a stack, and the configured poller, over conn
func (s *session) newStack(conn Connection, hooks protocol.Hooks) (*protocol.Stack, error) {
	pc := s.cfg.ProtocolConfig(s.log)
	stack := protocol.NewStack(protocol.NewTransport(conn, pc), s.schema, pc, hooks)

	poller, err := s.cfg.NewPoller()
	if err != nil {
		return nil, err
	}
	if poller != nil {
		s.log.Info().Dur("interval", poller.Interval()).Msg("background polling enabled")
		stack.SetPoller(poller)
	}
	return stack, nil
}

// instrument starts the metrics endpoint when one is configured and wraps
// hooks so the stack feeds it. The endpoint stops with ctx.
func (s *session) instrument(ctx context.Context, hooks protocol.Hooks) protocol.Hooks {
	return s.instrumenter(ctx)(hooks)
}

// instrumenter starts the metrics endpoint once and returns the wrapper for
// every stack built afterwards, for commands that rebuild their stack
func (s *session) instrumenter(ctx context.Context) func(protocol.Hooks) protocol.Hooks {
	if s.cfg.Metrics.Addr == "" {
		return func(hooks protocol.Hooks) protocol.Hooks { return hooks }
	}
	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, s.cfg.Metrics.Addr, s.log); err != nil {
			s.log.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
	return m.Hooks
}

// runStack runs stack until ctx ends, the input is exhausted or the link
// fails. Only a failed link is reported as an error.
func runStack(ctx context.Context, stack *protocol.Stack) error {
	err := stack.Run(ctx)
	switch {
	case err == nil,
		errors.Is(err, io.EOF),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, protocol.ErrStackClosed):
		return nil
	}
	return err
}

// signalContext ends on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitWith prints to stderr and exits with code, for commands whose exit
// status is part of their interface.
func exitWith(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}
