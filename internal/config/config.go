// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the ramsestat YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type SerialConfig struct {
	Port string `yaml:"port"` // "/dev/ttyUSB0", "COM5"
	Baud int    `yaml:"baud"`
}

type WebSocketConfig struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// StackConfig tunes the protocol stack. Durations are Go strings ("50ms").
type StackConfig struct {
	ReadBudget    time.Duration `yaml:"read_budget"`
	AckTimeout    time.Duration `yaml:"ack_timeout"`
	TxGap         time.Duration `yaml:"tx_gap"`
	MaxLineLength int           `yaml:"max_line_length"`
	CorruptBudget int           `yaml:"corrupt_budget"`
	SubmitBuffer  int           `yaml:"submit_buffer"`
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables polling
	Targets  []string      `yaml:"targets"`  // "01:123456"
	Codes    []string      `yaml:"codes"`    // "1F09"
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // ":9105", empty disables the endpoint
}

type LogConfig struct {
	Level   string `yaml:"level"`
	JSON    bool   `yaml:"json"`
	NoColor bool   `yaml:"no_color"`
}

type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Stack     StackConfig     `yaml:"protocol"`
	Poller    PollerConfig    `yaml:"poller"`
	Schema    string          `yaml:"schema"` // catalog file, empty uses the built-in catalog
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// Defaults returns the configuration used when no file is given
func Defaults() *Config {
	pc := protocol.DefaultConfig()
	return &Config{
		Serial: SerialConfig{Baud: 115200},
		Stack: StackConfig{
			ReadBudget:    pc.ReadBudget,
			AckTimeout:    pc.AckTimeout,
			TxGap:         pc.TxGap,
			MaxLineLength: pc.MaxLineLength,
			CorruptBudget: pc.CorruptBudget,
			SubmitBuffer:  pc.SubmitBuffer,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse yaml %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if err := c.ProtocolConfig(zerolog.Nop()).Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Poller.Interval < 0 {
		errs = append(errs, fmt.Errorf("poller.interval must not be negative, got %s", c.Poller.Interval))
	}
	if _, err := c.PollTargets(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.PollCodes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ProtocolConfig converts the protocol section into a stack configuration
func (c *Config) ProtocolConfig(logger zerolog.Logger) protocol.Config {
	pc := protocol.DefaultConfig()
	pc.ReadBudget = c.Stack.ReadBudget
	pc.AckTimeout = c.Stack.AckTimeout
	pc.TxGap = c.Stack.TxGap
	pc.MaxLineLength = c.Stack.MaxLineLength
	pc.CorruptBudget = c.Stack.CorruptBudget
	pc.SubmitBuffer = c.Stack.SubmitBuffer
	pc.Logger = logger
	return pc
}

// PollTargets decodes the poller target addresses
func (c *Config) PollTargets() ([]ramses.Address, error) {
	targets := make([]ramses.Address, 0, len(c.Poller.Targets))
	for _, raw := range c.Poller.Targets {
		addr, err := ramses.DecodeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("poller.targets: %w", err)
		}
		if !addr.IsConcrete() {
			return nil, fmt.Errorf("poller.targets %s: %w", raw, ramses.ErrNotConcrete)
		}
		targets = append(targets, addr)
	}
	return targets, nil
}

// PollCodes decodes the polled codes
func (c *Config) PollCodes() ([]ramses.Code, error) {
	codes := make([]ramses.Code, 0, len(c.Poller.Codes))
	for _, raw := range c.Poller.Codes {
		code, err := ramses.ParseCode(raw)
		if err != nil {
			return nil, fmt.Errorf("poller.codes: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// NewPoller builds the configured poller, or returns nil when polling is
// disabled.
func (c *Config) NewPoller() (*protocol.Poller, error) {
	if c.Poller.Interval == 0 || len(c.Poller.Targets) == 0 {
		return nil, nil
	}
	targets, err := c.PollTargets()
	if err != nil {
		return nil, err
	}
	codes, err := c.PollCodes()
	if err != nil {
		return nil, err
	}
	return protocol.NewPoller(c.Poller.Interval, targets, codes)
}
