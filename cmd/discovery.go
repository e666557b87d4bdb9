// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/spf13/cobra"
)

var (
	discoveryTimeout int
	discoveryProbe   bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover devices from network traffic",
	Long: `List the devices heard on the RAMSES-II network.

RAMSES-II has no discovery request: devices announce themselves as they talk.
This command listens for the given time and builds a census from every source
and destination address it sees, with the codes each device sent.

Modes:
  Passive (default): Only listen. Nothing is transmitted.

  Probe (--probe):   Also send RQ 10E0 (device info) to each new device through
                     the protocol stack, with retries, and record the reply.

Examples:
  # Listen for two minutes on an evofw3 stick
  ramsestat discovery --port /dev/ttyACM0 --timeout 120

  # Census of a recorded log
  ramsestat discovery --replay packet.log

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices heard)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 60, "Listening time in seconds")
	discoveryCmd.Flags().BoolVar(&discoveryProbe, "probe", false, "Request device info from each new device")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	sess, err := loadSession(cmd)
	if err != nil {
		exitWith(2, "Configuration error: %v\n", err)
	}

	conn, connInfo, err := OpenConnection(sess.cfg)
	if err != nil {
		exitWith(2, "Connection error: %v\n", err)
	}
	defer conn.Close()

	mode := "passive"
	if discoveryProbe {
		mode = "probe"
	}

	fmt.Printf("Ramsestat - Device Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Mode: %s\n", mode)
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	sigCtx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, time.Duration(discoveryTimeout)*time.Second)
	defer cancel()

	c := newCensus()
	fresh := make(chan ramses.Address, 64)
	hooks := protocol.Hooks{
		OnMessage: func(msg *ramses.Message) {
			for _, addr := range c.observe(msg) {
				fmt.Printf("Device found: %s (%s, %s)\n", addr, addr.Label(), addr.Role())
				if discoveryProbe {
					select {
					case fresh <- addr:
					default:
					}
				}
			}
		},
	}

	stack, err := sess.newStack(conn, sess.instrument(ctx, hooks))
	if err != nil {
		exitWith(2, "Configuration error: %v\n", err)
	}

	var probes sync.WaitGroup
	if discoveryProbe {
		probes.Add(1)
		go func() {
			defer probes.Done()
			probeDevices(ctx, stack, c, fresh)
		}()
	}

	runErr := runStack(ctx, stack)
	cancel()
	probes.Wait()

	if runErr != nil {
		exitWith(2, "READ FAILED: %v\n", runErr)
	}

	devices := c.sorted()
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Devices found: %d\n", len(devices))
	for _, d := range devices {
		fmt.Printf("  %s\n", d)
	}

	if len(devices) == 0 {
		exitWith(1, "No devices heard. Check the gateway and the listening time.\n")
	}
	return nil
}

// probeDevices asks each new device for its description. Probes run one
// at a time so the stack queue never fills with them.
func probeDevices(ctx context.Context, stack *protocol.Stack, c *census, fresh <-chan ramses.Address) {
	for {
		select {
		case <-ctx.Done():
			return
		case addr := <-fresh:
			if addr.Role() == ramses.RoleGateway {
				continue
			}
			msg, err := stack.Send(ctx, ramses.NewDeviceInfoRequest(addr))
			if err != nil {
				if ctx.Err() == nil {
					fmt.Printf("Probe %s: %v\n", addr, err)
				}
				continue
			}
			if desc, ok := msg.FieldString("description"); ok {
				c.describe(addr, desc)
				fmt.Printf("Probe %s: %s\n", addr, desc)
			}
		}
	}
}

// deviceInfo is what the census knows about one address
type deviceInfo struct {
	addr        ramses.Address
	firstSeen   time.Time
	lastSeen    time.Time
	sent        int
	codes       map[ramses.Code]int
	description string
	rssi        int
	hasRSSI     bool
}

func (d *deviceInfo) String() string {
	codes := make([]string, 0, len(d.codes))
	for code := range d.codes {
		codes = append(codes, code.String())
	}
	sort.Strings(codes)

	s := fmt.Sprintf("%s %-10s %-10s sent=%d", d.addr, d.addr.Label(), d.addr.Role(), d.sent)
	if d.hasRSSI {
		s += fmt.Sprintf(" rssi=%03d", d.rssi)
	}
	if len(codes) > 0 {
		s += " codes=" + strings.Join(codes, ",")
	}
	if d.description != "" {
		s += fmt.Sprintf(" %q", d.description)
	}
	return s
}

// census tracks every concrete address seen on the network. It is safe for
// concurrent use.
type census struct {
	mu      sync.Mutex
	devices map[ramses.Address]*deviceInfo
}

func newCensus() *census {
	return &census{devices: make(map[ramses.Address]*deviceInfo)}
}

// observe records the message's addresses and returns those seen for the
// first time. The gateway placeholder address is ours and not counted.
func (c *census) observe(msg *ramses.Message) []ramses.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	var added []ramses.Address
	for _, addr := range []ramses.Address{msg.Src(), msg.Dst()} {
		if !addr.IsConcrete() || addr == ramses.GatewayAddress {
			continue
		}
		d, ok := c.devices[addr]
		if !ok {
			d = &deviceInfo{addr: addr, firstSeen: msg.Timestamp(), codes: make(map[ramses.Code]int)}
			c.devices[addr] = d
			added = append(added, addr)
		}
		d.lastSeen = msg.Timestamp()

		if addr != msg.Src() {
			continue
		}
		d.sent++
		d.codes[msg.Code()]++
		if rssi, ok := msg.Packet().RSSI(); ok {
			d.rssi, d.hasRSSI = rssi, true
		}
		if msg.Code() == ramses.CodeDeviceInfo && msg.IsResponse() {
			if desc, ok := msg.FieldString("description"); ok && desc != "" {
				d.description = desc
			}
		}
	}
	return added
}

func (c *census) describe(addr ramses.Address, desc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.devices[addr]; ok {
		d.description = desc
	}
}

// sorted returns copies of the devices ordered by class and number
func (c *census) sorted() []*deviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*deviceInfo, 0, len(c.devices))
	for _, d := range c.devices {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].addr.Class != out[j].addr.Class {
			return out[i].addr.Class < out[j].addr.Class
		}
		return out[i].addr.Number < out[j].addr.Number
	})
	return out
}

func (c *census) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices)
}
