// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"fmt"
	"strings"
	"time"
)

// Packet represents a validated RAMSES-II frame
type Packet struct {
	timestamp time.Time
	rssi      int
	hasRSSI   bool
	verb      Verb
	seqn      int // -1 when the frame carries "---"
	addrs     [3]Address
	code      Code
	payload   []byte

	src Address
	dst Address
}

// NewPacket creates a packet from its frame fields. The address slots are
// validated the same way the decoder validates them.
func NewPacket(verb Verb, addrs [3]Address, code Code, payload []byte) (*Packet, error) {
	if !verb.Valid() {
		return nil, fmt.Errorf("ramses: invalid verb %d", verb)
	}
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}
	for _, a := range addrs {
		if _, err := NewAddress(a.Class, a.Number); err != nil {
			return nil, err
		}
	}
	src, dst, err := resolveAddrs(verb, addrs)
	if err != nil {
		return nil, err
	}
	return &Packet{
		timestamp: time.Now(),
		verb:      verb,
		seqn:      -1,
		addrs:     addrs,
		code:      code,
		payload:   append([]byte(nil), payload...),
		src:       src,
		dst:       dst,
	}, nil
}

// resolveAddrs derives source and destination from the three wire slots.
// The first present device is the source. A second, different device is the
// destination; a repeat of the source marks an announcement.
func resolveAddrs(verb Verb, addrs [3]Address) (src, dst Address, err error) {
	var devices []Address
	for _, a := range addrs {
		if !a.IsNull() {
			devices = append(devices, a)
		}
	}

	switch len(devices) {
	case 0:
		return Address{}, Address{}, &InvalidAddrSetError{Reason: "no device address"}
	case 3:
		return Address{}, Address{}, &InvalidAddrSetError{Reason: "three device addresses"}
	}

	src = devices[0]
	dst = NullAddress
	if len(devices) == 2 && devices[1] != src {
		dst = devices[1]
	}

	if verb != VerbI && dst.IsNull() {
		return Address{}, Address{}, &InvalidAddrSetError{
			Reason: fmt.Sprintf("%s requires a destination", verb.Token()),
		}
	}
	return src, dst, nil
}

// Timestamp returns the gateway timestamp, or the receive time if absent
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// RSSI returns the signal strength and whether the frame carried one
func (p *Packet) RSSI() (int, bool) {
	return p.rssi, p.hasRSSI
}

// Verb returns the message verb
func (p *Packet) Verb() Verb {
	return p.verb
}

// Seqn returns the sequence number, or -1 when absent
func (p *Packet) Seqn() int {
	return p.seqn
}

// Addrs returns the three address slots as they appear on the wire
func (p *Packet) Addrs() [3]Address {
	return p.addrs
}

// Addresses returns the distinct devices named in the frame, in slot order
func (p *Packet) Addresses() []Address {
	out := make([]Address, 0, 3)
	for _, a := range p.addrs {
		if a.IsNull() {
			continue
		}
		seen := false
		for _, b := range out {
			if a == b {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, a)
		}
	}
	return out
}

// Src returns the sending device
func (p *Packet) Src() Address {
	return p.src
}

// Dst returns the destination, or NullAddress for announcements
func (p *Packet) Dst() Address {
	return p.dst
}

// Code returns the opcode
func (p *Packet) Code() Code {
	return p.code
}

// Length returns the payload length in bytes
func (p *Packet) Length() int {
	return len(p.payload)
}

// Payload returns the raw payload bytes
func (p *Packet) Payload() []byte {
	return p.payload
}

// Frame renders the packet in canonical wire form, without timestamp,
// signal strength or line terminator.
func (p *Packet) Frame() string {
	seqn := "---"
	if p.seqn >= 0 {
		seqn = fmt.Sprintf("%03d", p.seqn)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s %s %s %03d",
		p.verb, seqn, p.addrs[0], p.addrs[1], p.addrs[2], p.code, len(p.payload))
	if len(p.payload) > 0 {
		fmt.Fprintf(&b, " %X", p.payload)
	}
	return b.String()
}

// String returns the frame prefixed with the gateway fields that were present
func (p *Packet) String() string {
	rssi := "..."
	if p.hasRSSI {
		rssi = fmt.Sprintf("%03d", p.rssi)
	}
	return fmt.Sprintf("%s %s %s", p.timestamp.Format(TimestampLayout), rssi, p.Frame())
}
