// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"fmt"
	"time"
)

// HintKind says what the first payload byte refers to
type HintKind uint8

// Hint kinds
const (
	HintNone   HintKind = iota
	HintZone            // 00-0F: zone index
	HintDomain          // F8-FF: system domain
)

// Hint is the context derived from the first payload byte
type Hint struct {
	Kind  HintKind
	Index uint8
}

func (h Hint) String() string {
	switch h.Kind {
	case HintZone:
		return fmt.Sprintf("zone %02X", h.Index)
	case HintDomain:
		return fmt.Sprintf("domain %02X", h.Index)
	}
	return ""
}

// Message is a packet enriched with the fields its template decoded
type Message struct {
	packet   *Packet
	template *Template
	fields   map[string]interface{}
	groups   []map[string]interface{}
	omitted  []string
}

// Packet returns the underlying packet
func (m *Message) Packet() *Packet {
	return m.packet
}

// Verb returns the message verb
func (m *Message) Verb() Verb {
	return m.packet.verb
}

// Src returns the sending device
func (m *Message) Src() Address {
	return m.packet.src
}

// Dst returns the destination device, or NullAddress
func (m *Message) Dst() Address {
	return m.packet.dst
}

// Code returns the opcode
func (m *Message) Code() Code {
	return m.packet.code
}

// Payload returns the raw payload
func (m *Message) Payload() []byte {
	return m.packet.payload
}

// Timestamp returns the packet timestamp
func (m *Message) Timestamp() time.Time {
	return m.packet.timestamp
}

// Known reports whether the schema had a template for the code
func (m *Message) Known() bool {
	return m.template != nil
}

// Name returns the template name, or "" for unknown codes
func (m *Message) Name() string {
	if m.template == nil {
		return ""
	}
	return m.template.Name
}

// Template returns the template used to decode the payload, if any
func (m *Message) Template() *Template {
	return m.template
}

// Fields returns the decoded fields. It is never nil; for a repeating
// payload it holds the first group.
func (m *Message) Fields() map[string]interface{} {
	return m.fields
}

// Groups returns one field map per repeated record, or nil when the
// payload was decoded as a single record.
func (m *Message) Groups() []map[string]interface{} {
	return m.groups
}

// Omitted lists the template fields that did not fit the payload
func (m *Message) Omitted() []string {
	return m.omitted
}

// IsRequest reports whether the message is an RQ
func (m *Message) IsRequest() bool {
	return m.packet.verb == VerbRQ
}

// IsResponse reports whether the message is an RP
func (m *Message) IsResponse() bool {
	return m.packet.verb == VerbRP
}

// IsInformation reports whether the message is an I
func (m *Message) IsInformation() bool {
	return m.packet.verb == VerbI
}

// IsWrite reports whether the message is a W
func (m *Message) IsWrite() bool {
	return m.packet.verb == VerbW
}

// Hint derives zone or domain context from the first payload byte
func (m *Message) Hint() Hint {
	if len(m.packet.payload) == 0 {
		return Hint{}
	}
	b := m.packet.payload[0]
	switch {
	case b < 0x10:
		return Hint{Kind: HintZone, Index: b}
	case b >= 0xF8:
		return Hint{Kind: HintDomain, Index: b}
	}
	return Hint{}
}

// FieldUint returns an integer field
func (m *Message) FieldUint(name string) (uint64, bool) {
	v, ok := m.fields[name].(uint64)
	return v, ok
}

// FieldFloat returns a fixed point or percent field. ok is false when the
// field is missing or the device reported no value.
func (m *Message) FieldFloat(name string) (float64, bool) {
	switch v := m.fields[name].(type) {
	case float64:
		return v, true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// FieldString returns an ascii, hex or device id field
func (m *Message) FieldString(name string) (string, bool) {
	v, ok := m.fields[name].(string)
	return v, ok
}

// FieldFlag returns one bit of a flags field
func (m *Message) FieldFlag(field, bit string) (bool, bool) {
	flags, ok := m.fields[field].(map[string]bool)
	if !ok {
		return false, false
	}
	v, ok := flags[bit]
	return v, ok
}

// FieldAddress returns a device id field as an Address
func (m *Message) FieldAddress(name string) (Address, bool) {
	s, ok := m.FieldString(name)
	if !ok {
		return Address{}, false
	}
	a, err := DecodeAddress(s)
	if err != nil {
		return Address{}, false
	}
	return a, true
}

func (m *Message) String() string {
	if m.template == nil {
		return fmt.Sprintf("%s %s %s->%s %X", m.Verb().Token(), m.Code(), m.Src(), m.Dst(), m.Payload())
	}
	return fmt.Sprintf("%s %s %s->%s %v", m.Verb().Token(), m.Name(), m.Src(), m.Dst(), m.fields)
}
