// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Decoder states, one per line field
const (
	stateTimestamp = iota
	stateRSSI
	stateVerb
	stateSeqn
	stateAddress
	stateCode
	stateLength
	statePayload
	stateDone
)

// Decoder implements the RAMSES-II line decoder state machine. A Decoder
// keeps no state between lines and is safe to reuse; it is not safe for
// concurrent use because of the injectable clock.
type Decoder struct {
	now func() time.Time
}

// NewDecoder creates a new line decoder
func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// SetClock sets the clock used to stamp lines that carry no timestamp
func (d *Decoder) SetClock(now func() time.Time) {
	d.now = now
}

// ParseLine decodes one gateway line with a default decoder.
func ParseLine(line string) (*Packet, error) {
	return NewDecoder().DecodeLine([]byte(line))
}

// IsComment reports whether a line is a gateway diagnostic rather than a frame
func IsComment(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	return len(trimmed) > 0 && (trimmed[0] == CommentPrefix || trimmed[0] == '!')
}

// DecodeLine processes one line through the decoder state machine.
// Returns the packet, or an *InvalidPacketError describing the first field
// that failed.
func (d *Decoder) DecodeLine(raw []byte) (*Packet, error) {
	// Some gateways pad frames with NULs
	line := strings.TrimRight(string(raw), "\r\n\x00 ")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, invalidPacket(KindMalformed, line, "empty line", nil)
	}

	p := &Packet{seqn: -1}
	state := stateTimestamp
	addrIdx := 0
	declared := 0
	i := 0

	for state != stateDone {
		if state != statePayload && i >= len(fields) {
			return nil, invalidPacket(KindMalformed, line, "truncated frame", nil)
		}

		switch state {
		case stateTimestamp:
			state = stateRSSI
			if !looksLikeTimestamp(fields[i]) {
				p.timestamp = d.now()
				continue
			}
			ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999", fields[i], time.Local)
			if err != nil {
				return nil, invalidPacket(KindMalformed, line, fmt.Sprintf("bad timestamp %q", fields[i]), err)
			}
			p.timestamp = ts
			i++

		case stateRSSI:
			state = stateVerb
			tok := fields[i]
			if tok == "..." {
				i++
				continue
			}
			if len(tok) == 3 && isDigits(tok) {
				p.rssi, _ = strconv.Atoi(tok)
				p.hasRSSI = true
				i++
			}

		case stateVerb:
			verb, ok := ParseVerb(fields[i])
			if !ok {
				return nil, invalidPacket(KindUnknownVerb, line, fmt.Sprintf("%q", fields[i]), nil)
			}
			p.verb = verb
			state = stateSeqn
			i++

		case stateSeqn:
			tok := fields[i]
			switch {
			case tok == "---":
			case len(tok) == 3 && isDigits(tok):
				p.seqn, _ = strconv.Atoi(tok)
			default:
				return nil, invalidPacket(KindMalformed, line, fmt.Sprintf("bad sequence number %q", tok), nil)
			}
			state = stateAddress
			i++

		case stateAddress:
			addr, err := DecodeAddress(fields[i])
			if err != nil {
				return nil, invalidPacket(KindBadAddress, line, err.Error(), err)
			}
			p.addrs[addrIdx] = addr
			addrIdx++
			i++
			if addrIdx < len(p.addrs) {
				continue
			}
			src, dst, err := resolveAddrs(p.verb, p.addrs)
			if err != nil {
				return nil, invalidPacket(KindBadAddress, line, err.Error(), err)
			}
			p.src, p.dst = src, dst
			state = stateCode

		case stateCode:
			code, err := ParseCode(fields[i])
			if err != nil {
				return nil, invalidPacket(KindBadOpcode, line, err.Error(), err)
			}
			p.code = code
			state = stateLength
			i++

		case stateLength:
			tok := fields[i]
			if len(tok) != LengthFieldWidth || !isDigits(tok) {
				return nil, invalidPacket(KindMalformed, line, fmt.Sprintf("bad length field %q", tok), nil)
			}
			declared, _ = strconv.Atoi(tok)
			state = statePayload
			i++

		case statePayload:
			body := ""
			if i < len(fields) {
				body = fields[i]
				i++
			}
			if len(body) != 2*declared {
				return nil, invalidPacket(KindLengthMismatch, line,
					fmt.Sprintf("declared %d bytes, got %d hex digits", declared, len(body)), nil)
			}
			if !isUpperHex(body) {
				return nil, invalidPacket(KindMalformed, line, "payload is not uppercase hex", nil)
			}
			payload, err := hex.DecodeString(body)
			if err != nil {
				return nil, invalidPacket(KindMalformed, line, "payload is not hex", err)
			}
			p.payload = payload
			state = stateDone
		}
	}

	if i < len(fields) {
		return nil, invalidPacket(KindTrailingBytes, line, strings.Join(fields[i:], " "), nil)
	}
	return p, nil
}

func looksLikeTimestamp(tok string) bool {
	return len(tok) >= 19 && tok[4] == '-' && tok[10] == 'T'
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isUpperHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if _, ok := upperHexNibble(s[i]); !ok {
			return false
		}
	}
	return true
}
