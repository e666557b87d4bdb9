// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConcrete is returned when an operation needs a real device but
	// was given the null or broadcast address.
	ErrNotConcrete = errors.New("ramses: address is not a concrete device")

	// ErrNotFaultLog is returned when a fault log entry is built from a
	// message that does not carry code 0418.
	ErrNotFaultLog = errors.New("ramses: message is not a fault log entry")

	// ErrPayloadTooLong is returned when a payload does not fit the length field.
	ErrPayloadTooLong = errors.New("ramses: payload too long")
)

// Packet error kinds. Each has a sentinel that InvalidPacketError unwraps to.
var (
	ErrMalformed      = errors.New("malformed line")
	ErrUnknownVerb    = errors.New("unknown verb")
	ErrBadAddress     = errors.New("bad address")
	ErrBadOpcode      = errors.New("bad opcode")
	ErrLengthMismatch = errors.New("length mismatch")
	ErrTrailingBytes  = errors.New("trailing bytes")
)

// PacketErrorKind classifies a line that failed to parse.
type PacketErrorKind uint8

// Kinds
const (
	KindMalformed PacketErrorKind = iota
	KindUnknownVerb
	KindBadAddress
	KindBadOpcode
	KindLengthMismatch
	KindTrailingBytes
)

var kindSentinels = map[PacketErrorKind]error{
	KindMalformed:      ErrMalformed,
	KindUnknownVerb:    ErrUnknownVerb,
	KindBadAddress:     ErrBadAddress,
	KindBadOpcode:      ErrBadOpcode,
	KindLengthMismatch: ErrLengthMismatch,
	KindTrailingBytes:  ErrTrailingBytes,
}

func (k PacketErrorKind) String() string {
	switch k {
	case KindUnknownVerb:
		return "unknown_verb"
	case KindBadAddress:
		return "bad_address"
	case KindBadOpcode:
		return "bad_opcode"
	case KindLengthMismatch:
		return "length_mismatch"
	case KindTrailingBytes:
		return "trailing_bytes"
	default:
		return "malformed"
	}
}

// InvalidPacketError reports why a raw line was rejected.
type InvalidPacketError struct {
	Kind   PacketErrorKind
	Line   string
	Detail string
	Err    error
}

func (e *InvalidPacketError) Error() string {
	msg := "invalid packet: " + kindSentinels[e.Kind].Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause, so
// errors.Is(err, ErrLengthMismatch) and errors.As(err, &addrErr) both work.
func (e *InvalidPacketError) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func invalidPacket(kind PacketErrorKind, line, detail string, cause error) error {
	return &InvalidPacketError{Kind: kind, Line: line, Detail: detail, Err: cause}
}

// InvalidAddrSetError reports a malformed address token or an address set
// that cannot describe a valid source/destination pair.
type InvalidAddrSetError struct {
	Token  string
	Reason string
}

func (e *InvalidAddrSetError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid address set: %s", e.Reason)
	}
	return fmt.Sprintf("invalid address %q: %s", e.Token, e.Reason)
}
