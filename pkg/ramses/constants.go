// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ramses implements the RAMSES-II radio protocol as exposed by
// serial gateways (evofw3, HGI80): line parsing, the device address codec,
// frame encoding and schema driven payload decoding.
package ramses

import (
	"fmt"
	"time"
)

// Line framing
const (
	TimestampLayout  = "2006-01-02T15:04:05.000000"
	AddressLength    = 9   // "CC:NNNNNN"
	CodeLength       = 4   // four hex digits
	LengthFieldWidth = 3   // three decimal digits
	MaxPayloadLength = 999 // largest value the length field can carry
	CommentPrefix    = '#' // gateway diagnostic lines
)

// Verb is the four-valued message verb.
type Verb uint8

// Verbs. The zero value is not a valid verb.
const (
	VerbI  Verb = iota + 1 // information / announcement
	VerbRQ                 // request
	VerbRP                 // response
	VerbW                  // write
)

var verbTokens = map[Verb]string{
	VerbI:  "I",
	VerbRQ: "RQ",
	VerbRP: "RP",
	VerbW:  "W",
}

// ParseVerb converts a wire token ("I", "RQ", "RP", "W") to a Verb.
func ParseVerb(token string) (Verb, bool) {
	for v, t := range verbTokens {
		if t == token {
			return v, true
		}
	}
	return 0, false
}

// Token returns the bare wire token.
func (v Verb) Token() string {
	if t, ok := verbTokens[v]; ok {
		return t
	}
	return "??"
}

// String returns the token right-justified to two characters, the way it
// appears in a canonical frame.
func (v Verb) String() string {
	return fmt.Sprintf("%2s", v.Token())
}

// Valid reports whether v is one of the four verbs.
func (v Verb) Valid() bool {
	_, ok := verbTokens[v]
	return ok
}

// Code is the 16-bit opcode identifying a message type.
type Code uint16

// Well known codes
const (
	CodeZoneName        Code = 0x0004
	CodeScheduleVersion Code = 0x0006
	CodeRelayDemand     Code = 0x0008
	CodeZoneParams      Code = 0x000A
	CodeLanguage        Code = 0x0100
	CodeFaultLog        Code = 0x0418
	CodeBatteryState    Code = 0x1060
	CodeDeviceInfo      Code = 0x10E0
	CodeWindowState     Code = 0x12B0
	CodeSystemSync      Code = 0x1F09
	CodeRFBind          Code = 0x1FC9
	CodeSetpoint        Code = 0x2309
	CodeZoneMode        Code = 0x2349
	CodeTemperature     Code = 0x30C9
	CodeDateTime        Code = 0x313F
	CodeHeatDemand      Code = 0x3150
	CodeActuatorState   Code = 0x3EF0
)

// String returns the four digit uppercase hex form used on the wire.
func (c Code) String() string {
	return fmt.Sprintf("%04X", uint16(c))
}

// ParseCode parses exactly four uppercase hex digits.
func ParseCode(token string) (Code, error) {
	if len(token) != CodeLength {
		return 0, fmt.Errorf("code %q: want %d hex digits", token, CodeLength)
	}
	var v uint16
	for i := 0; i < len(token); i++ {
		n, ok := upperHexNibble(token[i])
		if !ok {
			return 0, fmt.Errorf("code %q: invalid hex digit %q", token, token[i])
		}
		v = v<<4 | uint16(n)
	}
	return Code(v), nil
}

// Priority orders outbound commands. Lower values are sent first.
type Priority int

// Priorities
const (
	PriorityHighest Priority = -4
	PriorityHigh    Priority = -2
	PriorityNormal  Priority = 0
	PriorityLow     Priority = 2
	PriorityLowest  Priority = 4
)

var priorityNames = map[Priority]string{
	PriorityHighest: "highest",
	PriorityHigh:    "high",
	PriorityNormal:  "normal",
	PriorityLow:     "low",
	PriorityLowest:  "lowest",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts the lowercase names returned by String.
func ParsePriority(name string) (Priority, error) {
	for p, n := range priorityNames {
		if n == name {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", name)
}

// Command defaults
const (
	DefaultTimeout = 3 * time.Second
	DefaultRetries = 3
)

// Role is the broad function of a device class.
type Role uint8

// Roles
const (
	RoleUnknown Role = iota
	RoleController
	RoleSensor
	RoleActuator
	RoleGateway
	RoleRemote
	RoleBroadcast
	RoleNull
)

var roleNames = map[Role]string{
	RoleUnknown:    "unknown",
	RoleController: "controller",
	RoleSensor:     "sensor",
	RoleActuator:   "actuator",
	RoleGateway:    "gateway",
	RoleRemote:     "remote",
	RoleBroadcast:  "broadcast",
	RoleNull:       "null",
}

func (r Role) String() string {
	return roleNames[r]
}

// DeviceClass is the two digit class tag of an address.
type DeviceClass uint8

// Device classes with a special meaning
const (
	ClassController DeviceClass = 1
	ClassGateway    DeviceClass = 18
	ClassBroadcast  DeviceClass = 63
	ClassNull       DeviceClass = 0xFF // "--", no device
)

type classInfo struct {
	slug string
	role Role
}

var deviceClasses = map[DeviceClass]classInfo{
	0:  {"TRV", RoleActuator},
	1:  {"CTL", RoleController},
	2:  {"UFC", RoleController},
	3:  {"STA", RoleSensor},
	4:  {"TRV", RoleActuator},
	7:  {"DHW", RoleSensor},
	8:  {"JIM", RoleActuator},
	10: {"OTB", RoleActuator},
	12: {"DTS", RoleSensor},
	13: {"BDR", RoleActuator},
	17: {"OUT", RoleSensor},
	18: {"HGI", RoleGateway},
	20: {"FAN", RoleActuator},
	22: {"DTS", RoleSensor},
	23: {"PRG", RoleController},
	29: {"FAN", RoleActuator},
	30: {"RFG", RoleGateway},
	31: {"JST", RoleSensor},
	32: {"HUM", RoleSensor},
	34: {"RND", RoleSensor},
	37: {"FAN", RoleActuator},
	39: {"REM", RoleRemote},
	40: {"CO2", RoleSensor},
	42: {"SWI", RoleRemote},
	49: {"REM", RoleRemote},
	59: {"RFS", RoleGateway},
	63: {"NUL", RoleBroadcast},
}

// Known reports whether c is a recognised class tag.
func (c DeviceClass) Known() bool {
	if c == ClassNull {
		return true
	}
	_, ok := deviceClasses[c]
	return ok
}

// Slug returns the three letter device type abbreviation.
func (c DeviceClass) Slug() string {
	if c == ClassNull {
		return "---"
	}
	if info, ok := deviceClasses[c]; ok {
		return info.slug
	}
	return "???"
}

// Role returns the role of the device class.
func (c DeviceClass) Role() Role {
	if c == ClassNull {
		return RoleNull
	}
	if info, ok := deviceClasses[c]; ok {
		return info.role
	}
	return RoleUnknown
}

func upperHexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
