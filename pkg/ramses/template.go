// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// DecodeKind says how a field's bytes become a value
type DecodeKind uint8

// Decode kinds
const (
	KindU8         DecodeKind = iota + 1 // uint64
	KindU16BE                            // uint64
	KindFlags                            // map[string]bool, Flags[i] is bit i
	KindASCII                            // string, NUL and padding trimmed
	KindFixedPoint                       // float64, signed big-endian / Scale; 7FFF and 8000 are absent
	KindPercent                          // float64 in [0,1], raw / 200; FF is absent
	KindHex                              // string
	KindDeviceID                         // string address, 24-bit packed
)

var kindNames = map[DecodeKind]string{
	KindU8:         "u8",
	KindU16BE:      "u16be",
	KindFlags:      "flags",
	KindASCII:      "ascii",
	KindFixedPoint: "fixed_point",
	KindPercent:    "percent",
	KindHex:        "hex",
	KindDeviceID:   "device_id",
}

func (k DecodeKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseDecodeKind converts a catalog name ("u8", "fixed_point", ...) to a kind
func ParseDecodeKind(name string) (DecodeKind, error) {
	for k, n := range kindNames {
		if n == strings.ToLower(name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown decode kind %q", name)
}

// Field describes one named value inside a payload
type Field struct {
	Name   string
	Offset int
	Width  int // bytes; 0 means "to the end of the payload" for ascii and hex
	Kind   DecodeKind
	Scale  float64  // divisor for fixed point values
	Flags  []string // bit names for flags fields, LSB first
}

// Template describes how to decode the payload of one code
type Template struct {
	Code      Code
	Name      string
	Fields    []Field
	GroupSize int // >0 when the payload may repeat a fixed-size record
}

// Schema resolves codes to payload templates
type Schema interface {
	Lookup(code Code) (*Template, bool)
}

// MapSchema is a Schema backed by a map
type MapSchema map[Code]*Template

// NewMapSchema creates a schema from templates
func NewMapSchema(templates ...*Template) MapSchema {
	m := make(MapSchema, len(templates))
	for _, t := range templates {
		m[t.Code] = t
	}
	return m
}

// Lookup implements Schema
func (m MapSchema) Lookup(code Code) (*Template, bool) {
	t, ok := m[code]
	return t, ok
}

// Merge returns a new schema with the templates of other replacing those of m
func (m MapSchema) Merge(other MapSchema) MapSchema {
	out := make(MapSchema, len(m)+len(other))
	for c, t := range m {
		out[c] = t
	}
	for c, t := range other {
		out[c] = t
	}
	return out
}

// Validate checks field layouts for mistakes a catalog author could make
func (t *Template) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for _, f := range t.Fields {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("%s: field at offset %d has no name", t.Code, f.Offset))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate field %q", t.Code, f.Name))
		}
		seen[f.Name] = true

		if f.Offset < 0 {
			errs = append(errs, fmt.Errorf("%s.%s: negative offset", t.Code, f.Name))
		}
		if want, fixed := fixedWidth(f.Kind); fixed && f.Width != want {
			errs = append(errs, fmt.Errorf("%s.%s: %s needs width %d", t.Code, f.Name, f.Kind, want))
		}
		switch f.Kind {
		case KindASCII, KindHex:
			if f.Width < 0 {
				errs = append(errs, fmt.Errorf("%s.%s: negative width", t.Code, f.Name))
			}
		case KindFixedPoint:
			if f.Scale <= 0 {
				errs = append(errs, fmt.Errorf("%s.%s: fixed point needs a positive scale", t.Code, f.Name))
			}
		case KindFlags:
			if len(f.Flags) == 0 || len(f.Flags) > 8 {
				errs = append(errs, fmt.Errorf("%s.%s: flags need 1 to 8 bit names", t.Code, f.Name))
			}
		case KindU8, KindU16BE, KindPercent, KindDeviceID:
		default:
			errs = append(errs, fmt.Errorf("%s.%s: unknown kind %d", t.Code, f.Name, f.Kind))
		}
		if t.GroupSize > 0 && f.Offset+f.Width > t.GroupSize {
			errs = append(errs, fmt.Errorf("%s.%s: field extends past group size %d", t.Code, f.Name, t.GroupSize))
		}
	}
	return errors.Join(errs...)
}

// FixedWidth returns the byte width a kind always occupies. Only ascii and
// hex fields have a free width.
func (k DecodeKind) FixedWidth() (int, bool) {
	return fixedWidth(k)
}

func fixedWidth(kind DecodeKind) (int, bool) {
	switch kind {
	case KindU8, KindFlags, KindPercent:
		return 1, true
	case KindU16BE, KindFixedPoint:
		return 2, true
	case KindDeviceID:
		return 3, true
	}
	return 0, false
}

// decode extracts the field from data. ok is false when the field does not
// fit; value is nil when the field is present but signals "no reading".
func (f Field) decode(data []byte) (value interface{}, ok bool) {
	if f.Offset < 0 || f.Offset >= len(data) || f.Width < 0 {
		return nil, false
	}
	end := f.Offset + f.Width
	if f.Width == 0 {
		end = len(data)
	}
	if end > len(data) {
		return nil, false
	}
	b := data[f.Offset:end]
	if want, fixed := fixedWidth(f.Kind); fixed && len(b) < want {
		return nil, false
	}

	switch f.Kind {
	case KindU8:
		return uint64(b[0]), true

	case KindU16BE:
		return uint64(binary.BigEndian.Uint16(b)), true

	case KindFlags:
		flags := make(map[string]bool, len(f.Flags))
		for bit, name := range f.Flags {
			if name == "" || name == "_" {
				continue
			}
			flags[name] = b[0]&(1<<uint(bit)) != 0
		}
		return flags, true

	case KindASCII:
		return cleanASCII(b), true

	case KindFixedPoint:
		raw := binary.BigEndian.Uint16(b)
		if raw == 0x7FFF || raw == 0x8000 {
			return nil, true
		}
		return float64(int16(raw)) / f.Scale, true

	case KindPercent:
		if b[0] == 0xFF || b[0] > 200 {
			return nil, true
		}
		return float64(b[0]) / 200, true

	case KindHex:
		return fmt.Sprintf("%X", b), true

	case KindDeviceID:
		id := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
		addr, err := AddressFromID(id)
		if err != nil {
			return fmt.Sprintf("%06X", id), true
		}
		return addr.String(), true
	}
	return nil, false
}

func cleanASCII(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c == 0x00 {
			break
		}
		if c >= 0x20 && c < 0x7F {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}
