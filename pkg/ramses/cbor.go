// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MessageRecord is the CBOR form of a decoded message, one per raw log entry
type MessageRecord struct {
	Timestamp time.Time              `cbor:"1,keyasint"`
	Verb      string                 `cbor:"2,keyasint"`
	Src       string                 `cbor:"3,keyasint"`
	Dst       string                 `cbor:"4,keyasint"`
	Code      uint16                 `cbor:"5,keyasint"`
	Payload   []byte                 `cbor:"6,keyasint"`
	RSSI      *int                   `cbor:"7,keyasint,omitempty"`
	Name      string                 `cbor:"8,keyasint,omitempty"`
	Fields    map[string]interface{} `cbor:"9,keyasint,omitempty"`
}

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode

	typeStringMap = reflect.TypeOf(map[string]interface{}(nil))
)

func init() {
	var err error
	recordEncMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	recordDecMode, err = cbor.DecOptions{
		DefaultMapType: typeStringMap,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor dec mode: %v", err))
	}
}

// NewMessageRecord converts a message to its CBOR record
func NewMessageRecord(m *Message) MessageRecord {
	rec := MessageRecord{
		Timestamp: m.Timestamp(),
		Verb:      m.Verb().Token(),
		Src:       m.Src().String(),
		Dst:       m.Dst().String(),
		Code:      uint16(m.Code()),
		Payload:   m.Payload(),
		Name:      m.Name(),
	}
	if rssi, ok := m.Packet().RSSI(); ok {
		rec.RSSI = &rssi
	}
	if len(m.Fields()) > 0 {
		rec.Fields = m.Fields()
	}
	return rec
}

// EncodeMessageCBOR encodes a message as a CBOR record
func EncodeMessageCBOR(m *Message) ([]byte, error) {
	data, err := recordEncMode.Marshal(NewMessageRecord(m))
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}

// DecodeMessageRecord decodes one CBOR record
func DecodeMessageRecord(data []byte) (MessageRecord, error) {
	var rec MessageRecord
	if len(data) == 0 {
		return rec, fmt.Errorf("empty CBOR payload")
	}
	if err := recordDecMode.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return rec, nil
}

// NewRecordEncoder returns a streaming encoder writing records to w
func NewRecordEncoder(w io.Writer) *cbor.Encoder {
	return recordEncMode.NewEncoder(w)
}

// NewRecordDecoder returns a streaming decoder reading records from r
func NewRecordDecoder(r io.Reader) *cbor.Decoder {
	return recordDecMode.NewDecoder(r)
}

// Record field helpers. CBOR decodes unsigned integers as uint64 and
// negative ones as int64, so numeric readers accept both.

// RecordUint extracts an unsigned integer field from a decoded record
func RecordUint(fields map[string]interface{}, key string) (uint64, bool) {
	switch v := fields[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

// RecordFloat extracts a float field from a decoded record
func RecordFloat(fields map[string]interface{}, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// RecordString extracts a string field from a decoded record
func RecordString(fields map[string]interface{}, key string) (string, bool) {
	v, ok := fields[key].(string)
	return v, ok
}
