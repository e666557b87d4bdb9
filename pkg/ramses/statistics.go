// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks line statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalLines     uint64
	ValidMessages  uint64
	InvalidLines   uint64
	UnknownVerbs   uint64
	BadAddresses   uint64
	BadOpcodes     uint64
	LengthMismatch uint64
	TrailingBytes  uint64
	MalformedLines uint64

	UnknownCodes    uint64
	ShortPayloads   uint64
	AnomalousValues uint64
	InvalidTemp     uint64
	InvalidZone     uint64

	// Rates (calculated)
	MessageRate float64 // messages/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on one line's outcome
func (s *Statistics) Update(msg *Message, decodeErr error, validationErrors []ValidationError) {
	s.TotalLines++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		s.InvalidLines++
		var perr *InvalidPacketError
		if !errors.As(decodeErr, &perr) {
			s.MalformedLines++
			return
		}
		switch perr.Kind {
		case KindUnknownVerb:
			s.UnknownVerbs++
		case KindBadAddress:
			s.BadAddresses++
		case KindBadOpcode:
			s.BadOpcodes++
		case KindLengthMismatch:
			s.LengthMismatch++
		case KindTrailingBytes:
			s.TrailingBytes++
		default:
			s.MalformedLines++
		}
		return
	}

	if msg == nil {
		return
	}
	s.ValidMessages++

	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyUnknownCode:
			s.UnknownCodes++
		case AnomalyShortPayload:
			s.ShortPayloads++
		case AnomalyInvalidTemp:
			s.InvalidTemp++
			s.AnomalousValues++
		case AnomalyInvalidZone:
			s.InvalidZone++
			s.AnomalousValues++
		default:
			s.AnomalousValues++
		}
	}
}

// CalculateRates calculates message and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.MessageRate = float64(s.ValidMessages) / elapsed
		s.ErrorRate = float64(s.InvalidLines+s.AnomalousValues) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, invalidPercent, anomalousPercent float64
	if s.TotalLines > 0 {
		validPercent = float64(s.ValidMessages) * 100.0 / float64(s.TotalLines)
		invalidPercent = float64(s.InvalidLines) * 100.0 / float64(s.TotalLines)
		anomalousPercent = float64(s.AnomalousValues) * 100.0 / float64(s.TotalLines)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Lines:     %8d\n", s.TotalLines)
	result += fmt.Sprintf("Valid Messages:  %8d (%.1f%%)\n", s.ValidMessages, validPercent)

	if s.InvalidLines > 0 {
		result += fmt.Sprintf("Invalid Lines:   %8d (%.1f%%)\n", s.InvalidLines, invalidPercent)
		counts := []struct {
			label string
			n     uint64
		}{
			{"Unknown Verb:", s.UnknownVerbs},
			{"Bad Address:", s.BadAddresses},
			{"Bad Opcode:", s.BadOpcodes},
			{"Length Mismatch:", s.LengthMismatch},
			{"Trailing Bytes:", s.TrailingBytes},
			{"Malformed:", s.MalformedLines},
		}
		for _, c := range counts {
			if c.n > 0 {
				result += fmt.Sprintf("  %-17s%5d\n", c.label, c.n)
			}
		}
	}
	if s.UnknownCodes > 0 {
		result += fmt.Sprintf("Unknown Codes:   %8d\n", s.UnknownCodes)
	}
	if s.ShortPayloads > 0 {
		result += fmt.Sprintf("Short Payloads:  %8d\n", s.ShortPayloads)
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, anomalousPercent)
		if s.InvalidTemp > 0 {
			result += fmt.Sprintf("  Invalid Temp:     %5d\n", s.InvalidTemp)
		}
		if s.InvalidZone > 0 {
			result += fmt.Sprintf("  Invalid Zone:     %5d\n", s.InvalidZone)
		}
	}

	result += fmt.Sprintf("Message Rate:    %8.1f msgs/sec\n", s.MessageRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
