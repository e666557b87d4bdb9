// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"sort"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
)

// zoneReading is the latest known state of one heating zone
type zoneReading struct {
	index       uint8
	name        string
	temperature float64
	hasTemp     bool
	setpoint    float64
	hasSetpoint bool
	demand      float64
	hasDemand   bool
	updated     time.Time
}

// zoneTable collects zone state from controller broadcasts and replies
type zoneTable struct {
	zones map[uint8]*zoneReading

	// System-wide values
	modulation    float64
	hasModulation bool
	flameActive   bool
}

func newZoneTable() *zoneTable {
	return &zoneTable{zones: make(map[uint8]*zoneReading)}
}

// observe folds a message into the table and reports whether it changed
func (z *zoneTable) observe(msg *ramses.Message) bool {
	switch msg.Code() {
	case ramses.CodeTemperature, ramses.CodeSetpoint, ramses.CodeHeatDemand, ramses.CodeZoneName:
	case ramses.CodeActuatorState:
		level, ok := msg.FieldFloat("modulation_level")
		if !ok {
			return false
		}
		z.modulation = level
		z.hasModulation = true
		z.flameActive, _ = msg.FieldFlag("status", "flame_active")
		return true
	default:
		return false
	}
	if msg.IsRequest() || !msg.Known() {
		return false
	}

	records := msg.Groups()
	if records == nil {
		records = []map[string]interface{}{msg.Fields()}
	}

	changed := false
	for _, rec := range records {
		idx, ok := rec["zone_idx"].(uint64)
		if !ok || idx > 0x0F {
			continue
		}
		zone := z.zone(uint8(idx))

		switch msg.Code() {
		case ramses.CodeTemperature:
			zone.temperature, zone.hasTemp = rec["temperature"].(float64)
		case ramses.CodeSetpoint:
			zone.setpoint, zone.hasSetpoint = rec["setpoint"].(float64)
		case ramses.CodeHeatDemand:
			zone.demand, zone.hasDemand = rec["heat_demand"].(float64)
		case ramses.CodeZoneName:
			if name, ok := rec["name"].(string); ok {
				zone.name = name
			}
		}
		zone.updated = msg.Timestamp()
		changed = true
	}
	return changed
}

func (z *zoneTable) zone(idx uint8) *zoneReading {
	zone, ok := z.zones[idx]
	if !ok {
		zone = &zoneReading{index: idx}
		z.zones[idx] = zone
	}
	return zone
}

// sorted returns the zones by index
func (z *zoneTable) sorted() []*zoneReading {
	out := make([]*zoneReading, 0, len(z.zones))
	for _, zone := range z.zones {
		out = append(out, zone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}
