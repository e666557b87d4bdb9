// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"fmt"
	"sort"
	"strings"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m *Message) string {
	timestamp := m.Timestamp().Format("15:04:05.000")
	rssi := "..."
	if v, ok := m.Packet().RSSI(); ok {
		rssi = fmt.Sprintf("%03d", v)
	}

	result := fmt.Sprintf("[%s] %s %s %s %s -> %s len=%d",
		timestamp, rssi, m.Verb(), FormatCode(m.Code()), m.Src().Label(), m.Dst().Label(), len(m.Payload()))
	if hint := m.Hint().String(); hint != "" {
		result += " (" + hint + ")"
	}
	result += "\n"

	if !m.Known() {
		if len(m.Payload()) > 0 {
			result += fmt.Sprintf("  Payload: %X\n", m.Payload())
		}
		return result
	}

	if groups := m.Groups(); groups != nil {
		for i, g := range groups {
			result += fmt.Sprintf("  [%d] %s\n", i, formatFields(m.Template(), g))
		}
		return result
	}
	if line := formatFields(m.Template(), m.Fields()); line != "" {
		result += "  " + line + "\n"
	}
	if omitted := m.Omitted(); len(omitted) > 0 {
		result += fmt.Sprintf("  Missing: %s\n", strings.Join(omitted, ", "))
	}
	return result
}

// FormatCode returns "NAME (CODE)" for catalogued codes and the bare code otherwise
func FormatCode(code Code) string {
	if t, ok := DefaultCatalog().Lookup(code); ok {
		return fmt.Sprintf("%s (%s)", strings.ToUpper(t.Name), code)
	}
	return code.String()
}

// formatFields renders fields in template order
func formatFields(t *Template, fields map[string]interface{}) string {
	parts := []string{}
	for _, f := range t.Fields {
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", f.Name, formatValue(f, v)))
	}
	return strings.Join(parts, ", ")
}

func formatValue(f Field, v interface{}) string {
	if v == nil {
		return "n/a"
	}
	switch val := v.(type) {
	case float64:
		if f.Kind == KindPercent {
			return fmt.Sprintf("%.1f%%", val*100)
		}
		if isTemperatureField(f.Name) {
			return fmt.Sprintf("%.2f°C", val)
		}
		return fmt.Sprintf("%.2f", val)
	case uint64:
		if f.Kind == KindU8 {
			return fmt.Sprintf("%02X", val)
		}
		return fmt.Sprintf("%d", val)
	case string:
		if f.Kind == KindASCII {
			return fmt.Sprintf("%q", val)
		}
		return val
	case map[string]bool:
		return formatFlags(val)
	}
	return fmt.Sprintf("%v", v)
}

func formatFlags(flags map[string]bool) string {
	set := []string{}
	for name, on := range flags {
		if on {
			set = append(set, name)
		}
	}
	if len(set) == 0 {
		return "[]"
	}
	sort.Strings(set)
	return "[" + strings.Join(set, " ") + "]"
}
