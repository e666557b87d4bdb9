// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

// Builder turns packets into messages using a schema
type Builder struct {
	schema Schema
}

// NewBuilder creates a builder. A nil schema decodes nothing.
func NewBuilder(schema Schema) *Builder {
	if schema == nil {
		schema = MapSchema{}
	}
	return &Builder{schema: schema}
}

// BuildMessage builds one message with the given schema
func BuildMessage(p *Packet, schema Schema) *Message {
	return NewBuilder(schema).Build(p)
}

// Build decodes the payload of p. It never fails: unknown codes produce a
// message with no fields, and template fields that do not fit the payload
// are left out and reported by Omitted.
func (b *Builder) Build(p *Packet) *Message {
	msg := &Message{
		packet: p,
		fields: make(map[string]interface{}),
	}

	tmpl, ok := b.schema.Lookup(p.code)
	if !ok || tmpl == nil {
		return msg
	}
	msg.template = tmpl

	size := tmpl.GroupSize
	if size > 0 && len(p.payload) >= 2*size && len(p.payload)%size == 0 {
		for off := 0; off < len(p.payload); off += size {
			group, _ := decodeFields(tmpl.Fields, p.payload[off:off+size])
			msg.groups = append(msg.groups, group)
		}
		msg.fields = msg.groups[0]
		return msg
	}

	msg.fields, msg.omitted = decodeFields(tmpl.Fields, p.payload)
	return msg
}

func decodeFields(fields []Field, data []byte) (map[string]interface{}, []string) {
	out := make(map[string]interface{}, len(fields))
	var omitted []string
	for _, f := range fields {
		v, ok := f.decode(data)
		if !ok {
			omitted = append(omitted, f.Name)
			continue
		}
		out[f.Name] = v
	}
	return out, omitted
}
