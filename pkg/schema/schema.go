// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package schema loads opcode catalogs from YAML files.
//
// A catalog file maps four digit codes to payload templates:
//
//	base: default
//	codes:
//	  "1F09":
//	    name: system_sync
//	    fields:
//	      - {name: domain_id, offset: 0, kind: u8}
//	      - {name: sync_value, offset: 1, kind: u16be}
//
// With base "default" the file extends the built-in catalog and replaces
// any code it redefines; with no base the file is the whole catalog.
package schema

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"gopkg.in/yaml.v3"
)

// BaseDefault extends the built-in catalog
const BaseDefault = "default"

type fieldSpec struct {
	Name   string   `yaml:"name"`
	Offset int      `yaml:"offset"`
	Width  int      `yaml:"width,omitempty"`
	Kind   string   `yaml:"kind"`
	Scale  float64  `yaml:"scale,omitempty"`
	Flags  []string `yaml:"flags,omitempty"`
}

type templateSpec struct {
	Name      string      `yaml:"name"`
	GroupSize int         `yaml:"group_size,omitempty"`
	Fields    []fieldSpec `yaml:"fields"`
}

type catalogFile struct {
	Base  string                  `yaml:"base,omitempty"`
	Codes map[string]templateSpec `yaml:"codes"`
}

// Load reads a catalog file
func Load(path string) (ramses.MapSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read catalog %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a catalog document. Every template error is
// reported, not just the first.
func Parse(data []byte) (ramses.MapSchema, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("cannot parse yaml: %w", err)
	}

	switch file.Base {
	case "", BaseDefault:
	default:
		return nil, fmt.Errorf("unknown base catalog %q", file.Base)
	}

	keys := make([]string, 0, len(file.Codes))
	for k := range file.Codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	loaded := make(ramses.MapSchema, len(keys))
	var errs []error
	for _, key := range keys {
		t, err := buildTemplate(key, file.Codes[key])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		loaded[t.Code] = t
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if file.Base == BaseDefault {
		return ramses.DefaultCatalog().Merge(loaded), nil
	}
	return loaded, nil
}

func buildTemplate(key string, spec templateSpec) (*ramses.Template, error) {
	code, err := ramses.ParseCode(strings.ToUpper(strings.TrimSpace(key)))
	if err != nil {
		return nil, err
	}

	t := &ramses.Template{
		Code:      code,
		Name:      spec.Name,
		GroupSize: spec.GroupSize,
		Fields:    make([]ramses.Field, 0, len(spec.Fields)),
	}
	if t.Name == "" {
		t.Name = strings.ToLower(code.String())
	}

	for _, fs := range spec.Fields {
		kind, err := ramses.ParseDecodeKind(fs.Kind)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", code, fs.Name, err)
		}
		width := fs.Width
		if w, fixed := kind.FixedWidth(); fixed && width == 0 {
			width = w
		}
		t.Fields = append(t.Fields, ramses.Field{
			Name:   fs.Name,
			Offset: fs.Offset,
			Width:  width,
			Kind:   kind,
			Scale:  fs.Scale,
			Flags:  fs.Flags,
		})
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Dump renders a catalog in the format Parse reads
func Dump(s ramses.MapSchema) ([]byte, error) {
	file := catalogFile{Codes: make(map[string]templateSpec, len(s))}
	for code, t := range s {
		spec := templateSpec{Name: t.Name, GroupSize: t.GroupSize}
		for _, f := range t.Fields {
			fs := fieldSpec{
				Name:   f.Name,
				Offset: f.Offset,
				Kind:   f.Kind.String(),
				Scale:  f.Scale,
				Flags:  f.Flags,
			}
			if _, fixed := f.Kind.FixedWidth(); !fixed {
				fs.Width = f.Width
			}
			spec.Fields = append(spec.Fields, fs)
		}
		file.Codes[code.String()] = spec
	}
	return yaml.Marshal(&file)
}
