// Package schema models the lake's single schema document and validates
// incoming records against it.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
)

// Key is the store location of the schema document. The core reads it and
// never writes it; the schema manager owns the key.
const Key = "schema/schema.json"

// PrimitiveType enumerates the physical column types.
type PrimitiveType string

const (
	Boolean           PrimitiveType = "BOOLEAN"
	Int32             PrimitiveType = "INT32"
	Int64             PrimitiveType = "INT64"
	Int96             PrimitiveType = "INT96"
	Binary            PrimitiveType = "BINARY"
	Double            PrimitiveType = "DOUBLE"
	ByteArray         PrimitiveType = "BYTE_ARRAY"
	FixedLenByteArray PrimitiveType = "FIXED_LEN_BYTE_ARRAY"
)

// LogicalType refines how a physical column is interpreted.
type LogicalType string

const (
	UTF8            LogicalType = "UTF8"
	JSONLogical     LogicalType = "JSON"
	Date            LogicalType = "DATE"
	TimeMillis      LogicalType = "TIME_MILLIS"
	TimeMicros      LogicalType = "TIME_MICROS"
	TimestampMillis LogicalType = "TIMESTAMP_MILLIS"
	TimestampMicros LogicalType = "TIMESTAMP_MICROS"
)

// Repetition declares whether a field is mandatory, nullable, or a list.
type Repetition string

const (
	Required Repetition = "REQUIRED"
	Optional Repetition = "OPTIONAL"
	Repeated Repetition = "REPEATED"
)

// Field is one column declaration in the flat schema.
type Field struct {
	Name        string        `json:"name"`
	Type        PrimitiveType `json:"type"`
	LogicalType *LogicalType  `json:"logical_type,omitempty"`
	Repetition  Repetition    `json:"repetition_type"`
}

// Document is the schema document stored at Key.
type Document struct {
	Fields []Field `json:"fields"`
}

// Parse decodes and validates a schema document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document is usable: at least one field, unique names,
// known types and repetitions.
func (d *Document) Validate() error {
	if len(d.Fields) == 0 {
		return fmt.Errorf("schema document has no fields")
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate schema field %q", f.Name)
		}
		seen[f.Name] = true

		switch f.Type {
		case Boolean, Int32, Int64, Int96, Binary, Double, ByteArray, FixedLenByteArray:
		default:
			return fmt.Errorf("schema field %q has unknown type %q", f.Name, f.Type)
		}
		switch f.Repetition {
		case Required, Optional, Repeated, "":
		default:
			return fmt.Errorf("schema field %q has unknown repetition %q", f.Name, f.Repetition)
		}
	}
	return nil
}

// FieldByName returns the field declaration for name.
func (d *Document) FieldByName(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ValidateRecord checks one decoded JSON record against the schema: required
// fields present and kind-correct, optional fields absent or null or
// kind-correct, repeated fields arrays of kind-correct elements, and no
// fields outside the schema.
func (d *Document) ValidateRecord(rec map[string]any) error {
	for name := range rec {
		if _, ok := d.FieldByName(name); !ok {
			return fmt.Errorf("field %q not in schema", name)
		}
	}

	for _, f := range d.Fields {
		v, present := rec[f.Name]

		switch f.Repetition {
		case Repeated:
			if !present || v == nil {
				continue
			}
			arr, ok := v.([]any)
			if !ok {
				return fmt.Errorf("field %q: expected array for repeated field", f.Name)
			}
			for i, el := range arr {
				if err := checkKind(f, el); err != nil {
					return fmt.Errorf("field %q[%d]: %w", f.Name, i, err)
				}
			}
		case Optional:
			if !present || v == nil {
				continue
			}
			if err := checkKind(f, v); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		default: // REQUIRED
			if !present || v == nil {
				return fmt.Errorf("field %q: required field missing", f.Name)
			}
			if err := checkKind(f, v); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	}
	return nil
}

// checkKind dispatches on (declared type, actual JSON kind).
func checkKind(f Field, v any) error {
	switch f.Type {
	case Boolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case Int32, Int64, Int96:
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("expected integer, got %T", v)
		}
		if n != math.Trunc(n) {
			return fmt.Errorf("expected integer, got fractional number %v", n)
		}
		if f.Type == Int32 && (n > math.MaxInt32 || n < math.MinInt32) {
			return fmt.Errorf("value %v out of INT32 range", n)
		}
	case Double:
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
	case Binary, ByteArray, FixedLenByteArray:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	}
	return nil
}
