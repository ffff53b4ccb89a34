// Package encoder converts per-partition record batches into columnar bytes
// using the schema document to shape the output.
package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/lakeside-io/lakeside/internal/schema"
)

// ErrEncode is returned when the encoder rejects its inputs.
var ErrEncode = errors.New("encode failed")

// Config configures parquet output generation.
type Config struct {
	Compression string `yaml:"compression"` // "snappy" | "zstd" | "uncompressed"
}

// Result is one encoded column file.
type Result struct {
	Data     []byte
	RowCount int64
}

// Encoder is a pure record-batch → columnar-bytes function.
type Encoder struct {
	cfg Config
}

// New creates an encoder.
func New(cfg Config) *Encoder {
	if cfg.Compression == "" {
		cfg.Compression = "snappy"
	}
	return &Encoder{cfg: cfg}
}

// Encode writes records as one parquet file shaped by doc. Record order is
// preserved.
func (e *Encoder) Encode(doc *schema.Document, records []map[string]any) (*Result, error) {
	ps, err := ParquetSchema(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	rows := make([]map[string]any, 0, len(records))
	for i, rec := range records {
		row, err := coerceRecord(doc, rec)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrEncode, i, err)
		}
		rows = append(rows, row)
	}

	codec, err := compressionCodec(e.cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	buf := new(bytes.Buffer)
	w := parquet.NewGenericWriter[map[string]any](buf, ps, parquet.Compression(codec))
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return nil, fmt.Errorf("%w: write rows: %v", ErrEncode, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: close writer: %v", ErrEncode, err)
	}

	return &Result{Data: buf.Bytes(), RowCount: int64(len(rows))}, nil
}

func compressionCodec(name string) (compress.Codec, error) {
	switch name {
	case "snappy":
		return &parquet.Snappy, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "uncompressed", "none":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

// ParquetSchema builds the parquet schema for a document.
func ParquetSchema(doc *schema.Document) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, f := range doc.Fields {
		node, err := fieldNode(f)
		if err != nil {
			return nil, err
		}
		switch f.Repetition {
		case schema.Optional:
			node = parquet.Optional(node)
		case schema.Repeated:
			node = parquet.Repeated(node)
		}
		group[f.Name] = node
	}
	return parquet.NewSchema("record", group), nil
}

func fieldNode(f schema.Field) (parquet.Node, error) {
	logical := schema.LogicalType("")
	if f.LogicalType != nil {
		logical = *f.LogicalType
	}

	switch f.Type {
	case schema.Boolean:
		return parquet.Leaf(parquet.BooleanType), nil
	case schema.Int32:
		switch logical {
		case schema.Date:
			return parquet.Date(), nil
		case schema.TimeMillis:
			return parquet.Time(parquet.Millisecond), nil
		default:
			return parquet.Int(32), nil
		}
	case schema.Int64:
		switch logical {
		case schema.TimestampMillis:
			return parquet.Timestamp(parquet.Millisecond), nil
		case schema.TimestampMicros:
			return parquet.Timestamp(parquet.Microsecond), nil
		case schema.TimeMicros:
			return parquet.Time(parquet.Microsecond), nil
		default:
			return parquet.Int(64), nil
		}
	case schema.Double:
		return parquet.Leaf(parquet.DoubleType), nil
	case schema.Binary, schema.ByteArray, schema.FixedLenByteArray:
		switch logical {
		case schema.UTF8:
			return parquet.String(), nil
		case schema.JSONLogical:
			return parquet.JSON(), nil
		default:
			return parquet.Leaf(parquet.ByteArrayType), nil
		}
	case schema.Int96:
		return nil, fmt.Errorf("field %q: INT96 is not supported by the encoder", f.Name)
	default:
		return nil, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
	}
}

// coerceRecord converts decoded-JSON values into the Go kinds the parquet
// writer expects for each column. Fields outside the schema were rejected at
// the gateway; they are dropped here as well so a stale staging object cannot
// poison a compaction.
func coerceRecord(doc *schema.Document, rec map[string]any) (map[string]any, error) {
	row := make(map[string]any, len(doc.Fields))
	for _, f := range doc.Fields {
		v, present := rec[f.Name]
		if !present || v == nil {
			if f.Repetition == schema.Required {
				return nil, fmt.Errorf("field %q: required field missing", f.Name)
			}
			continue
		}

		if f.Repetition == schema.Repeated {
			arr, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("field %q: expected array", f.Name)
			}
			out, err := coerceSlice(f, arr)
			if err != nil {
				return nil, err
			}
			row[f.Name] = out
			continue
		}

		cv, err := coerceValue(f, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		row[f.Name] = cv
	}
	return row, nil
}

func coerceValue(f schema.Field, v any) (any, error) {
	switch f.Type {
	case schema.Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case schema.Int32:
		n, err := integral(v)
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return nil, fmt.Errorf("value %d out of INT32 range", n)
		}
		return int32(n), nil
	case schema.Int64:
		return integral(v)
	case schema.Double:
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return n, nil
	case schema.Binary, schema.ByteArray, schema.FixedLenByteArray:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		logical := schema.LogicalType("")
		if f.LogicalType != nil {
			logical = *f.LogicalType
		}
		if logical == schema.UTF8 {
			return s, nil
		}
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("unsupported type %q", f.Type)
	}
}

// coerceSlice builds a concretely-typed slice for a repeated field so the
// writer sees []int64, []string, and so on rather than []any.
func coerceSlice(f schema.Field, arr []any) (any, error) {
	coerced := make([]any, len(arr))
	for i, el := range arr {
		cv, err := coerceValue(f, el)
		if err != nil {
			return nil, fmt.Errorf("field %q[%d]: %w", f.Name, i, err)
		}
		coerced[i] = cv
	}

	switch f.Type {
	case schema.Boolean:
		out := make([]bool, len(coerced))
		for i, v := range coerced {
			out[i] = v.(bool)
		}
		return out, nil
	case schema.Int32:
		out := make([]int32, len(coerced))
		for i, v := range coerced {
			out[i] = v.(int32)
		}
		return out, nil
	case schema.Int64:
		out := make([]int64, len(coerced))
		for i, v := range coerced {
			out[i] = v.(int64)
		}
		return out, nil
	case schema.Double:
		out := make([]float64, len(coerced))
		for i, v := range coerced {
			out[i] = v.(float64)
		}
		return out, nil
	default: // byte-array kinds
		if len(coerced) > 0 {
			if _, isString := coerced[0].(string); isString {
				out := make([]string, len(coerced))
				for i, v := range coerced {
					out[i] = v.(string)
				}
				return out, nil
			}
		}
		out := make([][]byte, len(coerced))
		for i, v := range coerced {
			out[i] = v.([]byte)
		}
		return out, nil
	}
}

func integral(v any) (int64, error) {
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("expected integer, got fractional number %v", n)
	}
	return int64(n), nil
}
