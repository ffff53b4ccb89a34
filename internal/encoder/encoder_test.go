package encoder

import (
	"bytes"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/lakeside-io/lakeside/internal/schema"
)

func utf8() *schema.LogicalType {
	l := schema.UTF8
	return &l
}

func tsMillis() *schema.LogicalType {
	l := schema.TimestampMillis
	return &l
}

func testDoc() *schema.Document {
	return &schema.Document{Fields: []schema.Field{
		{Name: "order_id", Type: schema.Int64, Repetition: schema.Required},
		{Name: "order_ts", Type: schema.Int64, LogicalType: tsMillis(), Repetition: schema.Required},
		{Name: "customer", Type: schema.ByteArray, LogicalType: utf8(), Repetition: schema.Required},
		{Name: "amount", Type: schema.Double, Repetition: schema.Optional},
		{Name: "priority", Type: schema.Boolean, Repetition: schema.Optional},
	}}
}

func TestEncodeRoundTrip(t *testing.T) {
	enc := New(Config{Compression: "snappy"})
	doc := testDoc()

	records := []map[string]any{
		{"order_id": float64(1), "order_ts": float64(1732390245000), "customer": "acme", "amount": 12.5},
		{"order_id": float64(2), "order_ts": float64(1732390246000), "customer": "globex", "priority": true},
		{"order_id": float64(3), "order_ts": float64(1732390247000), "customer": "initech"},
	}

	res, err := enc.Encode(doc, records)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.RowCount != 3 {
		t.Fatalf("RowCount = %d, want 3", res.RowCount)
	}
	if len(res.Data) == 0 {
		t.Fatal("Encode returned no bytes")
	}
	if !bytes.HasPrefix(res.Data, []byte("PAR1")) || !bytes.HasSuffix(res.Data, []byte("PAR1")) {
		t.Fatal("output is not framed as a parquet file")
	}

	rows, err := parquet.Read[map[string]any](bytes.NewReader(res.Data), int64(len(res.Data)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("read back %d rows, want 3", len(rows))
	}

	// Order within the batch is preserved.
	if got, ok := rows[0]["order_id"].(int64); !ok || got != 1 {
		t.Errorf("rows[0].order_id = %v, want 1", rows[0]["order_id"])
	}
	if got, ok := rows[1]["customer"].(string); !ok || got != "globex" {
		t.Errorf("rows[1].customer = %v, want globex", rows[1]["customer"])
	}
}

func TestEncodeEmptyBatch(t *testing.T) {
	enc := New(Config{})

	res, err := enc.Encode(testDoc(), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.RowCount != 0 {
		t.Errorf("RowCount = %d, want 0", res.RowCount)
	}
	if len(res.Data) == 0 {
		t.Error("an empty batch still produces a valid parquet file")
	}
}

func TestEncodeRejectsBadRecords(t *testing.T) {
	enc := New(Config{})
	doc := testDoc()

	tests := []struct {
		name string
		rec  map[string]any
	}{
		{"missing required", map[string]any{"order_id": float64(1), "customer": "acme"}},
		{"wrong kind", map[string]any{"order_id": "one", "order_ts": float64(0), "customer": "acme"}},
		{"fractional int", map[string]any{"order_id": 1.25, "order_ts": float64(0), "customer": "acme"}},
	}

	for _, tt := range tests {
		if _, err := enc.Encode(doc, []map[string]any{tt.rec}); err == nil {
			t.Errorf("%s: Encode should fail", tt.name)
		}
	}
}

func TestEncodeUnknownCompression(t *testing.T) {
	enc := New(Config{Compression: "lz77"})
	if _, err := enc.Encode(testDoc(), nil); err == nil {
		t.Fatal("unknown compression should fail")
	}
}

func TestEncodeDropsFieldsOutsideSchema(t *testing.T) {
	enc := New(Config{})
	doc := &schema.Document{Fields: []schema.Field{
		{Name: "a", Type: schema.Int64, Repetition: schema.Required},
	}}

	res, err := enc.Encode(doc, []map[string]any{{"a": float64(7), "stale": "x"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	rows, err := parquet.Read[map[string]any](bytes.NewReader(res.Data), int64(len(res.Data)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if _, present := rows[0]["stale"]; present {
		t.Error("fields outside the schema must not be written")
	}
}

func TestParquetSchemaRejectsInt96(t *testing.T) {
	doc := &schema.Document{Fields: []schema.Field{
		{Name: "legacy", Type: schema.Int96, Repetition: schema.Required},
	}}
	if _, err := ParquetSchema(doc); err == nil {
		t.Fatal("INT96 should be rejected")
	}
}
