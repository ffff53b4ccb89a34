package schema

import (
	"context"
	"testing"
	"time"

	"github.com/lakeside-io/lakeside/internal/objstore"
)

func utf8() *LogicalType {
	l := UTF8
	return &l
}

func testDoc() *Document {
	return &Document{Fields: []Field{
		{Name: "order_id", Type: Int64, Repetition: Required},
		{Name: "customer", Type: ByteArray, LogicalType: utf8(), Repetition: Required},
		{Name: "amount", Type: Double, Repetition: Optional},
		{Name: "flags", Type: Boolean, Repetition: Optional},
		{Name: "tags", Type: ByteArray, LogicalType: utf8(), Repetition: Repeated},
	}}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"no fields", `{"fields":[]}`},
		{"empty name", `{"fields":[{"name":"","type":"INT64","repetition_type":"REQUIRED"}]}`},
		{"duplicate", `{"fields":[{"name":"a","type":"INT64"},{"name":"a","type":"INT32"}]}`},
		{"bad type", `{"fields":[{"name":"a","type":"VARCHAR"}]}`},
		{"bad repetition", `{"fields":[{"name":"a","type":"INT64","repetition_type":"MAYBE"}]}`},
	}

	for _, tt := range tests {
		if _, err := Parse([]byte(tt.body)); err == nil {
			t.Errorf("%s: Parse should fail", tt.name)
		}
	}
}

func TestParseDocument(t *testing.T) {
	body := `{"fields":[
		{"name":"order_id","type":"INT64","logical_type":null,"repetition_type":"REQUIRED"},
		{"name":"order_ts","type":"INT64","logical_type":"TIMESTAMP_MILLIS","repetition_type":"REQUIRED"},
		{"name":"note","type":"BYTE_ARRAY","logical_type":"UTF8","repetition_type":"OPTIONAL"}
	]}`

	doc, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Fields) != 3 {
		t.Fatalf("fields = %d, want 3", len(doc.Fields))
	}
	f, ok := doc.FieldByName("order_ts")
	if !ok || f.LogicalType == nil || *f.LogicalType != TimestampMillis {
		t.Errorf("order_ts = %+v, want TIMESTAMP_MILLIS", f)
	}
}

func TestValidateRecord(t *testing.T) {
	doc := testDoc()

	tests := []struct {
		name string
		rec  map[string]any
		ok   bool
	}{
		{"valid", map[string]any{"order_id": float64(1), "customer": "acme"}, true},
		{"all fields", map[string]any{"order_id": float64(1), "customer": "acme", "amount": 9.5, "flags": true, "tags": []any{"a", "b"}}, true},
		{"missing required", map[string]any{"customer": "acme"}, false},
		{"null required", map[string]any{"order_id": nil, "customer": "acme"}, false},
		{"wrong kind", map[string]any{"order_id": "1", "customer": "acme"}, false},
		{"fractional int", map[string]any{"order_id": 1.5, "customer": "acme"}, false},
		{"unknown field", map[string]any{"order_id": float64(1), "customer": "acme", "extra": 1.0}, false},
		{"repeated not array", map[string]any{"order_id": float64(1), "customer": "acme", "tags": "a"}, false},
		{"repeated bad element", map[string]any{"order_id": float64(1), "customer": "acme", "tags": []any{"a", 2.0}}, false},
		{"optional null ok", map[string]any{"order_id": float64(1), "customer": "acme", "amount": nil}, true},
	}

	for _, tt := range tests {
		err := doc.ValidateRecord(tt.rec)
		if (err == nil) != tt.ok {
			t.Errorf("%s: ValidateRecord = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestInt32Range(t *testing.T) {
	doc := &Document{Fields: []Field{{Name: "n", Type: Int32, Repetition: Required}}}

	if err := doc.ValidateRecord(map[string]any{"n": float64(1 << 40)}); err == nil {
		t.Error("value beyond INT32 range should be rejected")
	}
	if err := doc.ValidateRecord(map[string]any{"n": float64(42)}); err != nil {
		t.Errorf("in-range INT32 rejected: %v", err)
	}
}

func TestManagerFetchAndCache(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	body := `{"fields":[{"name":"a","type":"INT64","repetition_type":"REQUIRED"}]}`
	if err := store.Put(ctx, Key, []byte(body), nil); err != nil {
		t.Fatalf("seed schema: %v", err)
	}

	m := NewManager(store, time.Hour)

	doc, err := m.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(doc.Fields) != 1 {
		t.Fatalf("fields = %d, want 1", len(doc.Fields))
	}

	// Within TTL the cached document is served even if the store changes.
	newBody := `{"fields":[{"name":"a","type":"INT64","repetition_type":"REQUIRED"},{"name":"b","type":"DOUBLE","repetition_type":"OPTIONAL"}]}`
	if err := store.Put(ctx, Key, []byte(newBody), nil); err != nil {
		t.Fatalf("update schema: %v", err)
	}
	doc, err = m.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(doc.Fields) != 1 {
		t.Errorf("cached document should still have 1 field, got %d", len(doc.Fields))
	}

	// Invalidate forces a refetch.
	m.Invalidate()
	doc, err = m.Get(ctx)
	if err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if len(doc.Fields) != 2 {
		t.Errorf("refetched document should have 2 fields, got %d", len(doc.Fields))
	}
}

func TestManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	m := NewManager(objstore.NewMemory(), time.Hour)

	if _, err := m.Get(ctx); err == nil {
		t.Fatal("Get with no schema document should fail")
	}

	store := objstore.NewMemory()
	store.Put(ctx, Key, []byte("not json"), nil)
	m = NewManager(store, time.Hour)
	if _, err := m.Get(ctx); err == nil {
		t.Fatal("Get with malformed schema document should fail")
	}
}
