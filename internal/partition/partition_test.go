package partition

import (
	"reflect"
	"testing"
)

func TestFromKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
		ok   bool
	}{
		{"data/order_ts_hour=2025-11-23T19/abc.json", "order_ts_hour=2025-11-23T19", true},
		{"data/p=A/uuid.ndjson", "p=A", true},
		{"parquet/p=A/part-x.parquet", "", false},
		{"_log/00000000.json", "", false},
		{"schema/schema.json", "", false},
		{"data/noequals/file.json", "", false},
		{"data/=value/file.json", "", false},
		{"data/field=/file.json", "", false},
		{"data/p=A/", "", false},
		{"data/p=A", "", false},
		{"", "", false},
		{"xdata/p=A/file.json", "", false},
	}

	for _, tt := range tests {
		got, ok := FromKey(tt.key)
		if ok != tt.ok || got != tt.want {
			t.Errorf("FromKey(%q) = (%q, %v), want (%q, %v)", tt.key, got, ok, tt.want, tt.ok)
		}
	}
}

func TestGroupPreservesOrder(t *testing.T) {
	keys := []string{
		"data/p=B/1.json",
		"data/p=A/1.json",
		"data/p=B/2.json",
		"not-staging/x.json",
		"data/p=A/2.ndjson",
		"data/broken/3.json",
		"data/p=B/3.json",
	}

	g := Group(keys)

	wantPartitions := []string{"p=B", "p=A"}
	if !reflect.DeepEqual(g.Partitions, wantPartitions) {
		t.Fatalf("Partitions = %v, want %v", g.Partitions, wantPartitions)
	}

	wantB := []string{"data/p=B/1.json", "data/p=B/2.json", "data/p=B/3.json"}
	if !reflect.DeepEqual(g.Keys["p=B"], wantB) {
		t.Errorf("Keys[p=B] = %v, want %v", g.Keys["p=B"], wantB)
	}

	wantA := []string{"data/p=A/1.json", "data/p=A/2.ndjson"}
	if !reflect.DeepEqual(g.Keys["p=A"], wantA) {
		t.Errorf("Keys[p=A] = %v, want %v", g.Keys["p=A"], wantA)
	}

	if g.TotalKeys() != 5 {
		t.Errorf("TotalKeys = %d, want 5", g.TotalKeys())
	}
}

func TestGroupEmpty(t *testing.T) {
	g := Group(nil)
	if !g.Empty() {
		t.Error("Group(nil) should be empty")
	}

	g = Group([]string{"parquet/p=A/part.parquet", "junk"})
	if !g.Empty() {
		t.Error("grouping of non-staging keys should be empty")
	}
}
