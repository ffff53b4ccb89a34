package objstore

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryPutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "data/p=A/1.json"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("Get absent = %v, want ErrNotExist", err)
	}

	if err := m.Put(ctx, "data/p=A/1.json", []byte(`{"a":1}`), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := m.Get(ctx, "data/p=A/1.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get = %q", got)
	}

	info, err := m.Head(ctx, "data/p=A/1.json")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if info.Size != 7 || info.ETag == "" {
		t.Errorf("Head = %+v", info)
	}

	if err := m.Delete(ctx, "data/p=A/1.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, "data/p=A/1.json"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("Delete absent = %v, want ErrNotExist", err)
	}
}

func TestMemoryConditionalPut(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	opts := &PutOptions{IfNotExist: true}
	if err := m.Put(ctx, "_log/00000000.json", []byte("a"), opts); err != nil {
		t.Fatalf("first conditional put: %v", err)
	}
	if err := m.Put(ctx, "_log/00000000.json", []byte("b"), opts); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("second conditional put = %v, want ErrPreconditionFailed", err)
	}

	// Losing write must not clobber the content.
	got, _ := m.Get(ctx, "_log/00000000.json")
	if string(got) != "a" {
		t.Errorf("content = %q, want original", got)
	}

	// Unconditional overwrite is allowed.
	if err := m.Put(ctx, "_log/00000000.json", []byte("c"), nil); err != nil {
		t.Fatalf("overwrite put: %v", err)
	}
}

func TestMemoryConditionalPutRace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan int, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := m.Put(ctx, "_log/00000000.json", []byte{byte(id)}, &PutOptions{IfNotExist: true})
			if err == nil {
				wins <- id
			} else if !errors.Is(err, ErrPreconditionFailed) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("%d writers won the conditional put, want exactly 1", won)
	}
}

func TestMemoryListOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, k := range []string{"_log/00000002.json", "data/p=A/x.json", "_log/00000000.json", "_log/00000001.json"} {
		m.Put(ctx, k, []byte("x"), nil)
	}

	keys, err := m.List(ctx, "_log/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"_log/00000000.json", "_log/00000001.json", "_log/00000002.json"}
	if len(keys) != 3 {
		t.Fatalf("List = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put(ctx, "k", []byte("abc"), nil)

	got, _ := m.Get(ctx, "k")
	got[0] = 'z'

	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Error("mutating a Get result must not affect stored content")
	}
}
