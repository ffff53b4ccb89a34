package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store with real conditional-put semantics. It backs
// tests and local development; a single mutex makes every operation atomic.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject
}

type memObject struct {
	data    []byte
	etag    string
	modTime time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

// Get returns the content stored at key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotExist
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// Put stores data at key. The existence check and the write happen under one
// lock, so IfNotExist is a true compare-and-swap.
func (m *Memory) Put(ctx context.Context, key string, data []byte, opts *PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts != nil && opts.IfNotExist {
		if _, ok := m.objects[key]; ok {
			return ErrPreconditionFailed
		}
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	sum := sha256.Sum256(stored)
	m.objects[key] = memObject{
		data:    stored,
		etag:    hex.EncodeToString(sum[:]),
		modTime: time.Now().UTC(),
	}
	return nil
}

// Delete removes the object at key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; !ok {
		return ErrNotExist
	}
	delete(m.objects, key)
	return nil
}

// List returns all keys with the given prefix in lexical order.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Head returns metadata for the object at key.
func (m *Memory) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotExist
	}
	return &ObjectInfo{
		Key:     key,
		Size:    int64(len(obj.data)),
		ETag:    obj.etag,
		ModTime: obj.modTime,
	}, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
