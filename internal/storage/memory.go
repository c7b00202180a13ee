package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
)

// MemoryStore keeps objects in process memory. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	baseURL string
}

type memObject struct {
	data        []byte
	category    string
	contentType string
}

// NewMemoryStore returns an empty store whose URLs start with baseURL
// (default "memory://objects").
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &MemoryStore{objects: make(map[string]memObject), baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload reads body fully and stores it under key.
func (m *MemoryStore) Upload(ctx context.Context, body io.Reader, _ int64, key, category, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return Object{}, err
	}
	m.mu.Lock()
	m.objects[key] = memObject{data: buf.Bytes(), category: category, contentType: contentType}
	m.mu.Unlock()
	return Object{URL: m.baseURL + "/" + key, ID: key, Category: category}, nil
}

// Delete removes id, or returns ErrObjectNotFound.
func (m *MemoryStore) Delete(ctx context.Context, id, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, id)
	return nil
}

// Get returns a copy of the stored bytes for id.
func (m *MemoryStore) Get(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), o.data...), true
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
