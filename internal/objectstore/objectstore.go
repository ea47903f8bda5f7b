// Package objectstore is where the consumer writes order items. Writes
// overwrite by key, so storing the same record twice is harmless.
package objectstore

import (
	"context"
	"sync"
)

type Store interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

type Object struct {
	Body        []byte
	ContentType string
}

// Memory keeps objects in a map.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

func (m *Memory) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[Path(bucket, key)] = Object{
		Body:        append([]byte(nil), body...),
		ContentType: contentType,
	}
	return nil
}

func (m *Memory) Get(bucket, key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[Path(bucket, key)]
	return obj, ok
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Path is the flat key used by stores without a bucket concept.
func Path(bucket, key string) string {
	return bucket + "/" + key
}
