package storage

import (
	"context"
	"encoding/json"
	"sync"
)

type memoryStore struct {
	mu     sync.Mutex
	data   map[string]json.RawMessage
	closed bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{data: map[string]json.RawMessage{}}
}

func (s *memoryStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			out[k] = cloneRaw(v)
		}
	}
	return out, nil
}

func (s *memoryStore) Set(ctx context.Context, values map[string]json.RawMessage) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k, v := range values {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = cloneRaw(v)
	}
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
