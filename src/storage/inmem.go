package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InmemStore is a map-backed Store used in tests and local runs. It is
// strongly consistent, which is fine: the protocol must work on a store that
// is *at most* as consistent as this one.
type InmemStore struct {
	sync.Mutex
	objects map[string][]byte
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		objects: make(map[string][]byte),
	}
}

// Put implements Store.
func (s *InmemStore) Put(ctx context.Context, path string, data []byte) error {
	s.Lock()
	defer s.Unlock()

	b := make([]byte, len(data))
	copy(b, data)
	s.objects[path] = b

	return nil
}

// Get implements Store.
func (s *InmemStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	data, ok := s.objects[path]
	if !ok {
		return nil, &NotFoundError{Path: path}
	}

	b := make([]byte, len(data))
	copy(b, data)

	return b, nil
}

// List implements Store.
func (s *InmemStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.Lock()
	defer s.Unlock()

	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

// Len returns the number of stored objects.
func (s *InmemStore) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.objects)
}
