package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps exports in process memory. Used by tests and by
// deployments without an object store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, lineMRID, name string, content []byte) error {
	key, err := objectKey(lineMRID, name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, lineMRID, name string) ([]byte, error) {
	key, err := objectKey(lineMRID, name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

// GetURL is unsupported for in-memory content.
func (s *MemoryStore) GetURL(context.Context, string, string) (string, error) {
	return "", nil
}

func (s *MemoryStore) List(_ context.Context, lineMRID string) ([]string, error) {
	lineMRID = strings.TrimSpace(lineMRID)
	if lineMRID == "" {
		return nil, fmt.Errorf("line mrid is required")
	}
	prefix := lineMRID + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			names = append(names, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

func objectKey(lineMRID, name string) (string, error) {
	lineMRID = strings.TrimSpace(lineMRID)
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if lineMRID == "" {
		return "", fmt.Errorf("line mrid is required")
	}
	if name == "" {
		return "", fmt.Errorf("export name is required")
	}
	return lineMRID + "/" + name, nil
}
