package localstore

import (
	"sync"
	"time"

	"github.com/sakif/flipbook/internal/clock"
)

// MemoryStore keeps values in memory. Values still go through JSON so it
// behaves like FileStore.
type MemoryStore struct {
	clock clock.Clock

	mu   sync.Mutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. A nil clock uses the wall clock.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clock.OrReal(c), data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string, v any) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	env, err := open(raw)
	if err != nil {
		return false, err
	}
	if env.expired(s.clock.Now()) {
		delete(s.data, key)
		return false, nil
	}
	if err := decode(env, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Set(key string, v any, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	raw, err := seal(v, ttl, s.clock.Now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}
