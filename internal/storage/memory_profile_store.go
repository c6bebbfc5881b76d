package storage

import (
	"context"
	"sync"
)

// MemoryProfileStore хранит профили в памяти процесса.
// Используется, когда внешнее хранилище не настроено, и в тестах.
// Данные теряются при перезапуске сервера.
type MemoryProfileStore struct {
	mu   sync.RWMutex
	data map[string]Profile
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{data: make(map[string]Profile)}
}

func (s *MemoryProfileStore) Save(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.data[p.Username] = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryProfileStore) Load(ctx context.Context, username string) (Profile, bool, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[username]
	return p, ok, nil
}

func (s *MemoryProfileStore) Delete(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[username]; !ok {
		return ErrNotFound
	}
	delete(s.data, username)
	return nil
}

// BatchSave записывает всё или ничего: при невалидном профиле не меняется ни один
func (s *MemoryProfileStore) BatchSave(ctx context.Context, profiles []Profile) error {
	if len(profiles) == 0 {
		return nil
	}
	if err := validateAll(profiles); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range profiles {
		s.data[p.Username] = p
	}
	return nil
}

// Count число сохранённых профилей
func (s *MemoryProfileStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryProfileStore) Close() error { return nil }
