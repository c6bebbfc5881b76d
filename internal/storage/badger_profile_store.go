package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

const profileKeyPrefix = "profile:"

// BadgerProfileStore хранит профили во встроенной BadgerDB (JSON по ключу profile:<username>)
type BadgerProfileStore struct {
	db    *badger.DB
	mutex sync.RWMutex
	ready bool
}

// NewBadgerProfileStore открывает БД в dataPath/profiles
func NewBadgerProfileStore(dataPath string) (*BadgerProfileStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "profiles"))
	opts.Logger = nil
	return openBadgerProfileStore(opts)
}

// NewInMemoryBadgerProfileStore БД без файлов, для тестов
func NewInMemoryBadgerProfileStore() (*BadgerProfileStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadgerProfileStore(opts)
}

func openBadgerProfileStore(opts badger.Options) (*BadgerProfileStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerProfileStore{db: db, ready: true}, nil
}

func profileKey(username string) []byte {
	return []byte(profileKeyPrefix + username)
}

func (s *BadgerProfileStore) check() error {
	if !s.ready {
		return errors.New("storage: badger store closed")
	}
	return nil
}

func (s *BadgerProfileStore) Save(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ошибка сериализации профиля %s: %w", p.Username, err)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.check(); err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(p.Username), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения профиля %s в BadgerDB: %w", p.Username, err)
	}
	return nil
}

func (s *BadgerProfileStore) Load(ctx context.Context, username string) (Profile, bool, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, false, err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.check(); err != nil {
		return Profile{}, false, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(username))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("ошибка чтения профиля %s из BadgerDB: %w", username, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, false, fmt.Errorf("ошибка десериализации профиля %s: %w", username, err)
	}
	return p, true, nil
}

func (s *BadgerProfileStore) Delete(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.check(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := profileKey(username)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

// BatchSave пишет через WriteBatch: одна фиксация на весь набор
func (s *BadgerProfileStore) BatchSave(ctx context.Context, profiles []Profile) error {
	if len(profiles) == 0 {
		return nil
	}
	if err := validateAll(profiles); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.check(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, p := range profiles {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("ошибка сериализации профиля %s: %w", p.Username, err)
		}
		if err := wb.Set(profileKey(p.Username), data); err != nil {
			return fmt.Errorf("ошибка записи профиля %s в batch: %w", p.Username, err)
		}
	}
	return wb.Flush()
}

// Count перебирает ключи с префиксом profile:
func (s *BadgerProfileStore) Count() (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(profileKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerProfileStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.ready {
		return nil
	}
	s.ready = false
	return s.db.Close()
}
