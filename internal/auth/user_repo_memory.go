package auth

import (
	"strings"
	"sync"
	"time"
)

// MemoryUserRepo учётные записи admin API в памяти процесса. Имена без учёта регистра,
// id выдаются подряд с 1.
type MemoryUserRepo struct {
	mu     sync.RWMutex
	byName map[string]*User
	lastID uint64
	now    func() time.Time
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{byName: make(map[string]*User), now: time.Now}
}

// AddUser хеширует пароль и создаёт пользователя
func (r *MemoryUserRepo) AddUser(username, password string, isAdmin bool) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return r.CreateUser(username, hash, isAdmin)
}

func (r *MemoryUserRepo) GetUserByUsername(username string) (*User, error) {
	r.mu.RLock()
	u := r.byName[userKey(username)]
	r.mu.RUnlock()
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// CreateUser сохраняет пользователя с готовым хешем; ErrUserExists, если имя занято
func (r *MemoryUserRepo) CreateUser(username string, passwordHash string, isAdmin bool) (*User, error) {
	key := userKey(username)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName[key] != nil {
		return nil, ErrUserExists
	}
	r.lastID++
	u := &User{
		ID:           r.lastID,
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
		CreatedAt:    r.now(),
		IsAdmin:      isAdmin,
	}
	r.byName[key] = u
	return u, nil
}

// ValidateCredentials проверяет пароль, отмечает вход и при смене PasswordCost
// пересчитывает хеш. Неизвестное имя и неверный пароль неразличимы: ErrBadCredentials.
func (r *MemoryUserRepo) ValidateCredentials(username, password string) (*User, error) {
	r.mu.RLock()
	u := r.byName[userKey(username)]
	var hash string
	if u != nil {
		hash = u.PasswordHash
	}
	r.mu.RUnlock()
	if u == nil || !CheckPassword(hash, password) {
		return nil, ErrBadCredentials
	}

	var rehash string
	if needsRehash(hash) {
		if h, err := HashPassword(password); err == nil {
			rehash = h
		}
	}
	r.mu.Lock()
	u.LastLogin = r.now()
	if rehash != "" {
		u.PasswordHash = rehash
	}
	r.mu.Unlock()
	return u, nil
}

func userKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
