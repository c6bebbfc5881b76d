package auth

import "time"

// User учётная запись оператора admin API
type User struct {
	ID           uint64
	Username     string
	PasswordHash string // bcrypt
	CreatedAt    time.Time
	LastLogin    time.Time
	IsAdmin      bool
}

// UserRepository хранилище учётных записей
type UserRepository interface {
	// GetUserByUsername returns (nil, ErrUserNotFound) for unknown users
	GetUserByUsername(username string) (*User, error)
	CreateUser(username string, passwordHash string, isAdmin bool) (*User, error)
	ValidateCredentials(username, password string) (*User, error)
}
