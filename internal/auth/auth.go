// Package auth проверяет клиентов до того, как им разрешат запросить мир.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/annel0/netsync/internal/session"
)

var (
	// ErrInvalidToken токен не прошёл проверку
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUserNotFound пользователь не найден
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists пользователь уже существует
	ErrUserExists = errors.New("user already exists")
	// ErrBadCredentials неверное имя или пароль
	ErrBadCredentials = errors.New("auth: bad credentials")
)

// Authenticator проверяет токен из AuthRequest. Вызывается из потока тика,
// поэтому не должен блокироваться надолго.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (session.Identity, error)
}

// AcceptAll пропускает всех. Имя берётся из токена, id выдаются по порядку.
type AcceptAll struct {
	next atomic.Uint64
}

func (a *AcceptAll) Authenticate(_ context.Context, token string) (session.Identity, error) {
	id := a.next.Add(1)
	name := strings.TrimSpace(token)
	if name == "" {
		name = "guest"
	}
	return session.Identity{PlayerID: id, Username: name}, nil
}
