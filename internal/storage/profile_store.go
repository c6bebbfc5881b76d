// Package storage хранит профили игроков между сессиями: позицию, вращение и
// долговременные поля состояния. Профиль привязан к имени аккаунта, а не к NetID,
// который живёт только до отключения.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/netsync/internal/vec"
)

var (
	// ErrNotFound профиля с таким именем нет
	ErrNotFound = errors.New("storage: profile not found")
	// ErrInvalidProfile профиль не прошёл проверку перед записью
	ErrInvalidProfile = errors.New("storage: invalid profile")
)

// Profile сохраняемая часть игрока
type Profile struct {
	Username string    `json:"username"`
	Position vec.Vec3  `json:"position"`
	Rotation vec.Quat  `json:"rotation"`
	Health   int32     `json:"health"`
	Score    uint32    `json:"score"`
	SavedAt  time.Time `json:"saved_at"`
}

// Validate отвергает профили, которые нельзя записать
func (p *Profile) Validate() error {
	if p.Username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidProfile)
	}
	if len(p.Username) > 64 {
		return fmt.Errorf("%w: username longer than 64 bytes", ErrInvalidProfile)
	}
	if !p.Position.IsFinite() {
		return fmt.Errorf("%w: position %+v is not finite", ErrInvalidProfile, p.Position)
	}
	return nil
}

// ProfileStore хранилище профилей. Реализации безопасны для конкурентного вызова.
type ProfileStore interface {
	// Save создаёт или перезаписывает профиль
	Save(ctx context.Context, p Profile) error
	// Load возвращает профиль; found=false при первом входе
	Load(ctx context.Context, username string) (p Profile, found bool, err error)
	// Delete удаляет профиль; ErrNotFound, если его не было
	Delete(ctx context.Context, username string) error
	// BatchSave записывает несколько профилей за раз (автосохранение)
	BatchSave(ctx context.Context, profiles []Profile) error
	Close() error
}

func validateAll(profiles []Profile) error {
	for i := range profiles {
		if err := profiles[i].Validate(); err != nil {
			return fmt.Errorf("batch[%d]: %w", i, err)
		}
	}
	return nil
}
