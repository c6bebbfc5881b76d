// Package assets: типы сущностей, общие для сервера и клиентов (сервер, бот).
// Идентификаторы и состояние должны совпадать у всех сторон.
package assets

import (
	"github.com/google/uuid"

	"github.com/annel0/netsync/internal/statecodec"
)

var (
	// Player сущность, которой управляет подключённый клиент
	Player = uuid.MustParse("3f2b8c1e-5d4a-4e8f-9a6b-1c2d3e4f5a6b")
	// NPC сущность, которой управляет сервер
	NPC = uuid.MustParse("9b8a7c6d-2e1f-4a3b-8c5d-6e7f8a9b0c1d")
)

// PlayerState реплицируемые поля игрока. Порядок полей задаёт индексы для MarkFieldDirty.
type PlayerState struct {
	Name   string
	Health int32
	Score  uint32
}

// Индексы полей PlayerState
const (
	PlayerName = iota
	PlayerHealth
	PlayerScore
)

// NPCState реплицируемые поля NPC
type NPCState struct {
	Kind  uint8
	Label string
}

// Register регистрирует кодеки всех ассетов
func Register(codecs *statecodec.Registry) error {
	if _, err := codecs.Register(Player, &PlayerState{}); err != nil {
		return err
	}
	if _, err := codecs.Register(NPC, &NPCState{}); err != nil {
		return err
	}
	return nil
}
