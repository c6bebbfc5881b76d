// Package replication связывает реестр сущностей, видимость, кодеки и батчинг
// в цикл тика сервера и клиента.
//
// Всё состояние принадлежит потоку тика. Транспорт передаёт события только
// через transport.Inbox, который разбирается в начале Tick.
package replication

import (
	"fmt"
	"time"

	"github.com/annel0/netsync/internal/bitpack"
	"github.com/annel0/netsync/internal/config"
	"github.com/annel0/netsync/internal/statecodec"
	"github.com/annel0/netsync/internal/vec"
)

// Packers битовые упаковщики, построенные из секции compression.
// Обе стороны обязаны строить их из одинаковых настроек.
type Packers struct {
	ID       *bitpack.VarUIntPacker
	Position *bitpack.PositionPacker
	Rotation *bitpack.QuaternionPacker
	Strict   bool
}

// NewPackers создаёт упаковщики. Строгий режим включён, если он задан в конфиге
// или бинарник собран с тегом netdebug.
func NewPackers(cc config.CompressionConfig) (*Packers, error) {
	id, err := bitpack.NewVarUIntPacker(cc.IDBitsSmall, cc.IDBitsMedium, cc.IDBitsLarge)
	if err != nil {
		return nil, fmt.Errorf("id packer: %w", err)
	}
	pos, err := bitpack.NewPositionPacker(
		vec.Vec3{X: cc.PositionMin.X, Y: cc.PositionMin.Y, Z: cc.PositionMin.Z},
		vec.Vec3{X: cc.PositionMax.X, Y: cc.PositionMax.Y, Z: cc.PositionMax.Z},
		cc.PositionPrecision,
	)
	if err != nil {
		return nil, fmt.Errorf("position packer: %w", err)
	}
	rot, err := bitpack.NewQuaternionPacker(cc.RotationBits)
	if err != nil {
		return nil, fmt.Errorf("rotation packer: %w", err)
	}
	return &Packers{ID: id, Position: pos, Rotation: rot, Strict: cc.Strict || bitpack.DefaultStrict}, nil
}

// MaxNetID наибольший id, который помещается в формат идентификатора
func (p *Packers) MaxNetID() uint32 {
	m := p.ID.MaxValue()
	if m > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(m)
}

// World общий контекст одной симуляции: настройки, упаковщики, кодеки состояний и часы.
// Несколько World в одном процессе независимы.
type World struct {
	Config  *config.Config
	Packers *Packers
	Codecs  *statecodec.Registry
	Now     func() time.Time

	transforms *TransformSystem
}

// NewWorld проверяет конфиг и строит контекст. codecs может быть nil.
func NewWorld(cfg *config.Config, codecs *statecodec.Registry) (*World, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	packers, err := NewPackers(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if codecs == nil {
		codecs = statecodec.NewRegistry()
	}
	return &World{
		Config:     cfg,
		Packers:    packers,
		Codecs:     codecs,
		Now:        time.Now,
		transforms: NewTransformSystem(packers),
	}, nil
}

// Transforms упаковка трансформов этого мира
func (w *World) Transforms() *TransformSystem { return w.transforms }

// Fingerprint отпечаток настроек сжатия
func (w *World) Fingerprint() uint64 { return w.Config.Compression.Fingerprint() }
