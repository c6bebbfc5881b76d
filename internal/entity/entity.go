package entity

import (
	"sort"

	"github.com/google/uuid"

	"github.com/annel0/netsync/internal/dirty"
	"github.com/annel0/netsync/internal/transport"
	"github.com/annel0/netsync/internal/vec"
)

// NoID зарезервированный идентификатор "нет сущности"
const NoID uint32 = 0

// SyncMode путь, по которому уходят изменения трансформа сущности.
// У каждой сущности ровно один путь.
type SyncMode uint8

const (
	// SyncBroadcast трансформ рассылается всем готовым соединениям сообщением TransformBroadcast
	SyncBroadcast SyncMode = iota
	// SyncObservers трансформ уходит в UpdateVars только наблюдателям
	SyncObservers
)

func (m SyncMode) String() string {
	if m == SyncObservers {
		return "observers"
	}
	return "broadcast"
}

// Entity реплицируемый объект
type Entity struct {
	NetID   uint32
	AssetID uuid.UUID
	// SceneID != 0: объект расставлен в сцене заранее
	SceneID uint64

	Owner    transport.ConnID
	HasOwner bool

	Position vec.Vec3
	Rotation vec.Quat
	Scale    vec.Vec3

	Active bool
	Sync   SyncMode

	// Клиентская сторона: этим объектом управляет локальный клиент
	IsOwned       bool
	IsLocalPlayer bool

	// TransformDirty: изменения для TransformBroadcast, FieldsDirty: для UpdateVars
	TransformDirty dirty.State
	FieldsDirty    dirty.State

	// State указатель на структуру, которую кодирует statecodec (может быть nil)
	State any

	observers map[transport.ConnID]struct{}
	spawned   bool
	despawned bool
}

// New создаёт сущность с единичным масштабом и нулевым вращением
func New(assetID uuid.UUID) *Entity {
	return &Entity{
		AssetID:   assetID,
		Rotation:  vec.IdentityQuat,
		Scale:     vec.One3,
		Active:    true,
		observers: make(map[transport.ConnID]struct{}),
	}
}

// IsScene расставлен ли объект в сцене
func (e *Entity) IsScene() bool { return e.SceneID != 0 }

// Live сущность заспавнена, активна и не в процессе удаления.
// Только такие сущности участвуют в расчёте видимости.
func (e *Entity) Live() bool { return e.spawned && !e.despawned && e.Active }

// Spawned зарегистрирована ли сущность в реестре
func (e *Entity) Spawned() bool { return e.spawned }

// SetTransform меняет позицию и вращение и помечает трансформ грязным
func (e *Entity) SetTransform(pos vec.Vec3, rot vec.Quat) {
	e.Position = pos
	e.Rotation = rot
	e.markTransform()
}

// SetPosition меняет только позицию
func (e *Entity) SetPosition(pos vec.Vec3) {
	e.Position = pos
	e.markTransform()
}

// SetScale меняет масштаб. Масштаб в TransformBroadcast не входит, поэтому идёт в UpdateVars.
func (e *Entity) SetScale(scale vec.Vec3) {
	e.Scale = scale
	e.FieldsDirty.Mark(dirty.Transform)
}

func (e *Entity) markTransform() {
	if e.Sync == SyncObservers {
		e.FieldsDirty.Mark(dirty.Transform)
		return
	}
	e.TransformDirty.Mark(dirty.Transform)
}

// MarkFieldDirty помечает поле состояния с индексом index
func (e *Entity) MarkFieldDirty(index int) {
	e.FieldsDirty.Mark(dirty.Field(index))
}

// AddObserver добавляет наблюдателя; false, если он уже был
func (e *Entity) AddObserver(conn transport.ConnID) bool {
	if e.observers == nil {
		e.observers = make(map[transport.ConnID]struct{})
	}
	if _, ok := e.observers[conn]; ok {
		return false
	}
	e.observers[conn] = struct{}{}
	return true
}

// RemoveObserver убирает наблюдателя; false, если его не было
func (e *Entity) RemoveObserver(conn transport.ConnID) bool {
	if _, ok := e.observers[conn]; !ok {
		return false
	}
	delete(e.observers, conn)
	return true
}

// HasObserver наблюдает ли соединение за сущностью
func (e *Entity) HasObserver(conn transport.ConnID) bool {
	_, ok := e.observers[conn]
	return ok
}

// ObserverCount число наблюдателей
func (e *Entity) ObserverCount() int { return len(e.observers) }

// Observers наблюдатели в порядке возрастания id
func (e *Entity) Observers() []transport.ConnID {
	out := make([]transport.ConnID, 0, len(e.observers))
	for c := range e.observers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
