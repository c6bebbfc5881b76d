package entity

import (
	"errors"
	"fmt"
	"sort"

	"github.com/annel0/netsync/internal/transport"
	"github.com/annel0/netsync/internal/vec"
)

var (
	// ErrDuplicateSpawn сущность уже зарегистрирована
	ErrDuplicateSpawn = errors.New("entity: already spawned")
	// ErrUnknownEntity сущность с таким id не найдена
	ErrUnknownEntity = errors.New("entity: unknown network id")
	// ErrIDSpaceExhausted закончились идентификаторы, помещающиеся в формат id
	ErrIDSpaceExhausted = errors.New("entity: network id space exhausted")
)

// Owner владелец сущности (соединение с правом записи)
type Owner struct {
	Conn  transport.ConnID
	Valid bool
}

// NoOwner сущностью владеет только сервер
var NoOwner = Owner{}

// OwnedBy владелец: соединение conn
func OwnedBy(conn transport.ConnID) Owner { return Owner{Conn: conn, Valid: true} }

// Registry серверный реестр: единственный источник сетевых идентификаторов.
// Идентификаторы выдаются монотонно начиная с 1 и не переиспользуются.
type Registry struct {
	entities map[uint32]*Entity
	nextID   uint32
	maxID    uint32

	sorted      []*Entity
	sortedValid bool
}

// NewRegistry создаёт реестр; maxID: наибольший id, который умещается в формат идентификатора
func NewRegistry(maxID uint32) *Registry {
	if maxID == 0 {
		maxID = ^uint32(0)
	}
	return &Registry{
		entities: make(map[uint32]*Entity),
		nextID:   1,
		maxID:    maxID,
	}
}

// Spawn регистрирует сущность и выдаёт ей новый id
func (r *Registry) Spawn(e *Entity, pos vec.Vec3, rot vec.Quat, owner Owner) (uint32, error) {
	if e == nil {
		return NoID, fmt.Errorf("entity: spawn of nil entity")
	}
	if e.spawned {
		return NoID, fmt.Errorf("%w: net id %d", ErrDuplicateSpawn, e.NetID)
	}
	if r.nextID > r.maxID || r.nextID == 0 {
		return NoID, fmt.Errorf("%w: max %d", ErrIDSpaceExhausted, r.maxID)
	}

	id := r.nextID
	r.nextID++

	e.NetID = id
	e.Position = pos
	e.Rotation = rot
	e.Owner = owner.Conn
	e.HasOwner = owner.Valid
	e.spawned = true
	e.despawned = false
	if e.observers == nil {
		e.observers = make(map[transport.ConnID]struct{})
	}

	r.entities[id] = e
	r.sortedValid = false
	return id, nil
}

// Despawn снимает сущность с регистрации. Наблюдатели сохраняются у сущности,
// чтобы вызывающий код разослал им destroy.
func (r *Registry) Despawn(id uint32) (*Entity, error) {
	e, ok := r.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	delete(r.entities, id)
	e.despawned = true
	e.spawned = false
	r.sortedValid = false
	return e, nil
}

// Get возвращает сущность по id
func (r *Registry) Get(id uint32) (*Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// Len число живых сущностей
func (r *Registry) Len() int { return len(r.entities) }

// NextID id, который получит следующая сущность
func (r *Registry) NextID() uint32 { return r.nextID }

// All сущности в порядке возрастания id. Срез принадлежит реестру и действителен до
// следующего Spawn/Despawn.
func (r *Registry) All() []*Entity {
	if !r.sortedValid {
		r.sorted = r.sorted[:0]
		for _, e := range r.entities {
			r.sorted = append(r.sorted, e)
		}
		sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i].NetID < r.sorted[j].NetID })
		r.sortedValid = true
	}
	return r.sorted
}

// OwnedBy сущности, принадлежащие соединению conn
func (r *Registry) OwnedBy(conn transport.ConnID) []*Entity {
	var out []*Entity
	for _, e := range r.All() {
		if e.HasOwner && e.Owner == conn {
			out = append(out, e)
		}
	}
	return out
}
