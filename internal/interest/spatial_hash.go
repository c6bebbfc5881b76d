package interest

import (
	"math"

	"github.com/annel0/netsync/internal/entity"
)

// SpatialHash равномерная сетка в плоскости XZ. Сущность хранится в ячейке своей
// позиции; запрос по радиусу обходит только ячейки, пересекающие квадрат вокруг зрителя,
// после чего проверяется точная дистанция в 3D.
type SpatialHash struct {
	Radius   float64
	cellSize float64
	cells    map[cellKey]map[uint32]*entity.Entity
	entities map[uint32]cellKey
}

// cellKey ключ ячейки сетки
type cellKey struct {
	x, z int
}

// NewSpatialHash создаёт сетку. Размер ячейки по умолчанию равен радиусу видимости.
func NewSpatialHash(radius, cellSize float64) *SpatialHash {
	if cellSize <= 0 {
		cellSize = radius
	}
	if cellSize <= 0 || math.IsInf(cellSize, 0) || math.IsNaN(cellSize) {
		cellSize = 16.0
	}
	return &SpatialHash{
		Radius:   radius,
		cellSize: cellSize,
		cells:    make(map[cellKey]map[uint32]*entity.Entity),
		entities: make(map[uint32]cellKey),
	}
}

func (s *SpatialHash) keyFor(x, z float64) cellKey {
	return cellKey{x: int(math.Floor(x / s.cellSize)), z: int(math.Floor(z / s.cellSize))}
}

// insert кладёт сущность в ячейку её текущей позиции, перенося из старой при необходимости
func (s *SpatialHash) insert(e *entity.Entity) {
	key := s.keyFor(e.Position.X, e.Position.Z)
	if old, ok := s.entities[e.NetID]; ok {
		if old == key {
			return
		}
		s.removeFromCell(old, e.NetID)
	}
	cell, ok := s.cells[key]
	if !ok {
		cell = make(map[uint32]*entity.Entity)
		s.cells[key] = cell
	}
	cell[e.NetID] = e
	s.entities[e.NetID] = key
}

func (s *SpatialHash) remove(id uint32) {
	key, ok := s.entities[id]
	if !ok {
		return
	}
	delete(s.entities, id)
	s.removeFromCell(key, id)
}

func (s *SpatialHash) removeFromCell(key cellKey, id uint32) {
	cell, ok := s.cells[key]
	if !ok {
		return
	}
	delete(cell, id)
	if len(cell) == 0 {
		delete(s.cells, key)
	}
}

// RebuildAll переиндексирует сущности (они двигаются между пересборками) и
// для каждого зрителя обходит ячейки в радиусе.
func (s *SpatialHash) RebuildAll(entities []*entity.Entity, viewers []Viewer) map[uint32]ObserverSet {
	if math.IsInf(s.Radius, 1) {
		return AlwaysVisible{}.RebuildAll(entities, viewers)
	}

	live := make(map[uint32]struct{}, len(entities))
	for _, e := range entities {
		s.insert(e)
		live[e.NetID] = struct{}{}
	}
	for id := range s.entities {
		if _, ok := live[id]; !ok {
			s.remove(id)
		}
	}

	out := make(map[uint32]ObserverSet)
	r2 := s.Radius * s.Radius
	for _, v := range viewers {
		if !v.HasPosition {
			continue
		}
		lo := s.keyFor(v.Position.X-s.Radius, v.Position.Z-s.Radius)
		hi := s.keyFor(v.Position.X+s.Radius, v.Position.Z+s.Radius)
		for x := lo.x; x <= hi.x; x++ {
			for z := lo.z; z <= hi.z; z++ {
				for id, e := range s.cells[cellKey{x: x, z: z}] {
					if e.Position.DistanceSqTo(v.Position) > r2 {
						continue
					}
					set, ok := out[id]
					if !ok {
						set = make(ObserverSet)
						out[id] = set
					}
					set.Add(v.Conn)
				}
			}
		}
	}
	return out
}

func (s *SpatialHash) OnCheckObserver(e *entity.Entity, v Viewer) bool {
	return withinRadius(s.Radius, e, v)
}

func (s *SpatialHash) OnSpawned(e *entity.Entity) { s.insert(e) }

func (s *SpatialHash) OnDestroyed(e *entity.Entity) { s.remove(e.NetID) }

// CellCount число непустых ячеек; попадает в снимок сервера
func (s *SpatialHash) CellCount() int { return len(s.cells) }
