// Package interest решает, какие соединения видят какие сущности.
//
// Strategy отвечает только на вопрос "кто кандидат в наблюдатели". Manager
// сравнивает кандидатов с текущими наблюдателями, ведёт симметричный учёт
// (entity.observers <-> connection.observing) и сообщает о переходах Notifier'у.
package interest

import (
	"math"

	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/transport"
	"github.com/annel0/netsync/internal/vec"
)

// Viewer готовое соединение с позицией управляемой сущности
type Viewer struct {
	Conn        transport.ConnID
	Position    vec.Vec3
	HasPosition bool
}

// ObserverSet множество соединений-кандидатов
type ObserverSet map[transport.ConnID]struct{}

// Add добавляет соединение
func (s ObserverSet) Add(c transport.ConnID) { s[c] = struct{}{} }

// Has входит ли соединение
func (s ObserverSet) Has(c transport.ConnID) bool {
	_, ok := s[c]
	return ok
}

// Strategy алгоритм видимости. Вызывается только из потока тика.
type Strategy interface {
	// RebuildAll кандидаты в наблюдатели для каждой сущности из entities.
	// Сущности без кандидатов в результат можно не включать.
	RebuildAll(entities []*entity.Entity, viewers []Viewer) map[uint32]ObserverSet
	// OnCheckObserver должна ли сущность быть видна соединению прямо сейчас
	// (новая сущность или только что готовое соединение)
	OnCheckObserver(e *entity.Entity, v Viewer) bool
	OnSpawned(e *entity.Entity)
	OnDestroyed(e *entity.Entity)
}

// withinRadius общая проверка дистанции. Бесконечный радиус отключает фильтр,
// и тогда позиция зрителя не нужна.
func withinRadius(radius float64, e *entity.Entity, v Viewer) bool {
	if math.IsInf(radius, 1) {
		return true
	}
	if !v.HasPosition {
		return false
	}
	return e.Position.DistanceSqTo(v.Position) <= radius*radius
}

// BruteForce сравнивает каждую сущность с каждым зрителем: O(сущности × соединения)
type BruteForce struct {
	Radius float64
}

// NewBruteForce создаёт стратегию с радиусом видимости radius
func NewBruteForce(radius float64) *BruteForce {
	return &BruteForce{Radius: radius}
}

func (b *BruteForce) RebuildAll(entities []*entity.Entity, viewers []Viewer) map[uint32]ObserverSet {
	out := make(map[uint32]ObserverSet, len(entities))
	for _, e := range entities {
		var set ObserverSet
		for _, v := range viewers {
			if !withinRadius(b.Radius, e, v) {
				continue
			}
			if set == nil {
				set = make(ObserverSet)
			}
			set.Add(v.Conn)
		}
		if set != nil {
			out[e.NetID] = set
		}
	}
	return out
}

func (b *BruteForce) OnCheckObserver(e *entity.Entity, v Viewer) bool {
	return withinRadius(b.Radius, e, v)
}

func (b *BruteForce) OnSpawned(*entity.Entity) {}
func (b *BruteForce) OnDestroyed(*entity.Entity) {}

// AlwaysVisible все готовые соединения видят все сущности
type AlwaysVisible struct{}

func (AlwaysVisible) RebuildAll(entities []*entity.Entity, viewers []Viewer) map[uint32]ObserverSet {
	out := make(map[uint32]ObserverSet, len(entities))
	for _, e := range entities {
		set := make(ObserverSet, len(viewers))
		for _, v := range viewers {
			set.Add(v.Conn)
		}
		out[e.NetID] = set
	}
	return out
}

func (AlwaysVisible) OnCheckObserver(*entity.Entity, Viewer) bool { return true }
func (AlwaysVisible) OnSpawned(*entity.Entity) {}
func (AlwaysVisible) OnDestroyed(*entity.Entity) {}
