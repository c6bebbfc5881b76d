package interest

import (
	"fmt"
	"sort"
	"time"

	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/logging"
	"github.com/annel0/netsync/internal/session"
	"github.com/annel0/netsync/internal/transport"
)

// Notifier получает переходы видимости. Show: отправить spawn,
// Hide: отправить destroy (или hide для объектов сцены).
type Notifier interface {
	Show(e *entity.Entity, conn *session.Connection)
	Hide(e *entity.Entity, conn *session.Connection)
}

// Stats итог одного Update
type Stats struct {
	Rebuilt bool
	Shown   int
	Hidden  int
}

// Manager ведёт отношение наблюдения между сущностями реестра и готовыми соединениями
type Manager struct {
	strategy       Strategy
	registry       *entity.Registry
	notifier       Notifier
	updateInterval time.Duration

	conns        map[transport.ConnID]*session.Connection
	pendingSpawn []*entity.Entity
	lastRebuild  time.Time
	rebuiltOnce  bool

	logger *logging.Logger
}

// NewManager создаёт менеджер. updateInterval <= 0: пересборка на каждом Update.
func NewManager(strategy Strategy, registry *entity.Registry, notifier Notifier, updateInterval time.Duration) *Manager {
	return &Manager{
		strategy:       strategy,
		registry:       registry,
		notifier:       notifier,
		updateInterval: updateInterval,
		conns:          make(map[transport.ConnID]*session.Connection),
		logger:         logging.GetInterestLogger(),
	}
}

// Strategy текущая стратегия
func (m *Manager) Strategy() Strategy { return m.strategy }

// ConnectionCount число соединений, участвующих в видимости
func (m *Manager) ConnectionCount() int { return len(m.conns) }

// AddConnection подключает готовое соединение и сразу показывает ему всё, что оно должно видеть
func (m *Manager) AddConnection(c *session.Connection) Stats {
	var st Stats
	if _, ok := m.conns[c.ID]; ok {
		return st
	}
	m.conns[c.ID] = c
	v := m.viewer(c)
	for _, e := range m.registry.All() {
		if !e.Live() {
			continue
		}
		if m.ownedBy(e, c.ID) || m.strategy.OnCheckObserver(e, v) {
			if m.show(e, c) {
				st.Shown++
			}
		}
	}
	m.logger.Debug("conn %d added to interest, sees %d entities", c.ID, c.ObservingCount())
	return st
}

// RemoveConnection убирает соединение из всех наборов наблюдателей без уведомлений:
// соединение уже не готово или отключено.
func (m *Manager) RemoveConnection(conn transport.ConnID) {
	c, ok := m.conns[conn]
	if !ok {
		return
	}
	delete(m.conns, conn)
	for _, id := range c.ClearObserving() {
		if e, ok := m.registry.Get(id); ok {
			e.RemoveObserver(conn)
		}
	}
	// сущности, снятые с реестра, но ещё не разосланные, тоже не должны хранить соединение
	for _, e := range m.pendingSpawn {
		e.RemoveObserver(conn)
	}
}

// OnSpawned ставит сущность в очередь: наблюдатели будут назначены на ближайшем Update
func (m *Manager) OnSpawned(e *entity.Entity) {
	m.strategy.OnSpawned(e)
	m.pendingSpawn = append(m.pendingSpawn, e)
}

// OnDestroyed снимает всех наблюдателей сущности и возвращает их. Сообщения
// об уничтожении рассылает вызывающий код.
func (m *Manager) OnDestroyed(e *entity.Entity) []*session.Connection {
	m.strategy.OnDestroyed(e)
	for i, p := range m.pendingSpawn {
		if p == e {
			m.pendingSpawn = append(m.pendingSpawn[:i], m.pendingSpawn[i+1:]...)
			break
		}
	}
	var out []*session.Connection
	for _, id := range e.Observers() {
		e.RemoveObserver(id)
		if c, ok := m.conns[id]; ok {
			c.RemoveObserving(e.NetID)
			out = append(out, c)
		}
	}
	return out
}

// Update обрабатывает очередь новых сущностей и, если прошёл updateInterval,
// пересчитывает видимость целиком.
func (m *Manager) Update(now time.Time) Stats {
	var st Stats
	if len(m.pendingSpawn) > 0 {
		pending := m.pendingSpawn
		m.pendingSpawn = nil
		for _, e := range pending {
			st.Shown += m.CheckEntity(e).Shown
		}
	}

	if m.rebuiltOnce && m.updateInterval > 0 && now.Sub(m.lastRebuild) < m.updateInterval {
		return st
	}
	rb := m.RebuildAll()
	m.lastRebuild = now
	m.rebuiltOnce = true
	st.Rebuilt = true
	st.Shown += rb.Shown
	st.Hidden += rb.Hidden
	return st
}

// CheckEntity показывает сущность всем соединениям, которые должны её видеть, но ещё не видят.
// Скрытие не выполняется: это делает ближайшая полная пересборка.
func (m *Manager) CheckEntity(e *entity.Entity) Stats {
	var st Stats
	if !e.Live() {
		return st
	}
	for _, v := range m.viewers() {
		if e.HasObserver(v.Conn) {
			continue
		}
		if m.ownedBy(e, v.Conn) || m.strategy.OnCheckObserver(e, v) {
			if m.show(e, m.conns[v.Conn]) {
				st.Shown++
			}
		}
	}
	return st
}

// RebuildAll пересчитывает наблюдателей всех сущностей и рассылает разницу.
// Сущности без позиции (не заспавнены, неактивны) теряют всех наблюдателей.
func (m *Manager) RebuildAll() Stats {
	var st Stats
	st.Rebuilt = true

	all := m.registry.All()
	entities := make([]*entity.Entity, 0, len(all))
	for _, e := range all {
		if e.Live() {
			entities = append(entities, e)
		}
	}
	viewers := m.viewers()
	candidates := m.strategy.RebuildAll(entities, viewers)

	for _, e := range all {
		var want ObserverSet
		if e.Live() {
			want = candidates[e.NetID]
			if e.HasOwner {
				if _, ok := m.conns[e.Owner]; ok {
					if want == nil {
						want = make(ObserverSet)
					}
					want.Add(e.Owner)
				}
			}
		}

		for _, id := range e.Observers() {
			if want.Has(id) {
				continue
			}
			c, ok := m.conns[id]
			if !ok {
				// соединение ушло мимо RemoveConnection
				e.RemoveObserver(id)
				continue
			}
			if m.hide(e, c) {
				st.Hidden++
			}
		}

		if len(want) == 0 {
			continue
		}
		ids := make([]transport.ConnID, 0, len(want))
		for id := range want {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			c, ok := m.conns[id]
			if !ok {
				continue
			}
			if m.show(e, c) {
				st.Shown++
			}
		}
	}

	if st.Shown > 0 || st.Hidden > 0 {
		m.logger.Debug("interest rebuild: %d entities, %d viewers, +%d -%d",
			len(entities), len(viewers), st.Shown, st.Hidden)
	}
	return st
}

// CheckSymmetry проверяет, что entity.observers и connection.observing взаимно обратны
func (m *Manager) CheckSymmetry() error {
	for _, e := range m.registry.All() {
		for _, id := range e.Observers() {
			c, ok := m.conns[id]
			if !ok {
				return fmt.Errorf("entity %d observed by unknown conn %d", e.NetID, id)
			}
			if !c.IsObserving(e.NetID) {
				return fmt.Errorf("entity %d lists conn %d, conn does not observe it", e.NetID, id)
			}
		}
	}
	for id, c := range m.conns {
		for _, netID := range c.Observing() {
			e, ok := m.registry.Get(netID)
			if !ok {
				return fmt.Errorf("conn %d observes unknown entity %d", id, netID)
			}
			if !e.HasObserver(id) {
				return fmt.Errorf("conn %d observes entity %d, entity does not list it", id, netID)
			}
		}
	}
	return nil
}

func (m *Manager) show(e *entity.Entity, c *session.Connection) bool {
	if !e.AddObserver(c.ID) {
		return false
	}
	c.AddObserving(e.NetID)
	if m.notifier != nil {
		m.notifier.Show(e, c)
	}
	return true
}

func (m *Manager) hide(e *entity.Entity, c *session.Connection) bool {
	if !e.RemoveObserver(c.ID) {
		return false
	}
	c.RemoveObserving(e.NetID)
	if m.notifier != nil {
		m.notifier.Hide(e, c)
	}
	return true
}

func (m *Manager) ownedBy(e *entity.Entity, conn transport.ConnID) bool {
	return e.HasOwner && e.Owner == conn
}

// viewer позиция соединения: позиция его управляемой сущности, если она жива
func (m *Manager) viewer(c *session.Connection) Viewer {
	v := Viewer{Conn: c.ID}
	if c.Player == entity.NoID {
		return v
	}
	if p, ok := m.registry.Get(c.Player); ok && p.Live() && p.Position.IsFinite() {
		v.Position = p.Position
		v.HasPosition = true
	}
	return v
}

func (m *Manager) viewers() []Viewer {
	ids := make([]transport.ConnID, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Viewer, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.viewer(m.conns[id]))
	}
	return out
}
