// Package session: серверное представление соединения клиента.
package session

import (
	"sort"
	"time"

	"github.com/annel0/netsync/internal/batch"
	"github.com/annel0/netsync/internal/transport"
)

// Identity результат аутентификации
type Identity struct {
	PlayerID uint64
	Username string
	IsAdmin  bool
}

// Connection логический клиент на сервере. Живёт от EventConnected до EventDisconnected.
// Используется только из потока тика.
type Connection struct {
	ID transport.ConnID

	IsReady         bool
	IsAuthenticated bool
	Identity        Identity

	ConnectedAt  time.Time
	LastActivity time.Time
	// RTT последняя оценка по Ping/Pong, если клиент сообщает время
	RTT time.Duration

	// Player управляемая сущность; 0: нет (соединение не участвует в расчёте видимости)
	Player uint32

	observing map[uint32]struct{}
	batchers  [transport.ChannelCount]*batch.Batcher
}

// New создаёт соединение с батчерами для каждого канала
func New(id transport.ConnID, now time.Time, thresholds [transport.ChannelCount]int) *Connection {
	c := &Connection{
		ID:           id,
		ConnectedAt:  now,
		LastActivity: now,
		observing:    make(map[uint32]struct{}),
	}
	for ch := range c.batchers {
		c.batchers[ch] = batch.NewBatcher(thresholds[ch])
	}
	return c
}

// Batcher батчер канала ch
func (c *Connection) Batcher(ch transport.Channel) *batch.Batcher {
	return c.batchers[ch]
}

// DiscardBatches выбрасывает неотправленные сообщения всех каналов
func (c *Connection) DiscardBatches() {
	for _, b := range c.batchers {
		b.Discard()
	}
}

// PendingMessages сумма сообщений в очередях всех каналов
func (c *Connection) PendingMessages() int {
	n := 0
	for _, b := range c.batchers {
		n += b.Pending()
	}
	return n
}

// AddObserving отмечает, что соединение видит сущность; false: уже видело
func (c *Connection) AddObserving(netID uint32) bool {
	if _, ok := c.observing[netID]; ok {
		return false
	}
	c.observing[netID] = struct{}{}
	return true
}

// RemoveObserving снимает отметку; false: её не было
func (c *Connection) RemoveObserving(netID uint32) bool {
	if _, ok := c.observing[netID]; !ok {
		return false
	}
	delete(c.observing, netID)
	return true
}

// IsObserving видит ли соединение сущность
func (c *Connection) IsObserving(netID uint32) bool {
	_, ok := c.observing[netID]
	return ok
}

// ObservingCount число видимых сущностей
func (c *Connection) ObservingCount() int { return len(c.observing) }

// Observing видимые сущности по возрастанию id
func (c *Connection) Observing() []uint32 {
	out := make([]uint32, 0, len(c.observing))
	for id := range c.observing {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClearObserving очищает набор и возвращает бывшие в нём id
func (c *Connection) ClearObserving() []uint32 {
	ids := c.Observing()
	c.observing = make(map[uint32]struct{})
	return ids
}
