package session

import (
	"sort"

	"github.com/annel0/netsync/internal/hooks"
	"github.com/annel0/netsync/internal/transport"
)

// Set набор соединений сервера с хуками жизненного цикла
type Set struct {
	conns map[transport.ConnID]*Connection

	OnConnected     hooks.List[*Connection]
	OnAuthenticated hooks.List[*Connection]
	OnReady         hooks.List[*Connection]
	OnDisconnected  hooks.List[*Connection]
}

// NewSet создаёт пустой набор
func NewSet() *Set {
	return &Set{conns: make(map[transport.ConnID]*Connection)}
}

// Add добавляет соединение и вызывает OnConnected
func (s *Set) Add(c *Connection) {
	s.conns[c.ID] = c
	s.OnConnected.Invoke(c)
}

// Remove удаляет соединение; OnDisconnected вызывается до удаления из набора
func (s *Set) Remove(id transport.ConnID) (*Connection, bool) {
	c, ok := s.conns[id]
	if !ok {
		return nil, false
	}
	s.OnDisconnected.Invoke(c)
	delete(s.conns, id)
	return c, true
}

// Get соединение по id
func (s *Set) Get(id transport.ConnID) (*Connection, bool) {
	c, ok := s.conns[id]
	return c, ok
}

// Len число соединений
func (s *Set) Len() int { return len(s.conns) }

// All соединения по возрастанию id
func (s *Set) All() []*Connection {
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ready готовые к приёму мира соединения по возрастанию id
func (s *Set) Ready() []*Connection {
	all := s.All()
	out := all[:0]
	for _, c := range all {
		if c.IsReady {
			out = append(out, c)
		}
	}
	return out
}
