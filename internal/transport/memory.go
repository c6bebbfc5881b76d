package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// DefaultMaxMessageSize максимальный размер фрейма по умолчанию
const DefaultMaxMessageSize = 16 * 1024

// MemoryServer транспорт в памяти процесса: для тестов и локального запуска сервера с ботами.
// Ненадёжный канал может терять сообщения с заданной вероятностью.
type MemoryServer struct {
	inbox *Inbox

	mu      sync.Mutex
	clients map[ConnID]*MemoryClient
	nextID  ConnID
	started bool

	lossRate float64
	rng      *rand.Rand
	maxSize  int
}

// NewMemoryServer создаёт сервер, складывающий события в inbox
func NewMemoryServer(inbox *Inbox) *MemoryServer {
	return &MemoryServer{
		inbox:   inbox,
		clients: make(map[ConnID]*MemoryClient),
		nextID:  1,
		rng:     rand.New(rand.NewSource(1)),
		maxSize: DefaultMaxMessageSize,
	}
}

// SetLoss включает потерю сообщений ненадёжного канала (в обе стороны)
func (s *MemoryServer) SetLoss(rate float64, seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lossRate = rate
	s.rng = rand.New(rand.NewSource(seed))
}

func (s *MemoryServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

// Stop отключает всех клиентов
func (s *MemoryServer) Stop() error {
	s.mu.Lock()
	ids := make([]ConnID, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.started = false
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.disconnect(id, false)
	}
	return nil
}

func (s *MemoryServer) MaxMessageSize(Channel) int { return s.maxSize }

// ConnectionCount число подключенных клиентов
func (s *MemoryServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *MemoryServer) drop(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ch == Unreliable && s.lossRate > 0 && s.rng.Float64() < s.lossRate
}

func (s *MemoryServer) Send(conn ConnID, ch Channel, data []byte) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	if len(data) > s.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), s.maxSize)
	}
	s.mu.Lock()
	c, ok := s.clients[conn]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, conn)
	}
	if s.drop(ch) {
		return nil
	}
	c.inbox.Push(context.Background(), Event{Kind: EventData, Conn: ServerConnID, Channel: ch, Data: clone(data)})
	return nil
}

// Disconnect разрывает соединение. EventDisconnected получает только клиент.
func (s *MemoryServer) Disconnect(conn ConnID) error {
	return s.disconnect(conn, false)
}

// disconnect снимает клиента и сообщает о разрыве другой стороне. toServer: разрыв
// начал клиент, и событие нужно серверу, иначе клиенту.
func (s *MemoryServer) disconnect(conn ConnID, toServer bool) error {
	s.mu.Lock()
	c, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, conn)
	}
	c.detach()
	if toServer {
		s.inbox.PushAsync(Event{Kind: EventDisconnected, Conn: conn})
	} else {
		c.inbox.PushAsync(Event{Kind: EventDisconnected, Conn: ServerConnID})
	}
	return nil
}

func (s *MemoryServer) accept(c *MemoryClient) (ConnID, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.clients[id] = c
	s.mu.Unlock()

	s.inbox.Push(context.Background(), Event{Kind: EventConnected, Conn: id})
	c.inbox.Push(context.Background(), Event{Kind: EventConnected, Conn: ServerConnID})
	return id, nil
}

// MemoryClient клиент транспорта в памяти
type MemoryClient struct {
	server *MemoryServer
	inbox  *Inbox

	mu        sync.Mutex
	id        ConnID
	connected bool
}

// NewMemoryClient создаёт клиента для server; события клиента приходят в inbox
func NewMemoryClient(server *MemoryServer, inbox *Inbox) *MemoryClient {
	return &MemoryClient{server: server, inbox: inbox}
}

// Connect подключается к серверу; addr игнорируется
func (c *MemoryClient) Connect(_ context.Context, _ string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("transport: already connected")
	}
	c.mu.Unlock()

	id, err := c.server.accept(c)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.id = id
	c.connected = true
	c.mu.Unlock()
	return nil
}

// ID идентификатор этого клиента на сервере
func (c *MemoryClient) ID() ConnID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *MemoryClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MemoryClient) MaxMessageSize(ch Channel) int { return c.server.MaxMessageSize(ch) }

func (c *MemoryClient) Send(ch Channel, data []byte) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	c.mu.Lock()
	id, connected := c.id, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if len(data) > c.server.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), c.server.maxSize)
	}
	if c.server.drop(ch) {
		return nil
	}
	c.server.inbox.Push(context.Background(), Event{Kind: EventData, Conn: id, Channel: ch, Data: clone(data)})
	return nil
}

func (c *MemoryClient) Disconnect() error {
	c.mu.Lock()
	id, connected := c.id, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return c.server.disconnect(id, true)
}

func (c *MemoryClient) detach() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
