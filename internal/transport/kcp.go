package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/netsync/internal/config"
	"github.com/annel0/netsync/internal/logging"
)

// KCPConfig параметры KCP транспорта
type KCPConfig struct {
	// Compression "none" или "zstd"
	Compression    string
	MaxMessageSize int
	IdleTimeout    time.Duration
	// CheckInterval период проверки неактивных соединений
	CheckInterval time.Duration
}

// DefaultKCPConfig настройки по умолчанию
func DefaultKCPConfig() KCPConfig {
	return KCPConfig{
		Compression:    "none",
		MaxMessageSize: DefaultMaxMessageSize,
		IdleTimeout:    30 * time.Second,
		CheckInterval:  5 * time.Second,
	}
}

// KCPConfigFrom настройки по секциям transport и batching
func KCPConfigFrom(tc config.TransportConfig, bc config.BatchingConfig) KCPConfig {
	kc := DefaultKCPConfig()
	if tc.Compression != "" {
		kc.Compression = tc.Compression
	}
	if bc.MaxMessageSize > 0 {
		kc.MaxMessageSize = bc.MaxMessageSize
	}
	kc.IdleTimeout = tc.IdleTimeoutDuration()
	return kc
}

// tuneSession настраивает KCP сессию под игровой трафик
func tuneSession(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetWriteDelay(false)
	sess.SetNoDelay(1, 20, 2, 1) // Агрессивные настройки для игр
	sess.SetWindowSize(512, 512)
	sess.SetMtu(1400)
}

// KCPServer серверный транспорт поверх kcp-go. Оба канала идут через один надёжный
// KCP поток; номер канала передаётся в заголовке фрейма.
type KCPServer struct {
	addr   string
	config KCPConfig
	inbox  *Inbox
	codec  *frameCodec
	logger *logging.Logger

	listener *kcp.Listener

	conns   map[ConnID]*kcpConn
	connsMu sync.RWMutex
	nextID  uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type kcpConn struct {
	id       ConnID
	sess     *kcp.UDPSession
	sendMu   sync.Mutex
	lastSeen atomic.Int64
	closed   atomic.Bool
}

// NewKCPServer создаёт сервер, слушающий addr
func NewKCPServer(addr string, config KCPConfig, inbox *Inbox) (*KCPServer, error) {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 5 * time.Second
	}
	codec, err := newFrameCodec(config.Compression, config.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	return &KCPServer{
		addr:   addr,
		config: config,
		inbox:  inbox,
		codec:  codec,
		logger: logging.GetNetworkLogger(),
		conns:  make(map[ConnID]*kcpConn),
	}, nil
}

// Start запускает сервер
func (s *KCPServer) Start() error {
	listener, err := kcp.ListenWithOptions(s.addr, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop()
	if s.config.IdleTimeout > 0 {
		s.wg.Add(1)
		go s.timeoutLoop()
	}

	s.logger.Info("KCP transport listening on %s", listener.Addr())
	return nil
}

// Addr фактический адрес (полезно при порте 0)
func (s *KCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop останавливает сервер и закрывает все соединения
func (s *KCPServer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	conns := make([]*kcpConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		s.closeConn(c, ErrClosed, false)
	}

	s.wg.Wait()
	s.codec.close()
	s.logger.Info("KCP transport stopped")
	return nil
}

func (s *KCPServer) MaxMessageSize(Channel) int { return s.config.MaxMessageSize }

// acceptLoop принимает входящие соединения
func (s *KCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		sess, err := s.listener.AcceptKCP()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to accept connection: %v", err)
				continue
			}
		}
		tuneSession(sess)

		c := &kcpConn{
			id:   ConnID(atomic.AddUint32(&s.nextID, 1)),
			sess: sess,
		}
		c.lastSeen.Store(time.Now().UnixNano())

		s.connsMu.Lock()
		s.conns[c.id] = c
		s.connsMu.Unlock()

		s.logger.Info("Client %d connected from %s", c.id, sess.RemoteAddr())
		s.inbox.Push(s.ctx, Event{Kind: EventConnected, Conn: c.id})

		s.wg.Add(1)
		go s.readLoop(c)
	}
}

// readLoop читает фреймы клиента до ошибки
func (s *KCPServer) readLoop(c *kcpConn) {
	defer s.wg.Done()

	for {
		ch, payload, err := s.codec.decode(c.sess)
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) {
				s.logger.Warn("Read from client %d failed: %v", c.id, err)
			}
			s.closeConn(c, err, true)
			return
		}
		c.lastSeen.Store(time.Now().UnixNano())
		s.inbox.Push(s.ctx, Event{Kind: EventData, Conn: c.id, Channel: ch, Data: payload})
	}
}

// timeoutLoop отключает неактивных клиентов
func (s *KCPServer) timeoutLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.checkTimeouts(now)
		}
	}
}

func (s *KCPServer) checkTimeouts(now time.Time) {
	var expired []*kcpConn
	s.connsMu.RLock()
	for _, c := range s.conns {
		if now.Sub(time.Unix(0, c.lastSeen.Load())) > s.config.IdleTimeout {
			expired = append(expired, c)
		}
	}
	s.connsMu.RUnlock()

	for _, c := range expired {
		s.logger.Warn("Client %d timed out", c.id)
		s.closeConn(c, fmt.Errorf("idle timeout %s", s.config.IdleTimeout), true)
	}
}

// closeConn закрывает соединение ровно один раз. notify: сообщить потоку тика;
// при Disconnect и Stop не сообщаем, вызывающий уже знает о закрытии
func (s *KCPServer) closeConn(c *kcpConn, reason error, notify bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	s.connsMu.Lock()
	delete(s.conns, c.id)
	s.connsMu.Unlock()

	c.sess.Close()
	if notify {
		s.inbox.Push(s.ctx, Event{Kind: EventDisconnected, Conn: c.id, Err: reason})
	}
	s.logger.Info("Client %d disconnected", c.id)
}

func (s *KCPServer) Send(conn ConnID, ch Channel, data []byte) error {
	s.connsMu.RLock()
	c, ok := s.conns[conn]
	s.connsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, conn)
	}

	frame, err := s.codec.encode(ch, data)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	_, err = c.sess.Write(frame)
	c.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write to client %d: %w", conn, err)
	}
	return nil
}

func (s *KCPServer) Disconnect(conn ConnID) error {
	s.connsMu.RLock()
	c, ok := s.conns[conn]
	s.connsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, conn)
	}
	// поток тика вызывает Disconnect сам и ждать места в своей же очереди не может
	s.closeConn(c, nil, false)
	return nil
}

// KCPClient клиентский транспорт поверх kcp-go
type KCPClient struct {
	config KCPConfig
	inbox  *Inbox
	codec  *frameCodec
	logger *logging.Logger

	mu     sync.Mutex
	sess   *kcp.UDPSession
	sendMu sync.Mutex
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKCPClient создаёт клиента; события приходят в inbox
func NewKCPClient(config KCPConfig, inbox *Inbox) (*KCPClient, error) {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	codec, err := newFrameCodec(config.Compression, config.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	return &KCPClient{
		config: config,
		inbox:  inbox,
		codec:  codec,
		logger: logging.GetNetworkLogger(),
	}, nil
}

// Connect устанавливает соединение с сервером
func (c *KCPClient) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return fmt.Errorf("already connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sess, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	tuneSession(sess)

	c.sess = sess
	c.closed.Store(false)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.inbox.Push(c.ctx, Event{Kind: EventConnected, Conn: ServerConnID})

	c.wg.Add(1)
	go c.readLoop(sess)

	c.logger.Info("KCP client connected: addr=%s", addr)
	return nil
}

func (c *KCPClient) readLoop(sess *kcp.UDPSession) {
	defer c.wg.Done()

	for {
		ch, payload, err := c.codec.decode(sess)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("Read from server failed: %v", err)
			}
			c.shutdown(err, true)
			return
		}
		c.inbox.Push(c.ctx, Event{Kind: EventData, Conn: ServerConnID, Channel: ch, Data: payload})
	}
}

func (c *KCPClient) shutdown(reason error, notify bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	sess, ctx, cancel := c.sess, c.ctx, c.cancel
	c.sess = nil
	c.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
	if notify {
		c.inbox.Push(ctx, Event{Kind: EventDisconnected, Conn: ServerConnID, Err: reason})
	}
	if cancel != nil {
		cancel()
	}
}

func (c *KCPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

func (c *KCPClient) MaxMessageSize(Channel) int { return c.config.MaxMessageSize }

func (c *KCPClient) Send(ch Channel, data []byte) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	frame, err := c.codec.encode(ch, data)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	_, err = sess.Write(frame)
	c.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// Disconnect закрывает соединение и ждёт завершения чтения
func (c *KCPClient) Disconnect() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	c.shutdown(nil, false)
	// читатель мог начать закрытие сам и ждать места в очереди: отмена его отпускает
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}
