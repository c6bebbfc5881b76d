package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/netsync/internal/config"
	"github.com/annel0/netsync/internal/logging"
)

const (
	wsWriteWait   = 10 * time.Second
	wsDefaultPath = "/ws"
)

// WebSocketConfig параметры WebSocket транспорта. Фреймы те же, что у KCP:
// одно бинарное сообщение WebSocket содержит один фрейм.
type WebSocketConfig struct {
	Compression    string
	MaxMessageSize int
	// IdleTimeout без входящих данных и pong соединение закрывается; пинги идут с периодом IdleTimeout/2
	IdleTimeout time.Duration
	Path        string
	// SendQueue очередь исходящих фреймов на соединение
	SendQueue int
}

// DefaultWebSocketConfig настройки по умолчанию
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Compression:    "none",
		MaxMessageSize: DefaultMaxMessageSize,
		IdleTimeout:    30 * time.Second,
		Path:           wsDefaultPath,
		SendQueue:      256,
	}
}

// WebSocketConfigFrom настройки по секциям transport и batching
func WebSocketConfigFrom(tc config.TransportConfig, bc config.BatchingConfig) WebSocketConfig {
	wc := DefaultWebSocketConfig()
	if tc.Compression != "" {
		wc.Compression = tc.Compression
	}
	if bc.MaxMessageSize > 0 {
		wc.MaxMessageSize = bc.MaxMessageSize
	}
	if tc.WebSocketPath != "" {
		wc.Path = tc.WebSocketPath
	}
	wc.IdleTimeout = tc.IdleTimeoutDuration()
	return wc
}

func (wc *WebSocketConfig) normalize() {
	if wc.MaxMessageSize <= 0 {
		wc.MaxMessageSize = DefaultMaxMessageSize
	}
	if wc.Path == "" {
		wc.Path = wsDefaultPath
	}
	if wc.SendQueue <= 0 {
		wc.SendQueue = 256
	}
}

func (wc *WebSocketConfig) pingPeriod() time.Duration {
	if wc.IdleTimeout <= 0 {
		return 30 * time.Second
	}
	return wc.IdleTimeout / 2
}

// WebSocketServer серверный транспорт для браузерных клиентов. Оба канала идут
// через одно TCP соединение, так что ненадёжный канал здесь фактически надёжный.
type WebSocketServer struct {
	addr     string
	config   WebSocketConfig
	inbox    *Inbox
	codec    *frameCodec
	logger   *logging.Logger
	upgrader websocket.Upgrader

	listener net.Listener
	httpSrv  *http.Server

	conns   map[ConnID]*wsConn
	connsMu sync.RWMutex
	nextID  uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type wsConn struct {
	id     ConnID
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
}

// NewWebSocketServer создаёт сервер, слушающий addr
func NewWebSocketServer(addr string, cfg WebSocketConfig, inbox *Inbox) (*WebSocketServer, error) {
	cfg.normalize()
	codec, err := newFrameCodec(cfg.Compression, cfg.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	return &WebSocketServer{
		addr:   addr,
		config: cfg,
		inbox:  inbox,
		codec:  codec,
		logger: logging.GetNetworkLogger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[ConnID]*wsConn),
	}, nil
}

func (s *WebSocketServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server failed: %v", err)
		}
	}()
	s.logger.Info("WebSocket transport listening on ws://%s%s", listener.Addr(), s.config.Path)
	return nil
}

// Addr фактический адрес (полезно при порте 0)
func (s *WebSocketServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *WebSocketServer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.httpSrv.Shutdown(ctx)
		cancel()
	}

	s.connsMu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		s.closeConn(c, ErrClosed, false)
	}

	s.wg.Wait()
	s.codec.close()
	s.logger.Info("WebSocket transport stopped")
	return nil
}

func (s *WebSocketServer) MaxMessageSize(Channel) int { return s.config.MaxMessageSize }

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	c := &wsConn{
		id:   ConnID(atomic.AddUint32(&s.nextID, 1)),
		ws:   ws,
		send: make(chan []byte, s.config.SendQueue),
		done: make(chan struct{}),
	}
	s.connsMu.Lock()
	if s.ctx.Err() != nil {
		s.connsMu.Unlock()
		ws.Close()
		return
	}
	s.conns[c.id] = c
	s.wg.Add(2)
	s.connsMu.Unlock()

	s.logger.Info("Client %d connected from %s", c.id, r.RemoteAddr)
	s.inbox.Push(s.ctx, Event{Kind: EventConnected, Conn: c.id})

	go s.readPump(c)
	go s.writePump(c)
}

// readPump читает фреймы клиента до ошибки
func (s *WebSocketServer) readPump(c *wsConn) {
	defer s.wg.Done()

	c.ws.SetReadLimit(int64(s.config.MaxMessageSize + frameHeaderSize))
	s.extendDeadline(c)
	c.ws.SetPongHandler(func(string) error {
		s.extendDeadline(c)
		return nil
	})

	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Read from client %d failed: %v", c.id, err)
			}
			s.closeConn(c, err, true)
			return
		}
		if kind != websocket.BinaryMessage {
			s.closeConn(c, fmt.Errorf("unexpected websocket message type %d", kind), true)
			return
		}
		s.extendDeadline(c)
		ch, payload, err := s.codec.decode(bytes.NewReader(msg))
		if err != nil {
			s.logger.Warn("Bad frame from client %d: %v", c.id, err)
			s.closeConn(c, err, true)
			return
		}
		s.inbox.Push(s.ctx, Event{Kind: EventData, Conn: c.id, Channel: ch, Data: payload})
	}
}

func (s *WebSocketServer) extendDeadline(c *wsConn) {
	if s.config.IdleTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
	}
}

// writePump единственный писатель соединения: фреймы из очереди и пинги
func (s *WebSocketServer) writePump(c *wsConn) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.closeConn(c, err, true)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.closeConn(c, err, true)
				return
			}
		}
	}
}

// closeConn закрывает соединение ровно один раз; notify как у KCPServer.closeConn
func (s *WebSocketServer) closeConn(c *wsConn, reason error, notify bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	s.connsMu.Lock()
	delete(s.conns, c.id)
	s.connsMu.Unlock()

	close(c.done)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.ws.Close()
	if notify {
		s.inbox.Push(s.ctx, Event{Kind: EventDisconnected, Conn: c.id, Err: reason})
	}
	s.logger.Info("Client %d disconnected", c.id)
}

// Send ставит фрейм в очередь соединения. При переполнении ненадёжные фреймы
// отбрасываются, а для надёжных возвращается ошибка.
func (s *WebSocketServer) Send(conn ConnID, ch Channel, data []byte) error {
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
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %d", ErrUnknownConnection, conn)
	default:
	}
	if ch == Unreliable {
		return nil
	}
	return fmt.Errorf("send queue of client %d is full", conn)
}

func (s *WebSocketServer) Disconnect(conn ConnID) error {
	s.connsMu.RLock()
	c, ok := s.conns[conn]
	s.connsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, conn)
	}
	s.closeConn(c, nil, false)
	return nil
}

// WebSocketClient клиентский транспорт. Пишет только поток тика, поэтому
// отдельная горутина записи не нужна; pong на пинги сервера отвечает gorilla.
type WebSocketClient struct {
	config WebSocketConfig
	inbox  *Inbox
	codec  *frameCodec
	logger *logging.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	sendMu sync.Mutex
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWebSocketClient(cfg WebSocketConfig, inbox *Inbox) (*WebSocketClient, error) {
	cfg.normalize()
	codec, err := newFrameCodec(cfg.Compression, cfg.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	return &WebSocketClient{config: cfg, inbox: inbox, codec: codec, logger: logging.GetNetworkLogger()}, nil
}

// Connect принимает ws://host:port/path или host:port (тогда путь из конфига)
func (c *WebSocketClient) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return fmt.Errorf("already connected")
	}

	url := addr
	if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
		url = "ws://" + addr + c.config.Path
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	ws.SetReadLimit(int64(c.config.MaxMessageSize + frameHeaderSize))

	c.ws = ws
	c.closed.Store(false)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.inbox.Push(c.ctx, Event{Kind: EventConnected, Conn: ServerConnID})

	c.wg.Add(1)
	go c.readLoop(ws)

	c.logger.Info("WebSocket client connected: url=%s", url)
	return nil
}

func (c *WebSocketClient) readLoop(ws *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("Read from server failed: %v", err)
			}
			c.shutdown(err, true)
			return
		}
		ch, payload, err := c.codec.decode(bytes.NewReader(msg))
		if err != nil {
			c.logger.Warn("Bad frame from server: %v", err)
			c.shutdown(err, true)
			return
		}
		c.inbox.Push(c.ctx, Event{Kind: EventData, Conn: ServerConnID, Channel: ch, Data: payload})
	}
}

func (c *WebSocketClient) shutdown(reason error, notify bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	ws, ctx, cancel := c.ws, c.ctx, c.cancel
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ws.Close()
	}
	if notify {
		c.inbox.Push(ctx, Event{Kind: EventDisconnected, Conn: ServerConnID, Err: reason})
	}
	if cancel != nil {
		cancel()
	}
}

func (c *WebSocketClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *WebSocketClient) MaxMessageSize(Channel) int { return c.config.MaxMessageSize }

func (c *WebSocketClient) Send(ch Channel, data []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	frame, err := c.codec.encode(ch, data)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// Disconnect закрывает соединение и ждёт завершения чтения
func (c *WebSocketClient) Disconnect() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	c.shutdown(nil, false)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}
