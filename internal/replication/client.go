package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/netsync/internal/batch"
	"github.com/annel0/netsync/internal/dirty"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/hooks"
	"github.com/annel0/netsync/internal/logging"
	"github.com/annel0/netsync/internal/netbuf"
	"github.com/annel0/netsync/internal/protocol"
	"github.com/annel0/netsync/internal/session"
	"github.com/annel0/netsync/internal/transport"
)

// DefaultPingInterval период Ping по умолчанию
const DefaultPingInterval = 2 * time.Second

// rttAlpha вес нового замера в скользящем среднем RTT (окно в 10 замеров)
const rttAlpha = 2.0 / (10 + 1)

// ErrNotConnected клиент не подключен
var ErrNotConnected = errors.New("replication: client not connected")

// ClientOptions настройки клиента
type ClientOptions struct {
	// PingInterval 0: DefaultPingInterval, отрицательный: без Ping
	PingInterval time.Duration
}

// Client зеркальная сторона. Все методы вызываются из потока тика клиента.
type Client struct {
	world     *World
	transport transport.Client
	inbox     *transport.Inbox
	registry  *entity.ClientRegistry

	fieldTracker     *dirty.Tracker
	transformTracker *dirty.Tracker

	batchers  [transport.ChannelCount]*batch.Batcher
	maxSize   [transport.ChannelCount]int
	frame     *netbuf.Writer
	msg       *netbuf.Writer
	unbatcher batch.Unbatcher

	connected     bool
	authenticated bool
	ready         bool
	identity      session.Identity

	pingInterval time.Duration
	lastPing     time.Time
	rtt          time.Duration
	serverOffset time.Duration

	logger *logging.Logger

	OnConnected     hooks.List[*Client]
	OnAuthenticated hooks.List[session.Identity]
	// OnSpawnFinished начальная выгрузка мира после Ready закончена
	OnSpawnFinished hooks.List[*Client]
	// OnNotReady сервер отказал в Ready или перевёл соединение в NotReady
	OnNotReady     hooks.List[*Client]
	OnDisconnected hooks.List[error]
}

// NewClient собирает клиента. События транспорта должны приходить в inbox.
func NewClient(world *World, tr transport.Client, inbox *transport.Inbox, opts ClientOptions) (*Client, error) {
	if world == nil || tr == nil || inbox == nil {
		return nil, fmt.Errorf("replication: world, transport and inbox are required")
	}
	cfg := world.Config
	c := &Client{
		world:            world,
		transport:        tr,
		inbox:            inbox,
		fieldTracker:     dirty.NewTracker(cfg.Replication.SendIntervalDuration()),
		transformTracker: dirty.NewTracker(cfg.Replication.TransformIntervalDuration()),
		frame:            netbuf.NewWriter(),
		msg:              netbuf.NewWriter(),
		pingInterval:     opts.PingInterval,
		logger:           logging.GetClientLogger(),
	}
	if c.pingInterval == 0 {
		c.pingInterval = DefaultPingInterval
	}
	thresholds := [transport.ChannelCount]int{
		transport.Reliable:   cfg.Batching.ReliableThreshold,
		transport.Unreliable: cfg.Batching.UnreliableThreshold,
	}
	for ch := transport.Channel(0); ch < transport.ChannelCount; ch++ {
		c.maxSize[ch] = cfg.Batching.MaxMessageSize
		if m := tr.MaxMessageSize(ch); m > 0 && m < c.maxSize[ch] {
			c.maxSize[ch] = m
		}
		if thresholds[ch] > c.maxSize[ch] {
			thresholds[ch] = c.maxSize[ch]
		}
		c.batchers[ch] = batch.NewBatcher(thresholds[ch])
	}

	c.registry = entity.NewClientRegistry(c.applyPayload)
	c.registry.SetDefaultFactory(c.defaultSpawn)
	return c, nil
}

// Registry зеркало сущностей
func (c *Client) Registry() *entity.ClientRegistry { return c.registry }

// Connected получено ли событие подключения
func (c *Client) Connected() bool { return c.connected }

// IsAuthenticated сервер принял AuthRequest
func (c *Client) IsAuthenticated() bool { return c.authenticated }

// IsReady клиент запросил мир и сервер не ответил отказом
func (c *Client) IsReady() bool { return c.ready }

// Identity учётная запись, выданная сервером
func (c *Client) Identity() session.Identity { return c.identity }

// RTT сглаженное время кругового пути; 0 до первого Pong
func (c *Client) RTT() time.Duration { return c.rtt }

// ServerTime оценка текущего времени сервера
func (c *Client) ServerTime() time.Time { return c.world.Now().Add(c.serverOffset) }

// Connect подключает транспорт. Подтверждение придёт событием в inbox.
func (c *Client) Connect(ctx context.Context, addr string) error {
	if err := c.transport.Connect(ctx, addr); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	return nil
}

// Authenticate отправляет AuthRequest с токеном
func (c *Client) Authenticate(token string) error {
	return c.send(transport.Reliable, &protocol.AuthRequest{Token: token})
}

// Ready просит сервер прислать мир. Отпечаток настроек сжатия должен совпасть с серверным.
func (c *Client) Ready() error {
	if err := c.send(transport.Reliable, &protocol.Ready{Fingerprint: c.world.Fingerprint()}); err != nil {
		return err
	}
	c.ready = true
	return nil
}

// NotReady отказывается от мира; сервер подтвердит и клиент очистит сущности
func (c *Client) NotReady() error {
	return c.send(transport.Reliable, &protocol.NotReady{})
}

// Disconnect разрывает соединение и очищает состояние
func (c *Client) Disconnect() error {
	err := c.transport.Disconnect()
	c.reset(nil)
	if errors.Is(err, transport.ErrNotConnected) {
		return nil
	}
	return err
}

// Tick входящие события, отправка изменений своих сущностей, Ping, сброс пакетов
func (c *Client) Tick(ctx context.Context) {
	now := c.world.Now()
	c.inbox.Drain(0, func(ev transport.Event) { c.handleEvent(ev, now) })
	if !c.connected {
		return
	}
	if c.ready {
		c.sendOwned(now)
	}
	if c.pingInterval > 0 && (c.lastPing.IsZero() || now.Sub(c.lastPing) >= c.pingInterval) {
		c.lastPing = now
		_ = c.send(transport.Unreliable, &protocol.Ping{ClientTime: now.UnixNano()})
	}
	if err := c.flush(); err != nil {
		c.logger.Warn("send failed, disconnecting: %v", err)
		_ = c.Disconnect()
	}
}

// ===== Фабрика и применение состояния =====

// defaultSpawn сущность для assetId без собственного обработчика: состояние по кодеку ассета
func (c *Client) defaultSpawn(info entity.SpawnInfo) (*entity.Entity, error) {
	e := entity.New(info.AssetID)
	if codec, ok := c.world.Codecs.Get(info.AssetID); ok {
		e.State = codec.New()
	}
	return e, nil
}

// applyPayload трансформ своей сущности сервер не перезаписывает, кроме начального Spawn
func (c *Client) applyPayload(e *entity.Entity, payload []byte, initial bool) error {
	_, err := c.world.applyState(e, payload, e.IsOwned && !initial)
	return err
}

// ===== Входящие =====

func (c *Client) handleEvent(ev transport.Event, now time.Time) {
	switch ev.Kind {
	case transport.EventConnected:
		c.connected = true
		c.logger.Info("connected to server")
		c.OnConnected.Invoke(c)
	case transport.EventDisconnected:
		if !c.connected {
			return
		}
		c.logger.Info("disconnected from server: %v", ev.Err)
		c.reset(ev.Err)
	case transport.EventData:
		c.handleFrame(ev.Data, now)
	}
}

func (c *Client) reset(reason error) {
	wasConnected := c.connected
	c.connected = false
	c.authenticated = false
	c.ready = false
	for _, b := range c.batchers {
		b.Discard()
	}
	c.registry.Clear()
	if wasConnected {
		c.OnDisconnected.Invoke(reason)
	}
}

func (c *Client) handleFrame(data []byte, now time.Time) {
	c.unbatcher.Reset(data)
	for {
		raw, ok, err := c.unbatcher.Next()
		if err != nil {
			c.logger.LogProtocolError(uint32(transport.ServerConnID), err, data)
			return
		}
		if !ok {
			return
		}
		msg, err := protocol.Unpack(raw)
		if err != nil {
			c.logger.LogProtocolError(uint32(transport.ServerConnID), err, raw)
			continue
		}
		c.handleMessage(msg, now)
	}
}

func (c *Client) handleMessage(msg protocol.Message, now time.Time) {
	switch m := msg.(type) {
	case *protocol.AuthResponse:
		if !m.Success {
			c.logger.Warn("authentication rejected: %s", m.Message)
			return
		}
		c.authenticated = true
		c.identity = session.Identity{PlayerID: m.PlayerID, Username: m.Username}
		c.OnAuthenticated.Invoke(c.identity)

	case *protocol.NotReady:
		c.ready = false
		c.registry.Clear()
		c.OnNotReady.Invoke(c)

	case *protocol.SpawnStarted:
		c.registry.BeginInitialSpawn()

	case *protocol.SpawnFinished:
		c.registry.FinishInitialSpawn()
		c.OnSpawnFinished.Invoke(c)

	case *protocol.Spawn:
		_, err := c.registry.ApplySpawnPayload(entity.SpawnInfo{
			NetID:         m.NetID,
			IsLocalPlayer: m.IsLocalPlayer,
			IsOwner:       m.IsOwner,
			SceneID:       m.SceneID,
			AssetID:       m.AssetID,
			Position:      m.Position,
			Rotation:      m.Rotation,
			Scale:         m.Scale,
			Payload:       m.Payload,
		})
		if err != nil {
			c.logger.Warn("spawn %d: %v", m.NetID, err)
		}

	case *protocol.ObjectDestroy:
		if _, err := c.registry.Destroy(m.NetID); err != nil {
			c.logger.Trace("destroy: %v", err)
		}

	case *protocol.ObjectHide:
		if _, err := c.registry.Hide(m.NetID); err != nil {
			c.logger.Trace("hide: %v", err)
		}

	case *protocol.Owner:
		switch {
		case m.IsLocalPlayer:
			c.registry.SetOwner(m.NetID)
		case m.IsOwner:
			if e, ok := c.registry.Get(m.NetID); ok {
				e.IsOwned = true
			}
		default:
			c.registry.ReleaseOwner(m.NetID)
		}

	case *protocol.UpdateVars:
		e, ok := c.registry.Get(m.NetID)
		if !ok {
			c.logger.Trace("update vars for unknown entity %d", m.NetID)
			return
		}
		if err := c.applyPayload(e, m.Payload, false); err != nil {
			c.logger.LogProtocolError(uint32(transport.ServerConnID), err, m.Payload)
		}

	case *protocol.TransformBroadcast:
		records, err := c.world.transforms.Unpack(m.Payload)
		if err != nil {
			c.logger.LogProtocolError(uint32(transport.ServerConnID), err, m.Payload)
			return
		}
		for _, rec := range records {
			e, ok := c.registry.Get(rec.NetID)
			if !ok {
				c.logger.Trace("transform for unknown entity %d", rec.NetID)
				continue
			}
			if e.IsOwned {
				continue
			}
			e.Position = rec.Position
			e.Rotation = rec.Rotation
		}

	case *protocol.Pong:
		sample := now.Sub(time.Unix(0, m.ClientTime))
		if sample < 0 {
			return
		}
		if c.rtt == 0 {
			c.rtt = sample
		} else {
			c.rtt += time.Duration(rttAlpha * float64(sample-c.rtt))
		}
		c.serverOffset = time.Unix(0, m.ServerTime).Add(sample / 2).Sub(now)

	default:
		c.logger.Debug("unexpected %s from server", msg.Type())
	}
}

// ===== Исходящие =====

// sendOwned изменения сущностей, которыми управляет клиент
func (c *Client) sendOwned(now time.Time) {
	var records []TransformRecord
	buf := netbuf.GetWriter()
	defer netbuf.PutWriter(buf)

	for _, e := range c.registry.All() {
		if !e.IsOwned {
			continue
		}
		if c.transformTracker.NeedsUpdate(&e.TransformDirty, now) {
			c.transformTracker.ConsumeAndClear(&e.TransformDirty, now)
			records = append(records, TransformRecord{NetID: e.NetID, Position: e.Position, Rotation: e.Rotation})
		}
		if c.fieldTracker.NeedsUpdate(&e.FieldsDirty, now) {
			mask := c.fieldTracker.ConsumeAndClear(&e.FieldsDirty, now)
			buf.Reset()
			if err := c.world.encodeState(buf, e, mask); err != nil {
				c.logger.Error("update vars for %d: %v", e.NetID, err)
				continue
			}
			_ = c.send(transport.Reliable, &protocol.UpdateVars{NetID: e.NetID, Payload: buf.Bytes()})
		}
	}
	if len(records) == 0 {
		return
	}
	limit := c.batchers[transport.Unreliable].Threshold() - 8
	if limit < 1 {
		limit = 1
	}
	chunks, err := c.world.transforms.PackAll(records, limit)
	if err != nil {
		c.logger.Error("pack transforms: %v", err)
		return
	}
	for _, chunk := range chunks {
		_ = c.send(transport.Unreliable, &protocol.TransformSingle{Payload: chunk})
	}
}

// send ставит сообщение в батчер; слишком большое уходит отдельным фреймом после накопленных
func (c *Client) send(ch transport.Channel, msg protocol.Message) error {
	c.msg.Reset()
	protocol.Pack(c.msg, msg)
	data := c.msg.Bytes()
	if c.batchers[ch].AddMessage(data) {
		return nil
	}
	if err := c.flushChannel(ch); err != nil {
		return err
	}
	if err := batch.EncodeSingle(c.frame, data, c.maxSize[ch]); err != nil {
		return fmt.Errorf("%s: %w", msg.Type(), err)
	}
	return c.transport.Send(ch, c.frame.Bytes())
}

func (c *Client) flushChannel(ch transport.Channel) error {
	b := c.batchers[ch]
	for b.MakeNextBatch(c.frame) {
		if err := c.transport.Send(ch, c.frame.Bytes()); err != nil {
			b.Discard()
			return err
		}
	}
	return nil
}

func (c *Client) flush() error {
	if !c.transport.Connected() {
		return nil
	}
	for ch := transport.Channel(0); ch < transport.ChannelCount; ch++ {
		if err := c.flushChannel(ch); err != nil {
			return err
		}
	}
	return nil
}
