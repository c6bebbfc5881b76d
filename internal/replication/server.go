package replication

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/netsync/internal/auth"
	"github.com/annel0/netsync/internal/batch"
	"github.com/annel0/netsync/internal/dirty"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/hooks"
	"github.com/annel0/netsync/internal/interest"
	"github.com/annel0/netsync/internal/logging"
	"github.com/annel0/netsync/internal/netbuf"
	"github.com/annel0/netsync/internal/protocol"
	"github.com/annel0/netsync/internal/session"
	"github.com/annel0/netsync/internal/transport"
	"github.com/annel0/netsync/internal/vec"
)

const tracerName = "github.com/annel0/netsync/internal/replication"

// Причины отброса входящих данных (метка reason)
const (
	dropUnknownEntity = "unknown_entity"
	dropNotOwner      = "not_owner"
	dropNotAuthed     = "not_authenticated"
	dropUnexpected    = "unexpected_message"
	dropBadPayload    = "bad_payload"
)

var (
	// ErrUnknownConnection соединение не найдено
	ErrUnknownConnection = errors.New("replication: unknown connection")
	// ErrOwnedByOther сущность принадлежит другому соединению
	ErrOwnedByOther = errors.New("replication: entity owned by another connection")
)

// ServerOptions необязательные зависимости сервера
type ServerOptions struct {
	// Authenticator проверка AuthRequest; nil: пропускать всех
	Authenticator auth.Authenticator
	// Strategy алгоритм видимости; nil: по секции interest
	Strategy interest.Strategy
	Metrics  *Metrics
	// SnapshotInterval как часто публиковать снимок для admin API; 0: каждый тик
	SnapshotInterval time.Duration
}

// Server сторона-авторитет. Все методы, кроме Snapshot и Run, вызываются из потока тика.
type Server struct {
	world     *World
	transport transport.Server
	inbox     *transport.Inbox
	auth      auth.Authenticator

	registry         *entity.Registry
	conns            *session.Set
	interest         *interest.Manager
	fieldTracker     *dirty.Tracker
	transformTracker *dirty.Tracker

	metrics *Metrics
	tracer  trace.Tracer
	logger  *logging.Logger

	thresholds [transport.ChannelCount]int
	maxSize    [transport.ChannelCount]int
	frame      *netbuf.Writer
	msg        *netbuf.Writer
	unbatcher  batch.Unbatcher
	failed     []transport.ConnID

	ticks            uint64
	stats            ServerStats
	snapshot         atomic.Pointer[Snapshot]
	snapshotInterval time.Duration
	lastSnapshot     time.Time

	// OnSpawned и OnDespawned вызываются после регистрации и снятия сущности
	OnSpawned   hooks.List[*entity.Entity]
	OnDespawned hooks.List[*entity.Entity]
	// OnTick вызывается каждый тик после входящих событий и до расчёта видимости.
	// Здесь игровая логика двигает серверные сущности.
	OnTick hooks.List[time.Time]
}

// NewServer собирает сервер поверх мира и транспорта. События транспорта должны
// приходить в inbox.
func NewServer(world *World, tr transport.Server, inbox *transport.Inbox, opts ServerOptions) (*Server, error) {
	if world == nil || tr == nil || inbox == nil {
		return nil, fmt.Errorf("replication: world, transport and inbox are required")
	}
	strategy := opts.Strategy
	if strategy == nil {
		var err error
		if strategy, err = interest.FromConfig(world.Config.Interest); err != nil {
			return nil, err
		}
	}
	authn := opts.Authenticator
	if authn == nil {
		authn = &auth.AcceptAll{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	cfg := world.Config
	s := &Server{
		world:            world,
		transport:        tr,
		inbox:            inbox,
		auth:             authn,
		registry:         entity.NewRegistry(world.Packers.MaxNetID()),
		conns:            session.NewSet(),
		fieldTracker:     dirty.NewTracker(cfg.Replication.SendIntervalDuration()),
		transformTracker: dirty.NewTracker(cfg.Replication.TransformIntervalDuration()),
		metrics:          metrics,
		tracer:           otel.Tracer(tracerName),
		logger:           logging.GetServerLogger(),
		frame:            netbuf.NewWriter(),
		msg:              netbuf.NewWriter(),
		snapshotInterval: opts.SnapshotInterval,
	}
	s.thresholds[transport.Reliable] = cfg.Batching.ReliableThreshold
	s.thresholds[transport.Unreliable] = cfg.Batching.UnreliableThreshold
	for ch := transport.Channel(0); ch < transport.ChannelCount; ch++ {
		s.maxSize[ch] = cfg.Batching.MaxMessageSize
		if m := tr.MaxMessageSize(ch); m > 0 && m < s.maxSize[ch] {
			s.maxSize[ch] = m
		}
		if s.thresholds[ch] > s.maxSize[ch] {
			s.thresholds[ch] = s.maxSize[ch]
		}
	}
	s.interest = interest.NewManager(strategy, s.registry, s, cfg.Interest.UpdateIntervalDuration())
	return s, nil
}

// Start запускает транспорт
func (s *Server) Start() error {
	if err := s.transport.Start(); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	s.logger.Info("replication server started (strategy %s, fingerprint %016x)", interest.Name(s.interest.Strategy()), s.world.Fingerprint())
	return nil
}

// Stop останавливает транспорт. Соединения будут убраны на следующих тиках по событиям отключения.
func (s *Server) Stop() error {
	return s.transport.Stop()
}

// Run крутит Tick с частотой tick_rate до отмены ctx
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.world.Config.Replication.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Registry серверный реестр сущностей
func (s *Server) Registry() *entity.Registry { return s.registry }

// Connections набор соединений (хуки OnConnected, OnAuthenticated, OnReady, OnDisconnected)
func (s *Server) Connections() *session.Set { return s.conns }

// Interest менеджер видимости
func (s *Server) Interest() *interest.Manager { return s.interest }

// Metrics метрики сервера
func (s *Server) Metrics() *Metrics { return s.metrics }

// World контекст мира
func (s *Server) World() *World { return s.world }

// Tick один шаг: входящие события, видимость, рассылка изменений, сброс пакетов
func (s *Server) Tick(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "replication.server.tick")
	defer span.End()

	now := s.world.Now()
	s.ticks++

	events := s.inbox.Drain(0, func(ev transport.Event) { s.handleEvent(ctx, ev, now) })
	s.OnTick.Invoke(now)

	s.updateInterest(ctx, now)
	s.sendTransforms(now)
	s.sendUpdateVars(now)
	s.flushAll()
	s.disconnectFailed()

	s.metrics.liveEntities.Set(float64(s.registry.Len()))
	s.metrics.connections.Set(float64(s.conns.Len()))
	if s.snapshot.Load() == nil || now.Sub(s.lastSnapshot) >= s.snapshotInterval {
		s.publishSnapshot(now)
	}
	span.SetAttributes(
		attribute.Int("events", events),
		attribute.Int("entities", s.registry.Len()),
		attribute.Int("connections", s.conns.Len()),
	)
}

func (s *Server) updateInterest(ctx context.Context, now time.Time) {
	_, span := s.tracer.Start(ctx, "replication.interest.update")
	defer span.End()
	start := time.Now()
	st := s.interest.Update(now)
	if st.Rebuilt {
		s.metrics.interestRebuild.Observe(time.Since(start).Seconds())
	}
	span.SetAttributes(
		attribute.Bool("rebuilt", st.Rebuilt),
		attribute.Int("shown", st.Shown),
		attribute.Int("hidden", st.Hidden),
	)
}

// ===== Сущности =====

// Spawn регистрирует сущность. Наблюдатели получат Spawn на ближайшем тике.
func (s *Server) Spawn(e *entity.Entity, pos vec.Vec3, rot vec.Quat, owner entity.Owner) (uint32, error) {
	if owner.Valid {
		if _, ok := s.conns.Get(owner.Conn); !ok {
			return entity.NoID, fmt.Errorf("%w: %d", ErrUnknownConnection, owner.Conn)
		}
	}
	id, err := s.registry.Spawn(e, pos, rot, owner)
	if err != nil {
		return entity.NoID, err
	}
	now := s.world.Now()
	// полное состояние уйдёт в Spawn
	s.fieldTracker.ConsumeAndClear(&e.FieldsDirty, now)
	s.transformTracker.ConsumeAndClear(&e.TransformDirty, now)
	s.interest.OnSpawned(e)
	s.OnSpawned.Invoke(e)
	s.logger.Debug("spawned %d asset=%s scene=%d owner=%v/%d", id, e.AssetID, e.SceneID, e.HasOwner, e.Owner)
	return id, nil
}

// Despawn снимает сущность и рассылает ObjectDestroy всем, кто её видел
func (s *Server) Despawn(netID uint32) error {
	e, err := s.registry.Despawn(netID)
	if err != nil {
		return err
	}
	for _, c := range s.interest.OnDestroyed(e) {
		s.send(c, transport.Reliable, &protocol.ObjectDestroy{NetID: netID})
	}
	for _, c := range s.conns.All() {
		if c.Player == netID {
			c.Player = entity.NoID
		}
	}
	s.OnDespawned.Invoke(e)
	s.logger.Debug("despawned %d", netID)
	return nil
}

// SetPlayer назначает соединению управляемую сущность. Сущность переходит во владение
// соединения, а её позиция становится точкой отсчёта видимости.
func (s *Server) SetPlayer(conn transport.ConnID, netID uint32) error {
	c, ok := s.conns.Get(conn)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, conn)
	}
	e, ok := s.registry.Get(netID)
	if !ok {
		return fmt.Errorf("%w: %d", entity.ErrUnknownEntity, netID)
	}
	if e.HasOwner && e.Owner != conn {
		return fmt.Errorf("%w: %d owned by %d", ErrOwnedByOther, netID, e.Owner)
	}
	e.Owner = conn
	e.HasOwner = true
	c.Player = netID

	if c.IsReady {
		// Owner может обогнать Spawn: клиент держит id в очереди, пока сущность не придёт
		s.send(c, transport.Reliable, &protocol.Owner{NetID: netID, IsOwner: true, IsLocalPlayer: true})
		s.interest.CheckEntity(e)
	}
	return nil
}

// SetOwner передаёт право записи другому соединению (или серверу при entity.NoOwner)
func (s *Server) SetOwner(netID uint32, owner entity.Owner) error {
	e, ok := s.registry.Get(netID)
	if !ok {
		return fmt.Errorf("%w: %d", entity.ErrUnknownEntity, netID)
	}
	var next *session.Connection
	if owner.Valid {
		if next, ok = s.conns.Get(owner.Conn); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownConnection, owner.Conn)
		}
	}
	if e.HasOwner == owner.Valid && e.Owner == owner.Conn {
		return nil
	}

	if e.HasOwner {
		if prev, ok := s.conns.Get(e.Owner); ok {
			if prev.Player == netID {
				prev.Player = entity.NoID
			}
			if prev.IsObserving(netID) {
				s.send(prev, transport.Reliable, &protocol.Owner{NetID: netID})
			}
		}
	}
	e.Owner = owner.Conn
	e.HasOwner = owner.Valid
	if next != nil && next.IsReady {
		s.send(next, transport.Reliable, &protocol.Owner{NetID: netID, IsOwner: true, IsLocalPlayer: next.Player == netID})
		s.interest.CheckEntity(e)
	}
	return nil
}

// Disconnect разрывает соединение и сразу убирает его из видимости
func (s *Server) Disconnect(conn transport.ConnID) {
	s.dropConnection(conn, "kicked", true)
}

// ===== Входящие =====

func (s *Server) handleEvent(ctx context.Context, ev transport.Event, now time.Time) {
	switch ev.Kind {
	case transport.EventConnected:
		if _, ok := s.conns.Get(ev.Conn); ok {
			return
		}
		c := session.New(ev.Conn, now, s.thresholds)
		s.conns.Add(c)
		s.logger.Info("conn %d connected", ev.Conn)
	case transport.EventDisconnected:
		reason := "closed"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		s.dropConnection(ev.Conn, reason, false)
	case transport.EventData:
		c, ok := s.conns.Get(ev.Conn)
		if !ok {
			return
		}
		c.LastActivity = now
		s.handleFrame(ctx, c, ev.Channel, ev.Data, now)
	}
}

// handleFrame разбирает фрейм на сообщения. Ошибка в одном сообщении не мешает остальным.
func (s *Server) handleFrame(ctx context.Context, c *session.Connection, ch transport.Channel, data []byte, now time.Time) {
	s.unbatcher.Reset(data)
	for {
		raw, ok, err := s.unbatcher.Next()
		if err != nil {
			s.protocolError(c, "batch", err, data)
			return
		}
		if !ok {
			return
		}
		msg, err := protocol.Unpack(raw)
		if err != nil {
			kind := "unknown"
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				kind = de.Type.String()
			}
			s.protocolError(c, kind, err, raw)
			continue
		}
		s.metrics.messagesReceived.WithLabelValues(msg.Type().String()).Inc()
		s.handleMessage(ctx, c, ch, msg, now)
		if _, ok := s.conns.Get(c.ID); !ok {
			// соединение закрыто обработчиком
			return
		}
	}
}

func (s *Server) protocolError(c *session.Connection, kind string, err error, data []byte) {
	s.stats.ProtocolErrors++
	s.metrics.protocolErrors.WithLabelValues(kind).Inc()
	s.logger.LogProtocolError(uint32(c.ID), err, data)
}

func (s *Server) dropped(reason string) {
	s.stats.Dropped++
	s.metrics.recordsDropped.WithLabelValues(reason).Inc()
}

func (s *Server) handleMessage(ctx context.Context, c *session.Connection, ch transport.Channel, msg protocol.Message, now time.Time) {
	switch m := msg.(type) {
	case *protocol.AuthRequest:
		s.handleAuth(ctx, c, m)
	case *protocol.Ready:
		s.handleReady(c, m)
	case *protocol.NotReady:
		s.setNotReady(c)
	case *protocol.TransformSingle:
		s.handleTransformSingle(c, m)
	case *protocol.UpdateVars:
		s.handleUpdateVars(c, m)
	case *protocol.Ping:
		s.send(c, ch, &protocol.Pong{ClientTime: m.ClientTime, ServerTime: now.UnixNano()})
	default:
		s.dropped(dropUnexpected)
		s.logger.Debug("conn %d sent unexpected %s", c.ID, msg.Type())
	}
}

func (s *Server) handleAuth(ctx context.Context, c *session.Connection, m *protocol.AuthRequest) {
	if c.IsAuthenticated {
		s.send(c, transport.Reliable, &protocol.AuthResponse{
			Success: true, PlayerID: c.Identity.PlayerID, Username: c.Identity.Username,
		})
		return
	}
	id, err := s.auth.Authenticate(ctx, m.Token)
	if err != nil {
		s.logger.Warn("conn %d authentication failed: %v", c.ID, err)
		s.send(c, transport.Reliable, &protocol.AuthResponse{Message: "authentication failed"})
		return
	}
	c.IsAuthenticated = true
	c.Identity = id
	s.send(c, transport.Reliable, &protocol.AuthResponse{
		Success: true, PlayerID: id.PlayerID, Username: id.Username, Message: "ok",
	})
	s.logger.Info("conn %d authenticated as %s (%d)", c.ID, id.Username, id.PlayerID)
	s.conns.OnAuthenticated.Invoke(c)
}

func (s *Server) handleReady(c *session.Connection, m *protocol.Ready) {
	if c.IsReady {
		return
	}
	if !c.IsAuthenticated {
		s.dropped(dropNotAuthed)
		s.logger.Warn("conn %d sent Ready before authentication", c.ID)
		s.send(c, transport.Reliable, &protocol.NotReady{})
		return
	}
	if fp := s.world.Fingerprint(); m.Fingerprint != fp {
		s.logger.Warn("conn %d compression settings mismatch: %016x != %016x", c.ID, m.Fingerprint, fp)
		s.send(c, transport.Reliable, &protocol.NotReady{})
		return
	}

	c.IsReady = true
	s.send(c, transport.Reliable, &protocol.SpawnStarted{})
	st := s.interest.AddConnection(c)
	s.send(c, transport.Reliable, &protocol.SpawnFinished{})
	s.logger.Info("conn %d ready, initial spawn of %d entities", c.ID, st.Shown)
	s.conns.OnReady.Invoke(c)
}

// setNotReady соединение перестаёт получать мир; клиент очищает свои сущности
func (s *Server) setNotReady(c *session.Connection) {
	if !c.IsReady {
		return
	}
	c.IsReady = false
	s.interest.RemoveConnection(c.ID)
	s.send(c, transport.Reliable, &protocol.NotReady{})
}

// ownedEntity сущность, которую c имеет право менять
func (s *Server) ownedEntity(c *session.Connection, netID uint32) (*entity.Entity, bool) {
	e, ok := s.registry.Get(netID)
	if !ok {
		s.dropped(dropUnknownEntity)
		s.logger.Trace("conn %d: update for unknown entity %d", c.ID, netID)
		return nil, false
	}
	if !e.HasOwner || e.Owner != c.ID {
		s.dropped(dropNotOwner)
		s.logger.Debug("conn %d: update for entity %d it does not own", c.ID, netID)
		return nil, false
	}
	return e, true
}

func (s *Server) handleTransformSingle(c *session.Connection, m *protocol.TransformSingle) {
	records, err := s.world.transforms.Unpack(m.Payload)
	if err != nil {
		s.protocolError(c, protocol.MsgTransformSingle.String(), err, m.Payload)
		return
	}
	for _, rec := range records {
		e, ok := s.ownedEntity(c, rec.NetID)
		if !ok {
			continue
		}
		e.SetTransform(rec.Position, rec.Rotation)
	}
}

func (s *Server) handleUpdateVars(c *session.Connection, m *protocol.UpdateVars) {
	e, ok := s.ownedEntity(c, m.NetID)
	if !ok {
		return
	}
	mask, err := s.world.applyState(e, m.Payload, false)
	if err != nil {
		s.dropped(dropBadPayload)
		s.protocolError(c, protocol.MsgUpdateVars.String(), err, m.Payload)
		return
	}
	if fields := mask &^ dirty.Transform; fields != 0 {
		s.fieldTracker.MarkDirty(&e.FieldsDirty, fields)
	}
	if mask&dirty.Transform != 0 {
		e.SetTransform(e.Position, e.Rotation)
	}
}

// ===== Рассылка =====

// sendTransforms TransformBroadcast всем готовым соединениям для сущностей с SyncBroadcast
func (s *Server) sendTransforms(now time.Time) {
	var records []TransformRecord
	for _, e := range s.registry.All() {
		if e.Sync != entity.SyncBroadcast || !e.Live() {
			continue
		}
		if !s.transformTracker.NeedsUpdate(&e.TransformDirty, now) {
			continue
		}
		s.transformTracker.ConsumeAndClear(&e.TransformDirty, now)
		records = append(records, TransformRecord{NetID: e.NetID, Position: e.Position, Rotation: e.Rotation})
	}
	if len(records) == 0 {
		return
	}
	ready := s.conns.Ready()
	if len(ready) == 0 {
		return
	}
	// запас на тег сообщения, длину нагрузки и префикс записи во фрейме
	limit := s.thresholds[transport.Unreliable] - 8
	if limit < 1 {
		limit = 1
	}
	chunks, err := s.world.transforms.PackAll(records, limit)
	if err != nil {
		s.logger.Error("pack transforms: %v", err)
		return
	}
	for _, chunk := range chunks {
		msg := &protocol.TransformBroadcast{Payload: chunk}
		for _, c := range ready {
			s.send(c, transport.Unreliable, msg)
		}
	}
}

// sendUpdateVars UpdateVars наблюдателям сущностей с изменёнными полями.
// Изменения сущности без наблюдателей тоже поглощаются: новый наблюдатель получит полное состояние в Spawn.
func (s *Server) sendUpdateVars(now time.Time) {
	buf := netbuf.GetWriter()
	defer netbuf.PutWriter(buf)
	for _, e := range s.registry.All() {
		if !e.Live() || !s.fieldTracker.NeedsUpdate(&e.FieldsDirty, now) {
			continue
		}
		mask := s.fieldTracker.ConsumeAndClear(&e.FieldsDirty, now)
		observers := e.Observers()
		if len(observers) == 0 {
			continue
		}
		buf.Reset()
		if err := s.world.encodeState(buf, e, mask); err != nil {
			s.logger.Error("update vars for %d: %v", e.NetID, err)
			continue
		}
		msg := &protocol.UpdateVars{NetID: e.NetID, Payload: buf.Bytes()}
		for _, id := range observers {
			if c, ok := s.conns.Get(id); ok {
				s.send(c, transport.Reliable, msg)
			}
		}
	}
}

// send ставит сообщение в батчер канала. Сообщение больше порога уходит отдельным фреймом
// после уже накопленных, чтобы сохранить порядок.
func (s *Server) send(c *session.Connection, ch transport.Channel, msg protocol.Message) {
	s.msg.Reset()
	protocol.Pack(s.msg, msg)
	data := s.msg.Bytes()

	s.stats.MessagesSent++
	s.metrics.messagesSent.WithLabelValues(ch.String(), msg.Type().String()).Inc()

	if c.Batcher(ch).AddMessage(data) {
		return
	}
	if !s.flush(c, ch) {
		return
	}
	if err := batch.EncodeSingle(s.frame, data, s.maxSize[ch]); err != nil {
		s.logger.Error("conn %d: %s: %v", c.ID, msg.Type(), err)
		return
	}
	s.transmit(c, ch, s.frame.Bytes())
}

// flush отправляет всё накопленное в канале. false: отправка не удалась, соединение будет закрыто.
func (s *Server) flush(c *session.Connection, ch transport.Channel) bool {
	b := c.Batcher(ch)
	for b.MakeNextBatch(s.frame) {
		s.metrics.batchesFlushed.WithLabelValues(ch.String()).Inc()
		if !s.transmit(c, ch, s.frame.Bytes()) {
			c.DiscardBatches()
			return false
		}
	}
	return true
}

func (s *Server) transmit(c *session.Connection, ch transport.Channel, frame []byte) bool {
	if err := s.transport.Send(c.ID, ch, frame); err != nil {
		s.logger.Warn("conn %d send failed: %v", c.ID, err)
		s.failed = append(s.failed, c.ID)
		return false
	}
	s.stats.BytesSent += uint64(len(frame))
	s.metrics.bytesSent.WithLabelValues(ch.String()).Add(float64(len(frame)))
	return true
}

func (s *Server) flushAll() {
	for _, c := range s.conns.All() {
		for ch := transport.Channel(0); ch < transport.ChannelCount; ch++ {
			if !s.flush(c, ch) {
				break
			}
		}
	}
}

func (s *Server) disconnectFailed() {
	if len(s.failed) == 0 {
		return
	}
	failed := s.failed
	s.failed = nil
	for _, id := range failed {
		s.dropConnection(id, "send failed", true)
	}
}

// dropConnection полная очистка соединения: пакеты, видимость, сущности владельца
func (s *Server) dropConnection(id transport.ConnID, reason string, closeTransport bool) {
	c, ok := s.conns.Get(id)
	if !ok {
		return
	}
	c.IsReady = false
	c.DiscardBatches()
	s.interest.RemoveConnection(id)

	owned := s.registry.OwnedBy(id)
	for _, e := range owned {
		if s.world.Config.Replication.DestroyOwned() {
			if err := s.Despawn(e.NetID); err != nil {
				s.logger.Warn("despawn %d of conn %d: %v", e.NetID, id, err)
			}
			continue
		}
		e.HasOwner = false
		e.Owner = 0
	}
	s.conns.Remove(id)
	if closeTransport {
		if err := s.transport.Disconnect(id); err != nil && !errors.Is(err, transport.ErrUnknownConnection) {
			s.logger.Warn("disconnect %d: %v", id, err)
		}
	}
	s.logger.Info("conn %d disconnected (%s), %d owned entities released", id, reason, len(owned))
}

// ===== interest.Notifier =====

// Show отправляет соединению Spawn
func (s *Server) Show(e *entity.Entity, c *session.Connection) {
	payload, err := s.world.initialPayload(e)
	if err != nil {
		s.logger.Error("spawn payload for %d: %v", e.NetID, err)
	}
	s.send(c, transport.Reliable, &protocol.Spawn{
		NetID:         e.NetID,
		IsLocalPlayer: c.Player == e.NetID,
		IsOwner:       e.HasOwner && e.Owner == c.ID,
		SceneID:       e.SceneID,
		AssetID:       e.AssetID,
		Position:      e.Position,
		Rotation:      e.Rotation,
		Scale:         e.Scale,
		Payload:       payload,
	})
}

// Hide отправляет ObjectHide для объектов сцены и ObjectDestroy для остальных
func (s *Server) Hide(e *entity.Entity, c *session.Connection) {
	if e.IsScene() {
		s.send(c, transport.Reliable, &protocol.ObjectHide{NetID: e.NetID})
		return
	}
	s.send(c, transport.Reliable, &protocol.ObjectDestroy{NetID: e.NetID})
}
