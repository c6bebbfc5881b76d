package eventbus

import (
	"context"
	"time"

	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/logging"
	"github.com/annel0/netsync/internal/replication"
	"github.com/annel0/netsync/internal/session"
	"github.com/annel0/netsync/internal/vec"
)

// Типы событий жизненного цикла
const (
	TypeConnected     = "ConnectionOpened"
	TypeAuthenticated = "ConnectionAuthenticated"
	TypeReady         = "ConnectionReady"
	TypeDisconnected  = "ConnectionClosed"
	TypeSpawned       = "EntitySpawned"
	TypeDespawned     = "EntityDespawned"
)

// ConnectionEvent полезная нагрузка событий соединения
type ConnectionEvent struct {
	ConnID   uint32 `json:"conn_id"`
	Username string `json:"username,omitempty"`
	PlayerID uint64 `json:"player_id,omitempty"`
	// Duration время жизни соединения, только в ConnectionClosed
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// EntityEvent полезная нагрузка событий сущности
type EntityEvent struct {
	NetID    uint32   `json:"net_id"`
	AssetID  string   `json:"asset_id"`
	SceneID  uint64   `json:"scene_id,omitempty"`
	Owner    *uint32  `json:"owner,omitempty"`
	Position vec.Vec3 `json:"position"`
}

// Publisher переводит хуки replication.Server в события шины.
// Хуки срабатывают в потоке тика, поэтому публикация ограничена publishTimeout.
type Publisher struct {
	bus    EventBus
	source string
	world  *replication.World
	logger *logging.Logger
	errors uint64
}

const publishTimeout = 10 * time.Millisecond

// AttachServer подписывает Publisher на хуки соединений и сущностей srv
func AttachServer(srv *replication.Server, bus EventBus, source string) *Publisher {
	p := &Publisher{bus: bus, source: source, world: srv.World(), logger: logging.GetEventsLogger()}

	conns := srv.Connections()
	conns.OnConnected.Add(func(c *session.Connection) {
		p.publish(TypeConnected, PriorityHigh, connectionEvent(c, 0))
	})
	conns.OnAuthenticated.Add(func(c *session.Connection) {
		p.publish(TypeAuthenticated, PriorityHigh, connectionEvent(c, 0))
	})
	conns.OnReady.Add(func(c *session.Connection) {
		p.publish(TypeReady, PriorityHigh, connectionEvent(c, 0))
	})
	conns.OnDisconnected.Add(func(c *session.Connection) {
		p.publish(TypeDisconnected, PriorityHigh, connectionEvent(c, p.world.Now().Sub(c.ConnectedAt)))
	})
	// спавнов много (NPC, снаряды): при заполненном буфере их можно терять
	srv.OnSpawned.Add(func(e *entity.Entity) {
		p.publish(TypeSpawned, 1, entityEvent(e))
	})
	srv.OnDespawned.Add(func(e *entity.Entity) {
		p.publish(TypeDespawned, 1, entityEvent(e))
	})
	return p
}

// Errors число событий, которые не удалось опубликовать
func (p *Publisher) Errors() uint64 { return p.errors }

func (p *Publisher) publish(eventType string, priority int, payload any) {
	ev, err := NewEnvelope(p.source, eventType, priority, payload)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.bus.Publish(ctx, ev)
		cancel()
	}
	if err != nil {
		p.errors++
		p.logger.Warn("publish %s: %v", eventType, err)
	}
}

func connectionEvent(c *session.Connection, lifetime time.Duration) ConnectionEvent {
	return ConnectionEvent{
		ConnID:   uint32(c.ID),
		Username: c.Identity.Username,
		PlayerID: c.Identity.PlayerID,
		Duration: lifetime,
	}
}

func entityEvent(e *entity.Entity) EntityEvent {
	ev := EntityEvent{
		NetID:    e.NetID,
		AssetID:  e.AssetID.String(),
		SceneID:  e.SceneID,
		Position: e.Position,
	}
	if e.HasOwner {
		owner := uint32(e.Owner)
		ev.Owner = &owner
	}
	return ev
}
