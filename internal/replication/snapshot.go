package replication

import (
	"time"

	"github.com/annel0/netsync/internal/interest"
	"github.com/annel0/netsync/internal/vec"
)

// ServerStats накопительные счётчики сервера
type ServerStats struct {
	Ticks          uint64 `json:"ticks"`
	MessagesSent   uint64 `json:"messages_sent"`
	BytesSent      uint64 `json:"bytes_sent"`
	ProtocolErrors uint64 `json:"protocol_errors"`
	Dropped        uint64 `json:"dropped"`
	InboxDropped   uint64 `json:"inbox_dropped"`
}

// EntityInfo сущность в снимке
type EntityInfo struct {
	NetID     uint32   `json:"net_id"`
	AssetID   string   `json:"asset_id"`
	SceneID   uint64   `json:"scene_id,omitempty"`
	Owner     uint32   `json:"owner,omitempty"`
	HasOwner  bool     `json:"has_owner"`
	Position  vec.Vec3 `json:"position"`
	Sync      string   `json:"sync"`
	Observers int      `json:"observers"`
}

// ConnectionInfo соединение в снимке
type ConnectionInfo struct {
	ID            uint32        `json:"id"`
	Username      string        `json:"username,omitempty"`
	Authenticated bool          `json:"authenticated"`
	Ready         bool          `json:"ready"`
	Player        uint32        `json:"player,omitempty"`
	Observing     int           `json:"observing"`
	ConnectedAt   time.Time     `json:"connected_at"`
	LastActivity  time.Time     `json:"last_activity"`
	RTT           time.Duration `json:"rtt_ns"`
}

// Snapshot неизменяемое состояние сервера на момент тика. Поток тика публикует его,
// остальные горутины (admin API) только читают.
type Snapshot struct {
	Time     time.Time   `json:"time"`
	Stats    ServerStats `json:"stats"`
	Strategy string      `json:"strategy"`
	// InterestCells непустые ячейки spatial_hash; 0 для остальных стратегий
	InterestCells int              `json:"interest_cells,omitempty"`
	Entities      []EntityInfo     `json:"entities"`
	Connections   []ConnectionInfo `json:"connections"`
}

// Snapshot последний опубликованный снимок; безопасен для любой горутины.
// До первого тика возвращает пустой снимок.
func (s *Server) Snapshot() *Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return snap
	}
	return &Snapshot{}
}

func (s *Server) publishSnapshot(now time.Time) {
	s.stats.Ticks = s.ticks
	s.stats.InboxDropped = s.inbox.Dropped()

	all := s.registry.All()
	snap := &Snapshot{
		Time:        now,
		Stats:       s.stats,
		Strategy:    interest.Name(s.interest.Strategy()),
		Entities:    make([]EntityInfo, 0, len(all)),
		Connections: make([]ConnectionInfo, 0, s.conns.Len()),
	}
	if sh, ok := s.interest.Strategy().(*interest.SpatialHash); ok {
		snap.InterestCells = sh.CellCount()
	}
	for _, e := range all {
		snap.Entities = append(snap.Entities, EntityInfo{
			NetID:     e.NetID,
			AssetID:   e.AssetID.String(),
			SceneID:   e.SceneID,
			Owner:     uint32(e.Owner),
			HasOwner:  e.HasOwner,
			Position:  e.Position,
			Sync:      e.Sync.String(),
			Observers: e.ObserverCount(),
		})
	}
	for _, c := range s.conns.All() {
		snap.Connections = append(snap.Connections, ConnectionInfo{
			ID:            uint32(c.ID),
			Username:      c.Identity.Username,
			Authenticated: c.IsAuthenticated,
			Ready:         c.IsReady,
			Player:        c.Player,
			Observing:     c.ObservingCount(),
			ConnectedAt:   c.ConnectedAt,
			LastActivity:  c.LastActivity,
			RTT:           c.RTT,
		})
	}
	s.snapshot.Store(snap)
	s.lastSnapshot = now
}
