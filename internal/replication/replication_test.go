package replication

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/netsync/internal/batch"
	"github.com/annel0/netsync/internal/config"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/netbuf"
	"github.com/annel0/netsync/internal/protocol"
	"github.com/annel0/netsync/internal/session"
	"github.com/annel0/netsync/internal/statecodec"
	"github.com/annel0/netsync/internal/transport"
	"github.com/annel0/netsync/internal/vec"
)

var (
	crateAsset  = uuid.MustParse("1b4e28ba-2fa1-41d2-883f-0016d3cca427")
	playerAsset = uuid.MustParse("6fa459ea-ee8a-4ca4-894e-db77e160355e")
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	t      *testing.T
	cfg    *config.Config
	codecs *statecodec.Registry
	clock  *testClock
	mem    *transport.MemoryServer
	server *Server
}

type testClient struct {
	*Client
	mem *transport.MemoryClient
}

func newHarness(t *testing.T, tweak func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Interest.VisibilityRadius = 10
	if tweak != nil {
		tweak(cfg)
	}
	codecs := statecodec.NewRegistry()
	codecs.MustRegister(crateAsset, &crateState{})

	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	world, err := NewWorld(cfg, codecs)
	require.NoError(t, err)
	world.Now = clock.Now

	inbox := transport.NewInbox(1 << 14)
	mem := transport.NewMemoryServer(inbox)
	srv, err := NewServer(world, mem, inbox, ServerOptions{})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	return &harness{t: t, cfg: cfg, codecs: codecs, clock: clock, mem: mem, server: srv}
}

// connect подключает клиента, проходит аутентификацию и просит мир
func (h *harness) connect(name string, tweak func(*config.Config)) *testClient {
	h.t.Helper()
	cfg := *h.cfg
	if tweak != nil {
		tweak(&cfg)
	}
	world, err := NewWorld(&cfg, h.codecs)
	require.NoError(h.t, err)
	world.Now = h.clock.Now

	inbox := transport.NewInbox(1 << 14)
	mc := transport.NewMemoryClient(h.mem, inbox)
	cl, err := NewClient(world, mc, inbox, ClientOptions{PingInterval: -1})
	require.NoError(h.t, err)
	require.NoError(h.t, cl.Connect(context.Background(), "memory"))
	require.NoError(h.t, cl.Authenticate(name))
	require.NoError(h.t, cl.Ready())
	return &testClient{Client: cl, mem: mc}
}

// step один круг: клиенты отправляют, сервер тикает, клиенты принимают
func (h *harness) step(clients ...*testClient) {
	h.clock.Advance(100 * time.Millisecond)
	ctx := context.Background()
	for _, c := range clients {
		c.Tick(ctx)
	}
	h.server.Tick(ctx)
	for _, c := range clients {
		c.Tick(ctx)
	}
}

func (h *harness) conn(c *testClient) *session.Connection {
	h.t.Helper()
	sc, ok := h.server.Connections().Get(c.mem.ID())
	require.True(h.t, ok)
	return sc
}

func sentCount(m *Metrics, ch transport.Channel, typ protocol.MsgType) float64 {
	return testutil.ToFloat64(m.messagesSent.WithLabelValues(ch.String(), typ.String()))
}

func alwaysVisible(c *config.Config) { c.Interest.Strategy = "always_visible" }

func TestServer_ReadyFlowSpawnsWorld(t *testing.T) {
	h := newHarness(t, alwaysVisible)
	crate := entity.New(crateAsset)
	crate.State = &crateState{Health: 5, Label: "a"}
	_, err := h.server.Spawn(crate, vec.Vec3{X: 1, Y: 2, Z: 3}, vec.IdentityQuat, entity.NoOwner)
	require.NoError(t, err)

	cl := h.connect("alice", nil)
	var started []uint32
	cl.Registry().OnStarted.Add(func(e *entity.Entity) { started = append(started, e.NetID) })
	finished := 0
	cl.OnSpawnFinished.Add(func(*Client) { finished++ })

	h.step(cl)

	assert.True(t, cl.IsAuthenticated())
	assert.Equal(t, "alice", cl.Identity().Username)
	assert.Equal(t, 1, finished)
	assert.Equal(t, []uint32{crate.NetID}, started)

	mirror, ok := cl.Registry().Get(crate.NetID)
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{X: 1, Y: 2, Z: 3}, mirror.Position)
	assert.Equal(t, &crateState{Health: 5, Label: "a"}, mirror.State)
	assert.False(t, mirror.IsOwned)

	sc := h.conn(cl)
	assert.True(t, sc.IsReady)
	assert.True(t, sc.IsObserving(crate.NetID))

	snap := h.server.Snapshot()
	require.Len(t, snap.Entities, 1)
	require.Len(t, snap.Connections, 1)
	assert.Equal(t, "always_visible", snap.Strategy)
	assert.Equal(t, 1, snap.Entities[0].Observers)
}

func TestServer_RadiusHideAndPendingOwner(t *testing.T) {
	h := newHarness(t, nil)
	cl := h.connect("bob", nil)
	h.step(cl)
	id := cl.mem.ID()

	target := entity.New(crateAsset)
	_, err := h.server.Spawn(target, vec.Vec3{}, vec.IdentityQuat, entity.NoOwner)
	require.NoError(t, err)
	player := entity.New(playerAsset)
	_, err = h.server.Spawn(player, vec.Vec3{X: 5}, vec.IdentityQuat, entity.OwnedBy(id))
	require.NoError(t, err)

	localCalls := 0
	cl.Registry().OnLocalPlayer.Add(func(*entity.Entity) { localCalls++ })
	// Owner уходит раньше Spawn игрока
	require.NoError(t, h.server.SetPlayer(id, player.NetID))
	h.step(cl)

	require.Equal(t, 2, cl.Registry().Len())
	lp := cl.Registry().LocalPlayer()
	require.NotNil(t, lp)
	assert.Equal(t, player.NetID, lp.NetID)
	assert.True(t, lp.IsOwned)
	assert.Equal(t, 1, localCalls)
	assert.Empty(t, cl.Registry().PendingOwners())

	var destroyed []uint32
	cl.Registry().OnDestroyed.Add(func(e *entity.Entity) { destroyed = append(destroyed, e.NetID) })

	lp.SetPosition(vec.Vec3{X: 50})
	h.clock.Advance(time.Second)
	h.step(cl)

	assert.InDelta(t, 50, player.Position.X, 0.01)
	assert.Equal(t, []uint32{target.NetID}, destroyed)
	_, ok := cl.Registry().Get(target.NetID)
	assert.False(t, ok)
	_, ok = cl.Registry().Get(player.NetID)
	assert.True(t, ok, "owner always observes its entity")
	assert.False(t, h.conn(cl).IsObserving(target.NetID))
	require.NoError(t, h.server.Interest().CheckSymmetry())

	// повторная пересборка ничего не меняет
	h.clock.Advance(time.Second)
	h.step(cl)
	assert.Len(t, destroyed, 1)
	assert.Equal(t, 1.0, sentCount(h.server.Metrics(), transport.Reliable, protocol.MsgObjectDestroy))
}

func TestServer_DirtyFieldsCoalesce(t *testing.T) {
	h := newHarness(t, alwaysVisible)
	cl := h.connect("dave", nil)
	h.step(cl)

	crate := entity.New(crateAsset)
	crate.State = &crateState{Health: 100, Label: "keep"}
	_, err := h.server.Spawn(crate, vec.Vec3{}, vec.IdentityQuat, entity.NoOwner)
	require.NoError(t, err)
	h.step(cl)

	mirror, ok := cl.Registry().Get(crate.NetID)
	require.True(t, ok)
	require.Equal(t, int32(100), mirror.State.(*crateState).Health)

	st := crate.State.(*crateState)
	for _, hp := range []int32{90, 80, 70} {
		st.Health = hp
		crate.MarkFieldDirty(0)
	}
	before := sentCount(h.server.Metrics(), transport.Reliable, protocol.MsgUpdateVars)
	h.step(cl)

	assert.Equal(t, before+1, sentCount(h.server.Metrics(), transport.Reliable, protocol.MsgUpdateVars))
	assert.Equal(t, &crateState{Health: 70, Label: "keep"}, mirror.State)

	h.step(cl)
	assert.Equal(t, before+1, sentCount(h.server.Metrics(), transport.Reliable, protocol.MsgUpdateVars))
}

func TestServer_MalformedMessageDoesNotBreakFrame(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mc := transport.NewMemoryClient(h.mem, transport.NewInbox(64))
	require.NoError(t, mc.Connect(ctx, "memory"))
	h.server.Tick(ctx)

	bad := append(protocol.Marshal(&protocol.Ping{ClientTime: 1}), 0x00)
	good := protocol.Marshal(&protocol.AuthRequest{Token: "carol"})
	b := batch.NewBatcher(1200)
	require.True(t, b.AddMessage(bad))
	require.True(t, b.AddMessage(good))
	w := netbuf.NewWriter()
	require.True(t, b.MakeNextBatch(w))
	require.NoError(t, mc.Send(transport.Reliable, w.Bytes()))

	h.clock.Advance(100 * time.Millisecond)
	h.server.Tick(ctx)

	sc, ok := h.server.Connections().Get(mc.ID())
	require.True(t, ok)
	assert.True(t, sc.IsAuthenticated)
	assert.Equal(t, "carol", sc.Identity.Username)

	m := h.server.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors.WithLabelValues("Ping")))
	assert.Equal(t, 0.0, sentCount(m, transport.Reliable, protocol.MsgPong))
	assert.Equal(t, 1.0, sentCount(m, transport.Reliable, protocol.MsgAuthResponse))
}

func TestServer_DisconnectCleansUp(t *testing.T) {
	h := newHarness(t, alwaysVisible)
	a := h.connect("a", nil)
	b := h.connect("b", nil)
	h.step(a, b)

	p := entity.New(playerAsset)
	_, err := h.server.Spawn(p, vec.Vec3{}, vec.IdentityQuat, entity.OwnedBy(a.mem.ID()))
	require.NoError(t, err)
	require.NoError(t, h.server.SetPlayer(a.mem.ID(), p.NetID))
	h.step(a, b)
	_, ok := b.Registry().Get(p.NetID)
	require.True(t, ok)

	disconnected := 0
	h.server.Connections().OnDisconnected.Add(func(*session.Connection) { disconnected++ })
	require.NoError(t, a.Disconnect())
	h.step(b)

	assert.Equal(t, 1, disconnected)
	assert.Equal(t, 1, h.server.Connections().Len())
	assert.Equal(t, 0, h.server.Registry().Len())
	_, ok = b.Registry().Get(p.NetID)
	assert.False(t, ok)
	assert.False(t, a.Connected())
	assert.Zero(t, a.Registry().Len())
	assert.NoError(t, h.server.Interest().CheckSymmetry())
}

func TestServer_DisconnectKeepsEntitiesWhenConfigured(t *testing.T) {
	keep := false
	h := newHarness(t, func(c *config.Config) {
		alwaysVisible(c)
		c.Replication.DestroyOwnedOnDisconnect = &keep
	})
	a := h.connect("a", nil)
	h.step(a)

	p := entity.New(playerAsset)
	_, err := h.server.Spawn(p, vec.Vec3{}, vec.IdentityQuat, entity.OwnedBy(a.mem.ID()))
	require.NoError(t, err)
	h.step(a)

	h.server.Disconnect(a.mem.ID())
	assert.Equal(t, 1, h.server.Registry().Len())
	assert.False(t, p.HasOwner)
	assert.Zero(t, p.ObserverCount())
	_, ok := h.server.Connections().Get(a.mem.ID())
	assert.False(t, ok)
}

func TestServer_FingerprintMismatchRefusesReady(t *testing.T) {
	h := newHarness(t, nil)
	cl := h.connect("eve", func(c *config.Config) { c.Compression.RotationBits = 10 })
	notReady := 0
	cl.OnNotReady.Add(func(*Client) { notReady++ })

	h.step(cl)

	assert.True(t, cl.IsAuthenticated())
	assert.Equal(t, 1, notReady)
	assert.False(t, cl.IsReady())
	assert.False(t, h.conn(cl).IsReady)
}

func TestServer_ReadyRequiresAuthentication(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	inbox := transport.NewInbox(64)
	mc := transport.NewMemoryClient(h.mem, inbox)
	require.NoError(t, mc.Connect(ctx, "memory"))
	h.server.Tick(ctx)

	w := netbuf.NewWriter()
	require.NoError(t, batch.EncodeSingle(w, protocol.Marshal(&protocol.Ready{Fingerprint: h.server.World().Fingerprint()}), 0))
	require.NoError(t, mc.Send(transport.Reliable, w.Bytes()))
	h.server.Tick(ctx)

	sc, ok := h.server.Connections().Get(mc.ID())
	require.True(t, ok)
	assert.False(t, sc.IsReady)
	assert.Equal(t, 1.0, sentCount(h.server.Metrics(), transport.Reliable, protocol.MsgNotReady))
}

func TestServer_OnlyOwnerMayMoveEntity(t *testing.T) {
	h := newHarness(t, alwaysVisible)
	a := h.connect("owner", nil)
	b := h.connect("intruder", nil)
	h.step(a, b)

	p := entity.New(playerAsset)
	_, err := h.server.Spawn(p, vec.Vec3{X: 1}, vec.IdentityQuat, entity.OwnedBy(a.mem.ID()))
	require.NoError(t, err)
	h.step(a, b)

	payload, err := b.world.Transforms().PackOne(TransformRecord{NetID: p.NetID, Position: vec.Vec3{X: 30}, Rotation: vec.IdentityQuat})
	require.NoError(t, err)
	require.NoError(t, b.send(transport.Unreliable, &protocol.TransformSingle{Payload: payload}))
	h.step(a, b)

	assert.Equal(t, vec.Vec3{X: 1}, p.Position)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.server.Metrics().recordsDropped.WithLabelValues(dropNotOwner)))

	mine, ok := a.Registry().Get(p.NetID)
	require.True(t, ok)
	require.True(t, mine.IsOwned)
	mine.SetPosition(vec.Vec3{X: 3})
	h.step(a, b)
	assert.InDelta(t, 3, p.Position.X, 0.01)

	// сервер разослал новую позицию, наблюдатель её принял
	h.step(a, b)
	seen, ok := b.Registry().Get(p.NetID)
	require.True(t, ok)
	assert.InDelta(t, 3, seen.Position.X, 0.01)
}

func TestServer_SceneObjectReturnsToSpawnables(t *testing.T) {
	h := newHarness(t, alwaysVisible)
	cl := h.connect("frank", nil)

	prepared := entity.New(crateAsset)
	prepared.SceneID = 42
	require.NoError(t, cl.Registry().PrepareSceneObject(prepared))
	h.step(cl)

	scene := entity.New(crateAsset)
	scene.SceneID = 42
	_, err := h.server.Spawn(scene, vec.Vec3{Y: 1}, vec.IdentityQuat, entity.NoOwner)
	require.NoError(t, err)
	h.step(cl)

	got, ok := cl.Registry().Get(scene.NetID)
	require.True(t, ok)
	assert.Same(t, prepared, got)
	assert.True(t, got.Active)
	assert.Zero(t, cl.Registry().SpawnableCount())

	require.NoError(t, h.server.Despawn(scene.NetID))
	h.step(cl)
	assert.False(t, prepared.Active)
	assert.Equal(t, 1, cl.Registry().SpawnableCount())
}

func TestClient_NotReadyClearsWorld(t *testing.T) {
	h := newHarness(t, alwaysVisible)
	cl := h.connect("gina", nil)
	h.step(cl)
	_, err := h.server.Spawn(entity.New(crateAsset), vec.Vec3{}, vec.IdentityQuat, entity.NoOwner)
	require.NoError(t, err)
	h.step(cl)
	require.Equal(t, 1, cl.Registry().Len())

	require.NoError(t, cl.NotReady())
	h.step(cl)

	assert.False(t, cl.IsReady())
	assert.Zero(t, cl.Registry().Len())
	assert.False(t, h.conn(cl).IsReady)
	assert.Zero(t, h.conn(cl).ObservingCount())
}

func TestClient_PingMeasuresRTT(t *testing.T) {
	h := newHarness(t, nil)
	cl := h.connect("hank", nil)
	cl.pingInterval = time.Second
	ctx := context.Background()

	cl.Tick(ctx)
	h.clock.Advance(20 * time.Millisecond)
	h.server.Tick(ctx)
	h.clock.Advance(20 * time.Millisecond)
	cl.Tick(ctx)

	assert.Equal(t, 40*time.Millisecond, cl.RTT())
	// часы общие, поэтому оценка совпадает с ними
	assert.Equal(t, h.clock.Now(), cl.ServerTime())
	h.clock.Advance(time.Second)
	assert.Equal(t, h.clock.Now(), cl.ServerTime())
}

func TestServer_SnapshotCountsSpatialHashCells(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Interest.Strategy = "spatial_hash"
		c.Interest.CellSize = 10
	})
	for _, p := range []vec.Vec3{{X: 1, Z: 1}, {X: 2, Z: 2}, {X: 55, Z: -40}} {
		_, err := h.server.Spawn(entity.New(crateAsset), p, vec.IdentityQuat, entity.NoOwner)
		require.NoError(t, err)
	}
	h.step()

	snap := h.server.Snapshot()
	assert.Equal(t, "spatial_hash", snap.Strategy)
	assert.Equal(t, 2, snap.InterestCells)
	assert.Len(t, snap.Entities, 3)
}

func TestServer_KickReturnsWhenInboxIsFull(t *testing.T) {
	if testing.Short() {
		t.Skip("uses KCP over real UDP sockets")
	}
	cfg := config.Default()
	world, err := NewWorld(cfg, statecodec.NewRegistry())
	require.NoError(t, err)

	inbox := transport.NewInbox(1)
	kcpSrv, err := transport.NewKCPServer("127.0.0.1:0", transport.DefaultKCPConfig(), inbox)
	require.NoError(t, err)
	srv, err := NewServer(world, kcpSrv, inbox, ServerOptions{})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	kc, err := transport.NewKCPClient(transport.DefaultKCPConfig(), transport.NewInbox(64))
	require.NoError(t, err)
	require.NoError(t, kc.Connect(context.Background(), kcpSrv.Addr().String()))
	defer kc.Disconnect()

	ping := func(n int64) {
		b := batch.NewBatcher(1200)
		require.True(t, b.AddMessage(protocol.Marshal(&protocol.Ping{ClientTime: n})))
		w := netbuf.NewWriter()
		require.True(t, b.MakeNextBatch(w))
		require.NoError(t, kc.Send(transport.Reliable, w.Bytes()))
	}
	ping(1)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		srv.Tick(ctx)
		return srv.Connections().Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
	conn := srv.Connections().All()[0].ID

	// очередь сервера забита, ещё один фрейм ждёт в читателе
	ping(2)
	ping(3)
	require.Eventually(t, func() bool { return inbox.Len() == 1 }, 5*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		srv.Disconnect(conn)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("kick blocked the tick thread")
	}
	assert.Zero(t, srv.Connections().Len())
	assert.ErrorIs(t, kcpSrv.Send(conn, transport.Reliable, []byte{1}), transport.ErrUnknownConnection)
}
