package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/netsync/internal/assets"
	"github.com/annel0/netsync/internal/config"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/replication"
	"github.com/annel0/netsync/internal/session"
	"github.com/annel0/netsync/internal/statecodec"
	"github.com/annel0/netsync/internal/transport"
	"github.com/annel0/netsync/internal/vec"
)

// collector собирает события подписчика
type collector struct {
	mu     sync.Mutex
	events []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.EventType
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMemoryBus_FilterAndOrder(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var all, spawns collector
	_, err := bus.Subscribe(context.Background(), Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), Filter{Types: []string{TypeSpawned}}, spawns.handle)
	require.NoError(t, err)

	for _, typ := range []string{TypeConnected, TypeSpawned, TypeDisconnected} {
		ev, err := NewEnvelope("test", typ, PriorityHigh, map[string]int{"n": 1})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}

	require.Eventually(t, func() bool { return all.len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{TypeConnected, TypeSpawned, TypeDisconnected}, all.types())
	require.Eventually(t, func() bool { return spawns.len() == 1 }, time.Second, 5*time.Millisecond)

	var payload map[string]int
	require.NoError(t, all.events[0].Decode(&payload))
	assert.Equal(t, 1, payload["n"])
	assert.Len(t, all.events[0].ID, 36)
}

func TestMemoryBus_DropsLowPriorityWhenFull(t *testing.T) {
	bus := NewMemoryBus(1)
	block := make(chan struct{})
	_, err := bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) { <-block })
	require.NoError(t, err)

	ctx := context.Background()
	publish := func(prio int) error {
		ev, _ := NewEnvelope("test", TypeSpawned, prio, nil)
		return bus.Publish(ctx, ev)
	}
	// первое событие уходит в обработчик, который висит; второе занимает буфер
	require.NoError(t, publish(0))
	require.Eventually(t, func() bool { return bus.Metrics().InFlight == 0 }, time.Second, time.Millisecond)
	require.NoError(t, publish(0))
	require.NoError(t, publish(0))
	assert.Equal(t, uint64(1), bus.Metrics().Dropped)

	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	ev, _ := NewEnvelope("test", TypeConnected, PriorityHigh, nil)
	assert.ErrorIs(t, bus.Publish(tctx, ev), context.DeadlineExceeded)

	close(block)
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, publish(9), ErrClosed)
}

func TestRegisterMetrics(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(bus, reg))

	ev, _ := NewEnvelope("test", TypeReady, PriorityHigh, nil)
	require.NoError(t, bus.Publish(context.Background(), ev))

	n, err := testutil.GatherAndCount(reg, "eventbus_messages_published_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Error(t, RegisterMetrics(bus, reg), "повторная регистрация")
}

func TestAttachServer_PublishesLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	cfg := config.Default()
	codecs := statecodec.NewRegistry()
	require.NoError(t, assets.Register(codecs))

	serverWorld, err := replication.NewWorld(cfg, codecs)
	require.NoError(t, err)
	serverWorld.Now = clock
	serverInbox := transport.NewInbox(256)
	mem := transport.NewMemoryServer(serverInbox)
	srv, err := replication.NewServer(serverWorld, mem, serverInbox, replication.ServerOptions{})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	bus := NewMemoryBus(64)
	var got collector
	_, err = bus.Subscribe(context.Background(), Filter{Sources: []string{"node-1"}}, got.handle)
	require.NoError(t, err)
	pub := AttachServer(srv, bus, "node-1")

	srv.Connections().OnReady.Add(func(c *session.Connection) {
		e := entity.New(assets.Player)
		e.State = &assets.PlayerState{Name: c.Identity.Username}
		_, err := srv.Spawn(e, vec.Vec3{X: 3}, vec.IdentityQuat, entity.OwnedBy(c.ID))
		require.NoError(t, err)
	})

	clientWorld, err := replication.NewWorld(cfg, codecs)
	require.NoError(t, err)
	clientWorld.Now = clock
	clientInbox := transport.NewInbox(256)
	client, err := replication.NewClient(clientWorld, transport.NewMemoryClient(mem, clientInbox), clientInbox, replication.ClientOptions{PingInterval: -1})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx, "memory"))
	require.NoError(t, client.Authenticate("frank"))
	require.NoError(t, client.Ready())
	for i := 0; i < 3; i++ {
		now = now.Add(100 * time.Millisecond)
		client.Tick(ctx)
		srv.Tick(ctx)
		client.Tick(ctx)
	}
	require.NoError(t, client.Disconnect())
	now = now.Add(100 * time.Millisecond)
	srv.Tick(ctx)

	require.NoError(t, bus.Close())
	assert.Equal(t, []string{
		TypeConnected, TypeAuthenticated, TypeReady, TypeSpawned, TypeDespawned, TypeDisconnected,
	}, got.types())
	assert.Zero(t, pub.Errors())

	var spawned EntityEvent
	require.NoError(t, got.events[3].Decode(&spawned))
	assert.Equal(t, assets.Player.String(), spawned.AssetID)
	require.NotNil(t, spawned.Owner)
	assert.Equal(t, 3.0, spawned.Position.X)

	var closed ConnectionEvent
	require.NoError(t, got.events[5].Decode(&closed))
	assert.Equal(t, "frank", closed.Username)
	// соединение зарегистрировано на первом тике, закрыто на четвёртом
	assert.Equal(t, 300*time.Millisecond, closed.Duration)
}
