package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/netsync/internal/assets"
	"github.com/annel0/netsync/internal/config"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/replication"
	"github.com/annel0/netsync/internal/statecodec"
	"github.com/annel0/netsync/internal/transport"
	"github.com/annel0/netsync/internal/vec"
)

func newTestServer(t *testing.T, now *time.Time) *replication.Server {
	t.Helper()
	codecs := statecodec.NewRegistry()
	require.NoError(t, assets.Register(codecs))
	world, err := replication.NewWorld(config.Default(), codecs)
	require.NoError(t, err)
	world.Now = func() time.Time { return *now }
	inbox := transport.NewInbox(64)
	srv, err := replication.NewServer(world, transport.NewMemoryServer(inbox), inbox, replication.ServerOptions{})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	return srv
}

func spawnPlayer(t *testing.T, srv *replication.Server, name string, pos vec.Vec3) *entity.Entity {
	t.Helper()
	e := entity.New(assets.Player)
	e.State = &assets.PlayerState{Name: name, Health: 100, Score: 3}
	_, err := srv.Spawn(e, pos, vec.IdentityQuat, entity.NoOwner)
	require.NoError(t, err)
	return e
}

func TestPersister_SavesOnDespawn(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv := newTestServer(t, &now)
	store := NewMemoryProfileStore()
	p := NewPersister(store, srv, PersisterOptions{})

	e := spawnPlayer(t, srv, "carol", vec.Vec3{X: 5, Z: 6})
	npc := entity.New(assets.NPC)
	npc.State = &assets.NPCState{Label: "n"}
	_, err := srv.Spawn(npc, vec.Vec3{}, vec.IdentityQuat, entity.NoOwner)
	require.NoError(t, err)

	require.NoError(t, srv.Despawn(npc.NetID))
	require.NoError(t, srv.Despawn(e.NetID))

	require.Eventually(t, func() bool { return store.Count() == 1 }, time.Second, 5*time.Millisecond)
	prof, found := p.Restore("carol")
	require.True(t, found)
	assert.Equal(t, vec.Vec3{X: 5, Z: 6}, prof.Position)
	assert.Equal(t, uint32(3), prof.Score)
	assert.True(t, now.Equal(prof.SavedAt))

	_, found = p.Restore("dave")
	assert.False(t, found)

	require.NoError(t, p.Close())
	assert.Equal(t, int64(1), p.Stats().Saved)
}

func TestPersister_Autosave(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv := newTestServer(t, &now)
	store := NewMemoryProfileStore()
	p := NewPersister(store, srv, PersisterOptions{AutosaveInterval: time.Second})

	spawnPlayer(t, srv, "p1", vec.Vec3{X: 1})
	spawnPlayer(t, srv, "p2", vec.Vec3{X: 2})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		now = now.Add(100 * time.Millisecond)
		srv.Tick(ctx)
	}
	assert.Zero(t, store.Count(), "интервал ещё не прошёл")

	for i := 0; i < 10; i++ {
		now = now.Add(100 * time.Millisecond)
		srv.Tick(ctx)
	}
	require.Eventually(t, func() bool { return store.Count() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())
}

func TestPersister_SaveAllOnShutdown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv := newTestServer(t, &now)
	store := NewMemoryProfileStore()
	p := NewPersister(store, srv, PersisterOptions{})

	e := spawnPlayer(t, srv, "erin", vec.Vec3{X: 1})
	e.SetTransform(vec.Vec3{X: 9, Z: 9}, vec.IdentityQuat)

	assert.Equal(t, 1, p.SaveAll(now))
	// Close дожидается записи очереди
	require.NoError(t, p.Close())

	prof, found, err := store.Load(context.Background(), "erin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, vec.Vec3{X: 9, Z: 9}, prof.Position)

	// после Close очередь закрыта: профили считаются отброшенными
	assert.Equal(t, 1, p.SaveAll(now))
	assert.EqualValues(t, 1, p.Stats().Dropped)
	require.NoError(t, p.Close())
}

func TestProfileOf(t *testing.T) {
	e := entity.New(assets.Player)
	_, ok := ProfileOf(e, time.Now())
	assert.False(t, ok, "без состояния")

	e.State = &assets.PlayerState{}
	_, ok = ProfileOf(e, time.Now())
	assert.False(t, ok, "без имени")

	e.State = &assets.PlayerState{Name: "x", Health: 5}
	prof, ok := ProfileOf(e, time.Now())
	require.True(t, ok)
	assert.Equal(t, int32(5), prof.Health)
}
