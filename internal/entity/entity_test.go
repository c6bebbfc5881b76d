package entity

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/netsync/internal/dirty"
	"github.com/annel0/netsync/internal/vec"
)

var testAsset = uuid.MustParse("4f1c2a8e-2a0b-4c3e-9d7a-0e5b6c7d8e9f")

func TestRegistry_SpawnAssignsMonotonicIDs(t *testing.T) {
	r := NewRegistry(0)

	a, b := New(testAsset), New(testAsset)
	idA, err := r.Spawn(a, vec.Vec3{X: 1}, vec.IdentityQuat, NoOwner)
	require.NoError(t, err)
	idB, err := r.Spawn(b, vec.Vec3{X: 2}, vec.IdentityQuat, OwnedBy(7))
	require.NoError(t, err)

	assert.Equal(t, uint32(1), idA)
	assert.Equal(t, uint32(2), idB)
	assert.True(t, b.HasOwner)
	assert.Equal(t, uint32(7), uint32(b.Owner))
	assert.True(t, a.Live())

	_, err = r.Spawn(a, vec.Vec3{}, vec.IdentityQuat, NoOwner)
	assert.ErrorIs(t, err, ErrDuplicateSpawn)

	// id не переиспользуются после despawn
	_, err = r.Despawn(idA)
	require.NoError(t, err)
	assert.False(t, a.Live())
	c := New(testAsset)
	idC, err := r.Spawn(c, vec.Vec3{}, vec.IdentityQuat, NoOwner)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), idC)

	_, err = r.Despawn(idA)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, idB, all[0].NetID)
	assert.Equal(t, idC, all[1].NetID)
	assert.Len(t, r.OwnedBy(7), 1)
}

func TestRegistry_IDSpaceExhausted(t *testing.T) {
	r := NewRegistry(2)
	for i := 0; i < 2; i++ {
		_, err := r.Spawn(New(testAsset), vec.Vec3{}, vec.IdentityQuat, NoOwner)
		require.NoError(t, err)
	}
	_, err := r.Spawn(New(testAsset), vec.Vec3{}, vec.IdentityQuat, NoOwner)
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestEntity_TransformRouting(t *testing.T) {
	e := New(testAsset)
	e.SetTransform(vec.Vec3{X: 1}, vec.IdentityQuat)
	assert.True(t, e.TransformDirty.IsDirty())
	assert.False(t, e.FieldsDirty.IsDirty())

	o := New(testAsset)
	o.Sync = SyncObservers
	o.SetPosition(vec.Vec3{Y: 1})
	assert.False(t, o.TransformDirty.IsDirty())
	assert.True(t, o.FieldsDirty.Mask().Has(dirty.Transform))

	o.MarkFieldDirty(3)
	assert.True(t, o.FieldsDirty.Mask().Has(dirty.Field(3)))
}

func TestEntity_Observers(t *testing.T) {
	e := New(testAsset)
	assert.True(t, e.AddObserver(3))
	assert.False(t, e.AddObserver(3))
	assert.True(t, e.AddObserver(1))
	assert.Equal(t, 2, e.ObserverCount())
	assert.Equal(t, []uint32{1, 3}, toUint32(e.Observers()))
	assert.True(t, e.RemoveObserver(3))
	assert.False(t, e.RemoveObserver(3))
	assert.False(t, e.HasObserver(3))
}

func toUint32[T ~uint32](in []T) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

func newClientRegistry() (*ClientRegistry, *[]string) {
	var applied []string
	c := NewClientRegistry(func(e *Entity, payload []byte, initial bool) error {
		if payload[0] == 0xFF {
			return errors.New("bad payload")
		}
		applied = append(applied, string(payload))
		return nil
	})
	c.SetDefaultFactory(func(info SpawnInfo) (*Entity, error) { return New(info.AssetID), nil })
	return c, &applied
}

func TestClientRegistry_ApplySpawnPayloadIdempotent(t *testing.T) {
	c, applied := newClientRegistry()
	started := 0
	c.OnStarted.Add(func(*Entity) { started++ })

	info := SpawnInfo{NetID: 5, AssetID: testAsset, Position: vec.Vec3{X: 1}, Rotation: vec.IdentityQuat, Payload: []byte("a")}
	e1, err := c.ApplySpawnPayload(info)
	require.NoError(t, err)

	info.Position = vec.Vec3{X: 2}
	info.Payload = []byte("b")
	e2, err := c.ApplySpawnPayload(info)
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, vec.Vec3{X: 2}, e2.Position)
	assert.Equal(t, vec.One3, e2.Scale)
	assert.Equal(t, []string{"a", "b"}, *applied)
	assert.Equal(t, 1, started)

	_, err = c.ApplySpawnPayload(SpawnInfo{NetID: 6, AssetID: testAsset, Payload: []byte{0xFF}})
	assert.Error(t, err)
}

func TestClientRegistry_RejectedSpawnLeavesNoTrace(t *testing.T) {
	c, _ := newClientRegistry()
	started := 0
	c.OnStarted.Add(func(*Entity) { started++ })
	var locals []uint32
	c.OnLocalPlayer.Add(func(e *Entity) { locals = append(locals, e.NetID) })

	// новый id с битой нагрузкой не регистрируется
	_, err := c.ApplySpawnPayload(SpawnInfo{NetID: 7, AssetID: testAsset, IsOwner: true, IsLocalPlayer: true,
		Position: vec.Vec3{X: 3}, Rotation: vec.IdentityQuat, Payload: []byte{0xFF}})
	require.Error(t, err)
	_, ok := c.Get(7)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
	assert.Zero(t, started)
	assert.Nil(t, c.LocalPlayer())
	assert.Empty(t, locals)

	// известный id: повторный Spawn с битой нагрузкой ничего не меняет
	e, err := c.ApplySpawnPayload(SpawnInfo{NetID: 8, AssetID: testAsset, Position: vec.Vec3{X: 1}, Rotation: vec.IdentityQuat, Payload: []byte("ok")})
	require.NoError(t, err)
	got, err := c.ApplySpawnPayload(SpawnInfo{NetID: 8, AssetID: testAsset, IsOwner: true, IsLocalPlayer: true,
		Position: vec.Vec3{X: 99}, Rotation: vec.IdentityQuat, Scale: vec.Vec3{X: 5, Y: 5, Z: 5}, Payload: []byte{0xFF}})
	require.Error(t, err)
	assert.Same(t, e, got)
	assert.Equal(t, vec.Vec3{X: 1}, e.Position)
	assert.Equal(t, vec.One3, e.Scale)
	assert.False(t, e.IsOwned)
	assert.Nil(t, c.LocalPlayer())

	// объект сцены остаётся подготовленным и неактивным
	door := New(testAsset)
	door.SceneID = 42
	require.NoError(t, c.PrepareSceneObject(door))
	_, err = c.ApplySpawnPayload(SpawnInfo{NetID: 9, SceneID: 42, Position: vec.Vec3{X: 4}, Payload: []byte{0xFF}})
	require.Error(t, err)
	assert.False(t, door.Active)
	assert.Equal(t, NoID, door.NetID)
	assert.Equal(t, vec.Vec3{}, door.Position)
	assert.Equal(t, 1, c.SpawnableCount())
	assert.Equal(t, 1, c.Len())

	// исправленный Spawn того же объекта проходит
	_, err = c.ApplySpawnPayload(SpawnInfo{NetID: 9, SceneID: 42, Position: vec.Vec3{X: 4}, Rotation: vec.IdentityQuat})
	require.NoError(t, err)
	assert.True(t, door.Active)
	assert.Zero(t, c.SpawnableCount())
}

func TestClientRegistry_SceneObjects(t *testing.T) {
	c, _ := newClientRegistry()

	door := New(testAsset)
	door.SceneID = 42
	require.NoError(t, c.PrepareSceneObject(door))
	assert.False(t, door.Active)
	assert.Equal(t, 1, c.SpawnableCount())

	e, err := c.ApplySpawnPayload(SpawnInfo{NetID: 10, SceneID: 42, Rotation: vec.IdentityQuat})
	require.NoError(t, err)
	assert.Same(t, door, e)
	assert.True(t, door.Active)
	assert.Equal(t, 0, c.SpawnableCount())

	// объект сцены при удалении деактивируется и возвращается в подготовленные
	_, err = c.Hide(10)
	require.NoError(t, err)
	assert.False(t, door.Active)
	assert.Equal(t, 1, c.SpawnableCount())

	_, err = c.ApplySpawnPayload(SpawnInfo{NetID: 11, SceneID: 99})
	assert.ErrorIs(t, err, ErrUnknownSceneObject)

	_, err = c.Destroy(10)
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestClientRegistry_UnspawnHandlerOverridesDefault(t *testing.T) {
	c, _ := newClientRegistry()
	custom := uuid.New()
	var unspawned []uint32
	c.RegisterSpawnHandlers(custom,
		func(info SpawnInfo) (*Entity, error) { return New(info.AssetID), nil },
		func(e *Entity) { unspawned = append(unspawned, e.NetID) })

	e, err := c.ApplySpawnPayload(SpawnInfo{NetID: 3, AssetID: custom})
	require.NoError(t, err)
	_, err = c.Destroy(3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3}, unspawned)
	// обработчик сам решает судьбу объекта
	assert.True(t, e.Active)

	c.SetDefaultFactory(nil)
	_, err = c.ApplySpawnPayload(SpawnInfo{NetID: 4, AssetID: uuid.New()})
	assert.ErrorIs(t, err, ErrNoSpawnHandler)
}

func TestClientRegistry_PendingOwner(t *testing.T) {
	c, _ := newClientRegistry()
	var locals []uint32
	c.OnLocalPlayer.Add(func(e *Entity) { locals = append(locals, e.NetID) })

	// Owner пришёл раньше Spawn
	assert.False(t, c.SetOwner(8))
	assert.False(t, c.SetOwner(8))
	assert.Equal(t, []uint32{8}, c.PendingOwners())

	e, err := c.ApplySpawnPayload(SpawnInfo{NetID: 8, AssetID: testAsset})
	require.NoError(t, err)
	assert.True(t, e.IsLocalPlayer)
	assert.True(t, e.IsOwned)
	assert.Same(t, e, c.LocalPlayer())
	assert.Empty(t, c.PendingOwners())
	assert.Equal(t, []uint32{8}, locals)

	// Owner на уже существующую сущность
	other, err := c.ApplySpawnPayload(SpawnInfo{NetID: 9, AssetID: testAsset})
	require.NoError(t, err)
	assert.True(t, c.SetOwner(9))
	assert.True(t, other.IsLocalPlayer)
	assert.False(t, e.IsLocalPlayer)
}

func TestClientRegistry_InitialSpawnDefersStart(t *testing.T) {
	c, _ := newClientRegistry()
	var order []uint32
	c.OnStarted.Add(func(e *Entity) { order = append(order, e.NetID) })

	c.BeginInitialSpawn()
	c.SetOwner(2)
	for _, id := range []uint32{3, 1, 2} {
		_, err := c.ApplySpawnPayload(SpawnInfo{NetID: id, AssetID: testAsset})
		require.NoError(t, err)
	}
	assert.Empty(t, order)
	assert.Nil(t, c.LocalPlayer())

	c.FinishInitialSpawn()
	assert.Equal(t, []uint32{1, 2, 3}, order)
	require.NotNil(t, c.LocalPlayer())
	assert.Equal(t, uint32(2), c.LocalPlayer().NetID)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.LocalPlayer())
}
