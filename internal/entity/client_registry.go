package entity

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/annel0/netsync/internal/hooks"
	"github.com/annel0/netsync/internal/vec"
)

var (
	// ErrUnknownSceneObject spawn ссылается на sceneId, которого нет среди подготовленных объектов
	ErrUnknownSceneObject = errors.New("entity: scene object not found")
	// ErrNoSpawnHandler для assetId нет ни обработчика, ни фабрики по умолчанию
	ErrNoSpawnHandler = errors.New("entity: no spawn handler for asset")
)

// SpawnInfo содержимое сообщения Spawn на стороне клиента
type SpawnInfo struct {
	NetID         uint32
	IsLocalPlayer bool
	IsOwner       bool
	SceneID       uint64
	AssetID       uuid.UUID
	Position      vec.Vec3
	Rotation      vec.Quat
	Scale         vec.Vec3
	Payload       []byte
}

// SpawnHandler создаёт клиентский объект для динамической сущности
type SpawnHandler func(info SpawnInfo) (*Entity, error)

// UnspawnHandler заменяет поведение по умолчанию при удалении сущности
type UnspawnHandler func(e *Entity)

// PayloadApplier применяет полезную нагрузку spawn/update vars к сущности.
// initial=true для полного состояния из Spawn. При ошибке сущность не должна меняться.
type PayloadApplier func(e *Entity, payload []byte, initial bool) error

// ClientRegistry зеркало сущностей на клиенте. Идентификаторы приходят только от сервера.
type ClientRegistry struct {
	spawned    map[uint32]*Entity
	spawnables map[uint64]*Entity

	spawnHandlers   map[uuid.UUID]SpawnHandler
	unspawnHandlers map[uuid.UUID]UnspawnHandler
	defaultFactory  SpawnHandler
	applyPayload    PayloadApplier

	pendingOwners []uint32
	localPlayer   *Entity

	// Во время начальной выгрузки мира (SpawnStarted..SpawnFinished) запуск сущностей откладывается
	spawnFinished bool
	started       map[uint32]bool

	OnStarted     hooks.List[*Entity]
	OnLocalPlayer hooks.List[*Entity]
	OnDestroyed   hooks.List[*Entity]
}

// NewClientRegistry создаёт клиентский реестр
func NewClientRegistry(applyPayload PayloadApplier) *ClientRegistry {
	return &ClientRegistry{
		spawned:         make(map[uint32]*Entity),
		spawnables:      make(map[uint64]*Entity),
		spawnHandlers:   make(map[uuid.UUID]SpawnHandler),
		unspawnHandlers: make(map[uuid.UUID]UnspawnHandler),
		applyPayload:    applyPayload,
		spawnFinished:   true,
		started:         make(map[uint32]bool),
	}
}

// SetDefaultFactory фабрика для assetId без собственного обработчика
func (c *ClientRegistry) SetDefaultFactory(f SpawnHandler) { c.defaultFactory = f }

// RegisterSpawnHandlers регистрирует обработчики создания и удаления для assetId
func (c *ClientRegistry) RegisterSpawnHandlers(assetID uuid.UUID, spawn SpawnHandler, unspawn UnspawnHandler) {
	if spawn != nil {
		c.spawnHandlers[assetID] = spawn
	}
	if unspawn != nil {
		c.unspawnHandlers[assetID] = unspawn
	}
}

// UnregisterSpawnHandlers снимает обработчики assetId
func (c *ClientRegistry) UnregisterSpawnHandlers(assetID uuid.UUID) {
	delete(c.spawnHandlers, assetID)
	delete(c.unspawnHandlers, assetID)
}

// PrepareSceneObject регистрирует заранее расставленный объект сцены; он станет активным,
// когда сервер пришлёт Spawn с тем же sceneId
func (c *ClientRegistry) PrepareSceneObject(e *Entity) error {
	if e == nil || e.SceneID == 0 {
		return fmt.Errorf("entity: scene object requires non-zero scene id")
	}
	e.Active = false
	c.spawnables[e.SceneID] = e
	return nil
}

// SpawnableCount число неактивных объектов сцены
func (c *ClientRegistry) SpawnableCount() int { return len(c.spawnables) }

// BeginInitialSpawn начало выгрузки мира после Ready
func (c *ClientRegistry) BeginInitialSpawn() {
	c.spawnFinished = false
}

// FinishInitialSpawn запускает все сущности начальной выгрузки в порядке id
func (c *ClientRegistry) FinishInitialSpawn() {
	for _, e := range c.All() {
		if !c.started[e.NetID] {
			c.start(e)
		}
	}
	c.spawnFinished = true
}

// ApplySpawnPayload создаёт или обновляет сущность по сообщению Spawn. Повторный Spawn
// уже известного id: это обновление, а не ошибка. Если нагрузка не применилась,
// реестр и сущность остаются как были.
func (c *ClientRegistry) ApplySpawnPayload(info SpawnInfo) (*Entity, error) {
	if info.NetID == NoID {
		return nil, fmt.Errorf("%w: zero net id", ErrUnknownEntity)
	}

	if e, ok := c.spawned[info.NetID]; ok {
		if err := c.applySpawnState(e, info); err != nil {
			return e, err
		}
		c.applySpawnFields(e, info)
		return e, nil
	}

	var e *Entity
	if info.SceneID != 0 {
		obj, ok := c.spawnables[info.SceneID]
		if !ok {
			return nil, fmt.Errorf("%w: scene id %d (%d spawnable)", ErrUnknownSceneObject, info.SceneID, len(c.spawnables))
		}
		e = obj
	} else {
		handler, ok := c.spawnHandlers[info.AssetID]
		if !ok {
			handler = c.defaultFactory
		}
		if handler == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSpawnHandler, info.AssetID)
		}
		obj, err := handler(info)
		if err != nil {
			return nil, fmt.Errorf("spawn handler for %s: %w", info.AssetID, err)
		}
		if obj == nil {
			return nil, fmt.Errorf("%w: handler for %s returned nil", ErrNoSpawnHandler, info.AssetID)
		}
		e = obj
		e.AssetID = info.AssetID
	}

	// объект сцены остаётся среди подготовленных, пока нагрузка не принята
	if err := c.applySpawnState(e, info); err != nil {
		return nil, err
	}
	if info.SceneID != 0 {
		delete(c.spawnables, info.SceneID)
	}
	e.NetID = info.NetID
	e.spawned = true
	e.despawned = false
	c.spawned[info.NetID] = e
	c.applySpawnFields(e, info)

	if c.spawnFinished {
		c.start(e)
	}
	return e, nil
}

// applySpawnState применяет нагрузку; PayloadApplier при ошибке сущность не меняет
func (c *ClientRegistry) applySpawnState(e *Entity, info SpawnInfo) error {
	if len(info.Payload) == 0 || c.applyPayload == nil {
		return nil
	}
	if err := c.applyPayload(e, info.Payload, true); err != nil {
		return fmt.Errorf("apply spawn payload for %d: %w", info.NetID, err)
	}
	return nil
}

func (c *ClientRegistry) applySpawnFields(e *Entity, info SpawnInfo) {
	e.Active = true
	e.Position = info.Position
	e.Rotation = info.Rotation
	if info.Scale != (vec.Vec3{}) {
		e.Scale = info.Scale
	}
	if info.IsOwner {
		e.IsOwned = true
	}
	if info.IsLocalPlayer {
		c.setLocalPlayer(e)
	}
}

// start первый запуск сущности на клиенте: хуки и проверка отложенного владения
func (c *ClientRegistry) start(e *Entity) {
	c.started[e.NetID] = true
	c.OnStarted.Invoke(e)
	c.checkPendingOwner(e)
}

// SetOwner обрабатывает Owner. Если сущность ещё не пришла, id ждёт в очереди.
// Возвращает true, если владение применено сразу.
func (c *ClientRegistry) SetOwner(netID uint32) bool {
	if e, ok := c.spawned[netID]; ok {
		c.setLocalPlayer(e)
		return true
	}
	for _, id := range c.pendingOwners {
		if id == netID {
			return false
		}
	}
	c.pendingOwners = append(c.pendingOwners, netID)
	return false
}

// PendingOwners ids, ожидающие своего Spawn
func (c *ClientRegistry) PendingOwners() []uint32 {
	out := make([]uint32, len(c.pendingOwners))
	copy(out, c.pendingOwners)
	return out
}

func (c *ClientRegistry) checkPendingOwner(e *Entity) {
	for i, id := range c.pendingOwners {
		if id == e.NetID {
			c.pendingOwners = append(c.pendingOwners[:i], c.pendingOwners[i+1:]...)
			c.setLocalPlayer(e)
			return
		}
	}
}

func (c *ClientRegistry) setLocalPlayer(e *Entity) {
	if c.localPlayer == e {
		return
	}
	if c.localPlayer != nil {
		c.localPlayer.IsLocalPlayer = false
	}
	e.IsLocalPlayer = true
	e.IsOwned = true
	c.localPlayer = e
	c.OnLocalPlayer.Invoke(e)
}

// ReleaseOwner обрабатывает Owner со снятым владением
func (c *ClientRegistry) ReleaseOwner(netID uint32) {
	for i, id := range c.pendingOwners {
		if id == netID {
			c.pendingOwners = append(c.pendingOwners[:i], c.pendingOwners[i+1:]...)
			break
		}
	}
	e, ok := c.spawned[netID]
	if !ok {
		return
	}
	e.IsOwned = false
	e.IsLocalPlayer = false
	if c.localPlayer == e {
		c.localPlayer = nil
	}
}

// LocalPlayer сущность локального игрока (nil, если ещё не назначена)
func (c *ClientRegistry) LocalPlayer() *Entity { return c.localPlayer }

// Destroy обрабатывает ObjectDestroy
func (c *ClientRegistry) Destroy(netID uint32) (*Entity, error) {
	return c.remove(netID)
}

// Hide обрабатывает ObjectHide: сущность вышла из зоны интереса.
// Для клиента это то же удаление; объекты сцены возвращаются в список подготовленных.
func (c *ClientRegistry) Hide(netID uint32) (*Entity, error) {
	return c.remove(netID)
}

func (c *ClientRegistry) remove(netID uint32) (*Entity, error) {
	e, ok := c.spawned[netID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, netID)
	}
	delete(c.spawned, netID)
	delete(c.started, netID)
	e.spawned = false
	e.despawned = true

	c.OnDestroyed.Invoke(e)

	if h, ok := c.unspawnHandlers[e.AssetID]; ok {
		h(e)
	} else if e.IsScene() {
		e.Active = false
		c.spawnables[e.SceneID] = e
	} else {
		e.Active = false
	}
	if c.localPlayer == e {
		c.localPlayer = nil
		e.IsLocalPlayer = false
	}
	e.IsOwned = false
	return e, nil
}

// Get сущность по id
func (c *ClientRegistry) Get(netID uint32) (*Entity, bool) {
	e, ok := c.spawned[netID]
	return e, ok
}

// Len число сущностей
func (c *ClientRegistry) Len() int { return len(c.spawned) }

// All сущности в порядке возрастания id
func (c *ClientRegistry) All() []*Entity {
	out := make([]*Entity, 0, len(c.spawned))
	for _, e := range c.spawned {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetID < out[j].NetID })
	return out
}

// Clear удаляет все сущности (отключение от сервера)
func (c *ClientRegistry) Clear() {
	for _, e := range c.All() {
		_, _ = c.remove(e.NetID)
	}
	c.pendingOwners = nil
	c.spawnFinished = true
}
