package statecodec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry сопоставляет asset id и кодек состояния. Заполняется при старте,
// после этого только читается.
type Registry struct {
	mu      sync.RWMutex
	byAsset map[uuid.UUID]*Codec
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{byAsset: make(map[uuid.UUID]*Codec)}
}

// Register строит кодек по образцу и связывает его с assetID
func (r *Registry) Register(assetID uuid.UUID, sample any) (*Codec, error) {
	c, err := Build(sample)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAsset[assetID]; exists {
		return nil, fmt.Errorf("statecodec: asset %s already registered", assetID)
	}
	r.byAsset[assetID] = c
	return c, nil
}

// MustRegister как Register, но паникует при ошибке (для регистрации в init/main)
func (r *Registry) MustRegister(assetID uuid.UUID, sample any) *Codec {
	c, err := r.Register(assetID, sample)
	if err != nil {
		panic(err)
	}
	return c
}

// Get кодек для assetID
func (r *Registry) Get(assetID uuid.UUID) (*Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byAsset[assetID]
	return c, ok
}

// Assets зарегистрированные asset id в стабильном порядке
func (r *Registry) Assets() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(r.byAsset))
	for id := range r.byAsset {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
