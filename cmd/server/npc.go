package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/annel0/netsync/internal/assets"
	"github.com/annel0/netsync/internal/behavior"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/replication"
	"github.com/annel0/netsync/internal/vec"
)

// npcHerd серверные NPC, которые бродят по автомату behavior.Agent
type npcHerd struct {
	server *replication.Server
	agents map[*entity.Entity]*behavior.Agent
	last   time.Time
}

// spawnNPCs создаёт count NPC в квадрате [-area, area] и двигает их на каждом тике сервера.
// terrain может быть nil.
func spawnNPCs(srv *replication.Server, count int, area float64, terrain behavior.Terrain, rng *rand.Rand) (*npcHerd, error) {
	h := &npcHerd{server: srv, agents: make(map[*entity.Entity]*behavior.Agent, count)}
	min, max := vec.Vec3{X: -area, Z: -area}, vec.Vec3{X: area, Z: area}
	for i := 0; i < count; i++ {
		e := entity.New(assets.NPC)
		e.State = &assets.NPCState{Kind: uint8(i % 4), Label: fmt.Sprintf("npc-%d", i)}
		pos := vec.Vec3{X: (rng.Float64()*2 - 1) * area, Z: (rng.Float64()*2 - 1) * area}
		a := behavior.NewAgent(pos, min, max, 1.5, rng)
		a.Terrain = terrain
		a.Ground()
		if _, err := srv.Spawn(e, a.Position, vec.IdentityQuat, entity.NoOwner); err != nil {
			return nil, fmt.Errorf("spawn npc %d: %w", i, err)
		}
		h.agents[e] = a
	}
	srv.OnDespawned.Add(func(e *entity.Entity) { delete(h.agents, e) })
	srv.OnTick.Add(h.step)
	return h, nil
}

func (h *npcHerd) step(now time.Time) {
	if h.last.IsZero() {
		h.last = now
		return
	}
	dt := now.Sub(h.last)
	h.last = now
	for e, a := range h.agents {
		if a.Update(dt) {
			e.SetTransform(a.Position, a.Rotation)
		}
	}
}
