// Package behavior: конечный автомат перемещения (стоять / бродить) для NPC сервера и ботов.
package behavior

import (
	"math"
	"math/rand"
	"time"

	"github.com/annel0/netsync/internal/vec"
)

// State состояние автомата. Update возвращает следующее состояние (или себя).
type State interface {
	Enter(a *Agent)
	Update(a *Agent, dt time.Duration) State
	Exit(a *Agent)
}

// Agent то, чем управляет автомат: позиция на плоскости XZ и направление взгляда
type Agent struct {
	Position vec.Vec3
	Rotation vec.Quat
	// Bounds область, из которой агент не выходит
	Min, Max vec.Vec3
	Speed    float64 // единиц в секунду
	// Terrain если задан, Y агента следует поверхности
	Terrain Terrain

	current State
	rng     *rand.Rand
}

// NewAgent агент в pos, сразу в состоянии Idle
func NewAgent(pos vec.Vec3, min, max vec.Vec3, speed float64, rng *rand.Rand) *Agent {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	a := &Agent{
		Position: pos.Clamp(min, max),
		Rotation: vec.IdentityQuat,
		Min:      min,
		Max:      max,
		Speed:    speed,
		rng:      rng,
	}
	a.SetState(a.NewIdle())
	return a
}

// State текущее состояние
func (a *Agent) State() State { return a.current }

// SetState принудительно меняет состояние
func (a *Agent) SetState(s State) {
	if a.current != nil {
		a.current.Exit(a)
	}
	a.current = s
	if s != nil {
		s.Enter(a)
	}
}

// Update один шаг автомата. true, если позиция или вращение изменились.
func (a *Agent) Update(dt time.Duration) bool {
	if a.current == nil {
		return false
	}
	pos, rot := a.Position, a.Rotation
	if next := a.current.Update(a, dt); next != a.current {
		a.SetState(next)
	}
	a.Ground()
	return pos != a.Position || rot != a.Rotation
}

// Ground ставит агента на поверхность Terrain
func (a *Agent) Ground() {
	if a.Terrain != nil {
		a.Position.Y = a.Terrain.Height(a.Position.X, a.Position.Z)
	}
}

// ===== Idle =====

// Idle стоит на месте 2-5 секунд
type Idle struct {
	elapsed time.Duration
	limit   time.Duration
}

func (a *Agent) NewIdle() *Idle {
	return &Idle{limit: 2*time.Second + time.Duration(a.rng.Float64()*float64(3*time.Second))}
}

func (s *Idle) Enter(*Agent) { s.elapsed = 0 }

func (s *Idle) Update(a *Agent, dt time.Duration) State {
	s.elapsed += dt
	if s.elapsed >= s.limit {
		return a.NewWander()
	}
	return s
}

func (s *Idle) Exit(*Agent) {}

// ===== Wander =====

// Wander идёт к случайной точке в 2-5 единицах, не дольше 3-8 секунд
type Wander struct {
	Target  vec.Vec3
	elapsed time.Duration
	limit   time.Duration
}

func (a *Agent) NewWander() *Wander {
	return &Wander{limit: 3*time.Second + time.Duration(a.rng.Float64()*float64(5*time.Second))}
}

func (s *Wander) Enter(a *Agent) {
	s.elapsed = 0
	angle := a.rng.Float64() * 2 * math.Pi
	dist := 2 + a.rng.Float64()*3
	s.Target = vec.Vec3{
		X: a.Position.X + dist*math.Cos(angle),
		Y: a.Position.Y,
		Z: a.Position.Z + dist*math.Sin(angle),
	}.Clamp(a.Min, a.Max)
}

func (s *Wander) Update(a *Agent, dt time.Duration) State {
	s.elapsed += dt
	// движение только по плоскости XZ, высоту задаёт Terrain
	to := s.Target.Sub(a.Position)
	to.Y = 0
	dist := to.Length()
	if s.elapsed >= s.limit || dist < 1e-3 {
		return a.NewIdle()
	}
	step := a.Speed * dt.Seconds()
	if step >= dist {
		a.Position.X, a.Position.Z = s.Target.X, s.Target.Z
	} else {
		a.Position = a.Position.Add(to.Mul(step / dist))
	}
	// поворот вокруг Y по направлению движения
	a.Rotation = vec.QuatFromAxisAngle(vec.Vec3{Y: 1}, math.Atan2(to.X, to.Z))
	return s
}

func (s *Wander) Exit(*Agent) {}
