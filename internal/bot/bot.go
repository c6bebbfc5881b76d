// Package bot: клиент-бот для нагрузочных прогонов: подключается, просит мир и водит
// своего игрока автоматом behavior.Agent.
package bot

import (
	"context"
	"math/rand"
	"time"

	"github.com/annel0/netsync/internal/assets"
	"github.com/annel0/netsync/internal/behavior"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/logging"
	"github.com/annel0/netsync/internal/replication"
	"github.com/annel0/netsync/internal/session"
	"github.com/annel0/netsync/internal/vec"
)

// Options поведение бота
type Options struct {
	// Token уходит в AuthRequest
	Token string
	// Min, Max границы блуждания
	Min, Max vec.Vec3
	Speed    float64
	// Terrain поверхность, по которой идёт бот; nil: плоскость
	Terrain behavior.Terrain
	// ScoreEvery период увеличения Score (поле состояния игрока); 0: не менять
	ScoreEvery time.Duration
	Rand       *rand.Rand
}

// Bot управляет одним replication.Client. Все методы вызываются из одной горутины.
type Bot struct {
	client *replication.Client
	opts   Options
	logger *logging.Logger

	agent     *behavior.Agent
	player    *entity.Entity
	lastStep  time.Time
	lastScore time.Time
	moves     int
}

// New подписывает бота на хуки клиента. Подключение начинает client.Connect.
func New(client *replication.Client, opts Options) *Bot {
	if opts.Speed <= 0 {
		opts.Speed = 3
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	b := &Bot{client: client, opts: opts, logger: logging.GetClientLogger()}

	client.OnConnected.Add(func(c *replication.Client) {
		if err := c.Authenticate(opts.Token); err != nil {
			b.logger.Warn("bot %s: auth request: %v", opts.Token, err)
		}
	})
	client.OnAuthenticated.Add(func(id session.Identity) {
		b.logger.Debug("bot authenticated as %s (%d)", id.Username, id.PlayerID)
		if err := client.Ready(); err != nil {
			b.logger.Warn("bot %s: ready: %v", id.Username, err)
		}
	})
	client.Registry().OnLocalPlayer.Add(func(e *entity.Entity) {
		b.player = e
		b.agent = behavior.NewAgent(e.Position, opts.Min, opts.Max, opts.Speed, opts.Rand)
		b.agent.Terrain = opts.Terrain
		b.lastStep = time.Time{}
	})
	client.Registry().OnDestroyed.Add(func(e *entity.Entity) {
		if e == b.player {
			b.player = nil
			b.agent = nil
		}
	})
	return b
}

// Client управляемый клиент
func (b *Bot) Client() *replication.Client { return b.client }

// Player сущность бота (nil до Owner/Spawn)
func (b *Bot) Player() *entity.Entity { return b.player }

// Moves сколько шагов автомата изменили трансформ
func (b *Bot) Moves() int { return b.moves }

// Step продвигает автомат к моменту now и помечает изменения своей сущности
func (b *Bot) Step(now time.Time) {
	if b.agent == nil || b.player == nil {
		return
	}
	if b.lastStep.IsZero() {
		b.lastStep = now
		b.lastScore = now
		return
	}
	dt := now.Sub(b.lastStep)
	b.lastStep = now
	if b.agent.Update(dt) {
		b.player.SetTransform(b.agent.Position, b.agent.Rotation)
		b.moves++
	}
	if b.opts.ScoreEvery > 0 && now.Sub(b.lastScore) >= b.opts.ScoreEvery {
		b.lastScore = now
		if st, ok := b.player.State.(*assets.PlayerState); ok {
			st.Score++
			b.player.MarkFieldDirty(assets.PlayerScore)
		}
	}
}

// Run шаг автомата и тик клиента с периодом interval до отмены ctx
func (b *Bot) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			b.Step(now)
			b.client.Tick(ctx)
		}
	}
}
