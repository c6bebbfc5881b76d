package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/netsync/internal/api"
	"github.com/annel0/netsync/internal/assets"
	"github.com/annel0/netsync/internal/auth"
	"github.com/annel0/netsync/internal/behavior"
	"github.com/annel0/netsync/internal/config"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/eventbus"
	"github.com/annel0/netsync/internal/logging"
	"github.com/annel0/netsync/internal/observability"
	"github.com/annel0/netsync/internal/replication"
	"github.com/annel0/netsync/internal/session"
	"github.com/annel0/netsync/internal/statecodec"
	"github.com/annel0/netsync/internal/storage"
	"github.com/annel0/netsync/internal/transport"
	"github.com/annel0/netsync/internal/vec"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигу (по умолчанию $NETSYNC_CONFIG)")
	npcs := flag.Int("npcs", 50, "число серверных NPC")
	area := flag.Float64("area", 200, "полуширина области, где появляются игроки и NPC")
	flag.Parse()

	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(*configPath, *npcs, *area); err != nil {
		logging.Error("server stopped: %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("Сервер остановлен")
}

func run(configPath string, npcs int, area float64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	instanceID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry, instanceID)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("telemetry shutdown: %v", err)
		}
	}()

	codecs := statecodec.NewRegistry()
	if err := assets.Register(codecs); err != nil {
		return err
	}
	world, err := replication.NewWorld(cfg, codecs)
	if err != nil {
		return err
	}

	// Аутентификация: в режиме jwt один и тот же ключ подписывает токены admin API
	// и проверяет AuthRequest игровых клиентов.
	var (
		authn  auth.Authenticator
		tokens *auth.JWTAuthenticator
		users  = auth.NewMemoryUserRepo()
	)
	if cfg.Auth.Mode == "jwt" {
		tokens, err = auth.NewJWTAuthenticator([]byte(cfg.Auth.GetJWTSecret()), 24*time.Hour)
		if err != nil {
			return err
		}
		authn = tokens
		if pass := os.Getenv("NETSYNC_ADMIN_PASSWORD"); pass != "" {
			if _, err := users.AddUser("admin", pass, true); err != nil {
				return fmt.Errorf("bootstrap admin: %w", err)
			}
		} else {
			logging.Warn("NETSYNC_ADMIN_PASSWORD не задан: вход в admin API невозможен")
		}
	}

	inbox := transport.NewInbox(cfg.Transport.BufferSize)
	tr, listenAddr, err := transport.NewServerFromConfig(cfg, inbox)
	if err != nil {
		return err
	}
	srv, err := replication.NewServer(world, tr, inbox, replication.ServerOptions{
		Authenticator:    authn,
		SnapshotInterval: 500 * time.Millisecond,
	})
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	persister := storage.NewPersister(store, srv, storage.PersisterOptions{
		LoadTimeout:      cfg.Storage.LoadTimeoutDuration(),
		AutosaveInterval: cfg.Storage.AutosaveDuration(),
	})
	defer func() {
		if err := persister.Close(); err != nil {
			logging.Warn("close storage: %v", err)
		}
		st := persister.Stats()
		logging.Info("Профили: сохранено %d, ошибок %d, отброшено %d", st.Saved, st.Failed, st.Dropped)
	}()

	bus, err := openEventBus(cfg.Events)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if bus != nil {
		defer func() {
			if err := bus.Close(); err != nil {
				logging.Warn("close event bus: %v", err)
			}
		}()
		eventbus.AttachServer(srv, bus, instanceID)
		if err := eventbus.RegisterMetrics(bus, srv.Metrics().Registry); err != nil {
			return err
		}
		if _, err := eventbus.StartLoggingListener(bus); err != nil {
			return err
		}
	}

	var terrain behavior.Terrain
	if cfg.Terrain.Amplitude > 0 {
		terrain = behavior.NewPerlinTerrain(cfg.Terrain.Seed, cfg.Terrain.Scale, cfg.Terrain.Amplitude)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	spawnPlayers(srv, persister, terrain, area, rng)
	if _, err := spawnNPCs(srv, npcs, area, terrain, rng); err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			logging.Warn("stop transport: %v", err)
		}
	}()

	adminAddr := fmt.Sprintf(":%d", cfg.Server.GetAdminPort())
	admin, err := api.NewServer(api.Config{
		Addr:      adminAddr,
		Snapshots: srv,
		Registry:  srv.Metrics().Registry,
		Users:     users,
		Tokens:    tokens,
	})
	if err != nil {
		return err
	}
	adminErr := admin.Start()

	logging.Info("netsync %s: %s, admin http://localhost%s, tick %s, auth=%s, storage=%s, events=%s",
		instanceID, listenAddr, adminAddr, cfg.Replication.TickInterval(), cfg.Auth.Mode,
		cfg.Storage.Backend, cfg.Events.Backend)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	select {
	case <-ctx.Done():
		logging.Info("Получен сигнал завершения")
	case err := <-adminErr:
		if err != nil {
			stop()
			return fmt.Errorf("admin API: %w", err)
		}
	}
	stop()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	// тик остановлен: Registry больше никто не трогает
	if n := persister.SaveAll(time.Now()); n > 0 {
		logging.Info("Сохранение %d профилей перед выходом", n)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return admin.Shutdown(shutdownCtx)
}

// openEventBus создаёт шину по секции events; для backend=none возвращает nil
func openEventBus(ec config.EventsConfig) (eventbus.EventBus, error) {
	switch ec.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return eventbus.NewMemoryBus(4096), nil
	case "nats":
		bus, err := eventbus.NewJetStreamBus(ec.NATSURL, ec.Stream, ec.Retention())
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", ec.Backend)
	}
}

// spawnPlayers на каждое готовое соединение создаёт игрока и назначает его соединению.
// Сохранённый профиль восстанавливает позицию, поворот, здоровье и счёт.
func spawnPlayers(srv *replication.Server, persister *storage.Persister, terrain behavior.Terrain, area float64, rng *rand.Rand) {
	srv.Connections().OnReady.Add(func(c *session.Connection) {
		if c.Player != entity.NoID {
			return
		}
		state := &assets.PlayerState{Name: c.Identity.Username, Health: 100}
		pos := vec.Vec3{X: (rng.Float64()*2 - 1) * area / 4, Z: (rng.Float64()*2 - 1) * area / 4}
		if terrain != nil {
			pos.Y = terrain.Height(pos.X, pos.Z)
		}
		rot := vec.IdentityQuat
		if profile, ok := persister.Restore(state.Name); ok {
			pos, rot = profile.Position, profile.Rotation
			state.Score = profile.Score
			if profile.Health > 0 {
				state.Health = profile.Health
			}
		}

		e := entity.New(assets.Player)
		e.State = state
		if _, err := srv.Spawn(e, pos, rot, entity.OwnedBy(c.ID)); err != nil {
			logging.Error("spawn player for conn %d: %v", c.ID, err)
			return
		}
		if err := srv.SetPlayer(c.ID, e.NetID); err != nil {
			logging.Error("set player for conn %d: %v", c.ID, err)
		}
	})
}
