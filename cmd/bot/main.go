// Нагрузочный клиент: поднимает N ботов, каждый со своим соединением (KCP или WebSocket по конфигу).
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
	"sync"
	"syscall"
	"time"

	"github.com/annel0/netsync/internal/assets"
	"github.com/annel0/netsync/internal/behavior"
	"github.com/annel0/netsync/internal/bot"
	"github.com/annel0/netsync/internal/config"
	"github.com/annel0/netsync/internal/logging"
	"github.com/annel0/netsync/internal/replication"
	"github.com/annel0/netsync/internal/statecodec"
	"github.com/annel0/netsync/internal/transport"
	"github.com/annel0/netsync/internal/vec"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигу; секция compression должна совпадать с серверной")
	addr := flag.String("addr", "127.0.0.1:7777", "адрес сервера (для transport.kind=websocket: host:port или ws://...)")
	count := flag.Int("bots", 10, "число ботов")
	prefix := flag.String("token", "bot", "токен или префикс имени (в режиме auth none имя = <prefix>-<n>)")
	area := flag.Float64("area", 50, "полуширина области блуждания")
	flag.Parse()

	if err := logging.InitDefaultLogger("bot"); err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("config: %v", err)
		os.Exit(1)
	}
	codecs := statecodec.NewRegistry()
	if err := assets.Register(codecs); err != nil {
		logging.Error("assets: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var terrain behavior.Terrain
	if cfg.Terrain.Amplitude > 0 {
		terrain = behavior.NewPerlinTerrain(cfg.Terrain.Seed, cfg.Terrain.Scale, cfg.Terrain.Amplitude)
	}

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		token := fmt.Sprintf("%s-%d", *prefix, i)
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			if err := runBot(ctx, cfg, codecs, terrain, *addr, token, *area, seed); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn("bot %s: %v", token, err)
			}
		}(time.Now().UnixNano() + int64(i))
		// не открываем все соединения одновременно
		time.Sleep(20 * time.Millisecond)
	}
	logging.Info("%d bots connecting to %s", *count, *addr)
	wg.Wait()
}

func runBot(ctx context.Context, cfg *config.Config, codecs *statecodec.Registry, terrain behavior.Terrain, addr, token string, area float64, seed int64) error {
	world, err := replication.NewWorld(cfg, codecs)
	if err != nil {
		return err
	}
	inbox := transport.NewInbox(cfg.Transport.BufferSize)
	tr, err := transport.NewClientFromConfig(cfg, inbox)
	if err != nil {
		return err
	}
	client, err := replication.NewClient(world, tr, inbox, replication.ClientOptions{})
	if err != nil {
		return err
	}
	b := bot.New(client, bot.Options{
		Token:      token,
		Min:        vec.Vec3{X: -area, Z: -area},
		Max:        vec.Vec3{X: area, Z: area},
		Terrain:    terrain,
		ScoreEvery: 5 * time.Second,
		Rand:       rand.New(rand.NewSource(seed)),
	})

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = client.Connect(connectCtx, addr)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect() }()
	return b.Run(ctx, cfg.Replication.TickInterval())
}
