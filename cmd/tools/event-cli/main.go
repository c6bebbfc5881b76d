package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/netsync/internal/eventbus"
)

const timeFormat = "2006-01-02T15:04:05Z"

func main() {
	var (
		natsURL    = flag.String("nats", "nats://127.0.0.1:4222", "NATS server URL")
		stream     = flag.String("stream", "NETSYNC_EVENTS", "JetStream stream name")
		command    = flag.String("cmd", "tail", "Command: tail, stats, info")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		sources    = flag.String("sources", "", "Server instance IDs filter (comma-separated)")
		since      = flag.String("since", "1h", "Time duration since now (e.g., 1h, 30m) or absolute time")
		limit      = flag.Int("limit", 100, "Maximum number of events")
		follow     = flag.Bool("follow", false, "Follow new events (like tail -f)")
		idle       = flag.Duration("idle", time.Second, "Stop when no events arrive for this long")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, 0)
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filter := eventbus.Filter{Types: parseStringList(*eventTypes), Sources: parseStringList(*sources)}

	switch *command {
	case "tail":
		from, err := parseSinceTime(*since, time.Now())
		if err != nil {
			log.Fatalf("❌ Invalid since: %v", err)
		}
		if err := tailEvents(ctx, bus, filter, from, *limit, *follow, *idle); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "stats":
		from, err := parseSinceTime(*since, time.Now())
		if err != nil {
			log.Fatalf("❌ Invalid since: %v", err)
		}
		if err := showStats(ctx, bus, filter, from, *idle); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}

	case "info":
		if err := showInfo(bus); err != nil {
			log.Fatalf("❌ Info failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, info")
		os.Exit(1)
	}
}

// replayUntilIdle проигрывает события с from и возвращается, когда поток затих на idle
// или handler вернул false. follow отключает остановку по тишине.
func replayUntilIdle(ctx context.Context, bus *eventbus.JetStreamBus, f eventbus.Filter, from time.Time,
	idle time.Duration, follow bool, handle func(*eventbus.Envelope) bool) error {
	events := make(chan *eventbus.Envelope, 256)
	sub, err := bus.Replay(ctx, from, f, func(ctx context.Context, ev *eventbus.Envelope) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start replay: %w", err)
	}
	defer sub.Unsubscribe()

	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if !handle(ev) {
				return nil
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			if !follow {
				return nil
			}
			timer.Reset(idle)
		}
	}
}

// tailEvents выводит события начиная с from
func tailEvents(ctx context.Context, bus *eventbus.JetStreamBus, f eventbus.Filter, from time.Time,
	limit int, follow bool, idle time.Duration) error {
	fmt.Printf("🎬 Tailing events since %s (limit: %d, follow: %v)\n", from.UTC().Format(timeFormat), limit, follow)

	count := 0
	err := replayUntilIdle(ctx, bus, f, from, idle, follow, func(ev *eventbus.Envelope) bool {
		printEvent(ev)
		count++
		// в follow режиме лимит не действует
		return follow || count < limit
	})
	fmt.Printf("\n📊 Total events: %d\n", count)
	return err
}

// showStats считает события по типам начиная с from
func showStats(ctx context.Context, bus *eventbus.JetStreamBus, f eventbus.Filter, from time.Time, idle time.Duration) error {
	fmt.Println("📊 Event statistics")

	byType := make(map[string]int)
	bySource := make(map[string]int)
	total := 0
	err := replayUntilIdle(ctx, bus, f, from, idle, false, func(ev *eventbus.Envelope) bool {
		byType[ev.EventType]++
		bySource[ev.Source]++
		total++
		return true
	})
	if err != nil {
		return err
	}

	fmt.Printf("Since: %s\n", from.UTC().Format(timeFormat))
	fmt.Printf("Total events: %d\n", total)
	fmt.Println("\nBy event type:")
	printCounts(byType)
	fmt.Println("\nBy server:")
	printCounts(bySource)
	return nil
}

func showInfo(bus *eventbus.JetStreamBus) error {
	info, err := bus.StreamInfo()
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	fmt.Println("📋 Stream")
	fmt.Printf("  Messages: %d\n", info.Messages)
	fmt.Printf("  Bytes: %d\n", info.Bytes)
	fmt.Printf("  Consumers: %d\n", info.Consumers)
	if info.Messages > 0 {
		fmt.Printf("  First: %s\n", info.FirstTime.UTC().Format(timeFormat))
		fmt.Printf("  Last: %s\n", info.LastTime.UTC().Format(timeFormat))
	}
	return nil
}

func printCounts(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %d events\n", k, counts[k])
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n", ev.Timestamp.Format("15:04:05.000"), ev.Source, ev.EventType, ev.ID)

	switch ev.EventType {
	case eventbus.TypeConnected, eventbus.TypeAuthenticated, eventbus.TypeReady, eventbus.TypeDisconnected:
		var c eventbus.ConnectionEvent
		if err := ev.Decode(&c); err != nil {
			fmt.Printf("  bad payload: %v\n", err)
			return
		}
		fmt.Printf("  Conn: %d User: %s Player: %d", c.ConnID, c.Username, c.PlayerID)
		if c.Duration > 0 {
			fmt.Printf(" Lifetime: %s", c.Duration)
		}
		fmt.Println()
	case eventbus.TypeSpawned, eventbus.TypeDespawned:
		var e eventbus.EntityEvent
		if err := ev.Decode(&e); err != nil {
			fmt.Printf("  bad payload: %v\n", err)
			return
		}
		fmt.Printf("  Entity: %d Asset: %s Pos: (%.1f,%.1f,%.1f)", e.NetID, e.AssetID, e.Position.X, e.Position.Y, e.Position.Z)
		if e.Owner != nil {
			fmt.Printf(" Owner: %d", *e.Owner)
		}
		fmt.Println()
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m" или абсолютное
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return from, nil
	}
	duration, err := time.ParseDuration(since)
	if err != nil {
		return time.Parse(timeFormat, since)
	}
	return from.Add(-duration), nil
}
