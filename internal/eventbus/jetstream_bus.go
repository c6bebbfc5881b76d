package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/netsync/internal/logging"
)

const subjectPrefix = "events."

// JetStreamBus реализует EventBus поверх NATS JetStream.
// Publish асинхронный: подтверждения сервера собираются в фоне, ошибки идут в Dropped.
type JetStreamBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
	logger *logging.Logger

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewJetStreamBus подключается к NATS и создаёт стрим, если его нет.
// url: nats://127.0.0.1:4222, stream: "NETSYNC_EVENTS".
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if stream == "" {
		stream = "NETSYNC_EVENTS"
	}
	jb := &JetStreamBus{stream: stream, logger: logging.GetEventsLogger()}

	nc, err := nats.Connect(url,
		nats.Name("netsync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				jb.logger.Warn("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			jb.logger.Info("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream(
		nats.PublishAsyncMaxPending(4096),
		nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
			jb.dropped.Add(1)
			jb.logger.Warn("publish %s: %v", msg.Subject, err)
		}),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subjectPrefix + "*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("add stream: %w", err)
		}
	}

	jb.nc, jb.js = nc, js
	return jb, nil
}

// Publish сериализует Envelope в JSON и публикует в subject events.<type>
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := jb.js.PublishAsync(subjectPrefix+ev.EventType, data, nats.MsgId(ev.ID)); err != nil {
		jb.dropped.Add(1)
		return err
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создаёт эфемерного потребителя и вызывает handler на каждое новое событие
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	return jb.subscribe(ctx, f, h, nats.DeliverNew())
}

// Replay как Subscribe, но доставка начинается с событий, сохранённых после since
func (jb *JetStreamBus) Replay(ctx context.Context, since time.Time, f Filter, h Handler) (Subscription, error) {
	return jb.subscribe(ctx, f, h, nats.StartTime(since))
}

func (jb *JetStreamBus) subscribe(ctx context.Context, f Filter, h Handler, deliver nats.SubOpt) (Subscription, error) {
	subj := subjectPrefix + "*"
	if len(f.Types) == 1 {
		subj = subjectPrefix + f.Types[0]
	}

	natSub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			jb.logger.Warn("bad event on %s: %v", msg.Subject, err)
			_ = msg.Term()
			return
		}
		if matchFilter(&ev, f) {
			h(ctx, &ev)
			jb.consumed.Add(1)
		}
		_ = msg.Ack()
	}, nats.ManualAck(), deliver, nats.AckWait(30*time.Second))
	if err != nil {
		return nil, err
	}
	return &jetSub{natSub}, nil
}

// StreamInfo состояние стрима событий
type StreamInfo struct {
	Messages  uint64
	Bytes     uint64
	FirstTime time.Time
	LastTime  time.Time
	Consumers int
}

func (jb *JetStreamBus) StreamInfo() (StreamInfo, error) {
	info, err := jb.js.StreamInfo(jb.stream)
	if err != nil {
		return StreamInfo{}, err
	}
	return StreamInfo{
		Messages:  info.State.Msgs,
		Bytes:     info.State.Bytes,
		FirstTime: info.State.FirstTime,
		LastTime:  info.State.LastTime,
		Consumers: info.State.Consumers,
	}, nil
}

type jetSub struct {
	s *nats.Subscription
}

func (j *jetSub) Unsubscribe() {
	_ = j.s.Unsubscribe()
}

func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
		InFlight:  jb.js.PublishAsyncPending(),
	}
}

// Close ждёт подтверждений опубликованного (не дольше 5s) и закрывает соединение
func (jb *JetStreamBus) Close() error {
	select {
	case <-jb.js.PublishAsyncComplete():
	case <-time.After(5 * time.Second):
		jb.logger.Warn("%d events unconfirmed on close", jb.js.PublishAsyncPending())
	}
	return jb.nc.Drain()
}
