package eventbus

import (
	"context"

	"github.com/annel0/netsync/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог компонента events на уровне Debug
func StartLoggingListener(bus EventBus) (Subscription, error) {
	logger := logging.GetEventsLogger()
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		logger.Debug("%s %s src=%s prio=%d %s", ev.ID, ev.EventType, ev.Source, ev.Priority, ev.Payload)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("LoggingListener: подписка на все события активирована")
	return sub, nil
}
