package replication

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики одного сервера репликации.
// Метрики живут в собственном реестре, чтобы несколько серверов в одном процессе
// (тесты, бенчмарки) не конфликтовали в глобальном.
//
// Метрики:
// * netsync_messages_sent_total{channel,type}: counter
// * netsync_bytes_sent_total{channel}: counter
// * netsync_batches_flushed_total{channel}: counter
// * netsync_messages_received_total{type}: counter
// * netsync_records_dropped_total{reason}: counter
// * netsync_protocol_errors_total{type}: counter
// * netsync_interest_rebuild_seconds: histogram
// * netsync_live_entities, netsync_connections: gauge
type Metrics struct {
	Registry *prometheus.Registry

	messagesSent     *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	batchesFlushed   *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	recordsDropped   *prometheus.CounterVec
	protocolErrors   *prometheus.CounterVec
	interestRebuild  prometheus.Histogram
	liveEntities     prometheus.Gauge
	connections      prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в новом реестре
func NewMetrics() *Metrics {
	const ns = "netsync"
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_sent_total",
			Help:      "Сообщений поставлено в отправку.",
		}, []string{"channel", "type"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bytes_sent_total",
			Help:      "Байт передано транспорту.",
		}, []string{"channel"}),
		batchesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "batches_flushed_total",
			Help:      "Пакетов, собранных батчером.",
		}, []string{"channel"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_received_total",
			Help:      "Принятых и разобранных сообщений.",
		}, []string{"type"}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "records_dropped_total",
			Help:      "Отброшенных входящих сообщений и записей.",
		}, []string{"reason"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "protocol_errors_total",
			Help:      "Ошибок разбора входящих сообщений.",
		}, []string{"type"}),
		interestRebuild: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "interest_rebuild_seconds",
			Help:      "Длительность полной пересборки видимости.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		liveEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "live_entities",
			Help:      "Сущностей в реестре.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connections",
			Help:      "Подключённых соединений.",
		}),
	}
	m.Registry.MustRegister(
		m.messagesSent, m.bytesSent, m.batchesFlushed, m.messagesReceived,
		m.recordsDropped, m.protocolErrors, m.interestRebuild,
		m.liveEntities, m.connections,
	)
	return m
}
