package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMiddleware HTTP-метрики admin API в регистре сервера репликации.
//
// Метрики:
// * <ns>_http_request_duration_seconds{method,route,class}
// * <ns>_http_response_size_bytes{route}
// * <ns>_http_requests_inflight
// * <ns>_http_request_errors_total{method,route,class} (4xx/5xx)
//
// class: "2xx", "3xx", "4xx", "5xx". route: шаблон маршрута gin или "unmatched".
type PrometheusMiddleware struct {
	duration *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inflight prometheus.Gauge
	errors   *prometheus.CounterVec
	skip     map[string]bool
}

// NewPrometheusMiddleware регистрирует метрики в reg (nil: глобальный регистр).
// Запросы к маршрутам из skip не измеряются (например, сам /metrics).
func NewPrometheusMiddleware(namespace string, reg prometheus.Registerer, skip ...string) *PrometheusMiddleware {
	pm := &PrometheusMiddleware{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность запросов admin API.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route", "class"}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "Размер ответов admin API; /api/entities растёт вместе с миром.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "Запросы admin API в обработке.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Запросы admin API с ответом 4xx/5xx.",
		}, []string{"method", "route", "class"}),
		skip: make(map[string]bool, len(skip)),
	}
	for _, route := range skip {
		pm.skip[route] = true
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(pm.duration, pm.size, pm.inflight, pm.errors)
	return pm
}

func (pm *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if pm.skip[route] {
			c.Next()
			return
		}

		start := time.Now()
		pm.inflight.Inc()
		defer pm.inflight.Dec()
		c.Next()

		status := c.Writer.Status()
		class := statusClass(status)
		pm.duration.WithLabelValues(c.Request.Method, route, class).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n > 0 {
			pm.size.WithLabelValues(route).Observe(float64(n))
		}
		if status >= 400 {
			pm.errors.WithLabelValues(c.Request.Method, route, class).Inc()
		}
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
