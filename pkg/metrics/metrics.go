// Package metrics собирает Prometheus метрики сессий и загрузок файлов.
//
// Все методы Collector безопасны для nil получателя, поэтому компоненты
// могут работать без метрик.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config конфигурация сборщика.
type Config struct {
	// Namespace префикс для метрик
	Namespace string
	// Registry куда регистрируются метрики, по умолчанию новый реестр
	Registry *prometheus.Registry
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() *Config {
	return &Config{Namespace: "rcs"}
}

// Collector метрики сигнальной части и HTTP загрузок.
type Collector struct {
	registry *prometheus.Registry

	sessionsTotal    *prometheus.CounterVec
	sessionsActive   *prometheus.GaugeVec
	sessionOutcomes  *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	setupDuration    *prometheus.HistogramVec

	uploadsTotal  *prometheus.CounterVec
	uploadedBytes prometheus.Counter
}

// NewCollector создает и регистрирует метрики.
func NewCollector(config *Config) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	reg := config.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	ns := config.Namespace

	return &Collector{
		registry: reg,
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Количество созданных сессий",
		}, []string{"kind", "role"}),
		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "session",
			Name:      "active",
			Help:      "Количество активных сессий",
		}, []string{"kind"}),
		sessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "session",
			Name:      "outcomes_total",
			Help:      "Итоговые состояния сессий",
		}, []string{"kind", "state"}),
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Переходы состояний сессий",
		}, []string{"kind", "from", "to"}),
		setupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "session",
			Name:      "setup_duration_seconds",
			Help:      "Время от создания сессии до установления",
			Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),
		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "upload",
			Name:      "total",
			Help:      "Загрузки файлов по итоговому состоянию",
		}, []string{"state"}),
		uploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Отправлено байт на контент сервер",
		}),
	}
}

// Registry реестр метрик сборщика.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler HTTP обработчик /metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SessionCreated(kind, role string) {
	if c == nil {
		return
	}
	c.sessionsTotal.WithLabelValues(kind, role).Inc()
	c.sessionsActive.WithLabelValues(kind).Inc()
}

// SessionFinished фиксирует терминальное состояние сессии.
func (c *Collector) SessionFinished(kind, state string) {
	if c == nil {
		return
	}
	c.sessionsActive.WithLabelValues(kind).Dec()
	c.sessionOutcomes.WithLabelValues(kind, state).Inc()
}

func (c *Collector) StateTransition(kind, from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(kind, from, to).Inc()
}

func (c *Collector) SessionEstablished(kind string, setup time.Duration) {
	if c == nil {
		return
	}
	c.setupDuration.WithLabelValues(kind).Observe(setup.Seconds())
}

func (c *Collector) UploadFinished(state string) {
	if c == nil {
		return
	}
	c.uploadsTotal.WithLabelValues(state).Inc()
}

func (c *Collector) UploadedBytes(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.uploadedBytes.Add(float64(n))
}
