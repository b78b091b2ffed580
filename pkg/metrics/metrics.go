// Package metrics — Prometheus метрики сервиса членства и HTTP сервер
// с /metrics, /healthz и /readyz.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// HTTP
// =============================================================================

var (
	// RequestsTotal — запросы по маршруту; status: success | error (4xx/5xx).
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP запросы по сервису, маршруту и результату",
	}, []string{"service", "route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Время обработки HTTP запроса",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.5, 9), // 5ms .. ~7.6s
	}, []string{"service", "route"})
)

// =============================================================================
// Платёжный шлюз и транзакции
// =============================================================================

var (
	// GatewayRequestsTotal: result = success | transport_error | breaker_open.
	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_requests_total",
		Help: "Обращения к платёжному шлюзу",
	}, []string{"operation", "result"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Время ответа платёжного шлюза",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
	}, []string{"operation"})

	// LedgerTransitionsTotal считает только фактические переходы, повторы не учитываются.
	LedgerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transitions_total",
		Help: "Переходы статуса платёжных транзакций",
	}, []string{"type", "to"})

	DuplicateCallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_duplicate_callbacks_total",
		Help: "Повторные callback шлюза, обработанные без изменений",
	})
)

// =============================================================================
// Членство, планировщик, уведомления
// =============================================================================

var (
	MembershipTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_transitions_total",
		Help: "Переходы состояния членства",
	}, []string{"from", "to"})

	// SweeperRecordsTotal: outcome = expired | renewed | failed.
	SweeperRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_sweeper_records_total",
		Help: "Записи, обработанные планировщиком истечения членств",
	}, []string{"outcome"})

	SweeperLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "membership_sweeper_last_run_timestamp_seconds",
		Help: "Unix время последнего завершённого запуска планировщика",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Письма по типу события и результату отправки",
	}, []string{"kind", "status"})

	// OutboxEventsTotal: result = published | retry | dead.
	OutboxEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Попытки публикации событий outbox",
	}, []string{"event_type", "result"})
)

// RecordGatewayCall учитывает одно обращение к шлюзу.
func RecordGatewayCall(operation, result string, d time.Duration) {
	GatewayRequestsTotal.WithLabelValues(operation, result).Inc()
	GatewayRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}
