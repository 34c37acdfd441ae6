package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 相关度评分分布
	RelevanceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relevance_score",
			Help:    "Distribution of relevance scores computed for inbox messages",
			Buckets: []float64{-100, -50, -15, 0, 6, 15, 30, 60, 100},
		},
	)

	// 语言模型调用延迟（毫秒）
	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_provider_call_latency_ms",
			Help:    "Language-model provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"provider", "status"},
	)

	// 分类结果计数
	ClassificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classification_count",
			Help: "Total number of classified messages",
		},
		[]string{"outcome"}, // outcome: ok, defaulted, failed
	)

	// 熔断器状态变化
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)

	// 在线连接数
	HubConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connections",
			Help: "Number of open push connections",
		},
	)

	// 推送计数
	PushDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_delivered_total",
			Help: "Push payloads written to connections",
		},
		[]string{"kind", "status"}, // kind: notify, broadcast
	)

	// 变更通知处理计数
	ChangeNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_notifications_total",
			Help: "Mailbox change notifications handled",
		},
		[]string{"result"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRelevanceScore 记录相关度评分
func RecordRelevanceScore(score int) {
	RelevanceScore.Observe(float64(score))
}

// RecordProviderCall 记录语言模型调用延迟
func RecordProviderCall(provider, status string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

// IncrementClassification 增加分类计数
func IncrementClassification(outcome string, n int) {
	ClassificationCount.WithLabelValues(outcome).Add(float64(n))
}

// IncrementBreakerTransition 记录熔断器状态变化
func IncrementBreakerTransition(name, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, to).Inc()
}

// SetHubConnections 设置在线连接数
func SetHubConnections(n int) {
	HubConnections.Set(float64(n))
}

// IncrementPush 增加推送计数
func IncrementPush(kind, status string) {
	PushDelivered.WithLabelValues(kind, status).Inc()
}

// IncrementChangeNotification 增加变更通知计数
func IncrementChangeNotification(result string) {
	ChangeNotifications.WithLabelValues(result).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
