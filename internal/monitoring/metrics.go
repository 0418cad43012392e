package monitoring

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有指标注册在独立的 Registry 上，测试中可以多次创建而不会重复注册。
type Metrics struct {
	registry  *prometheus.Registry
	startedAt time.Time

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 目录指标
	DirectoryOperationDuration *prometheus.HistogramVec
	DirectoryErrorsTotal       *prometheus.CounterVec

	// 业务指标
	AliasOperationsTotal *prometheus.CounterVec
	LoginAttemptsTotal   *prometheus.CounterVec

	// 系统指标
	SystemUptime prometheus.Gauge
	Goroutines   prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		startedAt: time.Now(),

		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmanager_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aliasmanager_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aliasmanager_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aliasmanager_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		// 目录指标
		DirectoryOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aliasmanager_directory_operation_duration_seconds",
				Help:    "Directory operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		DirectoryErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmanager_directory_errors_total",
				Help: "Total number of failed directory operations",
			},
			[]string{"operation"},
		),

		// 业务指标
		AliasOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmanager_alias_operations_total",
				Help: "Total number of alias operations by outcome",
			},
			[]string{"operation", "result"},
		),

		LoginAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmanager_login_attempts_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"result"},
		),

		// 系统指标
		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aliasmanager_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		Goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aliasmanager_goroutines",
				Help: "Number of goroutines",
			},
		),

		// 错误指标
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmanager_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aliasmanager_panics_total",
				Help: "Total number of panics",
			},
		),

		// 限流指标
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmanager_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type"},
		),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// ObserveDirectory 记录一次目录操作，签名与 directory.Observer 一致
func (m *Metrics) ObserveDirectory(operation string, duration time.Duration, err error) {
	m.DirectoryOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.DirectoryErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// RecordAliasOperation 记录别名操作结果
func (m *Metrics) RecordAliasOperation(operation, result string) {
	m.AliasOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordLogin 记录登录结果
func (m *Metrics) RecordLogin(result string) {
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// UpdateSystemMetrics 更新运行时间与 goroutine 数
func (m *Metrics) UpdateSystemMetrics() {
	m.SystemUptime.Set(time.Since(m.startedAt).Seconds())
	m.Goroutines.Set(float64(runtime.NumGoroutine()))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
