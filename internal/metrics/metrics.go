// ============================================================================
// Standby Failover Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集並暴露請求伺服器與故障轉移控制器的運行指標
//
// 指標分類:
//
//   1. 探測 (Counter/Histogram):
//      - failover_probes_total{result}: 探測次數，依 alive/dead 分類
//      - failover_probe_duration_seconds: 單次探測耗時
//
//   2. 備援程序生命週期 (Counter/Gauge):
//      - failover_standby_spawns_total / _spawn_failures_total
//      - failover_standby_terminations_total / _kill_failures_total
//      - failover_standby_exits_total: 備援程序自行退出（未經終止）
//      - failover_standby_running: 1 表示備援程序存活
//
//   3. 請求伺服器 (Counter/Gauge/Histogram):
//      - failover_requests_total{type}: 依訊息類型統計
//      - failover_request_errors_total{reason}: malformed / schema_violation / io
//      - failover_active_connections
//      - failover_request_duration_seconds
//
// Prometheus 查詢示例:
//
//   # 最近五分鐘探測失敗率
//   rate(failover_probes_total{result="dead"}[5m]) / rate(failover_probes_total[5m])
//
//   # 備援程序是否正在接手
//   max(failover_standby_running)
//
// HTTP 端點:
//   NewServer 回傳的 http.Server 於 /metrics 暴露指標
//
// 所有方法在 nil *Collector 上都是 no-op，元件可以不帶指標運行
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/ChuLiYu/standby-failover/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "failover"

// Collector Prometheus 指標收集器
type Collector struct {
	// 探測相關指標
	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram

	// 備援程序相關指標
	spawns         prometheus.Counter
	spawnFailures  prometheus.Counter
	terminations   prometheus.Counter
	killFailures   prometheus.Counter
	standbyExits   prometheus.Counter
	standbyRunning prometheus.Gauge

	// 請求伺服器相關指標
	requests          *prometheus.CounterVec
	requestErrors     *prometheus.CounterVec
	activeConnections prometheus.Gauge
	requestDuration   prometheus.Histogram
}

// NewCollector 創建新的指標收集器並註冊到 reg
// reg 為 nil 時使用 prometheus.DefaultRegisterer
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Total number of liveness probes sent to the primary, by result",
		}, []string{"result"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Liveness probe round trip time in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "standby_spawns_total",
			Help:      "Total number of standby processes started",
		}),
		spawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "standby_spawn_failures_total",
			Help:      "Total number of failed standby spawn attempts",
		}),
		terminations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "standby_terminations_total",
			Help:      "Total number of standby processes torn down",
		}),
		killFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "standby_kill_failures_total",
			Help:      "Total number of standby processes that survived a forced kill",
		}),
		standbyExits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "standby_exits_total",
			Help:      "Total number of standby processes that exited without being terminated",
		}),
		standbyRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "standby_running",
			Help:      "1 while a standby process is supervised, 0 otherwise",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of decoded requests, by message type",
		}, []string{"type"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Total number of requests answered with an error, by reason",
		}, []string{"reason"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Current number of connections being handled",
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from accept to response written, in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.probes,
		c.probeDuration,
		c.spawns,
		c.spawnFailures,
		c.terminations,
		c.killFailures,
		c.standbyExits,
		c.standbyRunning,
		c.requests,
		c.requestErrors,
		c.activeConnections,
		c.requestDuration,
	)

	return c
}

// RecordProbe 記錄一次探測結果與耗時
func (c *Collector) RecordProbe(result types.Liveness, d time.Duration) {
	if c == nil {
		return
	}
	c.probes.WithLabelValues(result.String()).Inc()
	c.probeDuration.Observe(d.Seconds())
}

// RecordSpawn 記錄備援程序啟動
func (c *Collector) RecordSpawn() {
	if c == nil {
		return
	}
	c.spawns.Inc()
	c.standbyRunning.Set(1)
}

// RecordSpawnFailure 記錄備援程序啟動失敗
func (c *Collector) RecordSpawnFailure() {
	if c == nil {
		return
	}
	c.spawnFailures.Inc()
}

// RecordTermination 記錄備援程序被拆除；killed 為 false 表示強制終止也失敗
func (c *Collector) RecordTermination(killed bool) {
	if c == nil {
		return
	}
	c.terminations.Inc()
	if !killed {
		c.killFailures.Inc()
	}
	c.standbyRunning.Set(0)
}

// RecordStandbyExit 記錄備援程序自行退出
func (c *Collector) RecordStandbyExit() {
	if c == nil {
		return
	}
	c.standbyExits.Inc()
	c.standbyRunning.Set(0)
}

// RecordRequest 記錄一個成功解碼的請求
func (c *Collector) RecordRequest(t types.MessageType) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(string(t)).Inc()
}

// RecordRequestError 記錄以 error 回覆的請求
func (c *Collector) RecordRequestError(reason string) {
	if c == nil {
		return
	}
	c.requestErrors.WithLabelValues(reason).Inc()
}

// ConnectionOpened 連線開始處理
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.activeConnections.Inc()
}

// ConnectionClosed 連線處理完畢並記錄總耗時
func (c *Collector) ConnectionClosed(d time.Duration) {
	if c == nil {
		return
	}
	c.activeConnections.Dec()
	c.requestDuration.Observe(d.Seconds())
}

// NewServer 建立暴露 /metrics 的 HTTP 伺服器
//
// 參數：
//   - addr: 監聽位址，例如 ":9090"
//   - gatherer: 指標來源，nil 時使用 prometheus.DefaultGatherer
func NewServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
