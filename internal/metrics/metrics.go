// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 検証サービスやハンドラーから利用する。
type MetricsCollector interface {
	RecordCheck(check, outcome string)
	RecordReconcileLatency(duration time.Duration)
	RecordListingCache(hit bool)
	RecordSelfHeal(outcome string)
	RecordSessionFinalized(status string)
	RecordHTTPStatus(statusCode int)
}

// 再検証の種別
const (
	CheckZK        = "zk"
	CheckSignature = "signature"
)

// 自己修復の結果
const (
	SelfHealHealed     = "healed"
	SelfHealNotHealed  = "not_verified"
	SelfHealFailed     = "failed"
	SelfHealWriteError = "write_error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checks           *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
	cacheLookups     *prometheus.CounterVec
	selfHeal         *prometheus.CounterVec
	sessionsFinal    *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearverify_checks_total",
			Help: "再検証の種別・結果別の実行数",
		}, []string{"check", "outcome"}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nearverify_reconcile_latency_seconds",
			Help:    "1アカウントの再検証にかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearverify_listing_cache_lookups_total",
			Help: "一覧キャッシュの参照数",
		}, []string{"result"}),
		selfHeal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearverify_self_heal_total",
			Help: "ポーリング時の自己修復の結果別の実行数",
		}, []string{"outcome"}),
		sessionsFinal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearverify_sessions_finalized_total",
			Help: "終端状態になったセッション数",
		}, []string{"status"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearverify_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.checks,
		c.reconcileLatency,
		c.cacheLookups,
		c.selfHeal,
		c.sessionsFinal,
		c.httpStatus,
	)

	return c
}

// RecordCheck は再検証の結果を記録する。
func (c *Collector) RecordCheck(check, outcome string) {
	c.checks.WithLabelValues(check, outcome).Inc()
}

// RecordReconcileLatency は再検証のレイテンシを記録する。
func (c *Collector) RecordReconcileLatency(duration time.Duration) {
	c.reconcileLatency.Observe(duration.Seconds())
}

// RecordListingCache は一覧キャッシュのヒット/ミスを記録する。
func (c *Collector) RecordListingCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordSelfHeal は自己修復の結果を記録する。
func (c *Collector) RecordSelfHeal(outcome string) {
	c.selfHeal.WithLabelValues(outcome).Inc()
}

// RecordSessionFinalized は終端状態になったセッションを記録する。
func (c *Collector) RecordSessionFinalized(status string) {
	c.sessionsFinal.WithLabelValues(status).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Noop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Noop struct{}

func (Noop) RecordCheck(check, outcome string)             {}
func (Noop) RecordReconcileLatency(duration time.Duration) {}
func (Noop) RecordListingCache(hit bool)                   {}
func (Noop) RecordSelfHeal(outcome string)                 {}
func (Noop) RecordSessionFinalized(status string)          {}
func (Noop) RecordHTTPStatus(statusCode int)               {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
