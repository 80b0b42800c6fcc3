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
// サービス層・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordPinCreated()
	RecordPinView()
	RecordCommentCreated()
	RecordReport(kind string)
	RecordHidden(kind string)
	RecordAdminAction(action string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	pinsCreated     prometheus.Counter
	pinViews        prometheus.Counter
	commentsCreated prometheus.Counter
	reports         *prometheus.CounterVec
	hidden          *prometheus.CounterVec
	adminActions    *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	sessionsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pinsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinshare_pins_created_total",
			Help: "作成されたピンの合計数",
		}),
		pinViews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinshare_pin_views_total",
			Help: "記録されたピン閲覧の合計数",
		}),
		commentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinshare_comments_created_total",
			Help: "作成されたコメントの合計数",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinshare_reports_total",
			Help: "受理された通報数（対象種別ごと）",
		}, []string{"kind"}),
		hidden: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinshare_hidden_total",
			Help: "通報により非表示閾値に達した対象数（対象種別ごと）",
		}, []string{"kind"}),
		adminActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinshare_admin_actions_total",
			Help: "管理操作の実行数（操作種別ごと）",
		}, []string{"action"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinshare_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pinshare_request_latency_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinshare_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.pinsCreated,
		c.pinViews,
		c.commentsCreated,
		c.reports,
		c.hidden,
		c.adminActions,
		c.httpStatus,
		c.requestLatency,
		c.sessionsPurged,
	)

	return c
}

// RecordPinCreated はピン作成を記録する。
func (c *Collector) RecordPinCreated() {
	c.pinsCreated.Inc()
}

// RecordPinView はピン閲覧を記録する。
func (c *Collector) RecordPinView() {
	c.pinViews.Inc()
}

// RecordCommentCreated はコメント作成を記録する。
func (c *Collector) RecordCommentCreated() {
	c.commentsCreated.Inc()
}

// RecordReport は受理された通報を記録する。
func (c *Collector) RecordReport(kind string) {
	c.reports.WithLabelValues(kind).Inc()
}

// RecordHidden は非表示閾値への到達を記録する。
func (c *Collector) RecordHidden(kind string) {
	c.hidden.WithLabelValues(kind).Inc()
}

// RecordAdminAction は管理操作を記録する。
func (c *Collector) RecordAdminAction(action string) {
	c.adminActions.WithLabelValues(action).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordSessionsPurged は削除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordPinCreated() {}
func (Nop) RecordPinView() {}
func (Nop) RecordCommentCreated() {}
func (Nop) RecordReport(string) {}
func (Nop) RecordHidden(string) {}
func (Nop) RecordAdminAction(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordSessionsPurged(int64) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターが失敗しても取得できたメトリクスは返す。
// Acceptヘッダーで要求された場合はOpenMetrics形式で応答する。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
