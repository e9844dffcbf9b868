// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProxyRecorder はGatewayの転送結果を記録する。
type ProxyRecorder interface {
	RecordProxy(service string, statusCode int, duration time.Duration)
	RecordProxyFailure(service, reason string)
}

// NotifyRecorder は通知の送信結果を記録する。
type NotifyRecorder interface {
	RecordNotifySent(eventType string)
	RecordNotifyFailed(eventType string)
	RecordNotifyDropped(eventType string)
}

// 転送失敗の理由ラベル。
const (
	ReasonUnknownService = "unknown_service"
	ReasonConnection     = "connection"
	ReasonInternal       = "internal"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	proxyRequests *prometheus.CounterVec
	proxyLatency  *prometheus.HistogramVec
	proxyFailures *prometheus.CounterVec
	notifySent    *prometheus.CounterVec
	notifyFailed  *prometheus.CounterVec
	notifyDropped *prometheus.CounterVec
}

var (
	_ ProxyRecorder  = (*Collector)(nil)
	_ NotifyRecorder = (*Collector)(nil)
)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		proxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshop_gateway_requests_total",
			Help: "転送先サービスとステータスコード別の転送数",
		}, []string{"service", "code"}),
		proxyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookshop_gateway_request_duration_seconds",
			Help:    "転送先サービス別の転送レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		proxyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshop_gateway_failures_total",
			Help: "転送先サービスと理由別の転送失敗数",
		}, []string{"service", "reason"}),
		notifySent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshop_notify_sent_total",
			Help: "イベント種別ごとのメール送信成功数",
		}, []string{"event_type"}),
		notifyFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshop_notify_failed_total",
			Help: "イベント種別ごとのメール送信失敗数",
		}, []string{"event_type"}),
		notifyDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshop_notify_dropped_total",
			Help: "キュー満杯により破棄した通知数",
		}, []string{"event_type"}),
	}

	reg.MustRegister(
		c.proxyRequests,
		c.proxyLatency,
		c.proxyFailures,
		c.notifySent,
		c.notifyFailed,
		c.notifyDropped,
	)

	return c
}

// RecordProxy は転送先から応答を受け取った転送を記録する。
func (c *Collector) RecordProxy(service string, statusCode int, duration time.Duration) {
	c.proxyRequests.WithLabelValues(service, strconv.Itoa(statusCode)).Inc()
	c.proxyLatency.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordProxyFailure は応答を得られなかった転送を記録する。
func (c *Collector) RecordProxyFailure(service, reason string) {
	c.proxyFailures.WithLabelValues(service, reason).Inc()
}

// RecordNotifySent は送信成功を記録する。
func (c *Collector) RecordNotifySent(eventType string) {
	c.notifySent.WithLabelValues(eventType).Inc()
}

// RecordNotifyFailed は送信失敗を記録する。
func (c *Collector) RecordNotifyFailed(eventType string) {
	c.notifyFailed.WithLabelValues(eventType).Inc()
}

// RecordNotifyDropped は破棄を記録する。
func (c *Collector) RecordNotifyDropped(eventType string) {
	c.notifyDropped.WithLabelValues(eventType).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しない実装。テストやメトリクス無効時に使用する。
type Nop struct{}

var (
	_ ProxyRecorder  = Nop{}
	_ NotifyRecorder = Nop{}
)

func (Nop) RecordProxy(string, int, time.Duration) {}
func (Nop) RecordProxyFailure(string, string) {}
func (Nop) RecordNotifySent(string) {}
func (Nop) RecordNotifyFailed(string) {}
func (Nop) RecordNotifyDropped(string) {}
