// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// インボイスの発行種別。
const (
	InvoiceKindBidDeposit   = "bid_deposit"
	InvoiceKindContribution = "contribution"
)

// 精算の結果種別。
const (
	SettlementContributionRequested = "contribution_requested"
	SettlementNoContribution        = "no_contribution"
	SettlementNoWinner              = "no_winner"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordChallengeCreated()
	RecordLoginCompleted()
	RecordBidPlaced()
	RecordInvoiceRequested(kind string)
	RecordSettlement(outcome string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	challenges     prometheus.Counter
	logins         prometheus.Counter
	bids           prometheus.Counter
	invoices       *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		challenges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plebeian_login_challenges_total",
			Help: "発行されたログインチャレンジの合計数",
		}),
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plebeian_logins_total",
			Help: "完了したログインの合計数",
		}),
		bids: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plebeian_bids_total",
			Help: "受理された入札の合計数",
		}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plebeian_invoices_total",
			Help: "発行されたLightningインボイスの種別ごとの合計数",
		}, []string{"kind"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plebeian_settlements_total",
			Help: "終了オークションの精算結果ごとの合計数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plebeian_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plebeian_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.challenges,
		c.logins,
		c.bids,
		c.invoices,
		c.settlements,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordChallengeCreated はログインチャレンジの発行を記録する。
func (c *Collector) RecordChallengeCreated() {
	c.challenges.Inc()
}

// RecordLoginCompleted はログイン完了を記録する。
func (c *Collector) RecordLoginCompleted() {
	c.logins.Inc()
}

// RecordBidPlaced は入札の受理を記録する。
func (c *Collector) RecordBidPlaced() {
	c.bids.Inc()
}

// RecordInvoiceRequested はインボイスの発行を種別付きで記録する。
func (c *Collector) RecordInvoiceRequested(kind string) {
	c.invoices.WithLabelValues(kind).Inc()
}

// RecordSettlement は精算結果を記録する。
func (c *Collector) RecordSettlement(outcome string) {
	c.settlements.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// NopCollector は何も記録しないMetricsCollector。テスト用。
type NopCollector struct{}

func (NopCollector) RecordChallengeCreated()              {}
func (NopCollector) RecordLoginCompleted()                {}
func (NopCollector) RecordBidPlaced()                     {}
func (NopCollector) RecordInvoiceRequested(kind string)   {}
func (NopCollector) RecordSettlement(outcome string)      {}
func (NopCollector) RecordHTTPStatus(statusCode int)      {}
func (NopCollector) RecordRequestLatency(d time.Duration) {}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = NopCollector{}
