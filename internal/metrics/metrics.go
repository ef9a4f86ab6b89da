// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 投票結果のラベル値
const (
	VoteOutcomeCommitted = "committed"
	VoteOutcomeRejected  = "rejected"
	VoteOutcomeFailed    = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordVote(kind string, outcome string)
	RecordVoteRetry(kind string)
	RecordVoteLatency(duration time.Duration)
	RecordSequenceRetry(collection string)
	RecordThreadExpanded(count int)
	RecordLedgerDrift(kind string, count int)
	RecordLedgerRepaired(kind string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	votes          *prometheus.CounterVec
	voteRetries    *prometheus.CounterVec
	voteLatency    prometheus.Histogram
	sequenceRetry  *prometheus.CounterVec
	threadExpanded prometheus.Histogram
	ledgerDrift    *prometheus.CounterVec
	ledgerRepaired *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusboard_votes_total",
			Help: "投票リクエストの結果別合計数",
		}, []string{"kind", "outcome"}),
		voteRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusboard_vote_retries_total",
			Help: "競合による投票トランザクションの再試行数",
		}, []string{"kind"}),
		voteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campusboard_vote_latency_seconds",
			Help:    "投票処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sequenceRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusboard_sequence_retries_total",
			Help: "連番の衝突による作成処理の再試行数",
		}, []string{"collection"}),
		threadExpanded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campusboard_thread_expanded_comments",
			Help:    "スレッド組み立て1回あたりに展開されたコメント数",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 30},
		}),
		ledgerDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusboard_ledger_drift_total",
			Help: "台帳と集計値の食い違いが検出されたコンテンツ数",
		}, []string{"kind"}),
		ledgerRepaired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusboard_ledger_repaired_total",
			Help: "台帳から修復されたコンテンツ数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.votes,
		c.voteRetries,
		c.voteLatency,
		c.sequenceRetry,
		c.threadExpanded,
		c.ledgerDrift,
		c.ledgerRepaired,
		c.httpStatus,
	)

	return c
}

// RecordVote は投票リクエストの結果を記録する。
func (c *Collector) RecordVote(kind string, outcome string) {
	c.votes.WithLabelValues(kind, outcome).Inc()
}

// RecordVoteRetry は投票トランザクションの再試行を記録する。
func (c *Collector) RecordVoteRetry(kind string) {
	c.voteRetries.WithLabelValues(kind).Inc()
}

// RecordVoteLatency は投票処理のレイテンシを記録する。
func (c *Collector) RecordVoteLatency(duration time.Duration) {
	c.voteLatency.Observe(duration.Seconds())
}

// RecordSequenceRetry は連番割り当ての再試行を記録する。
func (c *Collector) RecordSequenceRetry(collection string) {
	c.sequenceRetry.WithLabelValues(collection).Inc()
}

// RecordThreadExpanded はスレッド組み立てで展開したコメント数を記録する。
func (c *Collector) RecordThreadExpanded(count int) {
	c.threadExpanded.Observe(float64(count))
}

// RecordLedgerDrift は検出した食い違いの件数を記録する。
func (c *Collector) RecordLedgerDrift(kind string, count int) {
	c.ledgerDrift.WithLabelValues(kind).Add(float64(count))
}

// RecordLedgerRepaired は修復したコンテンツを記録する。
func (c *Collector) RecordLedgerRepaired(kind string) {
	c.ledgerRepaired.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordVote(string, string) {}
func (Nop) RecordVoteRetry(string) {}
func (Nop) RecordVoteLatency(time.Duration) {}
func (Nop) RecordSequenceRetry(string) {}
func (Nop) RecordThreadExpanded(int) {}
func (Nop) RecordLedgerDrift(string, int) {}
func (Nop) RecordLedgerRepaired(string) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
