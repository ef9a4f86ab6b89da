package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gatherFamily はレジストリから指定名のメトリクスファミリーを取得する。
func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordVote_CountsByKindAndOutcome は投票結果カウンタがラベル別に増加することを検証する。
func TestRecordVote_CountsByKindAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVote("post", VoteOutcomeCommitted)
	c.RecordVote("post", VoteOutcomeCommitted)
	c.RecordVote("comment", VoteOutcomeRejected)

	mf := gatherFamily(t, reg, "campusboard_votes_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		kind := labelValue(m, "kind")
		outcome := labelValue(m, "outcome")
		val := m.GetCounter().GetValue()
		switch {
		case kind == "post" && outcome == VoteOutcomeCommitted:
			if val != 2 {
				t.Errorf("votes_total{post,committed} = %v, want 2", val)
			}
		case kind == "comment" && outcome == VoteOutcomeRejected:
			if val != 1 {
				t.Errorf("votes_total{comment,rejected} = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected labels: kind=%s outcome=%s", kind, outcome)
		}
	}
}

// TestRecordVoteRetry_IncrementsCounter は投票の再試行カウンタが増加することを検証する。
func TestRecordVoteRetry_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVoteRetry("post")
	c.RecordVoteRetry("post")
	c.RecordVoteRetry("post")

	mf := gatherFamily(t, reg, "campusboard_vote_retries_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 3 {
		t.Errorf("vote_retries_total = %v, want 3", val)
	}
}

// TestRecordSequenceRetry_IncrementsCounter は連番再試行カウンタが増加することを検証する。
func TestRecordSequenceRetry_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSequenceRetry("posts")

	mf := gatherFamily(t, reg, "campusboard_sequence_retries_total")
	m := mf.GetMetric()[0]
	if labelValue(m, "collection") != "posts" {
		t.Errorf("collection label = %q, want posts", labelValue(m, "collection"))
	}
	if val := m.GetCounter().GetValue(); val != 1 {
		t.Errorf("sequence_retries_total = %v, want 1", val)
	}
}

// TestRecordVoteLatency_ObservesHistogram は投票レイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordVoteLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVoteLatency(100 * time.Millisecond)
	c.RecordVoteLatency(2 * time.Second)

	h := gatherFamily(t, reg, "campusboard_vote_latency_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestRecordThreadExpanded_ObservesHistogram は展開コメント数のヒストグラムを検証する。
func TestRecordThreadExpanded_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordThreadExpanded(4)
	c.RecordThreadExpanded(30)

	h := gatherFamily(t, reg, "campusboard_thread_expanded_comments").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() != 34 {
		t.Errorf("sample_sum = %v, want 34", h.GetSampleSum())
	}
}

// TestRecordLedger_Counters は台帳検査のカウンタを検証する。
func TestRecordLedger_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLedgerDrift("comment", 3)
	c.RecordLedgerRepaired("comment")

	if val := gatherFamily(t, reg, "campusboard_ledger_drift_total").GetMetric()[0].GetCounter().GetValue(); val != 3 {
		t.Errorf("ledger_drift_total = %v, want 3", val)
	}
	if val := gatherFamily(t, reg, "campusboard_ledger_repaired_total").GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("ledger_repaired_total = %v, want 1", val)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスコード別のカウンタを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	mf := gatherFamily(t, reg, "campusboard_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		label := labelValue(m, "status_code")
		val := m.GetCounter().GetValue()
		switch label {
		case "200":
			if val != 2 {
				t.Errorf("http_status_total{status_code=200} = %v, want 2", val)
			}
		case "404":
			if val != 1 {
				t.Errorf("http_status_total{status_code=404} = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected label value: %s", label)
		}
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVote("post", VoteOutcomeCommitted)
	c.RecordVoteRetry("post")
	c.RecordHTTPStatus(200)
	c.RecordVoteLatency(500 * time.Millisecond)
	c.RecordSequenceRetry("comments")

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"campusboard_votes_total",
		"campusboard_vote_retries_total",
		"campusboard_http_status_total",
		"campusboard_vote_latency_seconds",
		"campusboard_sequence_retries_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestNop_ImplementsMetricsCollectorInterface はNopが何も記録せずにインターフェースを満たすことを検証する。
func TestNop_ImplementsMetricsCollectorInterface(t *testing.T) {
	var c MetricsCollector = Nop{}
	c.RecordVote("post", VoteOutcomeFailed)
	c.RecordThreadExpanded(1)
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordVoteRetry("post")
	c2.RecordVoteRetry("post")
	c2.RecordVoteRetry("post")

	val1 := gatherFamily(t, reg1, "campusboard_vote_retries_total").GetMetric()[0].GetCounter().GetValue()
	val2 := gatherFamily(t, reg2, "campusboard_vote_retries_total").GetMetric()[0].GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 vote_retries = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 vote_retries = %v, want 2", val2)
	}
}
