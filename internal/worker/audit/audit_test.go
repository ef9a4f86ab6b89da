package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/campusboard/internal/model"
	"github.com/hitoshi/campusboard/internal/repository"
)

// mockLedgerRepo はLedgerRepositoryのモック実装。
type mockLedgerRepo struct {
	mu        sync.Mutex
	drifts    map[model.ContentKind][]model.LedgerDrift
	findErr   error
	repairErr map[model.RecordID]error
	// concurrent は修復済みとして扱わないID（他の投票で既に整合した場合を模す）
	concurrent map[model.RecordID]bool

	limits   []int
	repaired []model.RecordID
}

func (m *mockLedgerRepo) FindDrift(ctx context.Context, kind model.ContentKind, limit int) ([]model.LedgerDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.drifts[kind], nil
}

func (m *mockLedgerRepo) RepairDrift(ctx context.Context, kind model.ContentKind, id model.RecordID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.repairErr[id]; err != nil {
		return false, err
	}
	if m.concurrent[id] {
		return false, nil
	}
	m.repaired = append(m.repaired, id)
	return true, nil
}

var _ repository.LedgerRepository = (*mockLedgerRepo)(nil)

// recordingMetrics は台帳関連のメトリクス呼び出しを記録する。
type recordingMetrics struct {
	mu       sync.Mutex
	drift    map[string]int
	repaired map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{drift: map[string]int{}, repaired: map[string]int{}}
}

func (m *recordingMetrics) RecordVote(string, string) {}
func (m *recordingMetrics) RecordVoteRetry(string) {}
func (m *recordingMetrics) RecordVoteLatency(time.Duration) {}
func (m *recordingMetrics) RecordSequenceRetry(string) {}
func (m *recordingMetrics) RecordThreadExpanded(int) {}
func (m *recordingMetrics) RecordHTTPStatus(int) {}
func (m *recordingMetrics) RecordLedgerDrift(kind string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drift[kind] += count
}
func (m *recordingMetrics) RecordLedgerRepaired(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repaired[kind]++
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// syncBuffer は並行に書き込まれるログ用のバッファ。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func drift(kind model.ContentKind, stored, actual model.VoteTally) model.LedgerDrift {
	return model.LedgerDrift{
		Kind:      kind,
		ContentID: model.NewRecordID(time.Now()),
		Stored:    stored,
		Actual:    actual,
	}
}

func TestNewAuditJob_SetsBatchSize(t *testing.T) {
	var buf bytes.Buffer
	job := NewAuditJob(&mockLedgerRepo{}, nil, newTestLogger(&buf))

	if job.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", job.BatchSize, DefaultBatchSize)
	}
}

func TestAuditJob_Run_NoDrift(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockLedgerRepo{}
	mc := newRecordingMetrics()
	job := NewAuditJob(repo, mc, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	// 投稿とコメントの両方が検査される
	if len(repo.limits) != 2 {
		t.Errorf("FindDrift の呼び出し回数 = %d, want 2", len(repo.limits))
	}
	if len(repo.repaired) != 0 {
		t.Errorf("食い違いがないのに修復された: %v", repo.repaired)
	}
	if len(mc.drift) != 0 {
		t.Errorf("食い違いがないのにメトリクスが記録された: %v", mc.drift)
	}
	if strings.Contains(buf.String(), "食い違いを検出") {
		t.Errorf("食い違いの警告ログが出力された: %s", buf.String())
	}
}

func TestAuditJob_Run_RepairsDrift(t *testing.T) {
	var buf syncBuffer
	postDrift := drift(model.ContentKindPost, model.VoteTally{Up: 5, Down: 0}, model.VoteTally{Up: 4, Down: 0})
	commentDrift := drift(model.ContentKindComment, model.VoteTally{Up: 0, Down: 0}, model.VoteTally{Up: 1, Down: 2})
	repo := &mockLedgerRepo{
		drifts: map[model.ContentKind][]model.LedgerDrift{
			model.ContentKindPost:    {postDrift},
			model.ContentKindComment: {commentDrift},
		},
	}
	mc := newRecordingMetrics()
	job := NewAuditJob(repo, mc, slog.New(slog.NewJSONHandler(&buf, nil)))
	job.BatchSize = 10

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	for _, limit := range repo.limits {
		if limit != 10 {
			t.Errorf("FindDrift の limit = %d, want 10", limit)
		}
	}
	if len(repo.repaired) != 2 {
		t.Fatalf("修復件数 = %d, want 2", len(repo.repaired))
	}
	if mc.drift["post"] != 1 || mc.drift["comment"] != 1 {
		t.Errorf("ledger drift metrics = %v", mc.drift)
	}
	if mc.repaired["post"] != 1 || mc.repaired["comment"] != 1 {
		t.Errorf("ledger repaired metrics = %v", mc.repaired)
	}

	// 警告ログに保存値と再集計値が含まれること
	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("ログがJSON形式ではない: %v", err)
		}
		if entry["level"] != "WARN" || entry["kind"] != "post" {
			continue
		}
		found = true
		if entry["content_id"] != postDrift.ContentID.String() {
			t.Errorf("content_id = %v, want %s", entry["content_id"], postDrift.ContentID)
		}
		if entry["stored_up"] != float64(5) || entry["actual_up"] != float64(4) {
			t.Errorf("stored_up/actual_up = %v/%v, want 5/4", entry["stored_up"], entry["actual_up"])
		}
	}
	if !found {
		t.Errorf("投稿の食い違いの警告ログが見つからない: %s", buf.String())
	}
}

func TestAuditJob_Run_RepairFailureDoesNotStopOthers(t *testing.T) {
	var buf syncBuffer
	broken := drift(model.ContentKindPost, model.VoteTally{Up: 1}, model.VoteTally{})
	healthy := drift(model.ContentKindPost, model.VoteTally{Up: 2}, model.VoteTally{Up: 1})
	settled := drift(model.ContentKindPost, model.VoteTally{Down: 1}, model.VoteTally{})
	repo := &mockLedgerRepo{
		drifts: map[model.ContentKind][]model.LedgerDrift{
			model.ContentKindPost: {broken, healthy, settled},
		},
		repairErr:  map[model.RecordID]error{broken.ContentID: errors.New("lock timeout")},
		concurrent: map[model.RecordID]bool{settled.ContentID: true},
	}
	mc := newRecordingMetrics()
	job := NewAuditJob(repo, mc, slog.New(slog.NewJSONHandler(&buf, nil)))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("修復失敗がエラーとして返されなかった")
	}
	if !strings.Contains(err.Error(), "lock timeout") {
		t.Errorf("エラーに原因が含まれていない: %v", err)
	}
	if len(repo.repaired) != 1 || repo.repaired[0] != healthy.ContentID {
		t.Errorf("修復されたID = %v, want [%s]", repo.repaired, healthy.ContentID)
	}
	if mc.drift["post"] != 3 {
		t.Errorf("ledger drift = %d, want 3", mc.drift["post"])
	}
	if mc.repaired["post"] != 1 {
		t.Errorf("ledger repaired = %d, want 1", mc.repaired["post"])
	}
}

func TestAuditJob_Run_FindError(t *testing.T) {
	var buf syncBuffer
	repo := &mockLedgerRepo{findErr: errors.New("connection refused")}
	job := NewAuditJob(repo, nil, slog.New(slog.NewJSONHandler(&buf, nil)))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("FindDrift の失敗がエラーとして返されなかった")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("エラーに原因が含まれていない: %v", err)
	}
}

func TestAuditJob_Start_StopsOnCancel(t *testing.T) {
	var buf syncBuffer
	repo := &mockLedgerRepo{}
	job := NewAuditJob(repo, nil, slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回目の検査が終わるのを待つ
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "台帳検査が完了しました") {
		if time.Now().After(deadline) {
			t.Fatal("起動直後の検査が実行されなかった")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に終了しなかった")
	}
	if !strings.Contains(buf.String(), "台帳検査ジョブを停止しました") {
		t.Errorf("停止ログが出力されていない: %s", buf.String())
	}
}
