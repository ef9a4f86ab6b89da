// Package audit は投票台帳とマテリアライズ済み票数の整合性検査ジョブを提供する。
// 票数は投票トランザクション内で差分加算されるため、正常時に食い違いは発生しない。
// 検出された食い違いはバグか手動でのDB操作を示すため、警告ログを出した上で台帳から修復する。
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/campusboard/internal/metrics"
	"github.com/hitoshi/campusboard/internal/model"
	"github.com/hitoshi/campusboard/internal/repository"
)

// DefaultBatchSize は1回の検査で修復する種別ごとの最大件数。
const DefaultBatchSize = 100

// kinds は検査対象のコンテンツ種別。
var kinds = []model.ContentKind{model.ContentKindPost, model.ContentKindComment}

// AuditJob は台帳検査ジョブ。
type AuditJob struct {
	repo      repository.LedgerRepository
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	BatchSize int // 種別ごとの1回あたりの最大検査件数（デフォルト: 100）
}

// NewAuditJob は新しいAuditJobを生成する。
func NewAuditJob(repo repository.LedgerRepository, mc metrics.MetricsCollector, logger *slog.Logger) *AuditJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &AuditJob{
		repo:      repo,
		metrics:   mc,
		logger:    logger,
		BatchSize: DefaultBatchSize,
	}
}

// Start はinterval間隔で検査を実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *AuditJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("台帳検査ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Error("台帳検査に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("台帳検査ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("台帳検査に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// Run は投稿とコメントの台帳を並行に検査し、食い違いを修復する。
// 冪等: 食い違いがない場合は何も更新しない。
func (j *AuditJob) Run(ctx context.Context) error {
	start := time.Now()

	counts := make([]int, len(kinds))
	g, ctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			repaired, err := j.audit(ctx, kind)
			counts[i] = repaired
			return err
		})
	}
	err := g.Wait()

	j.logger.Info("台帳検査が完了しました",
		slog.Int("repaired_posts", counts[0]),
		slog.Int("repaired_comments", counts[1]),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return err
}

// audit は1種別の検査を行い、修復した件数を返す。
// 個別の修復失敗は残りの修復を止めず、まとめて返す。
func (j *AuditJob) audit(ctx context.Context, kind model.ContentKind) (int, error) {
	drifts, err := j.repo.FindDrift(ctx, kind, j.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s の台帳検査に失敗: %w", kind, err)
	}
	if len(drifts) == 0 {
		return 0, nil
	}
	j.metrics.RecordLedgerDrift(string(kind), len(drifts))

	var errs []error
	repaired := 0
	for _, d := range drifts {
		j.logger.Warn("台帳と票数の食い違いを検出しました",
			slog.String("kind", string(kind)),
			slog.String("content_id", d.ContentID.String()),
			slog.Int("stored_up", int(d.Stored.Up)),
			slog.Int("stored_down", int(d.Stored.Down)),
			slog.Int("actual_up", int(d.Actual.Up)),
			slog.Int("actual_down", int(d.Actual.Down)),
		)

		ok, err := j.repo.RepairDrift(ctx, kind, d.ContentID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s の修復に失敗: %w", kind, d.ContentID, err))
			continue
		}
		if ok {
			repaired++
			j.metrics.RecordLedgerRepaired(string(kind))
		}
	}
	return repaired, errors.Join(errs...)
}
