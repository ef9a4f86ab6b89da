// Package vote は投票台帳とマテリアライズ済みスコアを更新する投票エンジンを提供する。
//
// 1回の試行は「現在の票の読み取り → 票の挿入またはCAS更新 → 差分の一括加算 → コミット」で、
// 競合した試行はロールバックして最初からやり直す。ロックは使用しない。
package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/campusboard/internal/masking"
	"github.com/hitoshi/campusboard/internal/metrics"
	"github.com/hitoshi/campusboard/internal/model"
	"github.com/hitoshi/campusboard/internal/repository"
	"github.com/hitoshi/campusboard/internal/retry"
	"github.com/hitoshi/campusboard/internal/scoring"
)

// DefaultMaxAttempts は投票トランザクションの試行回数上限の既定値。
const DefaultMaxAttempts = 8

// errLostRace はCAS更新で一致する行がなかった（他の書き込みに先を越された）ことを表す。
var errLostRace = errors.New("vote changed concurrently")

// Service は投票のサービス層。
type Service struct {
	repo        repository.VoteRepository
	key         *masking.Key
	maxAttempts int
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewService(
	repo repository.VoteRepository,
	key *masking.Key,
	maxAttempts int,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		key:         key,
		maxAttempts: maxAttempts,
		metrics:     mc,
		logger:      logger,
	}
}

// CastVote はuserIDの票をvalueに設定し、コミット後の賛成・反対票数を返す。
//
// valueが{-1, 0, 1}以外、またはmaskedIDが不正な場合はトランザクションを開始せずに
// *model.APIError を返す。競合の再試行が上限に達した場合やコンテンツが存在しない場合は
// model.ErrUnexpected をラップして返す。
func (s *Service) CastVote(ctx context.Context, kind model.ContentKind, maskedID masking.MaskedID, userID string, value int32) (*model.VoteTally, error) {
	start := time.Now()

	if !kind.Valid() {
		return nil, model.NewInvalidKindError(string(kind))
	}
	if !model.ValidVoteValue(value) {
		s.metrics.RecordVote(string(kind), metrics.VoteOutcomeRejected)
		return nil, model.NewInvalidVoteError(value)
	}
	contentID, err := s.key.Unmask(maskedID)
	if err != nil {
		s.metrics.RecordVote(string(kind), metrics.VoteOutcomeRejected)
		return nil, model.NewBadMaskedIDError()
	}

	// trending_scoreの時間成分はコンテンツの作成時刻のみで決まる
	offset := scoring.TimeOffset(contentID.Timestamp())

	policy := retry.Policy{
		Name:        "cast " + string(kind) + " vote",
		MaxAttempts: s.maxAttempts,
		Logger:      s.logger,
		OnRetry: func(int, error) {
			s.metrics.RecordVoteRetry(string(kind))
		},
	}
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		return s.attempt(ctx, kind, contentID, userID, value, offset)
	})
	if err != nil {
		s.metrics.RecordVote(string(kind), metrics.VoteOutcomeFailed)
		s.logger.Error("投票に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("content_id", contentID.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", model.ErrUnexpected, err)
	}

	tally, err := s.repo.ReadTally(ctx, kind, contentID)
	if err != nil {
		s.metrics.RecordVote(string(kind), metrics.VoteOutcomeFailed)
		return nil, fmt.Errorf("%w: %w", model.ErrUnexpected, err)
	}
	if tally == nil {
		// コミット直後にコンテンツが削除された
		s.metrics.RecordVote(string(kind), metrics.VoteOutcomeFailed)
		return nil, fmt.Errorf("%w: %w", model.ErrUnexpected, repository.ErrContentNotFound)
	}

	s.metrics.RecordVote(string(kind), metrics.VoteOutcomeCommitted)
	s.metrics.RecordVoteLatency(time.Since(start))
	return tally, nil
}

// attempt は投票トランザクションを1回実行する。
// 再試行すべき失敗は retry.Conflict でマークして返す。
func (s *Service) attempt(ctx context.Context, kind model.ContentKind, contentID model.RecordID, userID string, value int32, offset float64) error {
	tx, err := s.repo.Begin(ctx, kind)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	previous, found, err := tx.FindVote(ctx, contentID, userID)
	if err != nil {
		return fmt.Errorf("既存の票の取得に失敗しました: %w", err)
	}

	if !found {
		if err := tx.InsertVote(ctx, contentID, userID, value); err != nil {
			if errors.Is(err, repository.ErrContentNotFound) {
				return err
			}
			return retry.Conflict(err)
		}
	} else {
		matched, err := tx.UpdateVoteIfValue(ctx, contentID, userID, previous, value)
		if err != nil {
			return retry.Conflict(err)
		}
		if !matched {
			return retry.Conflict(errLostRace)
		}
	}

	matched, err := tx.ApplyScoreDelta(ctx, contentID, scoring.VoteDelta(previous, value), offset)
	if err != nil {
		return retry.Conflict(err)
	}
	if !matched {
		return repository.ErrContentNotFound
	}

	if err := tx.Commit(); err != nil {
		return retry.Conflict(err)
	}
	return nil
}
