// Package post は投稿の作成と一覧取得のドメインロジックを提供する。
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hitoshi/campusboard/internal/masking"
	"github.com/hitoshi/campusboard/internal/metrics"
	"github.com/hitoshi/campusboard/internal/model"
	"github.com/hitoshi/campusboard/internal/repository"
	"github.com/hitoshi/campusboard/internal/retry"
	"github.com/hitoshi/campusboard/internal/scoring"
	"github.com/hitoshi/campusboard/internal/security"
	"github.com/hitoshi/campusboard/internal/sequence"
)

// Options は投稿サービスの設定値。
type Options struct {
	PageSize    int // 一覧1ページあたりの件数
	MaxTextSize int // 本文の最大バイト数
	MaxAttempts int // 連番割り当ての試行回数上限
}

// DefaultOptions は既定の設定値を返す。
func DefaultOptions() Options {
	return Options{
		PageSize:    5,
		MaxTextSize: 1000,
		MaxAttempts: sequence.DefaultMaxAttempts,
	}
}

// Summary はクライアントに返す投稿の表現。IDは全てマスク済み。
type Summary struct {
	ID           masking.MaskedID
	SequentialID masking.MaskedSequentialID
	Text         string
	CreatedAt    time.Time
	Votes        model.VoteTally
}

// Service は投稿のサービス層。
type Service struct {
	repo      repository.PostRepository
	key       *masking.Key
	sanitizer security.TextSanitizer
	allocator *sequence.Allocator
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.PostRepository,
	key *masking.Key,
	sanitizer security.TextSanitizer,
	opts Options,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	defaults := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = defaults.PageSize
	}
	if opts.MaxTextSize <= 0 {
		opts.MaxTextSize = defaults.MaxTextSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		repo:      repo,
		key:       key,
		sanitizer: sanitizer,
		allocator: sequence.NewAllocator("create post", opts.MaxAttempts, logger, func() {
			mc.RecordSequenceRetry("posts")
		}),
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Create は新しい投稿を作成し、マスク済みIDを返す。
// 本文が空またはサイズ上限を超える場合は *model.APIError を返す。
func (s *Service) Create(ctx context.Context, ownerID, text string) (masking.MaskedID, error) {
	if len(text) > s.opts.MaxTextSize {
		return masking.MaskedID{}, model.NewOversizedTextError(s.opts.MaxTextSize)
	}
	sanitized := s.sanitizer.Sanitize(text)
	if sanitized == "" {
		return masking.MaskedID{}, model.NewEmptyTextError()
	}

	// IDに埋め込まれる時刻は秒単位のため、created_atも秒に揃える
	now := s.now().UTC().Truncate(time.Second)
	post := &model.Post{
		ID:      model.NewRecordID(now),
		OwnerID: ownerID,
		Text:    sanitized,
		Score: model.Score{
			TrendingScore: scoring.TimeOffset(now),
		},
		CreatedAt: now,
	}

	seq, err := s.allocator.Assign(ctx, sequence.Funcs{
		Last: s.repo.LastSequentialID,
		Insert: func(ctx context.Context, seq int32) error {
			post.SequentialID = seq
			return s.repo.Create(ctx, post)
		},
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return masking.MaskedID{}, fmt.Errorf("%w: %w", model.ErrUnexpected, err)
		}
		return masking.MaskedID{}, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	s.logger.Info("投稿を作成しました",
		slog.String("post_id", post.ID.String()),
		slog.Int("sequential_id", int(seq)),
	)
	return s.key.Mask(post.ID), nil
}

// ListRecent は新しい順に投稿を返す。
// beforeを指定した場合はその連番より前の投稿のみを返す。
func (s *Service) ListRecent(ctx context.Context, before *masking.MaskedSequentialID) ([]Summary, error) {
	var cursor int32
	if before != nil {
		seq, err := s.key.UnmaskSequential(*before)
		if err != nil || seq == 0 || seq > math.MaxInt32 {
			return nil, model.NewBadMaskedIDError()
		}
		cursor = int32(seq)
	}

	posts, err := s.repo.ListRecent(ctx, cursor, s.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("新着投稿の取得に失敗しました: %w", err)
	}
	return s.summarize(posts), nil
}

// ListTrending はtrending_scoreの高い順に投稿を返す。
func (s *Service) ListTrending(ctx context.Context) ([]Summary, error) {
	posts, err := s.repo.ListTrending(ctx, s.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("トレンド投稿の取得に失敗しました: %w", err)
	}
	return s.summarize(posts), nil
}

// ListHottest はdayを含むUTC暦日に作成された投稿をabsolute_scoreの高い順に返す。
// dayがnilの場合は前日を対象にする。当日以降の日付は集計途中のため指定できない。
func (s *Service) ListHottest(ctx context.Context, day *time.Time) ([]Summary, error) {
	today := startOfDay(s.now())

	from := today.AddDate(0, 0, -1)
	if day != nil {
		from = startOfDay(*day)
		if !from.Before(today) {
			return nil, model.NewInvalidDateError("当日以降の日付は指定できません")
		}
	}

	posts, err := s.repo.ListHottest(ctx, from, from.AddDate(0, 0, 1), s.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("人気投稿の取得に失敗しました: %w", err)
	}
	return s.summarize(posts), nil
}

func (s *Service) summarize(posts []model.Post) []Summary {
	results := make([]Summary, len(posts))
	for i, p := range posts {
		results[i] = Summary{
			ID:           s.key.Mask(p.ID),
			SequentialID: s.key.MaskSequential(uint64(p.SequentialID)),
			Text:         p.Text,
			CreatedAt:    p.CreatedAt,
			Votes:        model.VoteTally{Up: p.VotesUp, Down: p.VotesDown},
		}
	}
	return results
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
