// Package comment はスレッド形式のコメントの作成・削除・一覧取得のドメインロジックを提供する。
package comment

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
	"github.com/hitoshi/campusboard/internal/security"
	"github.com/hitoshi/campusboard/internal/sequence"
	"github.com/hitoshi/campusboard/internal/thread"
)

// Options はコメントサービスの設定値。
type Options struct {
	MaxTextSize int // 本文の最大バイト数
	MaxDepth    int // 親チェーンの最大長
	MaxAttempts int // 作成トランザクションの試行回数上限
}

// DefaultOptions は既定の設定値を返す。
func DefaultOptions() Options {
	return Options{
		MaxTextSize: 500,
		MaxDepth:    8,
		MaxAttempts: sequence.DefaultTxMaxAttempts,
	}
}

// CreateInput はコメント作成の入力。ParentCommentsはルートから直接の親までの順。
type CreateInput struct {
	Text           string
	ParentPost     masking.MaskedID
	ParentComments []masking.MaskedID
}

// View はクライアントに返すコメントの表現。IDは全てマスク済み。
type View struct {
	ID             masking.MaskedID
	ParentPost     masking.MaskedID
	ParentComments []masking.MaskedID
	Text           string
	Replies        int32
	Votes          model.VoteTally
	CreatedAt      time.Time
	Children       []View
}

// Service はコメントのサービス層。
type Service struct {
	repo      repository.CommentRepository
	assembler *thread.Assembler
	key       *masking.Key
	sanitizer security.TextSanitizer
	allocator *sequence.Allocator
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.CommentRepository,
	assembler *thread.Assembler,
	key *masking.Key,
	sanitizer security.TextSanitizer,
	opts Options,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	defaults := DefaultOptions()
	if opts.MaxTextSize <= 0 {
		opts.MaxTextSize = defaults.MaxTextSize
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaults.MaxDepth
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
		assembler: assembler,
		key:       key,
		sanitizer: sanitizer,
		allocator: sequence.NewAllocator("create comment", opts.MaxAttempts, logger, func() {
			mc.RecordSequenceRetry("comments")
		}),
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Create はコメントを作成し、マスク済みIDを返す。
//
// 連番の割り当て、直接の親コメントのreply_countの加算、挿入を1つのトランザクションで行い、
// 連番の衝突やコミット失敗の場合はトランザクション全体をやり直す。
// 返信先が存在しない場合は *model.APIError を返し、再試行しない。
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (masking.MaskedID, error) {
	if len(in.Text) > s.opts.MaxTextSize {
		return masking.MaskedID{}, model.NewOversizedTextError(s.opts.MaxTextSize)
	}
	if len(in.ParentComments) > s.opts.MaxDepth {
		return masking.MaskedID{}, model.NewCommentTooDeepError(s.opts.MaxDepth)
	}
	sanitized := s.sanitizer.Sanitize(in.Text)
	if sanitized == "" {
		return masking.MaskedID{}, model.NewEmptyTextError()
	}

	postID, err := s.key.Unmask(in.ParentPost)
	if err != nil {
		return masking.MaskedID{}, model.NewBadMaskedIDError()
	}
	parents, err := s.key.UnmaskAll(in.ParentComments)
	if err != nil {
		return masking.MaskedID{}, model.NewBadMaskedIDError()
	}

	now := s.now().UTC().Truncate(time.Second)
	comment := &model.Comment{
		ID:             model.NewRecordID(now),
		OwnerID:        ownerID,
		ParentPost:     postID,
		ParentComments: parents,
		Text:           sanitized,
		Score: model.Score{
			TrendingScore: scoring.TimeOffset(now),
		},
		CreatedAt: now,
	}

	_, err = s.allocator.Assign(ctx, sequence.Funcs{
		Last: s.repo.LastSequentialID,
		Insert: func(ctx context.Context, seq int32) error {
			comment.SequentialID = seq
			err := s.repo.CreateReply(ctx, comment)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, repository.ErrDuplicateKey), errors.Is(err, repository.ErrParentNotFound):
				return err
			default:
				// コミット失敗などはトランザクション全体をやり直す
				return retry.Conflict(err)
			}
		},
	})
	if err != nil {
		if errors.Is(err, repository.ErrParentNotFound) {
			return masking.MaskedID{}, model.NewParentNotFoundError()
		}
		s.logger.Error("コメントの作成に失敗しました",
			slog.String("post_id", postID.String()),
			slog.Int("depth", len(parents)),
			slog.String("error", err.Error()),
		)
		return masking.MaskedID{}, fmt.Errorf("%w: %w", model.ErrUnexpected, err)
	}

	return s.key.Mask(comment.ID), nil
}

// Delete は所有者のコメントを論理削除する。
// 対象が存在しない、または他人のコメントの場合も成功扱いにする（冪等）。
func (s *Service) Delete(ctx context.Context, ownerID string, masked masking.MaskedID) error {
	id, err := s.key.Unmask(masked)
	if err != nil {
		return model.NewBadMaskedIDError()
	}
	if err := s.repo.SoftDelete(ctx, id, ownerID); err != nil {
		return fmt.Errorf("コメントの削除に失敗しました: %w", err)
	}
	return nil
}

// ListRoot は投稿直下のコメントのページを、抽出した返信と共にツリーで返す。
// seenに含まれるコメントはページから除外する。
func (s *Service) ListRoot(ctx context.Context, parentPost masking.MaskedID, seen []masking.MaskedID) ([]View, error) {
	postID, err := s.key.Unmask(parentPost)
	if err != nil {
		return nil, model.NewBadMaskedIDError()
	}
	excluded, err := s.key.UnmaskAll(seen)
	if err != nil {
		return nil, model.NewBadMaskedIDError()
	}

	tree, err := s.assembler.Assemble(ctx, thread.Query{PostID: postID, Excluded: excluded})
	if err != nil {
		return nil, fmt.Errorf("コメントツリーの組み立てに失敗しました: %w", err)
	}
	return s.render(tree), nil
}

// ListThread は指定コメントの直接の子のページを、抽出した返信と共にツリーで返す。
// 指定コメントが存在しない場合は *model.APIError を返す。
func (s *Service) ListThread(ctx context.Context, parentComment masking.MaskedID, seen []masking.MaskedID) ([]View, error) {
	parentID, err := s.key.Unmask(parentComment)
	if err != nil {
		return nil, model.NewBadMaskedIDError()
	}
	excluded, err := s.key.UnmaskAll(seen)
	if err != nil {
		return nil, model.NewBadMaskedIDError()
	}

	tree, err := s.assembler.Assemble(ctx, thread.Query{ParentComment: parentID, Excluded: excluded})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, fmt.Errorf("スレッドの組み立てに失敗しました: %w", err)
	}
	return s.render(tree), nil
}

// render はツリーをマスク済みIDのネスト構造に変換する。
func (s *Service) render(tree *thread.Tree) []View {
	var toView func(i int) View
	toView = func(i int) View {
		n := &tree.Nodes[i]
		v := View{
			ID:             s.key.Mask(n.ID),
			ParentPost:     s.key.Mask(n.ParentPost),
			ParentComments: s.key.MaskAll(n.ParentComments),
			Text:           n.DisplayText(),
			Replies:        n.ReplyCount,
			Votes:          model.VoteTally{Up: n.VotesUp, Down: n.VotesDown},
			CreatedAt:      n.CreatedAt,
			Children:       make([]View, 0, len(n.Children)),
		}
		for _, c := range n.Children {
			v.Children = append(v.Children, toView(c))
		}
		return v
	}

	views := make([]View, 0, len(tree.Roots))
	for _, r := range tree.Roots {
		views = append(views, toView(r))
	}
	return views
}
