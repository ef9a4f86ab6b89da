// Package thread はコメントのページを幅を制限した返信ツリーに展開する。
//
// 部分木全体を辿らず、返信数の多い枝を優先しつつ確率的に子を取り込むことで、
// 1レスポンスあたりの展開数をおおよそ一定に保つ。取りこぼしは許容する（ベストエフォート）。
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/hitoshi/campusboard/internal/metrics"
	"github.com/hitoshi/campusboard/internal/model"
)

// Source はツリー組み立てに必要なコメントの読み出し元。
type Source interface {
	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id model.RecordID) (*model.Comment, error)
	// ListRoot は投稿直下のコメントを取得する。
	ListRoot(ctx context.Context, postID model.RecordID, excluded []model.RecordID, limit int) ([]model.Comment, error)
	// ListChildren は直接の子コメントを返信数の降順で取得する。
	ListChildren(ctx context.Context, parentID model.RecordID, excluded []model.RecordID, limit int) ([]model.Comment, error)
}

// Sampler は[0, 1)の一様乱数を返す。複数のゴルーチンから同時に呼ばれる。
type Sampler interface {
	Float64() float64
}

// globalSampler はmath/rand/v2のトップレベル関数を使うSampler。
type globalSampler struct{}

func (globalSampler) Float64() float64 { return rand.Float64() }

// lockedSampler は*rand.Randをミューテックスで保護したSampler。
type lockedSampler struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSampler) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// NewSampler はrを使うゴルーチンセーフなSamplerを返す。
// 固定シードのrを渡すとツリーの組み立て結果が再現可能になる。
// 呼び出しごとにロックを取るため、本番ではnilを渡して既定の乱数源を使う。
func NewSampler(r *rand.Rand) Sampler {
	return &lockedSampler{r: r}
}

// Policy は展開の上限と抽出確率を決める定数群。
type Policy struct {
	// PageSize はクエリ1回で取得するページの件数。
	PageSize int
	// MaxPerExpansion は1コメントあたりに取得する子の上限。
	MaxPerExpansion int
	// MinGuaranteed は無条件に取り込む展開数。
	MinGuaranteed int
	// K は抽出確率 min(1, K / 親の返信数) の分子。
	K float64
	// MaxExpanded はページ以外に取り込むコメント数の上限。
	MaxExpanded int
}

// DefaultPolicy は既定の展開方針を返す。
func DefaultPolicy() Policy {
	return Policy{
		PageSize:        5,
		MaxPerExpansion: 5,
		MinGuaranteed:   3,
		K:               2,
		MaxExpanded:     30,
	}
}

// Query はツリー組み立ての起点を表す。
// ParentCommentがゼロ値ならPostID直下のルートコメントを、
// そうでなければParentCommentの直接の子を起点にする。
type Query struct {
	PostID        model.RecordID
	ParentComment model.RecordID
	// Excluded は呼び出し元が既に受け取ったコメントID（追加読み込み用）。
	Excluded []model.RecordID
	// PageSize が0の場合はPolicy.PageSizeを使う。
	PageSize int
}

// IsThread はスレッドモード（特定コメントの子を起点にする）かどうかを返す。
func (q Query) IsThread() bool {
	return !q.ParentComment.IsZero()
}

// Assembler はコメントツリーを組み立てる。状態を持たず、並行に使用できる。
type Assembler struct {
	source  Source
	sampler Sampler
	policy  Policy
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewAssembler はAssemblerを生成する。samplerがnilの場合はmath/rand/v2の既定の乱数源を使う。
func NewAssembler(source Source, sampler Sampler, policy Policy, mc metrics.MetricsCollector, logger *slog.Logger) *Assembler {
	if sampler == nil {
		sampler = globalSampler{}
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		source:  source,
		sampler: sampler,
		policy:  policy,
		metrics: mc,
		logger:  logger,
	}
}

// Assemble はクエリのページを取得し、返信を抽出しながら展開してツリーを返す。
func (a *Assembler) Assemble(ctx context.Context, q Query) (*Tree, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = a.policy.PageSize
	}

	page, depth, err := a.fetchPage(ctx, q, pageSize)
	if err != nil {
		return nil, err
	}

	flat, expanded, err := a.expand(ctx, page)
	if err != nil {
		return nil, err
	}
	a.metrics.RecordThreadExpanded(expanded)

	a.logger.Debug("コメントツリーを組み立てました",
		slog.Bool("thread", q.IsThread()),
		slog.Int("page", len(page)),
		slog.Int("expanded", expanded),
	)

	return build(flat, depth), nil
}

// fetchPage はクエリモードに応じたページと、ページ内コメントの深さを返す。
func (a *Assembler) fetchPage(ctx context.Context, q Query, pageSize int) ([]model.Comment, int, error) {
	if !q.IsThread() {
		page, err := a.source.ListRoot(ctx, q.PostID, q.Excluded, pageSize)
		if err != nil {
			return nil, 0, fmt.Errorf("ルートコメントの取得に失敗しました: %w", err)
		}
		return page, 0, nil
	}

	parent, err := a.source.FindByID(ctx, q.ParentComment)
	if err != nil {
		return nil, 0, fmt.Errorf("親コメントの取得に失敗しました: %w", err)
	}
	if parent == nil {
		return nil, 0, model.NewParentNotFoundError()
	}

	page, err := a.source.ListChildren(ctx, parent.ID, q.Excluded, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("子コメントの取得に失敗しました: %w", err)
	}
	return page, parent.Depth() + 1, nil
}

// expand はページを起点に幅優先で子を取り込み、ページと取り込んだ子をまとめて返す。
func (a *Assembler) expand(ctx context.Context, page []model.Comment) ([]model.Comment, int, error) {
	flat := make([]model.Comment, 0, len(page)+a.policy.MaxExpanded)
	seen := make(map[model.RecordID]bool, cap(flat))
	for _, c := range page {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		flat = append(flat, c)
	}

	queue := append([]model.Comment(nil), flat...)
	expanded := 0

	for len(queue) > 0 && expanded < a.policy.MaxExpanded {
		parent := queue[0]
		queue = queue[1:]

		if parent.ReplyCount <= 0 {
			continue
		}

		children, err := a.source.ListChildren(ctx, parent.ID, nil, a.policy.MaxPerExpansion)
		if err != nil {
			return nil, 0, fmt.Errorf("返信の取得に失敗しました: %w", err)
		}

		p := min(1, a.policy.K/float64(parent.ReplyCount))
		for _, child := range children {
			if expanded >= a.policy.MaxExpanded {
				break
			}
			if seen[child.ID] {
				continue
			}
			if expanded >= a.policy.MinGuaranteed && a.sampler.Float64() >= p {
				continue
			}
			seen[child.ID] = true
			flat = append(flat, child)
			queue = append(queue, child)
			expanded++
		}
	}

	return flat, expanded, nil
}
