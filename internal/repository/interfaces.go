// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/campusboard/internal/database"
	"github.com/hitoshi/campusboard/internal/model"
	"github.com/hitoshi/campusboard/internal/scoring"
)

// ErrDuplicateKey は一意制約（連番・投票）違反を表す。
var ErrDuplicateKey = database.ErrDuplicateKey

// ErrContentNotFound は投票対象のコンテンツが存在しないことを表す。
var ErrContentNotFound = errors.New("content not found")

// ErrParentNotFound はコメントの親（投稿または親コメント）が存在しないことを表す。
var ErrParentNotFound = errors.New("parent not found")

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// LastSequentialID は現在の最大連番を返す。投稿がない場合は0を返す。
	LastSequentialID(ctx context.Context) (int32, error)

	// Create は投稿を作成する。連番が既に使われている場合は ErrDuplicateKey をラップして返す。
	Create(ctx context.Context, post *model.Post) error

	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id model.RecordID) (*model.Post, error)

	// ListRecent は連番の降順で投稿を取得する。
	// beforeが0より大きい場合はそれより小さい連番のみを対象にする。
	ListRecent(ctx context.Context, before int32, limit int) ([]model.Post, error)

	// ListTrending はtrending_scoreの降順で投稿を取得する。
	ListTrending(ctx context.Context, limit int) ([]model.Post, error)

	// ListHottest は[from, to)に作成された投稿をabsolute_scoreの降順で取得する。
	ListHottest(ctx context.Context, from, to time.Time, limit int) ([]model.Post, error)
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// LastSequentialID は現在の最大連番を返す。コメントがない場合は0を返す。
	LastSequentialID(ctx context.Context) (int32, error)

	// CreateReply は直接の親コメントのreply_countの加算とコメントの挿入を
	// 同一トランザクションで行う。
	// 親が存在しない、または親チェーンが親コメント自身のチェーンと一致しない場合は
	// ErrParentNotFound を返す。連番が既に使われている場合は ErrDuplicateKey をラップして返す。
	CreateReply(ctx context.Context, comment *model.Comment) error

	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id model.RecordID) (*model.Comment, error)

	// ListRoot は投稿直下のコメントを連番の昇順で取得する。excludedのIDは除外する。
	ListRoot(ctx context.Context, postID model.RecordID, excluded []model.RecordID, limit int) ([]model.Comment, error)

	// ListChildren は直接の子コメントをreply_countの降順で取得する。excludedのIDは除外する。
	ListChildren(ctx context.Context, parentID model.RecordID, excluded []model.RecordID, limit int) ([]model.Comment, error)

	// SoftDelete は所有者が一致する場合にコメントを論理削除する。
	// 対象がない場合もエラーにしない（冪等）。
	SoftDelete(ctx context.Context, id model.RecordID, ownerID string) error
}

// VoteRepository は投票台帳とマテリアライズ済みスコアの永続化インターフェース。
type VoteRepository interface {
	// Begin はkindのコンテンツに対する投票トランザクションを開始する。
	Begin(ctx context.Context, kind model.ContentKind) (VoteTx, error)

	// ReadTally はコミット済みの賛成・反対票数を読み出す。見つからない場合はnilを返す。
	ReadTally(ctx context.Context, kind model.ContentKind, id model.RecordID) (*model.VoteTally, error)
}

// VoteTx は1回の投票試行を表すトランザクション。
// Commit か Rollback のどちらかで必ず終了させること。Commit後のRollbackは何もしない。
type VoteTx interface {
	// FindVote はユーザーの現在の票を返す。票がない場合はfound=falseを返す。
	FindVote(ctx context.Context, contentID model.RecordID, userID string) (value int32, found bool, err error)

	// InsertVote は新しい票を挿入する。同時に同じ票が挿入された場合は ErrDuplicateKey をラップして返す。
	// コンテンツが存在しない場合は ErrContentNotFound を返す。
	InsertVote(ctx context.Context, contentID model.RecordID, userID string, value int32) error

	// UpdateVoteIfValue は現在の値がpreviousと一致する場合のみ票をvalueに更新する。
	// 一致した行がなかった場合はfalseを返す。
	UpdateVoteIfValue(ctx context.Context, contentID model.RecordID, userID string, previous, value int32) (bool, error)

	// ApplyScoreDelta は票数に差分を加算し、新しいabsolute_scoreとtimeOffsetから
	// trending_scoreを1文で再計算する。対象がない場合はfalseを返す。
	ApplyScoreDelta(ctx context.Context, contentID model.RecordID, delta scoring.Delta, timeOffset float64) (bool, error)

	Commit() error
	Rollback() error
}

// LedgerRepository は投票台帳と集計値の整合性検査用のインターフェース。
type LedgerRepository interface {
	// FindDrift は台帳から再集計した票数と保存された票数が異なるコンテンツを最大limit件返す。
	FindDrift(ctx context.Context, kind model.ContentKind, limit int) ([]model.LedgerDrift, error)

	// RepairDrift はコンテンツ行をロックした上で台帳から票数を再集計し、
	// 異なっていれば票数・スコアを上書きする。修復した場合はtrueを返す。
	RepairDrift(ctx context.Context, kind model.ContentKind, id model.RecordID) (bool, error)
}
