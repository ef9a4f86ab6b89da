package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/campusboard/internal/database"
	"github.com/hitoshi/campusboard/internal/model"
)

const commentColumns = `id, sequential_id, owner_id, parent_post, parent_comments, text,
	votes_up, votes_down, absolute_score, trending_score, reply_count, deleted, created_at`

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// LastSequentialID は現在の最大連番を返す。コメントがない場合は0を返す。
func (r *PostgresCommentRepo) LastSequentialID(ctx context.Context) (int32, error) {
	var last int32
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequential_id), 0) FROM comments`,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("コメントの最大連番の取得に失敗しました: %w", err)
	}
	return last, nil
}

// CreateReply は親コメントのreply_count加算とコメントの挿入を同一トランザクションで行う。
// 親コメントは同じ投稿に属し、そのチェーンが新しいコメントのチェーンの接頭辞と
// 一致する必要がある。
func (r *PostgresCommentRepo) CreateReply(ctx context.Context, comment *model.Comment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ルートコメントのdirect_parentはNULLとして渡す
	var directParent any
	if parentID, ok := comment.DirectParent(); ok {
		directParent = parentID.Bytes()
		chain := comment.ParentComments[:len(comment.ParentComments)-1]

		result, err := tx.ExecContext(ctx,
			`UPDATE comments SET reply_count = reply_count + 1
			 WHERE id = $1 AND parent_post = $2 AND parent_comments = $3`,
			parentID.Bytes(), comment.ParentPost.Bytes(), recordIDArray(chain),
		)
		if err != nil {
			return fmt.Errorf("親コメントの返信数の更新に失敗しました: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected != 1 {
			return ErrParentNotFound
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO comments (id, sequential_id, owner_id, parent_post, parent_comments, direct_parent, text,
		                       votes_up, votes_down, absolute_score, trending_score, reply_count, deleted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		comment.ID.Bytes(), comment.SequentialID, comment.OwnerID,
		comment.ParentPost.Bytes(), recordIDArray(comment.ParentComments), directParent, comment.Text,
		comment.VotesUp, comment.VotesDown, comment.AbsoluteScore, comment.TrendingScore,
		comment.ReplyCount, comment.Deleted, comment.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "comments_sequential_id_key") {
			return fmt.Errorf("sequential_id %d は使用済みです: %w", comment.SequentialID, ErrDuplicateKey)
		}
		if database.IsForeignKeyViolation(err) {
			return ErrParentNotFound
		}
		return fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id model.RecordID) (*model.Comment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`,
		id.Bytes(),
	)
	comment, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	return comment, nil
}

// ListRoot は投稿直下のコメントを連番の昇順で取得する。
func (r *PostgresCommentRepo) ListRoot(ctx context.Context, postID model.RecordID, excluded []model.RecordID, limit int) ([]model.Comment, error) {
	return r.list(ctx,
		`SELECT `+commentColumns+` FROM comments
		 WHERE parent_post = $1 AND direct_parent IS NULL AND NOT (id = ANY($2))
		 ORDER BY sequential_id ASC
		 LIMIT $3`,
		postID.Bytes(), recordIDArray(excluded), limit,
	)
}

// ListChildren は直接の子コメントをreply_countの降順で取得する。
func (r *PostgresCommentRepo) ListChildren(ctx context.Context, parentID model.RecordID, excluded []model.RecordID, limit int) ([]model.Comment, error) {
	return r.list(ctx,
		`SELECT `+commentColumns+` FROM comments
		 WHERE direct_parent = $1 AND NOT (id = ANY($2))
		 ORDER BY reply_count DESC, sequential_id ASC
		 LIMIT $3`,
		parentID.Bytes(), recordIDArray(excluded), limit,
	)
}

// SoftDelete は所有者が一致する場合にコメントを論理削除する。
func (r *PostgresCommentRepo) SoftDelete(ctx context.Context, id model.RecordID, ownerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE comments SET deleted = true WHERE id = $1 AND owner_id = $2`,
		id.Bytes(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("コメントの削除に失敗しました: %w", err)
	}
	return nil
}

func (r *PostgresCommentRepo) list(ctx context.Context, query string, args ...any) ([]model.Comment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	comments := make([]model.Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("コメントのスキャンに失敗しました: %w", err)
		}
		comments = append(comments, *comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コメント一覧の読み取り中にエラーが発生しました: %w", err)
	}
	return comments, nil
}

func scanComment(row rowScanner) (*model.Comment, error) {
	var comment model.Comment
	var id, parentPost []byte
	var parents pq.ByteaArray
	if err := row.Scan(
		&id, &comment.SequentialID, &comment.OwnerID, &parentPost, &parents, &comment.Text,
		&comment.VotesUp, &comment.VotesDown, &comment.AbsoluteScore, &comment.TrendingScore,
		&comment.ReplyCount, &comment.Deleted, &comment.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if comment.ID, err = model.ParseRecordID(id); err != nil {
		return nil, err
	}
	if comment.ParentPost, err = model.ParseRecordID(parentPost); err != nil {
		return nil, err
	}
	if comment.ParentComments, err = parseRecordIDArray(parents); err != nil {
		return nil, err
	}
	return &comment, nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
