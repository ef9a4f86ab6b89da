package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/campusboard/internal/database"
	"github.com/hitoshi/campusboard/internal/model"
)

const postColumns = `id, sequential_id, owner_id, text,
	votes_up, votes_down, absolute_score, trending_score, created_at`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// LastSequentialID は現在の最大連番を返す。投稿がない場合は0を返す。
func (r *PostgresPostRepo) LastSequentialID(ctx context.Context) (int32, error) {
	var last int32
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequential_id), 0) FROM posts`,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("投稿の最大連番の取得に失敗しました: %w", err)
	}
	return last, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, sequential_id, owner_id, text,
		                    votes_up, votes_down, absolute_score, trending_score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		post.ID.Bytes(), post.SequentialID, post.OwnerID, post.Text,
		post.VotesUp, post.VotesDown, post.AbsoluteScore, post.TrendingScore, post.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "posts_sequential_id_key") {
			return fmt.Errorf("sequential_id %d は使用済みです: %w", post.SequentialID, ErrDuplicateKey)
		}
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id model.RecordID) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`,
		id.Bytes(),
	)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return post, nil
}

// ListRecent は連番の降順で投稿を取得する。
func (r *PostgresPostRepo) ListRecent(ctx context.Context, before int32, limit int) ([]model.Post, error) {
	if before > 0 {
		return r.list(ctx,
			`SELECT `+postColumns+` FROM posts
			 WHERE sequential_id < $1
			 ORDER BY sequential_id DESC
			 LIMIT $2`,
			before, limit,
		)
	}
	return r.list(ctx,
		`SELECT `+postColumns+` FROM posts
		 ORDER BY sequential_id DESC
		 LIMIT $1`,
		limit,
	)
}

// ListTrending はtrending_scoreの降順で投稿を取得する。
func (r *PostgresPostRepo) ListTrending(ctx context.Context, limit int) ([]model.Post, error) {
	return r.list(ctx,
		`SELECT `+postColumns+` FROM posts
		 ORDER BY trending_score DESC, sequential_id DESC
		 LIMIT $1`,
		limit,
	)
}

// ListHottest は[from, to)に作成された投稿をabsolute_scoreの降順で取得する。
func (r *PostgresPostRepo) ListHottest(ctx context.Context, from, to time.Time, limit int) ([]model.Post, error) {
	return r.list(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY absolute_score DESC, sequential_id DESC
		 LIMIT $3`,
		from, to, limit,
	)
}

func (r *PostgresPostRepo) list(ctx context.Context, query string, args ...any) ([]model.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	posts := make([]model.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿のスキャンに失敗しました: %w", err)
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の読み取り中にエラーが発生しました: %w", err)
	}
	return posts, nil
}

func scanPost(row rowScanner) (*model.Post, error) {
	var post model.Post
	var id []byte
	if err := row.Scan(
		&id, &post.SequentialID, &post.OwnerID, &post.Text,
		&post.VotesUp, &post.VotesDown, &post.AbsoluteScore, &post.TrendingScore, &post.CreatedAt,
	); err != nil {
		return nil, err
	}

	recordID, err := model.ParseRecordID(id)
	if err != nil {
		return nil, err
	}
	post.ID = recordID
	return &post, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
