package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/campusboard/internal/database"
	"github.com/hitoshi/campusboard/internal/model"
	"github.com/hitoshi/campusboard/internal/scoring"
)

// PostgresVoteRepo はPostgreSQLを使用した投票リポジトリ。
// 投票台帳（post_votes / comment_votes）とコンテンツ行の集計値を同一トランザクションで更新する。
type PostgresVoteRepo struct {
	db *sql.DB
}

// NewPostgresVoteRepo はPostgresVoteRepoを生成する。
func NewPostgresVoteRepo(db *sql.DB) *PostgresVoteRepo {
	return &PostgresVoteRepo{db: db}
}

// Begin はkindのコンテンツに対する投票トランザクションを開始する。
// ctxがキャンセルされた場合、database/sqlがトランザクションをロールバックする。
func (r *PostgresVoteRepo) Begin(ctx context.Context, kind model.ContentKind) (VoteTx, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresVoteTx{tx: tx, tables: tables}, nil
}

// ReadTally はコミット済みの賛成・反対票数を読み出す。見つからない場合はnilを返す。
func (r *PostgresVoteRepo) ReadTally(ctx context.Context, kind model.ContentKind, id model.RecordID) (*model.VoteTally, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	var tally model.VoteTally
	err = r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT votes_up, votes_down FROM %s WHERE id = $1`, tables.content),
		id.Bytes(),
	).Scan(&tally.Up, &tally.Down)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("票数の読み出しに失敗しました: %w", err)
	}
	return &tally, nil
}

type postgresVoteTx struct {
	tx     *sql.Tx
	tables contentTables
}

func (t *postgresVoteTx) FindVote(ctx context.Context, contentID model.RecordID, userID string) (int32, bool, error) {
	var value int32
	err := t.tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE content_id = $1 AND user_id = $2`, t.tables.votes),
		contentID.Bytes(), userID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("票の取得に失敗しました: %w", err)
	}
	return value, true, nil
}

func (t *postgresVoteTx) InsertVote(ctx context.Context, contentID model.RecordID, userID string, value int32) error {
	_, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (content_id, user_id, value) VALUES ($1, $2, $3)`, t.tables.votes),
		contentID.Bytes(), userID, value,
	)
	if err != nil {
		if database.IsUniqueViolation(err, t.tables.votes+"_pkey") {
			return fmt.Errorf("票は既に存在します: %w", ErrDuplicateKey)
		}
		if database.IsForeignKeyViolation(err) {
			return ErrContentNotFound
		}
		return fmt.Errorf("票の挿入に失敗しました: %w", err)
	}
	return nil
}

func (t *postgresVoteTx) UpdateVoteIfValue(ctx context.Context, contentID model.RecordID, userID string, previous, value int32) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET value = $4 WHERE content_id = $1 AND user_id = $2 AND value = $3`, t.tables.votes),
		contentID.Bytes(), userID, previous, value,
	)
	if err != nil {
		return false, fmt.Errorf("票の更新に失敗しました: %w", err)
	}
	return matchedOne(result)
}

// ApplyScoreDelta は票数に差分を加算し、trending_scoreを同じ文の中で再計算する。
// SET句の右辺は更新前の値を参照するため、absolute_score + $4 が新しい値になる。
func (t *postgresVoteTx) ApplyScoreDelta(ctx context.Context, contentID model.RecordID, delta scoring.Delta, timeOffset float64) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET
			votes_up = votes_up + $2,
			votes_down = votes_down + $3,
			absolute_score = absolute_score + $4,
			trending_score = SIGN((absolute_score + $4)::double precision)
				* LN(1 + ABS(absolute_score + $4)::double precision) + $5
		 WHERE id = $1`, t.tables.content),
		contentID.Bytes(), delta.Up, delta.Down, delta.Absolute, timeOffset,
	)
	if err != nil {
		return false, fmt.Errorf("スコアの更新に失敗しました: %w", err)
	}
	return matchedOne(result)
}

func (t *postgresVoteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *postgresVoteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func matchedOne(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// compile-time interface check
var _ VoteRepository = (*PostgresVoteRepo)(nil)
