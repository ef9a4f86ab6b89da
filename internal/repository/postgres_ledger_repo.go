package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/campusboard/internal/model"
	"github.com/hitoshi/campusboard/internal/scoring"
)

// PostgresLedgerRepo は投票台帳と集計値の整合性を検査・修復するリポジトリ。
type PostgresLedgerRepo struct {
	db *sql.DB
}

// NewPostgresLedgerRepo はPostgresLedgerRepoを生成する。
func NewPostgresLedgerRepo(db *sql.DB) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{db: db}
}

// FindDrift は台帳の再集計と保存値が異なるコンテンツを返す。
// 投票トランザクションと並行して実行されるため、結果は修復候補であり確定ではない。
func (r *PostgresLedgerRepo) FindDrift(ctx context.Context, kind model.ContentKind, limit int) ([]model.LedgerDrift, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT c.id, c.votes_up, c.votes_down,
		        COUNT(v.value) FILTER (WHERE v.value = 1)::int AS actual_up,
		        COUNT(v.value) FILTER (WHERE v.value = -1)::int AS actual_down
		 FROM %s c
		 LEFT JOIN %s v ON v.content_id = c.id
		 GROUP BY c.id, c.votes_up, c.votes_down
		 HAVING c.votes_up <> COUNT(v.value) FILTER (WHERE v.value = 1)
		     OR c.votes_down <> COUNT(v.value) FILTER (WHERE v.value = -1)
		 LIMIT $1`, tables.content, tables.votes),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("台帳の差分検出に失敗しました: %w", err)
	}
	defer rows.Close()

	drifts := make([]model.LedgerDrift, 0)
	for rows.Next() {
		var id []byte
		drift := model.LedgerDrift{Kind: kind}
		if err := rows.Scan(&id, &drift.Stored.Up, &drift.Stored.Down, &drift.Actual.Up, &drift.Actual.Down); err != nil {
			return nil, fmt.Errorf("差分のスキャンに失敗しました: %w", err)
		}
		if drift.ContentID, err = model.ParseRecordID(id); err != nil {
			return nil, err
		}
		drifts = append(drifts, drift)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("差分の読み取り中にエラーが発生しました: %w", err)
	}
	return drifts, nil
}

// RepairDrift はコンテンツ行をFOR UPDATEでロックしてから台帳を再集計する。
// 投票トランザクションはコンテンツ行を更新する前に台帳へ書き込むため、
// ロック取得後に見えない未コミットの票はその投票自身の差分として後から加算される。
func (r *PostgresLedgerRepo) RepairDrift(ctx context.Context, kind model.ContentKind, id model.RecordID) (bool, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return false, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored model.VoteTally
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT votes_up, votes_down FROM %s WHERE id = $1 FOR UPDATE`, tables.content),
		id.Bytes(),
	).Scan(&stored.Up, &stored.Down)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("コンテンツのロックに失敗しました: %w", err)
	}

	var actual model.VoteTally
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FILTER (WHERE value = 1)::int, COUNT(*) FILTER (WHERE value = -1)::int
		 FROM %s WHERE content_id = $1`, tables.votes),
		id.Bytes(),
	).Scan(&actual.Up, &actual.Down)
	if err != nil {
		return false, fmt.Errorf("台帳の再集計に失敗しました: %w", err)
	}

	if actual == stored {
		return false, nil
	}

	absolute := actual.Up - actual.Down
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET votes_up = $2, votes_down = $3, absolute_score = $4, trending_score = $5
		 WHERE id = $1`, tables.content),
		id.Bytes(), actual.Up, actual.Down, absolute, scoring.TrendingScore(absolute, id.Timestamp()),
	)
	if err != nil {
		return false, fmt.Errorf("集計値の修復に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// compile-time interface check
var _ LedgerRepository = (*PostgresLedgerRepo)(nil)
