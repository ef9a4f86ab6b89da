package repository

import (
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/campusboard/internal/model"
)

// contentTables はコンテンツ種別ごとのテーブル名。
// SQL文字列に埋め込むため、ユーザー入力ではなくこの固定値のみを使用する。
type contentTables struct {
	content string
	votes   string
}

func tablesFor(kind model.ContentKind) (contentTables, error) {
	switch kind {
	case model.ContentKindPost:
		return contentTables{content: "posts", votes: "post_votes"}, nil
	case model.ContentKindComment:
		return contentTables{content: "comments", votes: "comment_votes"}, nil
	default:
		return contentTables{}, fmt.Errorf("unknown content kind: %q", kind)
	}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// recordIDArray はRecordIDのスライスをbytea[]パラメータに変換する。
// nilスライスはNULLではなく空配列として渡す。
func recordIDArray(ids []model.RecordID) pq.ByteaArray {
	arr := make(pq.ByteaArray, 0, len(ids))
	for _, id := range ids {
		arr = append(arr, id.Bytes())
	}
	return arr
}

// parseRecordIDArray はbytea[]から読み出した値をRecordIDのスライスに変換する。
func parseRecordIDArray(arr pq.ByteaArray) ([]model.RecordID, error) {
	ids := make([]model.RecordID, 0, len(arr))
	for _, b := range arr {
		id, err := model.ParseRecordID(b)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
