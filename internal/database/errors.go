package database

import (
	"errors"

	"github.com/lib/pq"
)

// ErrDuplicateKey は一意制約違反を表す。
// リポジトリはpqのエラーをこの値でラップして返し、上位層はerrors.Isで判定する。
var ErrDuplicateKey = errors.New("duplicate key")

// PostgreSQLのSQLSTATEコード
const (
	codeUniqueViolation      pq.ErrorCode = "23505"
	codeForeignKeyViolation  pq.ErrorCode = "23503"
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
)

// IsUniqueViolation はerrがPostgreSQLの一意制約違反かどうかを返す。
// constraintが空でない場合は制約名も一致する必要がある。
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsForeignKeyViolation はerrがPostgreSQLの外部キー制約違反かどうかを返す。
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeForeignKeyViolation
}

// IsTransient はerrがトランザクションを最初からやり直せば成功しうる失敗
// （シリアライズ失敗・デッドロック検出）かどうかを返す。
func IsTransient(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}
