package model

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// RecordIDSize は内部レコードIDのバイト長。
const RecordIDSize = 12

// RecordID は投稿・コメントの内部レコードID。
// 先頭4バイトは作成時刻（Unix秒、ビッグエンディアン）、残り8バイトは乱数。
// 外部に公開する際は必ずmasking.Keyでマスクする。
type RecordID [RecordIDSize]byte

// NewRecordID は指定時刻を埋め込んだ新しいRecordIDを生成する。
func NewRecordID(at time.Time) RecordID {
	var id RecordID
	binary.BigEndian.PutUint32(id[0:4], uint32(at.Unix()))
	if _, err := rand.Read(id[4:]); err != nil {
		// crypto/randの失敗はOSの乱数源が壊れている状態であり回復できない
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	return id
}

// ParseRecordID はBYTEA列などから読み出したバイト列をRecordIDに変換する。
func ParseRecordID(b []byte) (RecordID, error) {
	var id RecordID
	if len(b) != RecordIDSize {
		return id, fmt.Errorf("invalid record id length: %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Timestamp はIDに埋め込まれた作成時刻を返す。
func (id RecordID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// Bytes はSQLパラメータ用のバイトスライスを返す。
func (id RecordID) Bytes() []byte {
	return id[:]
}

// IsZero はゼロ値かどうかを返す。
func (id RecordID) IsZero() bool {
	return id == RecordID{}
}

// String はログ出力用の16進表現を返す。APIレスポンスには使用しない。
func (id RecordID) String() string {
	return hex.EncodeToString(id[:])
}
