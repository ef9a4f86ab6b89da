// Package masking は内部IDと連番を外部公開用の不透明なトークンに変換する。
//
// 1ブロック（128bit）のAES暗号化による鍵付き全単射であり、
// ID⇔トークンの対応表を保持せずに列挙不能なIDを提供する。
// 平文ブロックはペイロードの後ろを型タグで埋めた16バイトで、
// 復号時にタグ部分が一致しない場合は ErrPadding を返す。
// これにより不正なトークン、別の型のトークン、別の鍵で作られたトークンを同時に拒否する。
package masking

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/hitoshi/campusboard/internal/model"
)

// KeySize はマスキング鍵のバイト長（AES-128）。
const KeySize = 16

// BlockSize はトークンのバイト長。
const BlockSize = aes.BlockSize

const (
	typeRecordID   byte = 0
	typeSequential byte = 1
)

// PaddingError はトークンの復号結果の型タグが期待値と一致しないことを表す。
type PaddingError struct{}

// Error はerrorインターフェースを実装する。
func (*PaddingError) Error() string {
	return "invalid id"
}

// ErrPadding はUnmask系関数が返すエラー。errors.Isで判定する。
var ErrPadding error = &PaddingError{}

// Key はプロセス全体で共有するマスキング鍵。
// 起動時に一度だけ生成し、以後は読み取り専用として各コンポーネントに渡す。
// cipher.Blockは状態を持たないため、複数のゴルーチンから同時に使用できる。
type Key struct {
	block cipher.Block
}

// NewKey は16バイトの秘密鍵からKeyを生成する。
func NewKey(secret []byte) (*Key, error) {
	if len(secret) != KeySize {
		return nil, fmt.Errorf("masking key must be %d bytes, got %d", KeySize, len(secret))
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create masking cipher: %w", err)
	}
	return &Key{block: block}, nil
}

// ParseHexKey は32文字の16進文字列からKeyを生成する。
// 環境変数 MASKING_KEY の読み込みに使用する。
func ParseHexKey(s string) (*Key, error) {
	secret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("masking key must be hex encoded: %w", err)
	}
	return NewKey(secret)
}

// Mask は内部レコードIDをマスクする。失敗しない。
func (k *Key) Mask(id model.RecordID) MaskedID {
	var plain [BlockSize]byte
	fill(plain[:], typeRecordID)
	copy(plain[:model.RecordIDSize], id[:])

	var out MaskedID
	k.block.Encrypt(out[:], plain[:])
	return out
}

// Unmask はマスク済みIDを内部レコードIDに戻す。
// 型タグが一致しない場合は ErrPadding を返す。
func (k *Key) Unmask(masked MaskedID) (model.RecordID, error) {
	var plain [BlockSize]byte
	k.block.Decrypt(plain[:], masked[:])

	var id model.RecordID
	if !filledWith(plain[model.RecordIDSize:], typeRecordID) {
		return id, ErrPadding
	}
	copy(id[:], plain[:model.RecordIDSize])
	return id, nil
}

// MaskSequential は連番をマスクする。失敗しない。
func (k *Key) MaskSequential(seq uint64) MaskedSequentialID {
	var plain [BlockSize]byte
	fill(plain[:], typeSequential)
	binary.LittleEndian.PutUint64(plain[:8], seq)

	var out MaskedSequentialID
	k.block.Encrypt(out[:], plain[:])
	return out
}

// UnmaskSequential はマスク済み連番を元の値に戻す。
// 型タグが一致しない場合は ErrPadding を返す。
func (k *Key) UnmaskSequential(masked MaskedSequentialID) (uint64, error) {
	var plain [BlockSize]byte
	k.block.Decrypt(plain[:], masked[:])

	if !filledWith(plain[8:], typeSequential) {
		return 0, ErrPadding
	}
	return binary.LittleEndian.Uint64(plain[:8]), nil
}

// UnmaskAll は複数のマスク済みIDをまとめて復号する。1つでも失敗した場合はエラーを返す。
func (k *Key) UnmaskAll(masked []MaskedID) ([]model.RecordID, error) {
	ids := make([]model.RecordID, 0, len(masked))
	for _, m := range masked {
		id, err := k.Unmask(m)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MaskAll は複数の内部IDをまとめてマスクする。
func (k *Key) MaskAll(ids []model.RecordID) []MaskedID {
	masked := make([]MaskedID, len(ids))
	for i, id := range ids {
		masked[i] = k.Mask(id)
	}
	return masked
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func filledWith(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}

// IsPaddingError はerrがマスク解除の失敗かどうかを返す。
func IsPaddingError(err error) bool {
	var pe *PaddingError
	return errors.As(err, &pe)
}
