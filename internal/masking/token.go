package masking

import (
	"encoding/base64"
)

var tokenEncoding = base64.RawURLEncoding

// tokenTextLen はトークンのbase64表現の文字数（16バイト → 22文字）。
var tokenTextLen = tokenEncoding.EncodedLen(BlockSize)

// MaskedID は内部レコードIDのマスク済みトークン。
// JSONやURLパラメータではパディングなしのURLセーフbase64で表現する。
type MaskedID [BlockSize]byte

// MaskedSequentialID は連番のマスク済みトークン。ページネーションカーソルに使用する。
type MaskedSequentialID [BlockSize]byte

// String はトークンのbase64表現を返す。
func (m MaskedID) String() string {
	return tokenEncoding.EncodeToString(m[:])
}

// MarshalText はencoding.TextMarshalerを実装する。
func (m MaskedID) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText はencoding.TextUnmarshalerを実装する。
// 長さ不正やbase64として不正な入力には ErrPadding を返す。
func (m *MaskedID) UnmarshalText(text []byte) error {
	return decodeToken(text, m[:])
}

// ParseMaskedID は文字列表現からMaskedIDを生成する。
func ParseMaskedID(s string) (MaskedID, error) {
	var m MaskedID
	err := m.UnmarshalText([]byte(s))
	return m, err
}

// String はトークンのbase64表現を返す。
func (m MaskedSequentialID) String() string {
	return tokenEncoding.EncodeToString(m[:])
}

// MarshalText はencoding.TextMarshalerを実装する。
func (m MaskedSequentialID) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText はencoding.TextUnmarshalerを実装する。
func (m *MaskedSequentialID) UnmarshalText(text []byte) error {
	return decodeToken(text, m[:])
}

// ParseMaskedSequentialID は文字列表現からMaskedSequentialIDを生成する。
func ParseMaskedSequentialID(s string) (MaskedSequentialID, error) {
	var m MaskedSequentialID
	err := m.UnmarshalText([]byte(s))
	return m, err
}

func decodeToken(text []byte, dst []byte) error {
	if len(text) != tokenTextLen {
		return ErrPadding
	}
	n, err := tokenEncoding.Decode(dst, text)
	if err != nil || n != BlockSize {
		return ErrPadding
	}
	return nil
}
