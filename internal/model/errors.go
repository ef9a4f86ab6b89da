// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は呼び出し元の入力に起因するエラーの統一フォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, content, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ErrUnexpected はリトライ上限超過や、存在するはずのドキュメントが見つからない場合など
// 呼び出し元の入力に起因しない失敗を表す。
// 内部の競合状態やインフラの詳細をクライアントに漏らさないため、1種類に集約する。
var ErrUnexpected = errors.New("unexpected failure")

// 定義済みエラーコード
const (
	ErrCodeBadMaskedID     = "BAD_MASKED_ID"
	ErrCodeInvalidVote     = "INVALID_VOTE"
	ErrCodeInvalidKind     = "INVALID_CONTENT_KIND"
	ErrCodeOversizedText   = "OVERSIZED_TEXT"
	ErrCodeEmptyText       = "EMPTY_TEXT"
	ErrCodeCommentTooDeep  = "COMMENT_TOO_DEEP"
	ErrCodeParentNotFound  = "PARENT_NOT_FOUND"
	ErrCodeInvalidDate     = "INVALID_DATE"
	ErrCodeInvalidListKind = "INVALID_LIST_KIND"
	ErrCodeInvalidSort     = "INVALID_SORT"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInvalidBody     = "INVALID_REQUEST_BODY"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewBadMaskedIDError は復号できないマスク済みIDのエラーを生成する。
func NewBadMaskedIDError() *APIError {
	return &APIError{
		Code:     ErrCodeBadMaskedID,
		Message:  "IDの形式が正しくありません。",
		Category: "validation",
		Action:   "APIから取得したIDをそのまま指定してください。",
	}
}

// NewInvalidVoteError は投票値が -1, 0, 1 以外の場合のエラーを生成する。
func NewInvalidVoteError(value int32) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidVote,
		Message:  fmt.Sprintf("無効な投票値です: %d", value),
		Category: "validation",
		Action:   "投票値には -1、0、1 のいずれかを指定してください。",
	}
}

// NewInvalidKindError は未知のコンテンツ種別のエラーを生成する。
func NewInvalidKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidKind,
		Message:  fmt.Sprintf("無効なコンテンツ種別です: %s", kind),
		Category: "validation",
		Action:   "post または comment を指定してください。",
	}
}

// NewOversizedTextError は本文がサイズ上限を超えている場合のエラーを生成する。
func NewOversizedTextError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeOversizedText,
		Message:  fmt.Sprintf("本文が長すぎます（上限 %d バイト）。", limit),
		Category: "validation",
		Action:   "本文を短くしてから再度お試しください。",
	}
}

// NewEmptyTextError は本文が空の場合のエラーを生成する。
func NewEmptyTextError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyText,
		Message:  "本文が空です。",
		Category: "validation",
		Action:   "本文を入力してください。",
	}
}

// NewCommentTooDeepError はコメントのネストが深すぎる場合のエラーを生成する。
func NewCommentTooDeepError(maxDepth int) *APIError {
	return &APIError{
		Code:     ErrCodeCommentTooDeep,
		Message:  fmt.Sprintf("コメントのネストが深すぎます（上限 %d）。", maxDepth),
		Category: "validation",
		Action:   "より浅い階層のコメントに返信してください。",
	}
}

// NewParentNotFoundError は返信先の投稿・コメントが存在しない場合のエラーを生成する。
func NewParentNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeParentNotFound,
		Message:  "返信先が見つかりません。",
		Category: "content",
		Action:   "返信先が削除されていないか確認してください。",
	}
}

// NewInvalidDateError は日付指定が不正な場合のエラーを生成する。
func NewInvalidDateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", reason),
		Category: "validation",
		Action:   "昨日以前の日付をミリ秒単位のUnix時刻で指定してください。",
	}
}

// NewInvalidListKindError はコメント一覧の取得モードが不正な場合のエラーを生成する。
func NewInvalidListKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidListKind,
		Message:  fmt.Sprintf("無効な取得モードです: %s", kind),
		Category: "validation",
		Action:   "kind には root または thread を指定してください。",
	}
}

// NewInvalidSortError は投稿一覧の並び順が不正な場合のエラーを生成する。
func NewInvalidSortError(sort string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSort,
		Message:  fmt.Sprintf("無効な並び順です: %s", sort),
		Category: "validation",
		Action:   "sort には recent または trending を指定してください。",
	}
}

// NewUnauthorizedError はユーザー識別子がない、または不正な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ユーザーを識別できません。",
		Category: "auth",
		Action:   "ログインし直してから再度お試しください。",
	}
}

// NewInvalidBodyError はリクエストボディを解釈できない場合のエラーを生成する。
func NewInvalidBodyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBody,
		Message:  "リクエストの形式が正しくありません。",
		Category: "validation",
		Action:   "リクエストの内容を確認してください。",
	}
}

// NewRateLimitedError はユーザーごとのリクエスト上限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-After に示された秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError はErrUnexpectedなど呼び出し元に詳細を伝えない失敗のレスポンスを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
