// Package retry は楽観的並行制御のための有界リトライを提供する。
//
// 業務ロジック（トランザクション本体）とリトライ方針を分離するため、
// 本体は一時的な競合を Conflict でラップして返すだけでよい。
// Conflict 以外のエラーはリトライせずそのまま呼び出し元に返す。
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted はリトライ上限に達したことを表す。
// 異常な競合やインフラ障害を示すため、呼び出し元の入力エラーとしては扱わない。
var ErrExhausted = errors.New("retry attempts exhausted")

// errConflict はConflict(nil)で使用する既定の競合エラー。
var errConflict = errors.New("write conflict")

// conflictError は一時的な書き込み競合を表す。
type conflictError struct {
	err error
}

func (e *conflictError) Error() string {
	return "conflict: " + e.err.Error()
}

func (e *conflictError) Unwrap() error {
	return e.err
}

// Conflict はerrを一時的な競合としてマークする。errがnilの場合は既定の競合エラーを使う。
// 重複キー、CAS不一致、コミット失敗など、最初からやり直せば成功しうる失敗に使用する。
func Conflict(err error) error {
	if err == nil {
		err = errConflict
	}
	return &conflictError{err: err}
}

// IsConflict はerrが一時的な競合としてマークされているかを返す。
func IsConflict(err error) bool {
	var ce *conflictError
	return errors.As(err, &ce)
}

// Policy はリトライの方針を表す。
type Policy struct {
	// Name はログとエラーメッセージに使う操作名。
	Name string
	// MaxAttempts は試行回数の上限（初回を含む）。
	MaxAttempts int
	// Logger はリトライのログ出力先。nilの場合はslog.Default()を使う。
	Logger *slog.Logger
	// OnRetry は競合による再試行のたびに呼ばれる。メトリクス記録用。
	OnRetry func(attempt int, err error)
}

// Do はfnを最大MaxAttempts回実行する。
// fnがnilを返せば終了し、Conflictでマークされたエラーを返せば最初からやり直す。
// それ以外のエラーは即座に返す。上限に達した場合は ErrExhausted をラップして返す。
// 各試行の前にctxのキャンセルを確認する。
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}

		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}
		logger.Debug("retrying after conflict",
			slog.String("operation", p.Name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
	}

	logger.Error("too many attempts",
		slog.String("operation", p.Name),
		slog.Int("max_attempts", p.MaxAttempts),
	)
	if lastErr == nil {
		return fmt.Errorf("%s: %w", p.Name, ErrExhausted)
	}
	return fmt.Errorf("%s: %w (last: %v)", p.Name, ErrExhausted, lastErr)
}
