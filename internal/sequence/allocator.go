// Package sequence はコレクションごとの単調増加する連番を割り当てる。
//
// 中央のカウンタやロックは使わず、現在の最大値+1で挿入を試み、
// 同時に同じ値を選んだ書き込みをsequential_idの一意インデックスで弾く。
// 負けた側は読み取りからやり直す。プロセスがクラッシュした場合に番号が
// 欠けることはあるが、重複することはない。
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/hitoshi/campusboard/internal/database"
	"github.com/hitoshi/campusboard/internal/retry"
)

// 既定の試行回数
const (
	// DefaultMaxAttempts は単独の挿入（投稿作成）の試行回数上限。
	DefaultMaxAttempts = 100
	// DefaultTxMaxAttempts はトランザクションを伴う挿入（コメント作成）の試行回数上限。
	DefaultTxMaxAttempts = 8
)

// ErrOverflow は連番がint32の上限に達したことを表す。
var ErrOverflow = errors.New("sequential id overflow")

// Store は連番を割り当てる対象のコレクションを表す。
type Store interface {
	// LastSequentialID は現在の最大連番を返す。コレクションが空の場合は0を返す。
	LastSequentialID(ctx context.Context) (int32, error)
	// InsertWithSequentialID は指定の連番で新しいドキュメントを挿入する。
	// 連番が既に使われている場合は database.ErrDuplicateKey をラップして返す。
	// retry.Conflict でマークしたエラーも再試行の対象になる。
	InsertWithSequentialID(ctx context.Context, seq int32) error
}

// Funcs は関数の組をStoreとして扱うアダプタ。
type Funcs struct {
	Last   func(ctx context.Context) (int32, error)
	Insert func(ctx context.Context, seq int32) error
}

// LastSequentialID はStoreを実装する。
func (f Funcs) LastSequentialID(ctx context.Context) (int32, error) {
	return f.Last(ctx)
}

// InsertWithSequentialID はStoreを実装する。
func (f Funcs) InsertWithSequentialID(ctx context.Context, seq int32) error {
	return f.Insert(ctx, seq)
}

// Allocator は読み取り→提案→挿入のサイクルを有界回数だけ繰り返す。
// 状態を持たないため、複数のゴルーチンから同時に使用できる。
type Allocator struct {
	name        string
	maxAttempts int
	logger      *slog.Logger
	onRetry     func()
}

// NewAllocator は新しいAllocatorを生成する。
// onRetryは一意制約違反による再試行のたびに呼ばれる（nil可）。
func NewAllocator(name string, maxAttempts int, logger *slog.Logger, onRetry func()) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		name:        name,
		maxAttempts: maxAttempts,
		logger:      logger,
		onRetry:     onRetry,
	}
}

// Assign はstoreに新しい連番で挿入し、割り当てた連番を返す。
// 一意制約違反または競合の場合はサイクル全体をやり直す。
// それ以外のエラーは即座に返す。上限超過時は retry.ErrExhausted をラップして返す。
func (a *Allocator) Assign(ctx context.Context, store Store) (int32, error) {
	var assigned int32

	policy := retry.Policy{
		Name:        a.name,
		MaxAttempts: a.maxAttempts,
		Logger:      a.logger,
		OnRetry: func(int, error) {
			if a.onRetry != nil {
				a.onRetry()
			}
		},
	}

	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		last, err := store.LastSequentialID(ctx)
		if err != nil {
			return fmt.Errorf("failed to read last sequential id: %w", err)
		}
		if last == math.MaxInt32 {
			return ErrOverflow
		}

		candidate := last + 1
		if err := store.InsertWithSequentialID(ctx, candidate); err != nil {
			if errors.Is(err, database.ErrDuplicateKey) {
				return retry.Conflict(err)
			}
			return err
		}

		assigned = candidate
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}
