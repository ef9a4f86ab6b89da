// Package scoring はコンテンツのトレンドスコアを計算する。
//
// トレンドスコア = sign(a)·ln(1+|a|) + (作成時刻 − Epoch) / Decay
//
// 得票数は対数で減衰させ、作成時刻は線形の基準値として加算する。
// 投票時刻ではなくコンテンツ自身の作成時刻を使うため、
// スコアは「コンテンツの古さ」と「現在の得票」だけの純関数になる。
package scoring

import (
	"math"
	"time"
)

// Epoch はトレンドスコアの時刻オフセットの基準時刻。
var Epoch = time.Date(2022, 7, 8, 9, 28, 16, 0, time.UTC)

// Decay は時刻オフセットを1増やすのに必要な秒数（12.5時間）。
// 12.5時間新しい投稿は、得票がe倍（ln1つ分）少なくても同じ順位になる。
const Decay = 45000.0

// TimeOffset は作成時刻に対応するトレンドスコアの時刻成分を返す。
// 新規作成時のトレンドスコアの初期値でもある。
func TimeOffset(createdAt time.Time) float64 {
	return float64(createdAt.Unix()-Epoch.Unix()) / Decay
}

// VoteComponent は純得票数に対応するトレンドスコアの得票成分を返す。
func VoteComponent(absoluteScore int32) float64 {
	a := float64(absoluteScore)
	switch {
	case a > 0:
		return math.Log1p(a)
	case a < 0:
		return -math.Log1p(-a)
	default:
		return 0
	}
}

// TrendingScore はトレンドスコアを返す。降順ソートのキーとしてそのまま使用できる。
func TrendingScore(absoluteScore int32, createdAt time.Time) float64 {
	return VoteComponent(absoluteScore) + TimeOffset(createdAt)
}

// Delta は1票の変更に伴う集計値の差分を表す。
type Delta struct {
	Up       int32
	Down     int32
	Absolute int32
}

// IsZero は差分がないかどうかを返す。
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// VoteDelta は前回の投票値から新しい投票値への変更に伴う差分を計算する。
// 未投票は previous = 0 として扱う。
func VoteDelta(previous, requested int32) Delta {
	return Delta{
		Up:       indicator(requested == 1) - indicator(previous == 1),
		Down:     indicator(requested == -1) - indicator(previous == -1),
		Absolute: requested - previous,
	}
}

func indicator(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
