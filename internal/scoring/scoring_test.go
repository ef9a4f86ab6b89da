package scoring

import (
	"math"
	"testing"
	"time"
)

func TestTimeOffset_ZeroAtEpoch(t *testing.T) {
	if got := TimeOffset(Epoch); got != 0 {
		t.Errorf("TimeOffset(Epoch) = %v, want 0", got)
	}
	if got := TimeOffset(Epoch.Add(45000 * time.Second)); got != 1 {
		t.Errorf("TimeOffset(Epoch+45000s) = %v, want 1", got)
	}
}

func TestVoteComponent(t *testing.T) {
	cases := []struct {
		score int32
		want  float64
	}{
		{0, 0},
		{1, math.Log(2)},
		{-1, -math.Log(2)},
		{9, math.Log(10)},
		{-9, -math.Log(10)},
	}
	for _, c := range cases {
		if got := VoteComponent(c.score); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("VoteComponent(%d) = %v, want %v", c.score, got, c.want)
		}
	}
}

// TestTrendingScore_StrictlyDecreasingInAge は得票が同じなら古いコンテンツほどスコアが低いことを検証する。
func TestTrendingScore_StrictlyDecreasingInAge(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, score := range []int32{-50, -1, 0, 1, 50} {
		prev := TrendingScore(score, base)
		for i := 1; i <= 10; i++ {
			older := TrendingScore(score, base.Add(-time.Duration(i)*time.Hour))
			if older >= prev {
				t.Fatalf("score=%d: older content (%v) not lower than newer (%v)", score, older, prev)
			}
			prev = older
		}
	}
}

// TestTrendingScore_StrictlyIncreasingInScore は作成時刻が同じなら得票が多いほどスコアが高いことを検証する。
func TestTrendingScore_StrictlyIncreasingInScore(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := TrendingScore(-1000, created)
	for s := int32(-999); s <= 1000; s++ {
		cur := TrendingScore(s, created)
		if cur <= prev {
			t.Fatalf("TrendingScore(%d) = %v not greater than TrendingScore(%d) = %v", s, cur, s-1, prev)
		}
		prev = cur
	}
}

func TestVoteDelta(t *testing.T) {
	cases := []struct {
		prev, req int32
		want      Delta
	}{
		{0, 1, Delta{Up: 1, Down: 0, Absolute: 1}},
		{0, -1, Delta{Up: 0, Down: 1, Absolute: -1}},
		{0, 0, Delta{}},
		{1, 1, Delta{}},
		{-1, -1, Delta{}},
		{1, -1, Delta{Up: -1, Down: 1, Absolute: -2}},
		{-1, 1, Delta{Up: 1, Down: -1, Absolute: 2}},
		{1, 0, Delta{Up: -1, Down: 0, Absolute: -1}},
		{-1, 0, Delta{Up: 0, Down: -1, Absolute: 1}},
	}
	for _, c := range cases {
		got := VoteDelta(c.prev, c.req)
		if got != c.want {
			t.Errorf("VoteDelta(%d, %d) = %+v, want %+v", c.prev, c.req, got, c.want)
		}
		if got.Absolute != got.Up-got.Down {
			t.Errorf("VoteDelta(%d, %d): Absolute != Up - Down", c.prev, c.req)
		}
	}
}
