package vote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hitoshi/campusboard/internal/model"
	"github.com/hitoshi/campusboard/internal/repository"
	"github.com/hitoshi/campusboard/internal/scoring"
)

type voteKey struct {
	kind    model.ContentKind
	content model.RecordID
	user    string
}

type contentKey struct {
	kind    model.ContentKind
	content model.RecordID
}

type readState struct {
	value int32
	found bool
}

// fakeStore は楽観的並行制御を行うインメモリのVoteRepository。
// 各トランザクションは読み取った票の状態を記録し、コミット時にそれが
// 変わっていれば失敗する。集計値の差分はコミット時にまとめて加算する。
type fakeStore struct {
	mu     sync.Mutex
	votes  map[voteKey]int32
	scores map[contentKey]*model.Score

	// failCommits は残りの強制コミット失敗回数。
	failCommits int
	// findErr が設定されている場合、FindVoteはそのエラーを返す。
	findErr error
	begins  int
	commits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		votes:  make(map[voteKey]int32),
		scores: make(map[contentKey]*model.Score),
	}
}

func (s *fakeStore) addContent(kind model.ContentKind, id model.RecordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[contentKey{kind, id}] = &model.Score{TrendingScore: scoring.TimeOffset(id.Timestamp())}
}

func (s *fakeStore) score(kind model.ContentKind, id model.RecordID) model.Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.scores[contentKey{kind, id}]
}

func (s *fakeStore) ledger(kind model.ContentKind, id model.RecordID) model.VoteTally {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tally model.VoteTally
	for k, v := range s.votes {
		if k.kind != kind || k.content != id {
			continue
		}
		switch v {
		case 1:
			tally.Up++
		case -1:
			tally.Down++
		}
	}
	return tally
}

func (s *fakeStore) Begin(ctx context.Context, kind model.ContentKind) (repository.VoteTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.begins++
	s.mu.Unlock()
	return &fakeTx{
		s:      s,
		kind:   kind,
		reads:  make(map[voteKey]readState),
		writes: make(map[voteKey]int32),
	}, nil
}

func (s *fakeStore) ReadTally(ctx context.Context, kind model.ContentKind, id model.RecordID) (*model.VoteTally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.scores[contentKey{kind, id}]
	if !ok {
		return nil, nil
	}
	return &model.VoteTally{Up: score.VotesUp, Down: score.VotesDown}, nil
}

type pendingDelta struct {
	key    contentKey
	delta  scoring.Delta
	offset float64
}

type fakeTx struct {
	s      *fakeStore
	kind   model.ContentKind
	reads  map[voteKey]readState
	writes map[voteKey]int32
	deltas []pendingDelta
	done   bool
}

func (t *fakeTx) FindVote(ctx context.Context, contentID model.RecordID, userID string) (int32, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.findErr != nil {
		return 0, false, t.s.findErr
	}
	k := voteKey{t.kind, contentID, userID}
	v, ok := t.s.votes[k]
	t.reads[k] = readState{value: v, found: ok}
	return v, ok, nil
}

func (t *fakeTx) InsertVote(ctx context.Context, contentID model.RecordID, userID string, value int32) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.scores[contentKey{t.kind, contentID}]; !ok {
		return repository.ErrContentNotFound
	}
	k := voteKey{t.kind, contentID, userID}
	if _, ok := t.s.votes[k]; ok {
		return fmt.Errorf("insert vote: %w", repository.ErrDuplicateKey)
	}
	t.writes[k] = value
	return nil
}

func (t *fakeTx) UpdateVoteIfValue(ctx context.Context, contentID model.RecordID, userID string, previous, value int32) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	k := voteKey{t.kind, contentID, userID}
	current, ok := t.s.votes[k]
	if !ok || current != previous {
		return false, nil
	}
	t.writes[k] = value
	return true, nil
}

func (t *fakeTx) ApplyScoreDelta(ctx context.Context, contentID model.RecordID, delta scoring.Delta, offset float64) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	key := contentKey{t.kind, contentID}
	if _, ok := t.s.scores[key]; !ok {
		return false, nil
	}
	t.deltas = append(t.deltas, pendingDelta{key: key, delta: delta, offset: offset})
	return true, nil
}

func (t *fakeTx) Commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true

	if t.s.failCommits > 0 {
		t.s.failCommits--
		return errors.New("injected commit failure")
	}
	for k, read := range t.reads {
		v, ok := t.s.votes[k]
		if ok != read.found || v != read.value {
			return errors.New("write conflict")
		}
	}

	for k, v := range t.writes {
		t.s.votes[k] = v
	}
	for _, d := range t.deltas {
		score := t.s.scores[d.key]
		score.VotesUp += d.delta.Up
		score.VotesDown += d.delta.Down
		score.AbsoluteScore += d.delta.Absolute
		score.TrendingScore = scoring.VoteComponent(score.AbsoluteScore) + d.offset
	}
	t.s.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.done = true
	return nil
}
