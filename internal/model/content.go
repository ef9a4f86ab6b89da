package model

import "time"

// ContentKind は投票対象コンテンツの種別を表す。
type ContentKind string

const (
	// ContentKindPost は投稿を表す。
	ContentKindPost ContentKind = "post"
	// ContentKindComment はコメントを表す。
	ContentKindComment ContentKind = "comment"
)

// Valid は既知の種別かどうかを返す。
func (k ContentKind) Valid() bool {
	return k == ContentKindPost || k == ContentKindComment
}

// Score は投票から導出されるマテリアライズ済みの集計値。
// AbsoluteScore == VotesUp - VotesDown が常に成り立つ。
type Score struct {
	VotesUp       int32
	VotesDown     int32
	AbsoluteScore int32
	TrendingScore float64
}

// Post は掲示板の投稿を表す。
type Post struct {
	ID           RecordID
	SequentialID int32
	OwnerID      string
	Text         string
	Score
	CreatedAt time.Time
}

// DeletedCommentText は論理削除されたコメントの表示用テキスト。
const DeletedCommentText = "[deleted]"

// Comment は投稿に対するスレッド形式のコメントを表す。
// ParentComments はルートから直接の親までの祖先コメントIDを順に保持する。
// ルートコメントの場合は空。
type Comment struct {
	ID             RecordID
	SequentialID   int32
	OwnerID        string
	ParentPost     RecordID
	ParentComments []RecordID
	Text           string
	Score
	ReplyCount int32
	Deleted    bool
	CreatedAt  time.Time
}

// Depth はコメントのネスト深さ（親チェーンの長さ）を返す。
func (c *Comment) Depth() int {
	return len(c.ParentComments)
}

// DirectParent は直接の親コメントIDを返す。ルートコメントの場合はfalseを返す。
func (c *Comment) DirectParent() (RecordID, bool) {
	if len(c.ParentComments) == 0 {
		return RecordID{}, false
	}
	return c.ParentComments[len(c.ParentComments)-1], true
}

// DisplayText は論理削除を考慮した表示用テキストを返す。
func (c *Comment) DisplayText() string {
	if c.Deleted {
		return DeletedCommentText
	}
	return c.Text
}

// Vote はユーザーがコンテンツに対して現在投じている票を表す。
// (ContentID, UserID) で一意。レコードが存在しないことは「未投票」を意味する。
type Vote struct {
	ContentID RecordID
	UserID    string
	Value     int32
}

// VoteTally は投票後に呼び出し元へ返す賛成・反対票数。
type VoteTally struct {
	Up   int32
	Down int32
}

// ValidVoteValue は投票値が {-1, 0, 1} のいずれかであるかを返す。
func ValidVoteValue(v int32) bool {
	return v >= -1 && v <= 1
}
