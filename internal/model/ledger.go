package model

// LedgerDrift は投票台帳から再集計した票数とコンテンツに保存された票数の食い違いを表す。
// 正常な運用では発生しない。検出された場合はバグか手動でのDB編集を示す。
type LedgerDrift struct {
	Kind      ContentKind
	ContentID RecordID
	Stored    VoteTally
	Actual    VoteTally
}
