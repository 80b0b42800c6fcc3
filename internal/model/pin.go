package model

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

const (
	// HidePinThreshold はピンが非表示になる通報数の閾値。
	HidePinThreshold = 10
	// HideCommentThreshold はコメントが非表示になる通報数の閾値。
	HideCommentThreshold = 5
	// MaxTitleLength はpins.titleのVARCHAR(255)に合わせたタイトルの最大文字数。
	MaxTitleLength = 255
	// TakedownReports は管理者による取り下げ時に設定する通報数の下限。
	TakedownReports = 999
)

// Pin は投稿されたテキスト/コードスニペットを表す。
// ViewsとReportsは単調増加するカウンタ。
type Pin struct {
	ID             int64
	Title          string
	Content        string
	AuthorID       int64
	AuthorName     string
	AuthorVerified bool
	CreatedAt      time.Time
	Views          int64
	Reports        int
	IsPrivate      bool
	Tags           []string
}

// Hidden は通報数が閾値に達しているかを返す。
func (p *Pin) Hidden() bool {
	return p.Reports >= HidePinThreshold
}

// VisibleTo は指定の閲覧者にピンが表示可能かを返す。
// 管理者と投稿者は常に閲覧でき、それ以外は非表示・非公開のピンを閲覧できない。
func (p *Pin) VisibleTo(v Viewer) bool {
	if v.IsAdmin {
		return true
	}
	if v.UserID != 0 && p.AuthorID == v.UserID {
		return true
	}
	return !p.Hidden() && !p.IsPrivate
}

// Comment はピンに対するコメントを表す。
type Comment struct {
	ID             int64
	PinID          int64
	AuthorID       int64
	AuthorName     string
	AuthorVerified bool
	Content        string
	CreatedAt      time.Time
	Reports        int
}

// Hidden は通報数が閾値に達しているかを返す。
// コメントは閲覧者に関わらず非表示になる。
func (c *Comment) Hidden() bool {
	return c.Reports >= HideCommentThreshold
}

// PinSort はピン一覧の並び順。
type PinSort string

const (
	PinSortNewest PinSort = "newest" // createdAt 降順
	PinSortOldest PinSort = "oldest" // createdAt 昇順
	PinSortViews  PinSort = "views"  // views 降順
)

// PinSorts はParsePinSortが受け付ける並び順の一覧。
var PinSorts = []PinSort{PinSortNewest, PinSortOldest, PinSortViews}

// ParsePinSort はクエリ文字列から並び順を解析する。
// 空文字列はnewestとして扱う。
func ParsePinSort(s string) (PinSort, error) {
	switch PinSort(strings.ToLower(strings.TrimSpace(s))) {
	case "", PinSortNewest:
		return PinSortNewest, nil
	case PinSortOldest:
		return PinSortOldest, nil
	case PinSortViews:
		return PinSortViews, nil
	default:
		return "", NewValidationError("sort")
	}
}

// Compare は並び順に従って2つのピンを比較する。
// 同順位はID昇順で決定的に並べる。
func (s PinSort) Compare(a, b *Pin) int {
	var c int
	switch s {
	case PinSortViews:
		c = cmp.Compare(b.Views, a.Views)
	case PinSortOldest:
		c = a.CreatedAt.Compare(b.CreatedAt)
	default:
		c = b.CreatedAt.Compare(a.CreatedAt)
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortPins はピンを指定の並び順で安定ソートする。
func SortPins(pins []*Pin, s PinSort) {
	slices.SortStableFunc(pins, s.Compare)
}

// PinFilter はピン一覧取得時の検索条件。
type PinFilter struct {
	Search string
	Sort   PinSort
}

// MatchesSearch はタイトルまたはタグに検索語が含まれるかを返す（大文字小文字を区別しない）。
// 空の検索語はすべてのピンに一致する。
func (p *Pin) MatchesSearch(search string) bool {
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.Title), q) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// NormalizeTags はタグの前後空白を除去し、空要素と重複を取り除く。
// 最初に出現した順序を保持する。
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
