// Package feed は閲覧者ごとのピン一覧・お気に入り一覧・コメント一覧を組み立てる。
// 状態を持たず、呼び出しごとにストアから再構築する。
package feed

import (
	"context"
	"fmt"
	"slices"

	"github.com/hitoshi/pinshare/internal/model"
)

// ContentReader はピンとコメントの読み取りインターフェース。
// content.Serviceが満たす。
type ContentReader interface {
	ListPins(ctx context.Context, requester model.Viewer, filter model.PinFilter) ([]*model.Pin, error)
	VisiblePins(ctx context.Context, requester model.Viewer, ids []int64) ([]*model.Pin, error)
	ListComments(ctx context.Context, requester model.Viewer, pinID int64) ([]*model.Comment, error)
}

// FavoriteReader はお気に入りの読み取りインターフェース。
// favorite.Serviceが満たす。
type FavoriteReader interface {
	List(ctx context.Context, user model.Viewer) ([]int64, error)
}

// PinView は閲覧者から見たピンの表示用データ。
type PinView struct {
	*model.Pin
	IsFavorite bool
}

// Projector はピン一覧の射影を生成する。
type Projector struct {
	content   ContentReader
	favorites FavoriteReader
}

// NewProjector はProjectorを生成する。
func NewProjector(content ContentReader, favorites FavoriteReader) *Projector {
	return &Projector{content: content, favorites: favorites}
}

// Pins は表示可能なピンを検索・ソートして返す。
// ストアの並び順に依存せず、検索条件とソート順をメモリ上で再適用する。
func (p *Projector) Pins(ctx context.Context, requester model.Viewer, filter model.PinFilter) ([]PinView, error) {
	if filter.Sort == "" {
		filter.Sort = model.PinSortNewest
	}

	pins, err := p.content.ListPins(ctx, requester, filter)
	if err != nil {
		return nil, err
	}
	pins = slices.DeleteFunc(pins, func(pin *model.Pin) bool {
		return !pin.MatchesSearch(filter.Search)
	})
	model.SortPins(pins, filter.Sort)

	favs, err := p.favoriteSet(ctx, requester)
	if err != nil {
		return nil, err
	}
	return decorate(pins, favs), nil
}

// Favorites はお気に入りピンのうち表示可能なものを返す。
// ソート指定がない場合はお気に入り登録の新しい順に並べる。
func (p *Projector) Favorites(ctx context.Context, requester model.Viewer, filter model.PinFilter) ([]PinView, error) {
	ids, err := p.favorites.List(ctx, requester)
	if err != nil {
		return nil, err
	}

	pins, err := p.content.VisiblePins(ctx, requester, ids)
	if err != nil {
		return nil, err
	}
	pins = slices.DeleteFunc(pins, func(pin *model.Pin) bool {
		return !pin.MatchesSearch(filter.Search)
	})
	if filter.Sort != "" {
		model.SortPins(pins, filter.Sort)
	}

	views := make([]PinView, len(pins))
	for i, pin := range pins {
		views[i] = PinView{Pin: pin, IsFavorite: true}
	}
	return views, nil
}

// Comments はピンの表示可能なコメントを返す。
func (p *Projector) Comments(ctx context.Context, requester model.Viewer, pinID int64) ([]*model.Comment, error) {
	return p.content.ListComments(ctx, requester, pinID)
}

func (p *Projector) favoriteSet(ctx context.Context, requester model.Viewer) (map[int64]struct{}, error) {
	set := map[int64]struct{}{}
	if requester.UserID == 0 {
		return set, nil
	}
	ids, err := p.favorites.List(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("お気に入りの取得に失敗しました: %w", err)
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func decorate(pins []*model.Pin, favs map[int64]struct{}) []PinView {
	views := make([]PinView, len(pins))
	for i, pin := range pins {
		_, fav := favs[pin.ID]
		views[i] = PinView{Pin: pin, IsFavorite: fav}
	}
	return views
}
