package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pinshare/internal/content"
	"github.com/hitoshi/pinshare/internal/feed"
	"github.com/hitoshi/pinshare/internal/middleware"
	"github.com/hitoshi/pinshare/internal/model"
)

// rawNotFoundBody は生データ取得でピンが存在しない場合のレスポンス本文。
const rawNotFoundBody = "Pin not found"

// PinServiceInterface はピンハンドラーが必要とするコンテンツサービスのインターフェース。
type PinServiceInterface interface {
	CreatePin(ctx context.Context, author model.Viewer, input content.PinInput) (*model.Pin, error)
	GetPin(ctx context.Context, requester model.Viewer, id int64) (*model.Pin, error)
	RecordView(ctx context.Context, requester model.Viewer, id int64) (*model.Pin, error)
	CreateComment(ctx context.Context, author model.Viewer, pinID int64, content string) (*model.Comment, error)
	RawContent(ctx context.Context, id int64) (string, error)
}

// FeedInterface は閲覧者ごとの一覧を組み立てるフィードのインターフェース。
type FeedInterface interface {
	Pins(ctx context.Context, requester model.Viewer, filter model.PinFilter) ([]feed.PinView, error)
	Favorites(ctx context.Context, requester model.Viewer, filter model.PinFilter) ([]feed.PinView, error)
	Comments(ctx context.Context, requester model.Viewer, pinID int64) ([]*model.Comment, error)
}

// FavoriteServiceInterface はお気に入り操作のインターフェース。
type FavoriteServiceInterface interface {
	Toggle(ctx context.Context, user model.Viewer, pinID int64, desired bool) error
	IsFavorite(ctx context.Context, user model.Viewer, pinID int64) (bool, error)
}

// PinHandler はピン・コメント・お気に入りのHTTPハンドラー。
type PinHandler struct {
	pins      PinServiceInterface
	feed      FeedInterface
	favorites FavoriteServiceInterface
}

// NewPinHandler はPinHandlerを生成する。
func NewPinHandler(pins PinServiceInterface, feed FeedInterface, favorites FavoriteServiceInterface) *PinHandler {
	return &PinHandler{
		pins:      pins,
		feed:      feed,
		favorites: favorites,
	}
}

// createPinRequest はピン作成リクエストのボディ。
type createPinRequest struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	IsPrivate bool     `json:"is_private"`
}

// createCommentRequest はコメント作成リクエストのボディ。
type createCommentRequest struct {
	Content string `json:"content"`
}

// favoriteRequest はお気に入り設定リクエストのボディ。
type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// favoriteResponse はお気に入り状態のレスポンス。
type favoriteResponse struct {
	PinID    int64 `json:"pin_id"`
	Favorite bool  `json:"favorite"`
}

// ListPins は閲覧者に表示可能なピン一覧を返す。
// GET /api/pins?search=...&sort=newest|oldest|views
func (h *PinHandler) ListPins(w http.ResponseWriter, r *http.Request) {
	filter, ok := parsePinFilter(w, r, model.PinSortNewest)
	if !ok {
		return
	}

	views, err := h.feed.Pins(r.Context(), middleware.ViewerFromContext(r.Context()), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPinViewResponses(views))
}

// CreatePin はピンを作成する。
// POST /api/pins
func (h *PinHandler) CreatePin(w http.ResponseWriter, r *http.Request) {
	var req createPinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pin, err := h.pins.CreatePin(r.Context(), middleware.ViewerFromContext(r.Context()), content.PinInput{
		Title:     req.Title,
		Content:   req.Content,
		Tags:      req.Tags,
		IsPrivate: req.IsPrivate,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPinResponse(pin, false))
}

// GetPin はピン詳細を返す。閲覧数は変更しない。
// GET /api/pins/{id}
func (h *PinHandler) GetPin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "pin")
	if !ok {
		return
	}
	viewer := middleware.ViewerFromContext(r.Context())

	pin, err := h.pins.GetPin(r.Context(), viewer, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	isFav, err := h.favorites.IsFavorite(r.Context(), viewer, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPinResponse(pin, isFav))
}

// RecordView は閲覧数を1増やし、更新後のピンを返す。
// POST /api/pins/{id}/views
func (h *PinHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "pin")
	if !ok {
		return
	}

	pin, err := h.pins.RecordView(r.Context(), middleware.ViewerFromContext(r.Context()), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPinResponse(pin, false))
}

// ListComments はピンの表示可能なコメントを作成日時昇順で返す。
// GET /api/pins/{id}/comments
func (h *PinHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "pin")
	if !ok {
		return
	}

	comments, err := h.feed.Comments(r.Context(), middleware.ViewerFromContext(r.Context()), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommentResponses(comments))
}

// CreateComment はピンにコメントを投稿する。
// POST /api/pins/{id}/comments
func (h *PinHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "pin")
	if !ok {
		return
	}
	var req createCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	comment, err := h.pins.CreateComment(r.Context(), middleware.ViewerFromContext(r.Context()), id, req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommentResponses([]*model.Comment{comment})[0])
}

// GetFavorite はピンのお気に入り状態を返す。
// GET /api/pins/{id}/favorite
func (h *PinHandler) GetFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "pin")
	if !ok {
		return
	}

	isFav, err := h.favorites.IsFavorite(r.Context(), middleware.ViewerFromContext(r.Context()), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{PinID: id, Favorite: isFav})
}

// PutFavorite はお気に入り状態を指定値に設定する。何度呼んでも結果は同じ。
// PUT /api/pins/{id}/favorite
func (h *PinHandler) PutFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "pin")
	if !ok {
		return
	}
	var req favoriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.favorites.Toggle(r.Context(), middleware.ViewerFromContext(r.Context()), id, req.Favorite); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{PinID: id, Favorite: req.Favorite})
}

// ListFavorites はお気に入りピンのうち表示可能なものを返す。
// sort未指定時はお気に入り登録の新しい順。
// GET /api/favorites?search=...&sort=...
func (h *PinHandler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	filter, ok := parsePinFilter(w, r, "")
	if !ok {
		return
	}

	views, err := h.feed.Favorites(r.Context(), middleware.ViewerFromContext(r.Context()), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPinViewResponses(views))
}

// Raw はピン本文をtext/plainでそのまま返す。表示制御は行わない。
// GET /raw/{id}
func (h *PinHandler) Raw(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	id, ok := parseRawID(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(rawNotFoundBody))
		return
	}

	body, err := h.pins.RawContent(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(rawNotFoundBody))
			return
		}
		handleServiceError(w, err)
		return
	}
	w.Write([]byte(body))
}

// parsePinFilter はクエリ文字列から検索条件を解析する。
// sortが空の場合はdefaultSortを使う。
func parsePinFilter(w http.ResponseWriter, r *http.Request, defaultSort model.PinSort) (model.PinFilter, bool) {
	q := r.URL.Query()
	filter := model.PinFilter{Search: strings.TrimSpace(q.Get("search")), Sort: defaultSort}

	if raw := q.Get("sort"); strings.TrimSpace(raw) != "" {
		sort, err := model.ParsePinSort(raw)
		if err != nil {
			handleServiceError(w, err)
			return model.PinFilter{}, false
		}
		filter.Sort = sort
	}
	return filter, true
}

func parseRawID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrPinNotFound)
}
