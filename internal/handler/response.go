package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pinshare/internal/feed"
	"github.com/hitoshi/pinshare/internal/middleware"
	"github.com/hitoshi/pinshare/internal/model"
)

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse = middleware.ErrorResponseBody

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	IsVerified bool      `json:"is_verified"`
	IsBanned   bool      `json:"is_banned"`
	IsAdmin    bool      `json:"is_admin"`
	CreatedAt  time.Time `json:"created_at"`
}

// pinResponse はピン情報のAPIレスポンス。
type pinResponse struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	AuthorID       int64     `json:"author_id"`
	Author         string    `json:"author"`
	AuthorVerified bool      `json:"author_verified"`
	CreatedAt      time.Time `json:"created_at"`
	Views          int64     `json:"views"`
	Reports        int       `json:"reports"`
	IsPrivate      bool      `json:"is_private"`
	Tags           []string  `json:"tags"`
	IsFavorite     bool      `json:"is_favorite"`
}

// commentResponse はコメント情報のAPIレスポンス。
type commentResponse struct {
	ID             int64     `json:"id"`
	PinID          int64     `json:"pin_id"`
	AuthorID       int64     `json:"author_id"`
	Author         string    `json:"author"`
	AuthorVerified bool      `json:"author_verified"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Username:   u.Username,
		IsVerified: u.IsVerified,
		IsBanned:   u.IsBanned,
		IsAdmin:    u.IsAdmin,
		CreatedAt:  u.CreatedAt,
	}
}

func toPinResponse(p *model.Pin, isFavorite bool) pinResponse {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return pinResponse{
		ID:             p.ID,
		Title:          p.Title,
		Content:        p.Content,
		AuthorID:       p.AuthorID,
		Author:         p.AuthorName,
		AuthorVerified: p.AuthorVerified,
		CreatedAt:      p.CreatedAt,
		Views:          p.Views,
		Reports:        p.Reports,
		IsPrivate:      p.IsPrivate,
		Tags:           tags,
		IsFavorite:     isFavorite,
	}
}

func toPinViewResponses(views []feed.PinView) []pinResponse {
	out := make([]pinResponse, len(views))
	for i, v := range views {
		out[i] = toPinResponse(v.Pin, v.IsFavorite)
	}
	return out
}

func toCommentResponses(comments []*model.Comment) []commentResponse {
	out := make([]commentResponse, len(comments))
	for i, c := range comments {
		out[i] = commentResponse{
			ID:             c.ID,
			PinID:          c.PinID,
			AuthorID:       c.AuthorID,
			Author:         c.AuthorName,
			AuthorVerified: c.AuthorVerified,
			Content:        c.Content,
			CreatedAt:      c.CreatedAt,
		}
	}
	return out
}

// --- ヘルパー関数 ---

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// pathID はURLパラメータを正の整数IDとして解析する。
// 不正な値の場合は404を書き込みfalseを返す。
func pathID(w http.ResponseWriter, r *http.Request, key, kind string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError(kind))
		return 0, false
	}
	return id, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, "INVALID_REQUEST":
		return http.StatusBadRequest
	case model.ErrCodeUsernameTaken, model.ErrCodeAlreadyReported:
		return http.StatusConflict
	case model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeAccountBanned, model.ErrCodeNotAuthorized:
		return http.StatusForbidden
	case model.ErrCodeNotFound, model.ErrCodePinNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
