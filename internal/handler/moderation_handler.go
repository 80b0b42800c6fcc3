package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/pinshare/internal/middleware"
	"github.com/hitoshi/pinshare/internal/model"
	"github.com/hitoshi/pinshare/internal/moderation"
)

// ModerationServiceInterface は通報・管理操作のサービスインターフェース。
type ModerationServiceInterface interface {
	Report(ctx context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) (*moderation.ReportResult, error)
	HasReported(ctx context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) (bool, error)
	AdminAction(ctx context.Context, actor model.Viewer, action model.AdminAction, targetUserID int64) error
	TakedownPin(ctx context.Context, actor model.Viewer, pinID int64) (*model.Pin, error)
}

// UserSearcher は管理者向けユーザー検索のインターフェース。
type UserSearcher interface {
	Search(ctx context.Context, actor model.Viewer, query string) ([]*model.User, error)
}

// ModerationHandler は通報と管理者操作のHTTPハンドラー。
type ModerationHandler struct {
	service ModerationServiceInterface
	users   UserSearcher
}

// NewModerationHandler はModerationHandlerを生成する。
func NewModerationHandler(service ModerationServiceInterface, users UserSearcher) *ModerationHandler {
	return &ModerationHandler{
		service: service,
		users:   users,
	}
}

// reportRequest は通報リクエストのボディ。
type reportRequest struct {
	TargetKind string `json:"target_kind"`
	TargetID   int64  `json:"target_id"`
}

// reportResponse は通報結果のレスポンス。
type reportResponse struct {
	TargetKind string `json:"target_kind"`
	TargetID   int64  `json:"target_id"`
	Reports    int    `json:"reports"`
	Hidden     bool   `json:"hidden"`
}

// reportCheckResponse は通報済み判定のレスポンス。
type reportCheckResponse struct {
	Reported bool `json:"reported"`
}

// adminActionRequest は管理操作リクエストのボディ。
type adminActionRequest struct {
	Action string `json:"action"`
}

// Report はピンまたはコメントを通報する。1ユーザー1対象につき1回のみ。
// POST /api/reports
func (h *ModerationHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := model.ParseTargetKind(req.TargetKind)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.Report(r.Context(), middleware.ViewerFromContext(r.Context()), kind, req.TargetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reportResponse{
		TargetKind: string(result.TargetKind),
		TargetID:   result.TargetID,
		Reports:    result.Reports,
		Hidden:     result.Hidden,
	})
}

// CheckReport はログインユーザーが対象を通報済みかを返す。
// GET /api/reports/check?target_kind=pin&target_id=1
func (h *ModerationHandler) CheckReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := model.ParseTargetKind(q.Get("target_kind"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	targetID, err := strconv.ParseInt(q.Get("target_id"), 10, 64)
	if err != nil {
		handleServiceError(w, model.NewValidationError("target_id"))
		return
	}

	reported, err := h.service.HasReported(r.Context(), middleware.ViewerFromContext(r.Context()), kind, targetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportCheckResponse{Reported: reported})
}

// SearchUsers はユーザー名でユーザーを検索する。管理者のみ。
// GET /api/admin/users?q=...
func (h *ModerationHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.Search(r.Context(), middleware.ViewerFromContext(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]userResponse, len(users))
	for i, u := range users {
		out[i] = toUserResponse(u)
	}
	writeJSON(w, http.StatusOK, out)
}

// UserAction はユーザーの停止・解除・認証バッジ付与・剥奪を行う。管理者のみ。
// POST /api/admin/users/{id}/actions
func (h *ModerationHandler) UserAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}
	var req adminActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	action, err := model.ParseAdminAction(req.Action)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.AdminAction(r.Context(), middleware.ViewerFromContext(r.Context()), action, userID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TakedownPin はピンを強制的に非表示にする。管理者のみ。
// POST /api/admin/pins/{id}/takedown
func (h *ModerationHandler) TakedownPin(w http.ResponseWriter, r *http.Request) {
	pinID, ok := pathID(w, r, "id", "pin")
	if !ok {
		return
	}

	pin, err := h.service.TakedownPin(r.Context(), middleware.ViewerFromContext(r.Context()), pinID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPinResponse(pin, false))
}
