// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pinshare/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	viewerContextKey = contextKey("viewer")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 管理者フラグはユーザーレコードから導出し、ユーザーIDとViewerをコンテキストに注入する。
// 未認証リクエストには401、停止中アカウントには403を返す。
func NewSessionMiddleware(sessionFinder SessionFinder, userFinder UserFinder) func(next http.Handler) http.Handler {
	return newSessionMiddleware(sessionFinder, userFinder, true)
}

// NewOptionalSessionMiddleware はセッションがあればViewerを注入し、
// なければ匿名の閲覧者としてそのまま次のハンドラに渡すミドルウェアを返す。
// 停止中アカウントは匿名として扱う。
func NewOptionalSessionMiddleware(sessionFinder SessionFinder, userFinder UserFinder) func(next http.Handler) http.Handler {
	return newSessionMiddleware(sessionFinder, userFinder, false)
}

func newSessionMiddleware(sessionFinder SessionFinder, userFinder UserFinder, required bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolveUser(r, sessionFinder, userFinder)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if user == nil || user.IsBanned {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				if user == nil {
					WriteUnauthorized(w)
				} else {
					WriteErrorResponse(w, http.StatusForbidden, model.NewAccountBannedError())
				}
				return
			}

			ctx := ContextWithViewer(r.Context(), user.Viewer())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveUser はCookieのセッションIDからユーザーを取得する。
// Cookieがない、セッションが無効、ユーザーが存在しない場合はnilを返す。
func resolveUser(r *http.Request, sessionFinder SessionFinder, userFinder UserFinder) (*model.User, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := userFinder.FindByID(r.Context(), session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session user %d: %w", session.UserID, err)
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	if !ok || userID == 0 {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ViewerFromContext はリクエストコンテキストから操作主体を取得する。
// 未認証の場合はmodel.Anonymousを返す。
func ViewerFromContext(ctx context.Context) model.Viewer {
	v, ok := ctx.Value(viewerContextKey).(model.Viewer)
	if !ok {
		return model.Anonymous
	}
	return v
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithViewer はコンテキストに操作主体とそのユーザーIDを注入する。
func ContextWithViewer(ctx context.Context, v model.Viewer) context.Context {
	if h, ok := ctx.Value(viewerHolderContextKey).(*viewerHolder); ok {
		h.userID = v.UserID
	}
	ctx = ContextWithUserID(ctx, v.UserID)
	return context.WithValue(ctx, viewerContextKey, v)
}
