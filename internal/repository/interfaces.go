// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/pinshare/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByUsername はユーザー名（大文字小文字を区別）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDをuserに設定する。
	// ユーザー名が重複する場合はmodel.ErrUsernameTakenに一致するエラーを返す。
	Create(ctx context.Context, user *model.User) error

	// SetFlag はユーザーフラグを更新し、更新後のユーザーを返す。
	// 見つからない場合はnilを返す。同じ値の再設定は成功として扱う。
	SetFlag(ctx context.Context, id int64, flag model.UserFlag, value bool) (*model.User, error)

	// Search はユーザー名の部分一致（大文字小文字を区別しない）で検索する。
	// 結果はID昇順で、最大limit件。
	Search(ctx context.Context, query string, limit int) ([]*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID int64) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PinQuery はピン一覧取得の条件。
// Viewerの可視性条件はストア側で適用する。
type PinQuery struct {
	Viewer model.Viewer
	Search string
	Sort   model.PinSort
	Limit  int
}

// PinRepository はピンデータの永続化インターフェース。
type PinRepository interface {
	// Create はピンを作成し、採番されたIDと作成日時をpinに設定する。
	Create(ctx context.Context, pin *model.Pin) error

	// FindByID は指定IDのピンを取得する。可視性は判定しない。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Pin, error)

	// FindByIDs は指定IDのピンをまとめて取得する。存在しないIDは無視する。
	FindByIDs(ctx context.Context, ids []int64) ([]*model.Pin, error)

	// List は閲覧者に表示可能なピンを検索・ソートして返す。
	List(ctx context.Context, q PinQuery) ([]*model.Pin, error)

	// IncrementViews は閲覧数を原子的に1増やし、更新後のピンを返す。
	// 見つからない場合はnilを返す。
	IncrementViews(ctx context.Context, id int64) (*model.Pin, error)

	// RaiseReports は通報数をminReports以上に引き上げ、更新後のピンを返す。
	// 既に上回っている場合は変更しない。見つからない場合はnilを返す。
	RaiseReports(ctx context.Context, id int64, minReports int) (*model.Pin, error)
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// Create はコメントを作成し、採番されたIDと作成日時をcommentに設定する。
	Create(ctx context.Context, comment *model.Comment) error

	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Comment, error)

	// ListVisibleByPin は通報数が閾値未満のコメントを作成日時昇順で返す。
	ListVisibleByPin(ctx context.Context, pinID int64) ([]*model.Comment, error)
}

// FavoriteRepository はお気に入りデータの永続化インターフェース。
type FavoriteRepository interface {
	// Add はお気に入りを追加する。既に存在する場合は何もしない。
	Add(ctx context.Context, fav *model.Favorite) error

	// Remove はお気に入りを削除する。存在しない場合は何もしない。
	Remove(ctx context.Context, userID, pinID int64) error

	// Exists はお気に入り登録済みかを返す。
	Exists(ctx context.Context, userID, pinID int64) (bool, error)

	// ListPinIDs はユーザーのお気に入りピンIDを登録日時の新しい順に返す。
	ListPinIDs(ctx context.Context, userID int64) ([]int64, error)
}

// ReportRepository は通報（ReportGuardと通報カウンタ）の永続化インターフェース。
type ReportRepository interface {
	// Record はReportGuardの作成と対象の通報カウンタのインクリメントを
	// 1つの原子的な単位として実行し、更新後の通報数を返す。
	// 既にガードが存在する場合はmodel.ErrAlreadyReportedに一致するエラーを返し、何も変更しない。
	// 対象が存在しない場合はmodel.ErrNotFoundに一致するエラーを返し、ガードも作成しない。
	Record(ctx context.Context, guard *model.ReportGuard) (int, error)

	// Exists は指定ユーザーが対象を通報済みかを返す。
	Exists(ctx context.Context, actorID int64, kind model.TargetKind, targetID int64) (bool, error)
}
