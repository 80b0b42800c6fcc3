package model

import "time"

// TargetKind は通報対象の種別。
type TargetKind string

const (
	TargetPin     TargetKind = "pin"
	TargetComment TargetKind = "comment"
)

// ParseTargetKind は通報対象種別を解析する。
func ParseTargetKind(s string) (TargetKind, error) {
	switch TargetKind(s) {
	case TargetPin:
		return TargetPin, nil
	case TargetComment:
		return TargetComment, nil
	default:
		return "", NewValidationError("target_kind")
	}
}

// ReportGuard は同一ユーザーによる同一対象への重複通報を防ぐ冪等性レコード。
// 作成後は更新・削除されない。
type ReportGuard struct {
	ID         string
	ActorID    int64
	TargetKind TargetKind
	TargetID   int64
	CreatedAt  time.Time
}

// AdminAction は管理者によるユーザー操作の種別。
type AdminAction string

const (
	AdminActionBan      AdminAction = "ban"
	AdminActionUnban    AdminAction = "unban"
	AdminActionVerify   AdminAction = "verify"
	AdminActionUnverify AdminAction = "unverify"
)

// ParseAdminAction は管理操作種別を解析する。
func ParseAdminAction(s string) (AdminAction, error) {
	switch a := AdminAction(s); a {
	case AdminActionBan, AdminActionUnban, AdminActionVerify, AdminActionUnverify:
		return a, nil
	default:
		return "", NewValidationError("action")
	}
}

// Favorite はユーザーのピンに対するお気に入り関係を表す。
// (UserID, PinID) の組で一意。
type Favorite struct {
	ID        string
	UserID    int64
	PinID     int64
	CreatedAt time.Time
}
